package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultmind/core/pkg/llm"
	"github.com/vaultmind/core/pkg/observationlog"
	"github.com/vaultmind/core/pkg/sanitizer"
)

func TestShouldFire_RespectsThreshold(t *testing.T) {
	assert.False(t, ShouldFire(100, 0))
	assert.True(t, ShouldFire(DefaultThreshold+1, 0))
	assert.True(t, ShouldFire(51, 50))
}

func TestRun_ScenarioTwoObserverRoundtrip(t *testing.T) {
	fake := llm.NewFakeAdapter("🔴: token expired\n\n🟢 run ok")
	obs := New(fake, sanitizer.New(0))

	today, _ := time.Parse("2006-01-02", "2026-02-20")
	result, err := obs.Run(context.Background(), []Message{{Role: "user", Content: "hi"}}, today, "")
	require.NoError(t, err)
	require.Len(t, result.Observations, 2)
	for _, o := range result.Observations {
		assert.True(t, o.ObservedOn.Equal(today))
	}
}

func TestRun_AppendsCompletionSummaryWhenProvided(t *testing.T) {
	fake := llm.NewFakeAdapter("🟢 observed_on:2026-02-20 event_date:2026-02-20\nroutine note")
	obs := New(fake, sanitizer.New(0))

	today, _ := time.Parse("2006-01-02", "2026-02-20")
	result, err := obs.Run(context.Background(), nil, today, "Run #4 completed in 12s")
	require.NoError(t, err)
	require.Len(t, result.Observations, 2)
	assert.Equal(t, "Run #4 completed in 12s", result.Observations[1].Body)
}

func TestRun_ExternalMessageIsWrappedBeforeReachingLLM(t *testing.T) {
	fake := llm.NewFakeAdapter("")
	obs := New(fake, sanitizer.New(0))

	today := time.Now()
	_, err := obs.Run(context.Background(), []Message{
		{Role: "tool", Content: "fetched page content", External: true, Origin: "https://example.com"},
	}, today, "")
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[0].Content, "<external_content origin=https://example.com>")
	assert.Contains(t, calls[0].Messages[0].Content, "</external_content>")
}

func TestRun_LLMFailureLeavesNoObservations(t *testing.T) {
	fake := llm.NewFakeAdapter("unused")
	fake.FailWith(assertErr("llm unavailable"))
	obs := New(fake, sanitizer.New(0))

	result, err := obs.Run(context.Background(), []Message{{Role: "user", Content: "hi"}}, time.Now(), "")
	assert.Error(t, err)
	assert.Empty(t, result.Observations)
}

func TestRun_TrustInheritedFromAnyExternalSource(t *testing.T) {
	fake := llm.NewFakeAdapter("🟢 observed_on:2026-02-20 event_date:2026-02-20\nmixed sources")
	obs := New(fake, sanitizer.New(0))

	today, _ := time.Parse("2006-01-02", "2026-02-20")
	result, err := obs.Run(context.Background(), []Message{
		{Role: "user", Content: "internal note"},
		{Role: "tool", Content: "external data", External: true, Origin: "https://x"},
	}, today, "")
	require.NoError(t, err)
	require.Len(t, result.Observations, 1)
	assert.Equal(t, observationlog.TrustExternal, result.Observations[0].Trust)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(s string) error { return simpleErr(s) }
