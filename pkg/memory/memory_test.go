package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultmind/core/pkg/audit"
	"github.com/vaultmind/core/pkg/clock"
	"github.com/vaultmind/core/pkg/config"
	"github.com/vaultmind/core/pkg/contextbuilder"
	"github.com/vaultmind/core/pkg/hashutil"
	"github.com/vaultmind/core/pkg/llm"
	"github.com/vaultmind/core/pkg/observer"
)

func fixedDay(t *testing.T) clock.Fixed {
	t.Helper()
	at, err := time.Parse("2006-01-02", "2026-02-20")
	require.NoError(t, err)
	return clock.Fixed{At: at}
}

func baseConfig(dir string) *config.Config {
	return &config.Config{
		StoragePath:          filepath.Join(dir, "t"),
		RunsPath:             filepath.Join(dir, "t", "runs"),
		ObserverThreshold:    1,
		ReflectorThreshold:   1,
		MaxEntryChars:        2048,
		AnchorDriftThreshold: 0.2,
		RateLimitPerMinute:   600,
	}
}

func readAuditRecords(t *testing.T, path string) []audit.Record {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []audit.Record
	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		if line == "" {
			continue
		}
		var rec audit.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

// Scenario 1: fresh init.
func TestOpen_ScenarioOneFreshInit(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	fake := llm.NewFakeAdapter("unused")

	cm, err := Open(context.Background(), cfg, Options{LLM: fake, Clock: fixedDay(t), InitialTask: "A"})
	require.NoError(t, err)

	info, err := os.Stat(cfg.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	obsRaw, err := os.ReadFile(filepath.Join(cfg.StoragePath, observationsFile))
	require.NoError(t, err)
	assert.Empty(t, obsRaw)

	records := readAuditRecords(t, filepath.Join(cfg.StoragePath, auditFile))
	require.Len(t, records, 1)
	assert.Equal(t, audit.SourceInit, records[0].Source)
	assert.Equal(t, 0, records[0].CharDelta)
	assert.Equal(t, hashutil.EmptyHash, records[0].LogSHA256)

	assert.Equal(t, "A", cm.Anchor().Text)
}

// Scenario 2: Observer roundtrip.
func TestMaybeObserve_ScenarioTwoRoundtrip(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	fake := llm.NewFakeAdapter("🔴: token expired\n\n🟢 run ok")

	cm, err := Open(context.Background(), cfg, Options{LLM: fake, Clock: fixedDay(t), InitialTask: "A"})
	require.NoError(t, err)

	ran, err := cm.MaybeObserve(context.Background(), 2, []observer.Message{{Role: "user", Content: "hi"}}, "")
	require.NoError(t, err)
	assert.True(t, ran)

	entries := cm.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.ObservedOn.Equal(fixedDay(t).At))
	}

	records := readAuditRecords(t, filepath.Join(cfg.StoragePath, auditFile))
	require.Len(t, records, 3)

	reopened, err := Open(context.Background(), cfg, Options{LLM: fake, Clock: fixedDay(t), InitialTask: "A"})
	require.NoError(t, err)
	assert.ElementsMatch(t, entries, reopened.Entries())
}

// Scenario 3: tamper detection.
func TestVerifyIntegrity_ScenarioThreeTamperDetection(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	fake := llm.NewFakeAdapter("🔴: token expired\n\n🟢 run ok")

	cm, err := Open(context.Background(), cfg, Options{LLM: fake, Clock: fixedDay(t), InitialTask: "A"})
	require.NoError(t, err)
	_, err = cm.MaybeObserve(context.Background(), 2, []observer.Message{{Role: "user", Content: "hi"}}, "")
	require.NoError(t, err)

	obsPath := filepath.Join(cfg.StoragePath, observationsFile)
	f, err := os.OpenFile(obsPath, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("garbage")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = cm.VerifyIntegrity()
	assert.ErrorIs(t, err, audit.ErrTamperDetected)
}

// Scenario 4: Reflector safety guard performs no mutation.
func TestMaybeReflect_ScenarioFourSafetyGuardNoMutation(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	fake := llm.NewFakeAdapter(
		"🟢 observed_on:2026-02-20 event_date:2026-02-20\na\n\n🟢 observed_on:2026-02-20 event_date:2026-02-20\nb",
		"hello",
	)

	cm, err := Open(context.Background(), cfg, Options{LLM: fake, Clock: fixedDay(t), InitialTask: "A"})
	require.NoError(t, err)

	_, err = cm.MaybeObserve(context.Background(), 2, []observer.Message{{Role: "user", Content: "hi"}}, "")
	require.NoError(t, err)

	obsPath := filepath.Join(cfg.StoragePath, observationsFile)
	before, err := os.ReadFile(obsPath)
	require.NoError(t, err)
	auditBefore := readAuditRecords(t, filepath.Join(cfg.StoragePath, auditFile))

	ran, err := cm.MaybeReflect(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	after, err := os.ReadFile(obsPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	auditAfter := readAuditRecords(t, filepath.Join(cfg.StoragePath, auditFile))
	assert.Equal(t, len(auditBefore), len(auditAfter))
}

// Scenario 5: prefix stability across different session tails.
func TestBuildContext_ScenarioFivePrefixStability(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	fake := llm.NewFakeAdapter("🔴: token expired\n\n🟢 run ok")

	cm, err := Open(context.Background(), cfg, Options{LLM: fake, Clock: fixedDay(t), InitialTask: "A"})
	require.NoError(t, err)
	_, err = cm.MaybeObserve(context.Background(), 2, []observer.Message{{Role: "user", Content: "hi"}}, "")
	require.NoError(t, err)

	block1 := contextbuilder.Block1(cm.Entries(), fixedDay(t).Today())

	out1 := cm.BuildContext([]contextbuilder.Message{{Role: "user", Content: "tail one"}})
	out2 := cm.BuildContext([]contextbuilder.Message{{Role: "user", Content: "a very different tail"}})

	assert.True(t, strings.HasPrefix(out1, block1))
	assert.True(t, strings.HasPrefix(out2, block1))
}

// Scenario 6: run resume.
func TestRunState_ScenarioSixResume(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	fake := llm.NewFakeAdapter("unused")

	cm, err := Open(context.Background(), cfg, Options{LLM: fake, Clock: fixedDay(t), InitialTask: "A"})
	require.NoError(t, err)

	rs, err := cm.OpenRun("run-1")
	require.NoError(t, err)
	require.NoError(t, cm.CompleteStep(context.Background(), rs, "parse", "first"))
	require.NoError(t, cm.CompleteStep(context.Background(), rs, "research", "second"))

	reopened, err := cm.OpenRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"parse", "research"}, reopened.CompletedSteps())

	require.NoError(t, cm.CompleteStep(context.Background(), reopened, "parse", "different"))
	step, ok := reopened.Step("parse")
	require.True(t, ok)
	assert.Equal(t, "first", step.Result)
}
