package observationlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLoad_MissingFileIsEmptyLog(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "nope.md"), fixedDate("2026-02-20"))
	require.NoError(t, err)
	assert.Empty(t, l.Entries())
}

func TestAppendAndReload_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "observations.md")
	l, err := Load(path, fixedDate("2026-02-20"))
	require.NoError(t, err)

	obs := Observation{
		Priority:   PriorityGreen,
		ObservedOn: fixedDate("2026-01-05"),
		EventDate:  fixedDate("2026-01-04"),
		Trust:      TrustInternal,
		Body:       "first observation",
	}
	require.NoError(t, l.Append(obs))

	reloaded, err := Load(path, fixedDate("2026-02-20"))
	require.NoError(t, err)
	entries := reloaded.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "first observation", entries[0].Body)
	assert.Equal(t, PriorityGreen, entries[0].Priority)
	assert.True(t, entries[0].ObservedOn.Equal(fixedDate("2026-01-05")))
}

func TestSort_NewestFirstByObservedOn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "observations.md")
	l, err := Load(path, fixedDate("2026-02-20"))
	require.NoError(t, err)

	old := Observation{Priority: PriorityGreen, ObservedOn: fixedDate("2026-01-01"), EventDate: fixedDate("2026-01-01"), Trust: TrustInternal, Body: "old"}
	newer := Observation{Priority: PriorityGreen, ObservedOn: fixedDate("2026-01-10"), EventDate: fixedDate("2026-01-10"), Trust: TrustInternal, Body: "new"}
	require.NoError(t, l.Append(old))
	require.NoError(t, l.Append(newer))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "new", entries[0].Body)
	assert.Equal(t, "old", entries[1].Body)
}

func TestRender_MatchesExternalInterfaceFormat(t *testing.T) {
	obs := []Observation{
		{
			Priority:   PriorityRed,
			ObservedOn: fixedDate("2026-02-20"),
			EventDate:  fixedDate("2026-02-18"),
			Trust:      TrustExternal,
			Origin:     "https://example",
			Body:       "OAuth token expired during upload step.",
		},
	}
	out := Render(obs)
	assert.Equal(t, "🔴 observed_on:2026-02-20 event_date:2026-02-18 [EXT] origin:https://example\nOAuth token expired during upload step.", out)
}

func TestParseRaw_FakeLLMResponseTwoMinimalEntries(t *testing.T) {
	raw := "🔴: token expired\n\n🟢 run ok"
	entries, skipped := ParseRaw(raw)
	require.Equal(t, 0, skipped)
	require.Len(t, entries, 2)

	assert.Equal(t, PriorityRed, entries[0].Priority)
	assert.Equal(t, "token expired", entries[0].Body)
	assert.Nil(t, entries[0].ObservedOn)

	assert.Equal(t, PriorityGreen, entries[1].Priority)
	assert.Equal(t, "run ok", entries[1].Body)
}

func TestResolve_MissingObservedOnDefaultsToToday(t *testing.T) {
	entries, _ := ParseRaw("🔴: token expired")
	require.Len(t, entries, 1)

	today := fixedDate("2026-02-20")
	obs := Resolve(entries[0], today)
	assert.True(t, obs.ObservedOn.Equal(today))
	assert.True(t, obs.EventDate.Equal(today))
	assert.Equal(t, TrustInternal, obs.Trust)
}

func TestParseRaw_FullHeaderWithExternalMarkerAndOrigin(t *testing.T) {
	raw := "🔴 observed_on:2026-02-20 event_date:2026-02-18 [EXT] origin:https://example\nOAuth token expired during upload step.\n\n🟡 observed_on:2026-02-15 event_date:2026-02-15\nItems with no URL produce weaker narrations."
	entries, skipped := ParseRaw(raw)
	require.Equal(t, 0, skipped)
	require.Len(t, entries, 2)

	assert.True(t, entries[0].External)
	assert.Equal(t, "https://example", entries[0].Origin)
	assert.Equal(t, "OAuth token expired during upload step.", entries[0].Body)
	require.NotNil(t, entries[0].ObservedOn)
	assert.True(t, entries[0].ObservedOn.Equal(fixedDate("2026-02-20")))

	assert.False(t, entries[1].External)
	assert.Equal(t, "Items with no URL produce weaker narrations.", entries[1].Body)
}

func TestParseRaw_LegacyRelativeFieldSilentlyIgnored(t *testing.T) {
	raw := "🟢 observed_on:2026-01-01 event_date:2026-01-01 relative:3_days_ago\nstill parses"
	entries, skipped := ParseRaw(raw)
	require.Equal(t, 0, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, "still parses", entries[0].Body)
}

func TestParseRaw_MissingEventDateDefaultsToObservedOn(t *testing.T) {
	entries, _ := ParseRaw("🟢 observed_on:2026-01-01\nno event date given")
	require.Len(t, entries, 1)
	obs := Resolve(entries[0], fixedDate("2026-03-01"))
	assert.True(t, obs.EventDate.Equal(fixedDate("2026-01-01")))
}

func TestParseRaw_UnrecognizedHeaderIsSkipped(t *testing.T) {
	raw := "this has no priority emoji at all\n\n🟢 observed_on:2026-01-01 event_date:2026-01-01\nvalid entry"
	entries, skipped := ParseRaw(raw)
	assert.Equal(t, 1, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, "valid entry", entries[0].Body)
}

func TestParse_MultilineBodyPreservesInternalNewlines(t *testing.T) {
	raw := "🟢 observed_on:2026-01-01 event_date:2026-01-01\nline one\nline two\nline three"
	entries, skipped := ParseRaw(raw)
	require.Equal(t, 0, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, "line one\nline two\nline three", entries[0].Body)
}

func TestRewrite_ReplacesEntrySet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "observations.md")
	l, err := Load(path, fixedDate("2026-02-20"))
	require.NoError(t, err)
	require.NoError(t, l.Append(Observation{Priority: PriorityGreen, ObservedOn: fixedDate("2026-01-01"), EventDate: fixedDate("2026-01-01"), Trust: TrustInternal, Body: "stale"}))

	merged := Observation{Priority: PriorityGreen, ObservedOn: fixedDate("2026-01-01"), EventDate: fixedDate("2026-01-01"), Trust: TrustInternal, Body: "merged summary"}
	require.NoError(t, l.Rewrite([]Observation{merged}))

	reloaded, err := Load(path, fixedDate("2026-02-20"))
	require.NoError(t, err)
	entries := reloaded.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "merged summary", entries[0].Body)
}

func TestSizeTokens_UsesInjectedCounter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "observations.md")
	l, err := Load(path, fixedDate("2026-02-20"))
	require.NoError(t, err)
	require.NoError(t, l.Append(Observation{Priority: PriorityGreen, ObservedOn: fixedDate("2026-01-01"), EventDate: fixedDate("2026-01-01"), Trust: TrustInternal, Body: "body text"}))

	count := func(s string) uint32 { return uint32(len(s)) }
	assert.Equal(t, uint32(len(l.Bytes())), l.SizeTokens(count))
}
