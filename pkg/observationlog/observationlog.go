// Package observationlog implements the human-readable, append-only
// observation log (memory/observations.md): its blank-line entry grammar,
// the tolerant header parser that accepts a priority emoji, optional
// separators, and out-of-order/missing key-value pairs, and atomic
// rewrite support for the Reflector's destructive merges.
//
// Grounded in the teacher's pkg/artifacts/store.go temp-file-then-rename
// atomic write idiom and pkg/store/audit_store.go's append-then-chain
// discipline, adapted from a binary CAS blob store to a single growing
// text file with a line-oriented grammar.
package observationlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Priority is the emoji-coded severity of an observation.
type Priority string

const (
	PriorityGreen  Priority = "G"
	PriorityYellow Priority = "Y"
	PriorityRed    Priority = "R"
)

var priorityEmoji = map[Priority]string{
	PriorityGreen:  "🟢",
	PriorityYellow: "🟡",
	PriorityRed:    "🔴",
}

var emojiPriority = map[string]Priority{
	"🟢": PriorityGreen,
	"🟡": PriorityYellow,
	"🔴": PriorityRed,
}

// Trust records whether an observation's content originated inside the
// agent or from the outside world.
type Trust string

const (
	TrustInternal Trust = "internal"
	TrustExternal Trust = "external"
)

const dateLayout = "2006-01-02"

// Observation is one entry in the log, fully resolved: ObservedOn and
// EventDate are always set (defaults already applied).
type Observation struct {
	Priority   Priority
	ObservedOn time.Time
	EventDate  time.Time
	Trust      Trust
	Origin     string
	Body       string
}

// Log is the in-memory, ordered view of an observation log file: newest
// first by ObservedOn, then insertion order for ties (spec.md §3). raw
// always holds the literal bytes last known to be on disk — the exact
// content Load read, or the exact content the last Append/Rewrite wrote —
// so a caller verifying tamper-evidence hashes what the file actually
// contains rather than a re-rendered, normalized parse of it.
type Log struct {
	path         string
	raw          []byte
	entries      []Observation
	skippedCount int
}

// Load reads and parses path. A missing file is treated as an empty log.
// Malformed entries are skipped and counted rather than failing the load
// (spec.md §3); call Skipped to see how many were dropped. now supplies the
// default ObservedOn/EventDate for any on-disk entry whose header omits
// them (well-formed entries always carry both dates; this only matters for
// partially-written or hand-edited files).
func Load(path string, now time.Time) (*Log, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Log{path: path, raw: []byte{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observationlog: read %s: %w", path, err)
	}

	entries, skipped := parseResolved(string(raw), now)
	l := &Log{path: path, raw: raw, entries: entries, skippedCount: skipped}
	l.sort()
	return l, nil
}

// Entries returns the current ordered entries.
func (l *Log) Entries() []Observation {
	out := make([]Observation, len(l.entries))
	copy(out, l.entries)
	return out
}

// Skipped returns how many malformed entries were dropped on the last
// Load.
func (l *Log) Skipped() int {
	return l.skippedCount
}

// Bytes renders the log to its on-disk text form.
func (l *Log) Bytes() []byte {
	return []byte(Render(l.entries))
}

// RawBytes returns the literal bytes last read from or written to disk —
// the exact file content, not a re-rendered parse of it. This is what
// tamper-evidence checks must hash (spec.md §3/§4.2): a mutation that a
// re-render would normalize away (trailing whitespace, extra blank lines,
// a malformed trailing block) still shows up here.
func (l *Log) RawBytes() []byte {
	out := make([]byte, len(l.raw))
	copy(out, l.raw)
	return out
}

// Append adds a single observation and rewrites the file atomically. This
// is the Observer's write path: strictly additive, never reordering or
// dropping existing entries.
func (l *Log) Append(o Observation) error {
	l.entries = append(l.entries, o)
	l.sort()
	return l.writeAtomic()
}

// Rewrite replaces the entire entry set and writes atomically. This is
// the Reflector's write path: the only destructive writer in the system.
func (l *Log) Rewrite(entries []Observation) error {
	l.entries = append([]Observation(nil), entries...)
	l.sort()
	return l.writeAtomic()
}

func (l *Log) sort() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].ObservedOn.After(l.entries[j].ObservedOn)
	})
}

func (l *Log) writeAtomic() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("observationlog: mkdir: %w", err)
	}

	rendered := l.Bytes()

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, rendered, 0o600); err != nil {
		return fmt.Errorf("observationlog: write temp file: %w", err)
	}
	if f, err := os.OpenFile(tmp, os.O_WRONLY, 0o600); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("observationlog: rename into place: %w", err)
	}
	l.raw = rendered
	return nil
}

// Render serializes entries to the on-disk grammar (spec.md §6):
//
//	🔴 observed_on:2026-02-20 event_date:2026-02-18 [EXT] origin:https://example
//	OAuth token expired during upload step.
//
// Entries are separated by exactly one blank line.
func Render(entries []Observation) string {
	blocks := make([]string, 0, len(entries))
	for _, o := range entries {
		var b strings.Builder
		b.WriteString(priorityEmoji[o.Priority])
		fmt.Fprintf(&b, " observed_on:%s event_date:%s", o.ObservedOn.Format(dateLayout), o.EventDate.Format(dateLayout))
		if o.Trust == TrustExternal {
			b.WriteString(" [EXT]")
		}
		if o.Origin != "" {
			fmt.Fprintf(&b, " origin:%s", o.Origin)
		}
		b.WriteString("\n")
		b.WriteString(o.Body)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// RawEntry is a header parsed by the tolerant grammar (spec.md §4.9)
// before defaults are applied. ObservedOn/EventDate are nil when the
// header omitted them, which happens for raw LLM completions that have
// not yet been dated by the caller.
type RawEntry struct {
	Priority   Priority
	ObservedOn *time.Time
	EventDate  *time.Time
	External   bool
	Origin     string
	Body       string
}

// leadingSeparators are the optional characters tolerated directly after
// the priority emoji (spec §4.9: {:, -, whitespace}).
var leadingSeparators = regexp.MustCompile(`^[:\-\s]+`)

// blockSeparator matches a run of two or more newlines (one or more blank
// lines), the log's entry delimiter. A lone newline inside a block is left
// untouched, preserving single line breaks within a body.
var blockSeparator = regexp.MustCompile(`\n{2,}`)

var kvPattern = regexp.MustCompile(`(\w+):(\S+)`)

// ParseRaw implements the tolerant observation parser (spec.md §4.9): it
// is used both to read memory/observations.md and to parse an LLM's raw
// completion text. Unknown keys (including legacy "relative:...") are
// ignored; entries with no recognizable priority emoji are skipped and
// counted.
func ParseRaw(raw string) (entries []RawEntry, skipped int) {
	for _, block := range blockSeparator.Split(strings.ReplaceAll(raw, "\r\n", "\n"), -1) {
		block = strings.TrimRight(block, " \t\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		entry, ok := parseHeaderBlock(block)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}

func parseHeaderBlock(block string) (RawEntry, bool) {
	nl := strings.IndexByte(block, '\n')
	header := block
	body := ""
	if nl >= 0 {
		header = block[:nl]
		body = block[nl+1:]
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return RawEntry{}, false
	}

	// First rune must be one of the priority emoji.
	var priority Priority
	var rest string
	matched := false
	for emoji, p := range emojiPriority {
		if strings.HasPrefix(header, emoji) {
			priority = p
			rest = strings.TrimPrefix(header, emoji)
			matched = true
			break
		}
	}
	if !matched {
		return RawEntry{}, false
	}

	rest = leadingSeparators.ReplaceAllString(rest, "")

	entry := RawEntry{Priority: priority, Body: strings.TrimSpace(body)}

	if strings.Contains(rest, "[EXT]") {
		entry.External = true
		rest = strings.ReplaceAll(rest, "[EXT]", "")
	}

	for _, kv := range kvPattern.FindAllStringSubmatch(rest, -1) {
		key, val := kv[1], kv[2]
		switch key {
		case "observed_on":
			if t, err := time.Parse(dateLayout, val); err == nil {
				entry.ObservedOn = &t
			}
		case "event_date":
			if t, err := time.Parse(dateLayout, val); err == nil {
				entry.EventDate = &t
			}
		case "origin":
			entry.Origin = val
		case "relative":
			// legacy field, silently ignored (spec §4.9)
		}
	}

	// A header with no body text and no recognized fields is still a
	// valid minimal entry (e.g. a raw "🔴: token expired" LLM line whose
	// "body" was folded into the header because there was no newline).
	if nl < 0 {
		entry.Body = strings.TrimSpace(stripRecognizedHeader(rest))
	}

	return entry, true
}

// stripRecognizedHeader removes matched key:value tokens and [EXT] from a
// header-only line (no body line followed), leaving whatever free text
// remains as the body — this is how "🔴: token expired" parses: no
// key/value pairs match, so the whole remainder becomes the body.
func stripRecognizedHeader(rest string) string {
	remainder := kvPattern.ReplaceAllString(rest, "")
	return remainder
}

// Resolve fills in ObservedOn/EventDate defaults for a RawEntry that came
// from an LLM completion rather than disk: missing ObservedOn defaults to
// today, missing EventDate defaults to ObservedOn (spec §4.9).
func Resolve(r RawEntry, today time.Time) Observation {
	observedOn := today
	if r.ObservedOn != nil {
		observedOn = *r.ObservedOn
	}
	eventDate := observedOn
	if r.EventDate != nil {
		eventDate = *r.EventDate
	}
	trust := TrustInternal
	if r.External {
		trust = TrustExternal
	}
	return Observation{
		Priority:   r.Priority,
		ObservedOn: observedOn,
		EventDate:  eventDate,
		Trust:      trust,
		Origin:     r.Origin,
		Body:       r.Body,
	}
}

// parseResolved parses raw on-disk content straight into Observations,
// applying the same tolerant grammar and defaults as Resolve. Used by
// Load, where entries are expected to already carry dates but the parser
// must tolerate the same omissions it tolerates for LLM output; now is the
// caller's injected clock reading, never the wall clock directly, so a
// reload of a partially-written file stays deterministic under test like
// every other date-derived computation in this module.
func parseResolved(raw string, now time.Time) ([]Observation, int) {
	rawEntries, skipped := ParseRaw(raw)
	out := make([]Observation, 0, len(rawEntries))
	for _, r := range rawEntries {
		out = append(out, Resolve(r, now))
	}
	return out, skipped
}

// SizeTokens estimates the token footprint of the whole log using the
// injected counter, used by the Reflector threshold check.
func (l *Log) SizeTokens(count func(string) uint32) uint32 {
	return count(string(l.Bytes()))
}

// FormatDate renders t using the log's canonical date layout.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDate parses s using the log's canonical date layout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
