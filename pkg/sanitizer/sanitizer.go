// Package sanitizer implements the known-pattern prompt-injection defenses
// that gate every write into persistent memory: detection/neutralization of
// known injection phrasings, per-entry size enforcement, and delimiter
// wrapping of externally sourced text. This is explicitly advisory — it
// defends against known patterns, not novel adaptive attacks.
//
// Grounded in the teacher's pkg/firewall/firewall.go fail-closed,
// reason-carrying rejection shape and pkg/provenance/envelope.go's
// InjectionIndicator concept, narrowed from the teacher's general
// tool-firewall to text sanitization for memory entries.
package sanitizer

import (
	"regexp"
	"strings"
)

// DefaultMaxEntryChars bounds a single observation body after sanitization
// (spec §3: body ≤ N chars, default N = 2048).
const DefaultMaxEntryChars = 2048

// Priority is the severity escalation level a sanitized entry is tagged
// with once it is admitted to the observation log.
type Priority string

const (
	PriorityGreen  Priority = "G"
	PriorityYellow Priority = "Y"
	PriorityRed    Priority = "R"
)

type pattern struct {
	reason string
	re     *regexp.Regexp
}

// knownPatterns is the fixed set of known-phrasing injection indicators
// (spec §4.1). Matches are replaced with "[REDACTED:<reason>]".
var knownPatterns = []pattern{
	{"ignore_previous", regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`)},
	{"disregard", regexp.MustCompile(`(?i)disregard (all )?(previous|prior|above)[^.\n]*`)},
	{"system_prefix", regexp.MustCompile(`(?i)system:`)},
	{"system_tag", regexp.MustCompile(`(?i)</?system>`)},
	{"assistant_prefix", regexp.MustCompile(`(?i)assistant:`)},
	{"new_instructions", regexp.MustCompile(`(?i)begin new instructions`)},
	{"data_uri", regexp.MustCompile(`(?i)data:[a-z0-9.+-]+/[a-z0-9.+-]+;base64,`)},
	{"long_base64", regexp.MustCompile(`[A-Za-z0-9+/=]{257,}`)},
	{"zero_width", regexp.MustCompile(`[\x{200B}-\x{200F}\x{FEFF}]`)},
	{"bidi_override", regexp.MustCompile(`[\x{202A}-\x{202E}\x{2066}-\x{2069}]`)},
}

// Result is the outcome of running clean_external/clean_internal over a
// piece of text.
type Result struct {
	Text      string
	Flags     []string
	Priority  Priority
	Truncated bool
}

// Sanitizer applies the pattern-based defenses to text before it can be
// admitted into the observation log.
type Sanitizer struct {
	maxEntryChars int
}

// New builds a Sanitizer with the given per-entry character budget. A
// non-positive value falls back to DefaultMaxEntryChars.
func New(maxEntryChars int) *Sanitizer {
	if maxEntryChars <= 0 {
		maxEntryChars = DefaultMaxEntryChars
	}
	return &Sanitizer{maxEntryChars: maxEntryChars}
}

// CleanInternal sanitizes text the agent itself generated: size budget and
// truncation still apply, but the known-injection pattern scan is skipped
// since internally generated text is not adversarial input.
func (s *Sanitizer) CleanInternal(text string) Result {
	return s.clean(text, false)
}

// CleanExternal sanitizes text sourced from outside the agent (tool
// output, web content, files): runs the known-pattern scan, then the size
// budget (spec §4.1).
func (s *Sanitizer) CleanExternal(text string) Result {
	return s.clean(text, true)
}

func (s *Sanitizer) clean(text string, scanPatterns bool) Result {
	if text == "" {
		return Result{Priority: PriorityGreen}
	}

	var flags []string
	if scanPatterns {
		if coveringFlags, all := fullyMatched(text); all {
			// Edge case (spec §4.1): text consisting entirely of matches
			// collapses to a single marker rather than an empty result.
			return Result{Text: "[REDACTED:all]", Flags: coveringFlags, Priority: PriorityYellow}
		}
		text, flags = redact(text)
	}

	priority := PriorityGreen
	if len(flags) > 0 {
		priority = PriorityYellow
	}

	truncated := false
	if len(text) > s.maxEntryChars {
		cut := s.maxEntryChars
		suffix := " [TRUNCATED]"
		if cut > len(suffix) {
			cut -= len(suffix)
		}
		text = text[:cut] + suffix
		truncated = true
		priority = PriorityRed
	}

	return Result{Text: text, Flags: flags, Priority: priority, Truncated: truncated}
}

// fullyMatched reports whether every non-whitespace byte of text falls
// within some known-pattern match, i.e. nothing would survive redaction.
func fullyMatched(text string) ([]string, bool) {
	covered := make([]bool, len(text))
	var flags []string
	for _, p := range knownPatterns {
		for _, span := range p.re.FindAllStringIndex(text, -1) {
			flags = append(flags, p.reason)
			for i := span[0]; i < span[1]; i++ {
				covered[i] = true
			}
		}
	}
	for i, b := range []byte(text) {
		if covered[i] {
			continue
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		return flags, false
	}
	return flags, len(flags) > 0
}

// redact replaces every known-pattern match with "[REDACTED:<reason>]" and
// returns the reasons observed, in the order encountered.
func redact(text string) (string, []string) {
	var flags []string
	for _, p := range knownPatterns {
		if p.re.MatchString(text) {
			count := 0
			text = p.re.ReplaceAllStringFunc(text, func(string) string {
				count++
				return "[REDACTED:" + p.reason + "]"
			})
			for i := 0; i < count; i++ {
				flags = append(flags, p.reason)
			}
		}
	}
	return text, flags
}

// WrapExternal delimits externally sourced text so it cannot be mistaken
// for the agent's own reasoning when rendered into a prompt. Required
// before any external text reaches the LLMAdapter for Observer processing
// (spec §4.1).
func WrapExternal(origin, text string) string {
	var b strings.Builder
	b.WriteString("<external_content origin=")
	b.WriteString(origin)
	b.WriteString(">\n")
	b.WriteString(text)
	b.WriteString("\n</external_content>")
	return b.String()
}
