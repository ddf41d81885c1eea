// Package anchor implements the fixed task statement an agent is anchored
// to for its session, and the drift check that flags when a candidate
// instruction no longer overlaps with that statement. Grounded in the
// teacher's pkg/intent/studio.go computeHash (deterministic hashing of a
// one-shot intent artifact at session start) generalized from JCS-over-a-
// struct to a plain SHA-256 of the anchor text, since the anchor here is
// just a sentence rather than a structured ticket.
package anchor

import (
	"strings"
	"time"

	"github.com/vaultmind/core/pkg/hashutil"
)

// DefaultDriftThreshold is the minimum Jaccard token overlap a candidate
// instruction must retain against the anchor before it is flagged as
// drifted (spec.md §4.7).
const DefaultDriftThreshold = 0.2

// Anchor is the immutable one-sentence task statement for a session.
type Anchor struct {
	Text      string    `json:"text"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates an Anchor, binding it to its own hash at creation time.
func New(text string, now time.Time) Anchor {
	return Anchor{
		Text:      text,
		SHA256:    hashutil.HexString(text),
		CreatedAt: now,
	}
}

// DriftWarning is returned by CheckDrift when a candidate instruction's
// token overlap with the anchor falls below the configured threshold.
type DriftWarning struct {
	Overlap   float64
	Threshold float64
}

// CheckDrift computes the Jaccard token-set overlap between the anchor
// text and candidate, returning a DriftWarning (and true) when overlap is
// below threshold. A non-positive threshold falls back to
// DefaultDriftThreshold.
func (a Anchor) CheckDrift(candidate string, threshold float64) (DriftWarning, bool) {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	overlap := jaccard(tokenSet(a.Text), tokenSet(candidate))
	if overlap < threshold {
		return DriftWarning{Overlap: overlap, Threshold: threshold}, true
	}
	return DriftWarning{}, false
}

// stopWords are filtered out of a token set before the Jaccard comparison
// (spec.md §4.7: "token-set Jaccard overlap on lowercased, stop-word-
// filtered tokens"), so two instructions that share only common function
// words don't register as overlapping.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "nor": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "by": {}, "for": {},
	"with": {}, "about": {}, "as": {}, "into": {}, "from": {}, "up": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"it": {}, "its": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"i": {}, "you": {}, "we": {}, "they": {}, "he": {}, "she": {},
	"do": {}, "does": {}, "did": {}, "not": {}, "no": {}, "so": {}, "if": {},
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are defined as fully
// overlapping (1.0) rather than undefined, so two texts with no content
// words (empty, or stop words only) never flag drift against each other.
// An empty set against a non-empty one scores 0.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
