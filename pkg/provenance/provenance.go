// Package provenance implements the structured per-write tag the spec
// attaches to every observation: source, trust level, origin, timestamp,
// and a content hash binding the tag to the exact bytes it describes.
// Grounded in the teacher's pkg/provenance/envelope.go Segment/TrustLevel
// shape, narrowed from its four-level firewall trust taxonomy down to the
// spec's two-level {internal, external} model since there is no firewall
// policy or transform chain in scope here.
package provenance

import (
	"time"

	"github.com/vaultmind/core/pkg/canonical"
	"github.com/vaultmind/core/pkg/hashutil"
)

// Trust classifies how much an observation's content can be believed
// without independent verification.
type Trust string

const (
	TrustInternal Trust = "internal"
	TrustExternal Trust = "external"
)

// SchemaVersion is bumped whenever the Tag shape changes on disk.
const SchemaVersion = "1.0.0"

// Tag is the provenance record attached to a single write.
type Tag struct {
	SchemaVersion string    `json:"schema_version"`
	Source        string    `json:"source"`
	Trust         Trust     `json:"trust"`
	Origin        string    `json:"origin,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	ContentHash   string    `json:"content_hash"`
}

// New builds a Tag for content written by source, from the given origin
// (a URL or file path; empty for internally generated content).
func New(source string, trust Trust, origin string, content string, now time.Time) Tag {
	return Tag{
		SchemaVersion: SchemaVersion,
		Source:        source,
		Trust:         trust,
		Origin:        origin,
		Timestamp:     now,
		ContentHash:   hashutil.HexString(content),
	}
}

// SidecarKey returns a content-addressed key for this tag: a SHA-256 over
// the tag's RFC 8785 canonical JSON form, so the key is stable across Go
// map/field reordering rather than tied to struct field order. The
// memory/provenance.jsonl writer in pkg/memory does not store this key;
// each sidecar line is the tag's JSON alone.
func (t Tag) SidecarKey() (string, error) {
	return canonical.Hash(t)
}

// Marker returns the inline label for untrusted entries, the same "[EXT]"
// that ContextBuilder writes after the priority emoji of an external
// observation, so a reader (human or model) can see at a glance that a line
// came from outside the agent's own reasoning.
func (t Tag) Marker() string {
	if t.Trust == TrustExternal {
		return "[EXT]"
	}
	return ""
}
