// Package runstate implements the per-run JSON checkpoint that gives a
// multi-step pipeline idempotent resume after a mid-run crash: a done step
// keeps its first result until it is explicitly reset, steps keep the order
// in which they were first recorded, and a crash leaves the last atomically
// written file intact.
//
// Grounded in the teacher's pkg/artifacts/store.go temp-file-then-rename
// atomic write idiom (same durability contract, applied here to a single
// small JSON document instead of content-addressed blobs) and the
// teacher's pkg/kernel/retry/plan.go step-oriented execution plan shape.
package runstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a fresh run identifier for a caller that does not
// already have one of its own (e.g. a resumable work queue ID). Grounded in
// the teacher's pervasive use of github.com/google/uuid for request and run
// identifiers (pkg/audit/logger.go, pkg/intent/studio.go).
func NewRunID() string {
	return uuid.NewString()
}

// Status is the overall lifecycle state of a run.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Step is one step's recorded outcome.
type Step struct {
	Done        bool        `json:"done"`
	Result      interface{} `json:"result"`
	Error       string      `json:"error,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// RunState is the full per-run checkpoint, including its steps in the order
// each was first recorded (spec.md §3: "steps insertion order is
// preserved").
type RunState struct {
	mu     sync.Mutex
	path   string
	RunID  string      `json:"run_id"`
	Status Status      `json:"status"`
	Steps  *orderedSteps `json:"steps"`
}

// Load reads the checkpoint for runID from dir/<runID>.json, creating a
// fresh in_progress RunState if no file exists yet.
func Load(dir, runID string) (*RunState, error) {
	path := filepath.Join(dir, runID+".json")

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &RunState{
			path:   path,
			RunID:  runID,
			Status: StatusInProgress,
			Steps:  newOrderedSteps(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runstate: read %s: %w", path, err)
	}

	var rs RunState
	rs.Steps = newOrderedSteps()
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("runstate: corrupt run state %s: %w", path, err)
	}
	rs.path = path
	return &rs, nil
}

// Complete marks step done with result. Idempotent: if the step is
// already done, this is a no-op and the first successful result is
// preserved (spec.md §4.8).
func (rs *RunState) Complete(step string, result interface{}, now time.Time) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if existing, ok := rs.Steps.get(step); ok && existing.Done {
		return nil
	}

	completedAt := now
	rs.Steps.set(step, Step{Done: true, Result: result, CompletedAt: &completedAt})
	return rs.saveLocked()
}

// Fail records step's failure without marking it done, so a later
// Complete for the same step is still honored. A step that is already done
// is left as it is (only Reset rewinds it), and Fail is then a no-op.
func (rs *RunState) Fail(step string, cause error) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if existing, ok := rs.Steps.get(step); ok && existing.Done {
		return nil
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	rs.Status = StatusFailed
	rs.Steps.set(step, Step{Done: false, Error: msg})
	return rs.saveLocked()
}

// Reset clears step's done flag, the only way to rewind a completed step
// (spec.md §3). Only the named step is cleared: later steps are left
// untouched, and Reset has no option to clear them as well (see DESIGN.md).
func (rs *RunState) Reset(step string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.Steps.set(step, Step{})
	return rs.saveLocked()
}

// CompletedSteps returns step names with Done == true, in the order each
// step was first recorded (by Complete, Fail or Reset).
func (rs *RunState) CompletedSteps() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var out []string
	for _, name := range rs.Steps.order {
		if s, _ := rs.Steps.get(name); s.Done {
			out = append(out, name)
		}
	}
	return out
}

// Step returns the recorded state for a step and whether it exists.
func (rs *RunState) Step(name string) (Step, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.Steps.get(name)
}

func (rs *RunState) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(rs.path), 0o700); err != nil {
		return fmt.Errorf("runstate: mkdir: %w", err)
	}

	raw, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("runstate: marshal: %w", err)
	}

	tmp := rs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("runstate: write temp file: %w", err)
	}
	if err := os.Rename(tmp, rs.path); err != nil {
		return fmt.Errorf("runstate: rename into place: %w", err)
	}
	return nil
}

// orderedSteps is a name->Step map that preserves first-insertion order
// across JSON round trips, since Go's map marshaling sorts keys
// alphabetically and the spec requires insertion order to survive a
// reload.
type orderedSteps struct {
	order []string
	byKey map[string]Step
}

func newOrderedSteps() *orderedSteps {
	return &orderedSteps{byKey: make(map[string]Step)}
}

func (o *orderedSteps) get(name string) (Step, bool) {
	s, ok := o.byKey[name]
	return s, ok
}

func (o *orderedSteps) set(name string, s Step) {
	if _, exists := o.byKey[name]; !exists {
		o.order = append(o.order, name)
	}
	o.byKey[name] = s
}

func (o *orderedSteps) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range o.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.byKey[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *orderedSteps) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("runstate: steps must be a JSON object")
	}

	*o = *newOrderedSteps()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("runstate: step key must be a string")
		}
		var s Step
		if err := dec.Decode(&s); err != nil {
			return err
		}
		o.set(name, s)
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}
	return nil
}
