// Package reflector implements the threshold-triggered merge/rewrite of
// the full observation log — the only destructive write in the system.
// Like pkg/observer, Reflector itself never touches disk; it returns a
// decision that pkg/memory's ContextManager (the single write path)
// either applies via ObservationLog.Rewrite or discards.
//
// Grounded in the teacher's pkg/kernel/retry/plan.go step-gated execution
// style — never commit a destructive action without checking a guard
// condition on the attempted result first.
package reflector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vaultmind/core/pkg/llm"
	"github.com/vaultmind/core/pkg/observationlog"
)

// DefaultThreshold is the observation-log token count that triggers a
// merge/rewrite pass (spec.md §4.5).
const DefaultThreshold = 40000

const systemPrompt = `You are merging a long-running agent's observation log to keep it compact. Preserve every priority marker (🔴/🟡/🟢), deduplicate entries, merge superseded entries into their replacement, and keep every URL and file path intact verbatim.
Respond with zero or more entries in the form:
{emoji} observed_on:YYYY-MM-DD event_date:YYYY-MM-DD
body text

Separate entries with a blank line. Do not include anything else in your response.`

// Reflector merges the observation log once it crosses the configured
// token threshold.
type Reflector struct {
	llm llm.Adapter
}

// New builds a Reflector.
func New(adapter llm.Adapter) *Reflector {
	return &Reflector{llm: adapter}
}

// ShouldFire reports whether logTokens exceeds threshold (0 means
// DefaultThreshold).
func ShouldFire(logTokens uint32, threshold uint32) bool {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return logTokens > threshold
}

// Decision is the outcome of a Reflector pass: either a merged
// observation set to commit, or an abort with a reason to record.
type Decision struct {
	Applied        bool
	Observations   []observationlog.Observation
	AbortReason    string
	SafetyGuardObs *observationlog.Observation
}

// Run executes the Reflector algorithm (spec.md §4.5). The safety guard
// fires when the LLM returns a non-empty response that parses to zero
// entries: Run returns Applied=false and a SafetyGuardObs describing the
// skip for the caller to log (telemetry/slog) only. Per spec.md's tested
// invariant ("file bytes unchanged; audit length unchanged"), the guard
// observation is never written to the observation log or the audit
// chain — logging the skip must not itself be a mutation.
func (r *Reflector) Run(ctx context.Context, current []observationlog.Observation, now time.Time) (Decision, error) {
	completion, err := r.llm.Complete(ctx, systemPrompt, toMessages(current))
	if err != nil {
		return Decision{}, fmt.Errorf("reflector: llm completion failed: %w", err)
	}

	if strings.TrimSpace(completion) == "" {
		return Decision{Applied: false, AbortReason: "empty completion, nothing to merge"}, nil
	}

	rawEntries, _ := observationlog.ParseRaw(completion)

	if len(rawEntries) == 0 {
		guard := observationlog.Observation{
			Priority:   observationlog.PriorityRed,
			ObservedOn: now,
			EventDate:  now,
			Trust:      observationlog.TrustInternal,
			Body:       "reflector safety guard: merge response parsed to zero entries, log left unchanged",
		}
		return Decision{Applied: false, AbortReason: "zero parsed entries from non-empty response", SafetyGuardObs: &guard}, nil
	}

	merged := make([]observationlog.Observation, 0, len(rawEntries))
	for _, re := range rawEntries {
		merged = append(merged, observationlog.Resolve(re, now))
	}

	return Decision{Applied: true, Observations: merged}, nil
}

func toMessages(observations []observationlog.Observation) []llm.Message {
	var b strings.Builder
	b.WriteString(observationlog.Render(observations))
	return []llm.Message{{Role: "user", Content: b.String()}}
}
