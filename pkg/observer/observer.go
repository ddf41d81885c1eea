// Package observer implements the threshold-triggered compression of
// buffered session messages into sanitized, dated observations. Observer
// itself never touches disk — it hands candidate Observations back to its
// caller (pkg/memory's ContextManager), which owns the single write path
// per spec.md §2/C12.
//
// Grounded in the teacher's pkg/llm/client.go Client capability shape and
// pkg/kernel/retry/backoff.go's "compute, don't mutate shared state"
// style: Observer is a pure transformation over its inputs plus one
// LLMAdapter call.
package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultmind/core/pkg/llm"
	"github.com/vaultmind/core/pkg/observationlog"
	"github.com/vaultmind/core/pkg/provenance"
	"github.com/vaultmind/core/pkg/sanitizer"
)

// DefaultThreshold is the buffered-token count that triggers a compression
// pass (spec.md §4.4).
const DefaultThreshold = 30000

const systemPrompt = `You observe a long-running agent's session messages and extract 0 or more durable observations worth remembering across sessions.
Respond with zero or more entries, each in the form:
{emoji} observed_on:YYYY-MM-DD event_date:YYYY-MM-DD
body text on the following line(s)

Use 🔴 for critical/failure observations, 🟡 for caution, 🟢 for routine/informational. Separate entries with a blank line. Do not include anything else in your response.`

// Message is one buffered session message awaiting compression.
type Message struct {
	Role     string
	Content  string
	External bool
	Origin   string
}

// Observer compresses buffered messages into observations once the
// configured token threshold is crossed.
type Observer struct {
	llm       llm.Adapter
	sanitizer *sanitizer.Sanitizer
}

// New builds an Observer.
func New(adapter llm.Adapter, san *sanitizer.Sanitizer) *Observer {
	return &Observer{llm: adapter, sanitizer: san}
}

// ShouldFire reports whether bufferedTokens exceeds threshold (0 means
// DefaultThreshold).
func ShouldFire(bufferedTokens uint32, threshold uint32) bool {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return bufferedTokens > threshold
}

// Result is the outcome of a single Observer pass.
type Result struct {
	Observations []observationlog.Observation
	SkippedCount int
}

// Run executes the Observer algorithm (spec.md §4.4 steps 1-5): it never
// mutates the buffer or the log itself — the caller drains the buffer
// before calling Run, and appends the returned observations afterward. If
// runSummary is non-empty, a trailing 🟢 completion observation is
// appended describing it (step 6).
func (o *Observer) Run(ctx context.Context, messages []Message, now time.Time, runSummary string) (Result, error) {
	prepared := make([]llm.Message, 0, len(messages))
	anyExternal := false
	for _, m := range messages {
		content := m.Content
		if m.External {
			anyExternal = true
			cleaned := o.sanitizer.CleanExternal(content)
			content = sanitizer.WrapExternal(m.Origin, cleaned.Text)
		}
		prepared = append(prepared, llm.Message{Role: m.Role, Content: content})
	}

	raw, err := o.llm.Complete(ctx, systemPrompt, prepared)
	if err != nil {
		return Result{}, fmt.Errorf("observer: llm completion failed: %w", err)
	}

	rawEntries, skipped := observationlog.ParseRaw(raw)

	trust := observationlog.TrustInternal
	if anyExternal {
		trust = observationlog.TrustExternal
	}

	observations := make([]observationlog.Observation, 0, len(rawEntries)+1)
	for _, re := range rawEntries {
		cleaned := o.sanitizer.CleanInternal(re.Body)
		obs := observationlog.Resolve(re, now)
		obs.Body = cleaned.Text
		if cleaned.Truncated {
			obs.Priority = observationlog.PriorityRed
		}
		obs.Trust = trust
		observations = append(observations, obs)
	}

	if runSummary != "" {
		observations = append(observations, observationlog.Observation{
			Priority:   observationlog.PriorityGreen,
			ObservedOn: now,
			EventDate:  now,
			Trust:      observationlog.TrustInternal,
			Body:       runSummary,
		})
	}

	return Result{Observations: observations, SkippedCount: skipped}, nil
}

// TagFor builds the provenance tag that accompanies an observation
// produced by this package.
func TagFor(obs observationlog.Observation, now time.Time) provenance.Tag {
	trust := provenance.TrustInternal
	if obs.Trust == observationlog.TrustExternal {
		trust = provenance.TrustExternal
	}
	return provenance.New("observer", trust, obs.Origin, obs.Body, now)
}
