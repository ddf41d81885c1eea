package llm

import (
	"context"
	"fmt"
	"sync"
)

// FakeAdapter is a deterministic, canned-response Adapter for tests. Calls
// are recorded so tests can assert on what the core actually sent.
type FakeAdapter struct {
	mu        sync.Mutex
	responses []string
	calls     []Call
	err       error
}

// Call captures one Complete invocation for later assertions.
type Call struct {
	SystemPrompt string
	Messages     []Message
}

// NewFakeAdapter returns an adapter that yields responses in order, one per
// call. If more calls happen than responses were queued, the last response
// repeats.
func NewFakeAdapter(responses ...string) *FakeAdapter {
	return &FakeAdapter{responses: responses}
}

// FailWith makes every subsequent Complete call return err instead of a
// canned response, modeling LLM-unavailable failure paths.
func (f *FakeAdapter) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeAdapter) Complete(_ context.Context, systemPrompt string, messages []Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{SystemPrompt: systemPrompt, Messages: messages})

	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("llm: fake adapter has no queued responses")
	}
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

// Calls returns a copy of every call recorded so far.
func (f *FakeAdapter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}
