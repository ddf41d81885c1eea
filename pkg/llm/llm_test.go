package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdapter_ReturnsQueuedResponsesInOrder(t *testing.T) {
	f := NewFakeAdapter("first", "second")

	out, err := f.Complete(context.Background(), "sys", []Message{{Role: "user", Content: "a"}})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = f.Complete(context.Background(), "sys", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	// Exhausted queue repeats the last response rather than erroring.
	out, err = f.Complete(context.Background(), "sys", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", out)
}

func TestFakeAdapter_RecordsCalls(t *testing.T) {
	f := NewFakeAdapter("ok")
	_, _ = f.Complete(context.Background(), "system prompt", []Message{{Role: "user", Content: "hello"}})

	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "system prompt", calls[0].SystemPrompt)
	assert.Equal(t, "hello", calls[0].Messages[0].Content)
}

func TestFakeAdapter_FailWith(t *testing.T) {
	f := NewFakeAdapter("unused")
	f.FailWith(errors.New("llm unavailable"))

	_, err := f.Complete(context.Background(), "", nil)
	assert.EqualError(t, err, "llm unavailable")
}

func TestFakeAdapter_NoResponsesQueuedErrors(t *testing.T) {
	f := NewFakeAdapter()
	_, err := f.Complete(context.Background(), "", nil)
	assert.Error(t, err)
}
