package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsFirstCallImmediately(t *testing.T) {
	l := New(30)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, l.Wait(ctx))
}

func TestLimiter_BlocksPastBudgetUntilDeadline(t *testing.T) {
	l := New(60) // 1/sec, burst 1
	ctx := context.Background()
	assert.NoError(t, l.Wait(ctx))

	tight, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(tight)
	assert.Error(t, err, "second call within the same window should block past a short deadline")
}

func TestLimiter_NilIsNoop(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
}
