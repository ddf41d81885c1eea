// Package ratelimit throttles outbound LLMAdapter calls (SPEC_FULL §4.14) so
// that a burst of Observer/Reflector threshold crossings cannot hammer the
// adapter. Grounded in the pack's token-bucket idiom
// (golang.org/x/time/rate), wired here instead of the teacher's unused
// cross-cutting placement.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket sized in calls-per-minute.
type Limiter struct {
	b *rate.Limiter
}

// New creates a Limiter allowing perMinute calls/minute, with a burst of 1
// (no call is ever silently dropped; callers block on ctx instead).
func New(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Limiter{b: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)}
}

// Wait blocks until a token is available. It returns an error when ctx is
// done, and returns one at once, without waiting, when the wait would run
// past ctx's deadline, honoring spec §5's per-call deadline rule (expiry is
// a recoverable error, no write occurs).
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.b.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	return nil
}
