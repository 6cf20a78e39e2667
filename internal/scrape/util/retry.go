package util

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"propscout-engine/internal/scrape/types"
)

// Backoff retries an operation with exponential back-off and full jitter.
// Only transient errors are retried; anything else surfaces immediately.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func (b Backoff) attempts() int {
	if b.MaxAttempts <= 0 {
		return 3
	}
	return b.MaxAttempts
}

// Delay returns the sleep before retry number attempt (1-based), jittered in
// [0.5, 1.5) of the exponential step.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base << uint(attempt-1)
	if d > max {
		d = max
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

// Do runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted.
func (b Backoff) Do(ctx context.Context, name string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.attempts(); attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == b.attempts() {
			break
		}

		delay := b.Delay(attempt)
		log.Printf("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
			name, attempt, b.attempts(), lastErr, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, b.attempts(), lastErr)
}
