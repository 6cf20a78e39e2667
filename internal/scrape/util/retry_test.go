package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"propscout-engine/internal/scrape/types"
)

func TestBackoffRetriesTransient(t *testing.T) {
	b := Backoff{MaxAttempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}

	calls := 0
	err := b.Do(context.Background(), "fetch", func() error {
		calls++
		if calls < 3 {
			return types.Transient("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("should succeed on third attempt: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestBackoffStopsOnPermanentError(t *testing.T) {
	b := Backoff{MaxAttempts: 5, Base: time.Millisecond}

	permanent := errors.New("no such page")
	calls := 0
	err := b.Do(context.Background(), "fetch", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("want the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestBackoffDoesNotRetryBlocked(t *testing.T) {
	b := Backoff{MaxAttempts: 5, Base: time.Millisecond}

	calls := 0
	err := b.Do(context.Background(), "fetch", func() error {
		calls++
		return types.ErrBlocked
	})
	if !types.IsBlocked(err) {
		t.Fatalf("blocked error should surface unchanged, got %v", err)
	}
	if calls != 1 {
		t.Errorf("blocks must not be retried, got %d calls", calls)
	}
}

func TestBackoffExhaustsBudget(t *testing.T) {
	b := Backoff{MaxAttempts: 3, Base: time.Millisecond}

	calls := 0
	err := b.Do(context.Background(), "fetch", func() error {
		calls++
		return types.Transient("still down")
	})
	if err == nil {
		t.Fatal("expected failure after budget exhaustion")
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
	if !types.IsTransient(err) {
		t.Errorf("wrapped error should still unwrap as transient: %v", err)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	b := Backoff{MaxAttempts: 10, Base: time.Second, Max: 30 * time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Delay(attempt)
		if d < 0 || d >= 45*time.Second {
			t.Errorf("attempt %d: delay %v outside jittered cap", attempt, d)
		}
	}
	// early attempts stay near the base
	if d := b.Delay(1); d > 1500*time.Millisecond {
		t.Errorf("first retry delay %v too large for 1s base", d)
	}
}
