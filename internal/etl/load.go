package etl

import (
	"context"
	"fmt"
	"log"
	"time"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/events"
)

// PropertyStore is what the loader needs from persistence. Both calls are
// atomic at the single-record level.
type PropertyStore interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Property, error)
	UpsertProperty(ctx context.Context, p domain.Property) (int64, error)
}

// Loader resolves identity, scores and upserts one candidate at a time.
// Access per fingerprint is mutually exclusive so concurrent discoveries of
// the same unit from parallel workers cannot race the merge.
type Loader struct {
	Store     PropertyStore
	Weights   Weights
	Threshold int // quality acceptance threshold; below it records are kept but flagged

	MaxAttempts int           // storage retry budget
	RetryDelay  time.Duration // base delay between storage retries

	Hub   *events.Hub
	locks KeyedMutex
}

// Load runs dedupe → score → upsert for one candidate. merged reports
// whether an existing record was folded in. A storage failure after the
// retry budget fails this record only, never the job.
func (l *Loader) Load(ctx context.Context, jobID string, candidate domain.Property) (merged bool, err error) {
	fp := Fingerprint(candidate.Address, candidate.City, candidate.State, candidate.ZipCode)
	candidate.Fingerprint = fp

	l.locks.Lock(fp)
	defer l.locks.Unlock(fp)

	existing, err := l.findWithRetry(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("find %s: %w", fp[:12], err)
	}

	final := candidate
	if existing != nil {
		final = Merge(*existing, candidate)
		final.Fingerprint = fp
		merged = true
	}

	final.QualityScore = l.Weights.Score(final)
	final.LowQuality = final.QualityScore < l.Threshold

	if err := l.upsertWithRetry(ctx, final); err != nil {
		return merged, fmt.Errorf("upsert %s: %w", fp[:12], err)
	}

	if l.Hub != nil {
		kind := events.KindRecordLoaded
		if merged {
			kind = events.KindRecordMerged
		}
		l.Hub.Publish(events.Make(kind, jobID, sourceOf(final), fp))
	}
	return merged, nil
}

func sourceOf(p domain.Property) domain.DataSource {
	if len(p.Sources) > 0 {
		return p.Sources[0]
	}
	return ""
}

func (l *Loader) attempts() int {
	if l.MaxAttempts <= 0 {
		return 3
	}
	return l.MaxAttempts
}

func (l *Loader) delay(attempt int) time.Duration {
	base := l.RetryDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return base << uint(attempt-1)
}

func (l *Loader) findWithRetry(ctx context.Context, fp string) (*domain.Property, error) {
	var lastErr error
	for attempt := 1; attempt <= l.attempts(); attempt++ {
		p, err := l.Store.FindByFingerprint(ctx, fp)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if attempt < l.attempts() {
			log.Printf("[load] find failed (attempt %d/%d): %v", attempt, l.attempts(), err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.delay(attempt)):
			}
		}
	}
	return nil, lastErr
}

func (l *Loader) upsertWithRetry(ctx context.Context, p domain.Property) error {
	var lastErr error
	for attempt := 1; attempt <= l.attempts(); attempt++ {
		if _, err := l.Store.UpsertProperty(ctx, p); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < l.attempts() {
			log.Printf("[load] upsert failed (attempt %d/%d): %v", attempt, l.attempts(), lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.delay(attempt)):
			}
		}
	}
	return lastErr
}
