package util

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"propscout-engine/internal/domain"
)

// SourceLimiter rate-limits per data source plus a global ceiling across all
// sources. Every outbound request acquires both tokens before dispatch;
// callers block rather than drop.
type SourceLimiter struct {
	mu     sync.Mutex
	m      map[domain.DataSource]*rate.Limiter
	rpm    map[domain.DataSource]int
	def    int
	global *rate.Limiter
}

// NewSourceLimiter builds a limiter from requests-per-minute figures.
// perSource entries override defaultRPM; globalRPM caps the whole engine.
func NewSourceLimiter(defaultRPM, globalRPM int, perSource map[domain.DataSource]int) *SourceLimiter {
	if defaultRPM <= 0 {
		defaultRPM = 60
	}
	if globalRPM <= 0 {
		globalRPM = 3 * defaultRPM
	}
	return &SourceLimiter{
		m:      make(map[domain.DataSource]*rate.Limiter),
		rpm:    perSource,
		def:    defaultRPM,
		global: rate.NewLimiter(perMinute(globalRPM), 1),
	}
}

func perMinute(rpm int) rate.Limit {
	return rate.Limit(float64(rpm) / 60.0)
}

func (sl *SourceLimiter) limiterFor(src domain.DataSource) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if lim, ok := sl.m[src]; ok {
		return lim
	}
	rpm := sl.def
	if v, ok := sl.rpm[src]; ok && v > 0 {
		rpm = v
	}
	lim := rate.NewLimiter(perMinute(rpm), 1)
	sl.m[src] = lim
	return lim
}

// Wait blocks until both the per-source bucket and the global bucket grant a
// token, or ctx is cancelled.
func (sl *SourceLimiter) Wait(ctx context.Context, src domain.DataSource) error {
	if err := sl.limiterFor(src).Wait(ctx); err != nil {
		return err
	}
	return sl.global.Wait(ctx)
}
