package app

import (
	"context"
	"time"

	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/key"
	"github.com/artpar/quotaguard/ports"
)

// keyWindow is one trailing window of the key-scoped limiter.
type keyWindow struct {
	name   string
	length time.Duration
	limit  func(key.Overrides) *int64
}

var keyWindows = []keyWindow{
	{"minute", time.Minute, func(o key.Overrides) *int64 { return o.PerMinute }},
	{"hour", time.Hour, func(o key.Overrides) *int64 { return o.PerHour }},
	{"day", 24 * time.Hour, func(o key.Overrides) *int64 { return o.PerDay }},
}

// KeyLimiter enforces a key's own per-minute/hour/day overrides by summing
// the usage ledger over trailing windows. It reads then decides, so a brief
// overrun under concurrency is possible.
type KeyLimiter struct {
	usage ports.UsageStore
	clock ports.Clock
}

// NewKeyLimiter creates a key-scoped limiter.
func NewKeyLimiter(usage ports.UsageStore, clock ports.Clock) *KeyLimiter {
	return &KeyLimiter{usage: usage, clock: clock}
}

// Check returns AdmissionDenied for the first trailing window, minute then
// hour then day, whose recorded usage has reached the key's override.
// Unset or non-positive overrides are not enforced.
func (l *KeyLimiter) Check(ctx context.Context, k key.Key) error {
	now := l.clock.Now()
	overrides := k.Overrides()

	for _, w := range keyWindows {
		limit := w.limit(overrides)
		if limit == nil || *limit <= 0 {
			continue
		}
		used, err := l.usage.SumSince(ctx, k.ID, now.Add(-w.length))
		if err != nil {
			return fault.Unavailable("sum usage", err)
		}
		if used >= *limit {
			return fault.Denied(w.name, *limit, w.length, now.Add(w.length), 0)
		}
	}
	return nil
}
