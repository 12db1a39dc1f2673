// Package ratelimit provides pure fixed-window admission algorithms.
// All functions are deterministic - same input always produces same output.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/artpar/quotaguard/domain/plan"
)

// Kind identifies a counting window.
type Kind string

const (
	KindMinute Kind = "minute"
	KindHour   Kind = "hour"
	KindDay    Kind = "day"
	KindQuota  Kind = "quota"
)

// Size returns the window length for a kind.
func (k Kind) Size() time.Duration {
	switch k {
	case KindMinute:
		return time.Minute
	case KindHour:
		return time.Hour
	case KindDay, KindQuota:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Identity is the unit limits are tracked against, with the plan it is on.
type Identity struct {
	ID   string
	Plan string
}

// Counter is the state behind one window (value type).
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Slot describes one counter consulted by an admission check.
type Slot struct {
	Key   string
	Kind  Kind
	Limit int64
	Size  time.Duration
}

// Fresh returns the counter a slot starts with when nothing is stored.
// Window counters reset one window after creation; the quota counter
// resets at the end of its aligned day bucket.
func (s Slot) Fresh(now time.Time) Counter {
	if s.Kind == KindQuota {
		return Counter{ResetAt: BucketEnd(now, s.Size)}
	}
	return Counter{ResetAt: now.Add(s.Size)}
}

// Decision is the outcome of an admission check (value type).
type Decision struct {
	Allowed         bool
	Remaining       int64     // min remaining across minute/hour/day after this request
	ResetAt         time.Time // reset of the rejecting window, or of the minute window when allowed
	QuotaUsed       int64
	QuotaRemaining  int64
	QuotaPercentage float64
	Limit           Kind // rejecting window; empty when allowed
}

// RetryAfter returns whole seconds until the decision's reset, rounded up.
func (d Decision) RetryAfter(now time.Time) int64 {
	if d.Allowed {
		return 0
	}
	delay := d.ResetAt.Sub(now)
	if delay <= 0 {
		return 0
	}
	secs := int64(delay / time.Second)
	if delay%time.Second != 0 {
		secs++
	}
	return secs
}

// BucketIndex returns floor(unixMillis / size) for fixed-window alignment.
func BucketIndex(now time.Time, size time.Duration) int64 {
	ms := size.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	t := now.UnixMilli()
	idx := t / ms
	if t < 0 && t%ms != 0 {
		idx--
	}
	return idx
}

// BucketEnd returns the instant the aligned bucket containing now ends.
func BucketEnd(now time.Time, size time.Duration) time.Time {
	ms := size.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return time.UnixMilli((BucketIndex(now, size) + 1) * ms).UTC()
}

// WindowKey returns the counter key for identity/endpoint in the aligned window of kind.
func WindowKey(identity, endpoint string, kind Kind, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", identity, endpoint, kind, BucketIndex(now, kind.Size()))
}

// QuotaKey returns the counter key for identity's UTC day bucket.
func QuotaKey(identity string, now time.Time) string {
	return fmt.Sprintf("%s:quota:%d", identity, BucketIndex(now, KindQuota.Size()))
}

// Slots builds the four slots an evaluation consults, in rejection priority
// order: minute, hour, day, quota.
func Slots(identity, endpoint string, limits plan.Limits, now time.Time) []Slot {
	return []Slot{
		{Key: WindowKey(identity, endpoint, KindMinute, now), Kind: KindMinute, Limit: limits.RequestsPerMinute, Size: KindMinute.Size()},
		{Key: WindowKey(identity, endpoint, KindHour, now), Kind: KindHour, Limit: limits.RequestsPerHour, Size: KindHour.Size()},
		{Key: WindowKey(identity, endpoint, KindDay, now), Kind: KindDay, Limit: limits.RequestsPerDay, Size: KindDay.Size()},
		{Key: QuotaKey(identity, now), Kind: KindQuota, Limit: limits.QuotaPerDay, Size: KindQuota.Size()},
	}
}

// Decide evaluates the current counters against their slots. counters[i]
// belongs to slots[i]. The first slot whose count has reached its limit
// rejects; otherwise the request is admitted and the caller must increment
// every counter by one. Decide itself never changes state.
func Decide(slots []Slot, counters []Counter) Decision {
	quotaIdx := -1
	for i, s := range slots {
		if s.Kind == KindQuota {
			quotaIdx = i
		}
	}

	var quotaUsed, quotaLimit int64
	if quotaIdx >= 0 {
		quotaUsed = counters[quotaIdx].Count
		quotaLimit = slots[quotaIdx].Limit
	}

	for i, s := range slots {
		c := counters[i]
		if c.Count < s.Limit {
			continue
		}
		d := Decision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   c.ResetAt,
			QuotaUsed: quotaUsed,
			Limit:     s.Kind,
		}
		if s.Kind == KindQuota {
			d.QuotaRemaining = 0
			d.QuotaPercentage = 100
		} else {
			d.QuotaRemaining = nonNegative(quotaLimit - quotaUsed)
			d.QuotaPercentage = Percentage(quotaUsed, quotaLimit)
		}
		return d
	}

	d := Decision{
		Allowed:   true,
		Remaining: -1,
		QuotaUsed: quotaUsed + 1,
	}
	for i, s := range slots {
		if s.Kind == KindQuota {
			continue
		}
		if d.ResetAt.IsZero() {
			d.ResetAt = counters[i].ResetAt
		}
		rem := s.Limit - counters[i].Count - 1
		if d.Remaining < 0 || rem < d.Remaining {
			d.Remaining = rem
		}
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if quotaIdx >= 0 {
		d.QuotaRemaining = quotaLimit - quotaUsed - 1
		d.QuotaPercentage = Percentage(quotaUsed+1, quotaLimit)
	}
	return d
}

// Apply returns counters incremented for an admitted request.
func Apply(counters []Counter) []Counter {
	out := make([]Counter, len(counters))
	for i, c := range counters {
		out[i] = Counter{Count: c.Count + 1, ResetAt: c.ResetAt}
	}
	return out
}

// Percentage returns used/limit*100. A zero or negative limit counts as exhausted.
func Percentage(used, limit int64) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(used) * 100 / float64(limit)
}

// Expired reports whether a window counter may be swept at now.
func (c Counter) Expired(now time.Time) bool {
	return !c.ResetAt.IsZero() && c.ResetAt.Before(now)
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
