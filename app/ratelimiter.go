// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/plan"
	"github.com/artpar/quotaguard/domain/quota"
	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/artpar/quotaguard/ports"
	"github.com/rs/zerolog"
)

// warnPercentage is the quota usage above which admissions are logged.
const warnPercentage = 90

// RateLimiter admits or rejects user-scoped requests against fixed windows
// and the daily quota.
type RateLimiter struct {
	counters ports.CounterStore
	clock    ports.Clock
	metrics  ports.Metrics
	logger   zerolog.Logger

	// Hot-reloadable plan table.
	catalog atomic.Pointer[plan.Catalog]

	// Optional; checked after each admission when set.
	monitor atomic.Pointer[AlertMonitor]
}

// RateLimiterDeps contains dependencies for RateLimiter.
type RateLimiterDeps struct {
	Counters ports.CounterStore
	Clock    ports.Clock
	Catalog  *plan.Catalog
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(deps RateLimiterDeps) *RateLimiter {
	r := &RateLimiter{
		counters: deps.Counters,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if r.metrics == nil {
		r.metrics = ports.NopMetrics{}
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = plan.DefaultCatalog()
	}
	r.catalog.Store(catalog)
	return r
}

// SetCatalog replaces the plan table. Safe to call while serving.
func (r *RateLimiter) SetCatalog(c *plan.Catalog) {
	if c != nil {
		r.catalog.Store(c)
	}
}

// Catalog returns the current plan table.
func (r *RateLimiter) Catalog() *plan.Catalog {
	return r.catalog.Load()
}

// CheckOnAdmit makes every admission run an alert check through m.
// Passing nil disables it.
func (r *RateLimiter) CheckOnAdmit(m *AlertMonitor) {
	r.monitor.Store(m)
}

// Evaluate checks identity against limits and, if admitted, counts the
// request. A rejection mutates nothing. Store failures are returned as
// StoreUnavailable and never admit.
func (r *RateLimiter) Evaluate(ctx context.Context, identity, endpoint string, limits plan.Limits) (ratelimit.Decision, error) {
	now := r.clock.Now()
	d, err := r.counters.Admit(ctx, ratelimit.Slots(identity, endpoint, limits, now), now)
	if err != nil {
		r.logger.Error().Err(err).
			Str("user_id", identity).
			Str("endpoint", endpoint).
			Msg("counter store admit failed")
		return ratelimit.Decision{}, fault.Unavailable("admit", err)
	}
	return d, nil
}

// Admit resolves the identity's plan and evaluates it, recording metrics
// and running the optional alert check on admission. A rejection is a
// decision with Allowed=false, not an error.
func (r *RateLimiter) Admit(ctx context.Context, id ratelimit.Identity, endpoint string) (ratelimit.Decision, error) {
	limits, planName, found := r.Catalog().Resolve(id.Plan)
	if !found && id.Plan != "" {
		r.logger.Debug().
			Str("user_id", id.ID).
			Str("plan", id.Plan).
			Str("fallback", planName).
			Msg("unknown plan, using fallback")
	}

	d, err := r.Evaluate(ctx, id.ID, endpoint, limits)
	if err != nil {
		return d, err
	}
	r.metrics.Admission(planName, d.Allowed, string(d.Limit))
	if !d.Allowed {
		return d, nil
	}

	if d.QuotaPercentage >= warnPercentage {
		r.logger.Warn().
			Str("user_id", id.ID).
			Str("plan", planName).
			Float64("quota_pct", d.QuotaPercentage).
			Int64("quota_remaining", d.QuotaRemaining).
			Msg("user approaching daily quota")
	}

	if m := r.monitor.Load(); m != nil {
		if _, err := m.CheckAlertForPlan(ctx, id.ID, planName); err != nil {
			r.logger.Warn().Err(err).
				Str("user_id", id.ID).
				Msg("alert check after admission failed")
		}
	}
	return d, nil
}

// Enforce is Admit with a rejection turned into an AdmissionDenied error
// carrying the retry details.
func (r *RateLimiter) Enforce(ctx context.Context, id ratelimit.Identity, endpoint string) (ratelimit.Decision, error) {
	d, err := r.Admit(ctx, id, endpoint)
	if err != nil || d.Allowed {
		return d, err
	}
	limits := r.Catalog().Limits(id.Plan)
	return d, fault.Denied(
		string(d.Limit),
		limitOf(limits, d.Limit),
		time.Duration(d.RetryAfter(r.clock.Now()))*time.Second,
		d.ResetAt,
		d.QuotaRemaining,
	)
}

// Status returns the identity's position in the current day bucket. It
// does not count a request.
func (r *RateLimiter) Status(ctx context.Context, identity, planName string) (quota.Status, error) {
	limits, resolved, _ := r.Catalog().Resolve(planName)
	now := r.clock.Now()

	c, ok, err := r.counters.Peek(ctx, ratelimit.QuotaKey(identity, now), now)
	if err != nil {
		return quota.Status{}, fault.Unavailable("peek quota", err)
	}
	var used int64
	if ok {
		used = c.Count
	}
	return quota.NewStatus(identity, resolved, limits, used), nil
}

func limitOf(l plan.Limits, kind ratelimit.Kind) int64 {
	switch kind {
	case ratelimit.KindMinute:
		return l.RequestsPerMinute
	case ratelimit.KindHour:
		return l.RequestsPerHour
	case ratelimit.KindDay:
		return l.RequestsPerDay
	case ratelimit.KindQuota:
		return l.QuotaPerDay
	default:
		return 0
	}
}
