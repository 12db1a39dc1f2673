package app

import (
	"context"
	"errors"

	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/quota"
	"github.com/artpar/quotaguard/ports"
	"github.com/rs/zerolog"
)

// AlertMonitor raises quota threshold alerts at most once per identity,
// UTC day and threshold.
type AlertMonitor struct {
	limiter  *RateLimiter
	users    ports.UserStore
	ledger   ports.AlertLedger
	notifier ports.Notifier
	clock    ports.Clock
	metrics  ports.Metrics
	logger   zerolog.Logger
}

// AlertMonitorDeps contains dependencies for AlertMonitor.
type AlertMonitorDeps struct {
	Limiter  *RateLimiter
	Users    ports.UserStore
	Ledger   ports.AlertLedger
	Notifier ports.Notifier
	Clock    ports.Clock
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

// NewAlertMonitor creates a new alert monitor.
func NewAlertMonitor(deps AlertMonitorDeps) *AlertMonitor {
	m := &AlertMonitor{
		limiter:  deps.Limiter,
		users:    deps.Users,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if m.metrics == nil {
		m.metrics = ports.NopMetrics{}
	}
	return m
}

// CheckAlert looks up the identity's plan and checks it for a pending alert.
func (m *AlertMonitor) CheckAlert(ctx context.Context, identity string) (*quota.Alert, error) {
	u, err := m.users.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fault.NotFound("user", identity)
		}
		return nil, fault.Unavailable("get user", err)
	}
	return m.check(ctx, identity, u.Plan, &u)
}

// CheckAlertForPlan checks identity on the given plan. It returns nil when
// no threshold is pending.
//
// Thresholds are scanned in ascending order and the lowest unsent one that
// usage meets is returned, so a caller at 96% with nothing sent yet gets 90,
// and 95 on the next check.
func (m *AlertMonitor) CheckAlertForPlan(ctx context.Context, identity, planName string) (*quota.Alert, error) {
	return m.check(ctx, identity, planName, nil)
}

func (m *AlertMonitor) check(ctx context.Context, identity, planName string, contact *ports.User) (*quota.Alert, error) {
	status, err := m.limiter.Status(ctx, identity, planName)
	if err != nil {
		return nil, err
	}

	day := quota.Day(m.clock.Now())
	sent, err := m.ledger.Sent(ctx, identity, day)
	if err != nil {
		return nil, fault.Unavailable("read alert ledger", err)
	}
	sentSet := make(map[int]bool, len(sent))
	for _, th := range sent {
		sentSet[th] = true
	}

	threshold, ok := quota.Candidate(status, func(th int) bool { return sentSet[th] })
	if !ok {
		return nil, nil
	}

	claimed, err := m.ledger.Claim(ctx, identity, day, threshold)
	if err != nil {
		return nil, fault.Unavailable("claim alert", err)
	}
	if !claimed {
		// A concurrent check signaled it first.
		return nil, nil
	}

	alert := quota.NewAlert(status, threshold, day)

	if contact == nil {
		u, err := m.users.Get(ctx, identity)
		if err != nil {
			if rerr := m.ledger.Release(ctx, identity, day, threshold); rerr != nil {
				m.logger.Error().Err(rerr).Str("user_id", identity).Msg("failed to release alert claim")
			}
			m.logger.Warn().Err(err).
				Str("user_id", identity).
				Int("threshold", threshold).
				Msg("no contact for quota alert")
			return &alert, nil
		}
		contact = &u
	}

	n := ports.Notification{
		Identity:     identity,
		Email:        contact.Email,
		Name:         contact.Name,
		Plan:         status.Plan,
		UsagePercent: status.QuotaPercentage,
		Remaining:    status.QuotaRemaining,
		Threshold:    threshold,
		Day:          day,
		Message:      alert.Message,
	}
	delivered := true
	if err := m.notifier.Notify(ctx, n); err != nil {
		delivered = false
		m.logger.Error().Err(err).
			Str("user_id", identity).
			Int("threshold", threshold).
			Msg("quota alert delivery failed")
	}
	m.metrics.Alert(threshold, delivered)

	return &alert, nil
}
