package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/quotaguard/domain/quota"
	"github.com/artpar/quotaguard/ports"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Defaults for MaintenanceConfig.
const (
	DefaultSweepInterval    = time.Minute
	DefaultRetentionDays    = 2
	DefaultEvictionSchedule = "15 0 * * *"
)

// MaintenanceConfig configures background counter upkeep.
type MaintenanceConfig struct {
	// SweepInterval is how often expired window counters are removed.
	SweepInterval time.Duration

	// RetentionDays is how many days of quota buckets and alert records survive eviction.
	RetentionDays int

	// EvictionSchedule is a standard cron expression for eviction runs.
	EvictionSchedule string
}

// Maintenance sweeps expired window counters on a fixed interval and evicts
// old quota buckets and alert records on a cron schedule.
type Maintenance struct {
	counters ports.CounterStore
	ledger   ports.AlertLedger
	clock    ports.Clock
	metrics  ports.Metrics
	logger   zerolog.Logger
	cfg      MaintenanceConfig

	mu      sync.Mutex
	cron    *cron.Cron
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// MaintenanceDeps contains dependencies for Maintenance.
type MaintenanceDeps struct {
	Counters ports.CounterStore
	Ledger   ports.AlertLedger
	Clock    ports.Clock
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

// NewMaintenance creates a maintenance scheduler. Zero config fields take defaults.
func NewMaintenance(deps MaintenanceDeps, cfg MaintenanceConfig) *Maintenance {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.EvictionSchedule == "" {
		cfg.EvictionSchedule = DefaultEvictionSchedule
	}
	m := &Maintenance{
		counters: deps.Counters,
		ledger:   deps.Ledger,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
	}
	if m.metrics == nil {
		m.metrics = ports.NopMetrics{}
	}
	return m
}

// Sweep removes window counters whose reset instant has passed.
func (m *Maintenance) Sweep(ctx context.Context) (int, error) {
	n, err := m.counters.Sweep(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep counters: %w", err)
	}
	m.metrics.Sweep("window", n)
	if n > 0 {
		m.logger.Debug().Int("removed", n).Msg("swept expired counters")
	}
	return n, nil
}

// Evict removes quota buckets that ended more than RetentionDays ago and
// alert records for days before the retention window. It returns the
// number of counters and alert days removed.
func (m *Maintenance) Evict(ctx context.Context) (counters, alerts int, err error) {
	now := m.clock.Now()
	retention := time.Duration(m.cfg.RetentionDays) * 24 * time.Hour

	counters, err = m.counters.EvictQuota(ctx, now.Add(-retention))
	if err != nil {
		return 0, 0, fmt.Errorf("evict quota counters: %w", err)
	}
	m.metrics.Sweep("quota", counters)

	if m.ledger != nil {
		alerts, err = m.ledger.Evict(ctx, quota.Day(now.Add(-retention)))
		if err != nil {
			return counters, 0, fmt.Errorf("evict alert ledger: %w", err)
		}
		m.metrics.Sweep("alert", alerts)
	}

	m.logger.Info().
		Int("quota_counters", counters).
		Int("alert_days", alerts).
		Int("retention_days", m.cfg.RetentionDays).
		Msg("evicted old quota state")
	return counters, alerts, nil
}

// Start begins the sweep loop and the eviction schedule. It returns an
// error for an invalid cron expression or if already running.
func (m *Maintenance) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("maintenance already running")
	}

	if _, err := cron.ParseStandard(m.cfg.EvictionSchedule); err != nil {
		return fmt.Errorf("invalid eviction schedule %q: %w", m.cfg.EvictionSchedule, err)
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(m.cfg.EvictionSchedule, func() {
		if _, _, err := m.Evict(ctx); err != nil {
			m.logger.Error().Err(err).Msg("scheduled eviction failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule eviction: %w", err)
	}
	c.Start()

	m.cron = c
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true

	go m.sweepLoop(ctx, m.stopCh, m.doneCh)

	m.logger.Info().
		Dur("sweep_interval", m.cfg.SweepInterval).
		Str("eviction_schedule", m.cfg.EvictionSchedule).
		Int("retention_days", m.cfg.RetentionDays).
		Msg("maintenance started")
	return nil
}

func (m *Maintenance) sweepLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error().Err(err).Msg("counter sweep failed")
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the sweep loop and waits for a running eviction to finish.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	<-m.cron.Stop().Done()
	m.running = false
	m.logger.Info().Msg("maintenance stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (m *Maintenance) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// NextEviction returns the next scheduled eviction, or zero if not running.
func (m *Maintenance) NextEviction() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron == nil || !m.running {
		return time.Time{}
	}
	entries := m.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
