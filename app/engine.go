package app

import (
	"context"
	"errors"

	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/key"
	"github.com/artpar/quotaguard/domain/plan"
	"github.com/artpar/quotaguard/domain/quota"
	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/artpar/quotaguard/domain/usage"
	"github.com/artpar/quotaguard/ports"
	"github.com/rs/zerolog"
)

// Engine is the operation surface exposed to callers: admission, quota
// status, alerting, and the key lifecycle.
type Engine struct {
	Limiter *RateLimiter
	Alerts  *AlertMonitor
	Keys    *KeyService
	Usage   *UsageService
	Users   ports.UserStore
}

// EngineDeps contains the stores and infrastructure the engine runs on.
type EngineDeps struct {
	Counters ports.CounterStore
	Keys     ports.KeyStore
	Usage    ports.UsageStore
	Users    ports.UserStore
	Ledger   ports.AlertLedger
	Notifier ports.Notifier
	Hasher   ports.Hasher
	Random   ports.Random
	Clock    ports.Clock
	KeyIDs   ports.IDGenerator
	UsageIDs ports.IDGenerator
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

// EngineConfig contains engine settings.
type EngineConfig struct {
	Catalog      *plan.Catalog
	KeyMarker    string
	CheckOnAdmit bool
}

// NewEngine wires the services over deps.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	limiter := NewRateLimiter(RateLimiterDeps{
		Counters: deps.Counters,
		Clock:    deps.Clock,
		Catalog:  cfg.Catalog,
		Metrics:  deps.Metrics,
		Logger:   deps.Logger.With().Str("component", "ratelimit").Logger(),
	})
	alerts := NewAlertMonitor(AlertMonitorDeps{
		Limiter:  limiter,
		Users:    deps.Users,
		Ledger:   deps.Ledger,
		Notifier: deps.Notifier,
		Clock:    deps.Clock,
		Metrics:  deps.Metrics,
		Logger:   deps.Logger.With().Str("component", "alerts").Logger(),
	})
	if cfg.CheckOnAdmit {
		limiter.CheckOnAdmit(alerts)
	}
	keys := NewKeyService(KeyServiceDeps{
		Keys:    deps.Keys,
		Hasher:  deps.Hasher,
		Random:  deps.Random,
		IDGen:   deps.KeyIDs,
		Clock:   deps.Clock,
		Limiter: NewKeyLimiter(deps.Usage, deps.Clock),
		Metrics: deps.Metrics,
		Logger:  deps.Logger.With().Str("component", "keys").Logger(),
	}, cfg.KeyMarker)
	usageSvc := NewUsageService(UsageServiceDeps{
		Usage:  deps.Usage,
		Keys:   deps.Keys,
		IDGen:  deps.UsageIDs,
		Clock:  deps.Clock,
		Logger: deps.Logger.With().Str("component", "usage").Logger(),
	})

	return &Engine{
		Limiter: limiter,
		Alerts:  alerts,
		Keys:    keys,
		Usage:   usageSvc,
		Users:   deps.Users,
	}
}

// Evaluate admits or rejects a request. A rejection is reported in the
// decision, not as an error.
func (e *Engine) Evaluate(ctx context.Context, id ratelimit.Identity, endpoint string) (ratelimit.Decision, error) {
	return e.Limiter.Admit(ctx, id, endpoint)
}

// Status returns the daily quota position of a registered user.
func (e *Engine) Status(ctx context.Context, identity string) (quota.Status, error) {
	u, err := e.user(ctx, identity)
	if err != nil {
		return quota.Status{}, err
	}
	return e.Limiter.Status(ctx, identity, u.Plan)
}

// CheckAlert returns the pending alert for identity, or nil.
func (e *Engine) CheckAlert(ctx context.Context, identity string) (*quota.Alert, error) {
	return e.Alerts.CheckAlert(ctx, identity)
}

// GenerateKey issues a key.
func (e *Engine) GenerateKey(ctx context.Context, p GenerateParams) (Material, error) {
	return e.Keys.Generate(ctx, p)
}

// RotateKey replaces keyID with a fresh key.
func (e *Engine) RotateKey(ctx context.Context, keyID string) (Material, error) {
	return e.Keys.Rotate(ctx, keyID, "")
}

// RevokeKey deactivates keyID.
func (e *Engine) RevokeKey(ctx context.Context, keyID string) error {
	return e.Keys.Revoke(ctx, keyID, "")
}

// ValidateKey resolves a presented secret.
func (e *Engine) ValidateKey(ctx context.Context, secret string) (key.Key, error) {
	return e.Keys.Validate(ctx, secret)
}

// RecordUsage appends a usage record for keyID.
func (e *Engine) RecordUsage(ctx context.Context, keyID, endpoint string) error {
	return e.Usage.RecordUsage(ctx, keyID, endpoint)
}

// KeyUsage reports usage of keyID over the last days days.
func (e *Engine) KeyUsage(ctx context.Context, keyID string, days int) (usage.Report, error) {
	return e.Usage.KeyUsage(ctx, keyID, days)
}

func (e *Engine) user(ctx context.Context, id string) (ports.User, error) {
	u, err := e.Users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return ports.User{}, fault.NotFound("user", id)
		}
		return ports.User{}, fault.Unavailable("get user", err)
	}
	return u, nil
}
