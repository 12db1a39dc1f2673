// Package http exposes the engine over HTTP: health and metrics endpoints,
// key authentication and rate-limit middleware, and a small read API.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/quotaguard/app"
	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/artpar/quotaguard/domain/usage"
	"github.com/artpar/quotaguard/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Scopes required by the read API.
const (
	ScopeQuotaRead = "quota:read"
	ScopeUsageRead = "usage:read"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RouterConfig holds the router's collaborators. Engine is required.
type RouterConfig struct {
	Engine         *app.Engine
	Users          ports.UserStore
	Health         []HealthChecker
	Metrics        RequestObserver
	MetricsHandler http.Handler
	MetricsPath    string
	KeyHeader      string
	Version        string
	Logger         zerolog.Logger
}

// NewRouter creates the HTTP router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	health := &healthHandler{checks: cfg.Health, logger: cfg.Logger}
	r.Get("/health", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "quotaguard", "version": cfg.Version})
	})

	api := &apiHandler{engine: cfg.Engine}
	identify := UserIdentity(cfg.Users)
	r.Route("/v1", func(r chi.Router) {
		r.With(
			RequireKey(cfg.Engine.Keys, cfg.KeyHeader, ScopeQuotaRead),
			RateLimit(cfg.Engine.Limiter, identify),
			RecordUsage(cfg.Engine.Usage, cfg.Logger),
		).Get("/quota", api.Quota)
		r.With(
			RequireKey(cfg.Engine.Keys, cfg.KeyHeader, ScopeUsageRead),
			RateLimit(cfg.Engine.Limiter, identify),
			RecordUsage(cfg.Engine.Usage, cfg.Logger),
		).Get("/usage", api.Usage)
	})

	return r
}

// UserIdentity limits requests by the owner of the authenticated key, on
// the owner's plan. Owners missing from users are limited on the default
// plan; any other lookup failure rejects the request as unavailable.
func UserIdentity(users ports.UserStore) IdentityFunc {
	return func(r *http.Request) (ratelimit.Identity, bool, error) {
		k, ok := KeyFromContext(r.Context())
		if !ok {
			return ratelimit.Identity{}, false, nil
		}
		id := ratelimit.Identity{ID: k.UserID}
		if users == nil {
			return id, true, nil
		}
		u, err := users.Get(r.Context(), k.UserID)
		switch {
		case err == nil:
			id.Plan = u.Plan
		case !errors.Is(err, ports.ErrNotFound):
			return ratelimit.Identity{}, false, fault.Unavailable("get user", err)
		}
		return id, true, nil
	}
}

type healthHandler struct {
	checks []HealthChecker
	logger zerolog.Logger
}

// Liveness returns OK while the process runs.
func (h *healthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness pings every backing store.
func (h *healthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			h.logger.Error().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type apiHandler struct {
	engine *app.Engine
}

type quotaResponse struct {
	UserID          string  `json:"user_id"`
	Plan            string  `json:"plan"`
	QuotaPerDay     int64   `json:"quota_per_day"`
	QuotaUsed       int64   `json:"quota_used"`
	QuotaRemaining  int64   `json:"quota_remaining"`
	QuotaPercentage float64 `json:"quota_percentage"`
}

// Quota returns the daily quota status of the key's owner.
func (h *apiHandler) Quota(w http.ResponseWriter, r *http.Request) {
	k, _ := KeyFromContext(r.Context())
	st, err := h.engine.Status(r.Context(), k.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{
		UserID:          st.Identity,
		Plan:            st.Plan,
		QuotaPerDay:     st.Limits.QuotaPerDay,
		QuotaUsed:       st.QuotaUsed,
		QuotaRemaining:  st.QuotaRemaining,
		QuotaPercentage: st.QuotaPercentage,
	})
}

type endpointUsage struct {
	Endpoint string    `json:"endpoint"`
	Count    int64     `json:"count"`
	LastUsed time.Time `json:"last_used"`
}

type usageResponse struct {
	KeyID     string          `json:"key_id"`
	Since     time.Time       `json:"since"`
	Total     int64           `json:"total"`
	Endpoints []endpointUsage `json:"endpoints"`
}

// Usage returns the key's per-endpoint usage over ?days= (default 30,
// at most usage.MaxReportDays).
func (h *apiHandler) Usage(w http.ResponseWriter, r *http.Request) {
	k, _ := KeyFromContext(r.Context())
	var days int
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, fault.Invalid("days", "must be a non-negative integer"))
			return
		}
		days = min(n, usage.MaxReportDays)
	}

	rep, err := h.engine.KeyUsage(r.Context(), k.ID, days)
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := usageResponse{KeyID: rep.KeyID, Since: rep.Since, Total: rep.Total, Endpoints: []endpointUsage{}}
	for _, e := range rep.Endpoints {
		resp.Endpoints = append(resp.Endpoints, endpointUsage{Endpoint: e.Endpoint, Count: e.Count, LastUsed: e.LastUsed})
	}
	writeJSON(w, http.StatusOK, resp)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
