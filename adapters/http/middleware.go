package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/quotaguard/domain/key"
	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type contextKey string

const keyContextKey contextKey = "quotaguard_key"

// Response headers set on admitted requests.
const (
	HeaderRemaining      = "X-RateLimit-Remaining"
	HeaderReset          = "X-RateLimit-Reset"
	HeaderQuotaRemaining = "X-Quota-Remaining"
)

// Authenticator resolves a presented secret to a key holding scope.
type Authenticator interface {
	Authenticate(ctx context.Context, secret, scope string) (key.Key, error)
}

// Limiter admits requests for an identity, returning AdmissionDenied on rejection.
type Limiter interface {
	Enforce(ctx context.Context, id ratelimit.Identity, endpoint string) (ratelimit.Decision, error)
}

// UsageRecorder appends to the usage ledger.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, keyID, endpoint string) error
}

// IdentityFunc derives the limit identity of a request. ok=false skips
// limiting; a non-nil error rejects the request.
type IdentityFunc func(r *http.Request) (id ratelimit.Identity, ok bool, err error)

// KeyFromContext returns the key attached by RequireKey.
func KeyFromContext(ctx context.Context) (key.Key, bool) {
	k, ok := ctx.Value(keyContextKey).(key.Key)
	return k, ok
}

// WithKey attaches k to ctx.
func WithKey(ctx context.Context, k key.Key) context.Context {
	return context.WithValue(ctx, keyContextKey, k)
}

// RequireKey authenticates the request's API key against scope and
// attaches the key to the request context.
func RequireKey(auth Authenticator, header, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k, err := auth.Authenticate(r.Context(), extractAPIKey(r, header), scope)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), k)))
		})
	}
}

// RateLimit enforces user-scoped windows and quota for the identity that
// identify returns, and reports remaining capacity in response headers.
func RateLimit(limiter Limiter, identify IdentityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok, err := identify(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			d, err := limiter.Enforce(r.Context(), id, r.URL.Path)
			if err != nil {
				WriteError(w, err)
				return
			}
			h := w.Header()
			h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
			h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
			h.Set(HeaderQuotaRemaining, strconv.FormatInt(d.QuotaRemaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}

// RecordUsage appends a usage record for the authenticated key once the
// handler has responded with a non-error status.
func RecordUsage(rec UsageRecorder, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			k, ok := KeyFromContext(r.Context())
			if !ok || ww.Status() >= 400 {
				return
			}
			if err := rec.RecordUsage(r.Context(), k.ID, r.URL.Path); err != nil {
				logger.Warn().Err(err).
					Str("key_id", k.ID).
					Str("path", r.URL.Path).
					Msg("failed to record usage")
			}
		})
	}
}

// NewLoggingMiddleware logs HTTP requests.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// RequestObserver records request durations.
type RequestObserver interface {
	Request(route string, status int, d time.Duration)
}

// NewMetricsMiddleware records request durations, skipping internal endpoints.
func NewMetricsMiddleware(m RequestObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			m.Request(routePattern(r), ww.Status(), time.Since(start))
		})
	}
}

// extractAPIKey reads the key from a Bearer token or the configured header.
func extractAPIKey(r *http.Request, header string) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if header == "" {
		header = "X-API-Key"
	}
	return r.Header.Get(header)
}
