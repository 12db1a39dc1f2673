package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/key"
	"github.com/artpar/quotaguard/ports"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Key operation names reported to metrics.
const (
	OpGenerate = "generate"
	OpRotate   = "rotate"
	OpRevoke   = "revoke"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
	return v
}

// GenerateParams describes a key to issue.
type GenerateParams struct {
	UserID             string     `json:"user_id" validate:"required"`
	Name               string     `json:"name" validate:"required,max=100"`
	Scopes             []string   `json:"scopes" validate:"dive,required"`
	RateLimitPerMinute *int64     `json:"rate_limit_per_minute" validate:"omitempty,min=1"`
	RateLimitPerHour   *int64     `json:"rate_limit_per_hour" validate:"omitempty,min=1"`
	RateLimitPerDay    *int64     `json:"rate_limit_per_day" validate:"omitempty,min=1"`
	ExpiresAt          *time.Time `json:"expires_at"`
}

// Material is a freshly issued key together with its plaintext secret.
// The secret cannot be recovered later.
type Material struct {
	Key    key.Key
	Secret string
}

// KeyService manages the API key lifecycle and request-time key checks.
type KeyService struct {
	keys    ports.KeyStore
	hasher  ports.Hasher
	random  ports.Random
	idGen   ports.IDGenerator
	clock   ports.Clock
	limiter *KeyLimiter
	metrics ports.Metrics
	logger  zerolog.Logger
	marker  string
}

// KeyServiceDeps contains dependencies for KeyService.
type KeyServiceDeps struct {
	Keys    ports.KeyStore
	Hasher  ports.Hasher
	Random  ports.Random
	IDGen   ports.IDGenerator
	Clock   ports.Clock
	Limiter *KeyLimiter
	Metrics ports.Metrics
	Logger  zerolog.Logger
}

// NewKeyService creates a key service. An empty marker uses key.DefaultMarker.
func NewKeyService(deps KeyServiceDeps, marker string) *KeyService {
	if marker == "" {
		marker = key.DefaultMarker
	}
	s := &KeyService{
		keys:    deps.Keys,
		hasher:  deps.Hasher,
		random:  deps.Random,
		idGen:   deps.IDGen,
		clock:   deps.Clock,
		limiter: deps.Limiter,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		marker:  marker,
	}
	if s.metrics == nil {
		s.metrics = ports.NopMetrics{}
	}
	return s
}

// Generate issues a new key and returns its secret exactly once.
func (s *KeyService) Generate(ctx context.Context, p GenerateParams) (Material, error) {
	if err := checkParams(p, s.clock.Now()); err != nil {
		return Material{}, err
	}

	secret, hash, err := s.newSecret()
	if err != nil {
		return Material{}, err
	}

	now := s.clock.Now()
	k := key.Key{
		ID:                 s.idGen.New(),
		UserID:             p.UserID,
		Name:               p.Name,
		Hash:               hash,
		Prefix:             key.PrefixOf(secret),
		Scopes:             append([]string(nil), p.Scopes...),
		RateLimitPerMinute: p.RateLimitPerMinute,
		RateLimitPerHour:   p.RateLimitPerHour,
		RateLimitPerDay:    p.RateLimitPerDay,
		ExpiresAt:          p.ExpiresAt,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.keys.Create(ctx, k); err != nil {
		return Material{}, fault.Unavailable("create key", err)
	}

	s.metrics.KeyOperation(OpGenerate)
	s.logger.Info().
		Str("key_id", k.ID).
		Str("user_id", k.UserID).
		Str("prefix", k.Prefix).
		Msg("api key generated")

	return Material{Key: k, Secret: secret}, nil
}

// Validate resolves a presented secret to its key record.
func (s *KeyService) Validate(ctx context.Context, secret string) (key.Key, error) {
	prefix, ok := key.ValidateFormat(secret, s.marker)
	if !ok {
		return key.Key{}, s.authFailure(key.ReasonBadFormat, "invalid API key format")
	}

	candidates, err := s.keys.Get(ctx, prefix)
	if err != nil {
		return key.Key{}, fault.Unavailable("get key", err)
	}

	var (
		matched key.Key
		found   bool
	)
	for _, k := range candidates {
		if s.hasher.Compare(k.Hash, secret) {
			matched, found = k, true
			break
		}
	}
	if !found {
		return key.Key{}, s.authFailure(key.ReasonNotFound, "API key not found")
	}

	result := key.Validate(matched, s.clock.Now())
	if !result.Valid {
		msg := "API key has been revoked"
		if result.Reason == key.ReasonExpired {
			msg = "API key has expired"
		}
		return key.Key{}, s.authFailure(result.Reason, msg)
	}
	return result.Key, nil
}

// Authorize returns PermissionDenied unless k holds scope or the wildcard.
func (s *KeyService) Authorize(k key.Key, scope string) error {
	if !key.HasScope(k, scope) {
		return fault.Permission(scope)
	}
	return nil
}

// Authenticate validates secret, checks scope, and applies the key's own
// rate limits. An empty scope skips the scope check.
func (s *KeyService) Authenticate(ctx context.Context, secret, scope string) (key.Key, error) {
	k, err := s.Validate(ctx, secret)
	if err != nil {
		return key.Key{}, err
	}
	if scope != "" {
		if err := s.Authorize(k, scope); err != nil {
			return key.Key{}, err
		}
	}
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, k); err != nil {
			return key.Key{}, err
		}
	}
	return k, nil
}

// Rotate deactivates keyID and issues a replacement carrying forward its
// name, scopes, limits and expiry. The old secret stops validating at once.
// A non-empty userID must own the key.
func (s *KeyService) Rotate(ctx context.Context, keyID, userID string) (Material, error) {
	old, err := s.owned(ctx, keyID, userID)
	if err != nil {
		return Material{}, err
	}
	if !old.Active {
		return Material{}, fault.Invalid("key_id", "refers to an inactive key")
	}

	secret, hash, err := s.newSecret()
	if err != nil {
		return Material{}, err
	}

	now := s.clock.Now()
	next := key.Replacement(old, s.idGen.New(), key.PrefixOf(secret), hash, now)
	if err := s.keys.Rotate(ctx, old.ID, next, now); err != nil {
		switch {
		case errors.Is(err, ports.ErrInactive):
			return Material{}, fault.Invalid("key_id", "refers to an inactive key")
		case errors.Is(err, ports.ErrNotFound):
			return Material{}, fault.NotFound("key", keyID)
		}
		return Material{}, fault.Unavailable("rotate key", err)
	}

	s.metrics.KeyOperation(OpRotate)
	s.logger.Info().
		Str("old_key_id", old.ID).
		Str("key_id", next.ID).
		Str("user_id", next.UserID).
		Msg("api key rotated")

	return Material{Key: next, Secret: secret}, nil
}

// Revoke deactivates keyID. Revoking an inactive key succeeds.
// A non-empty userID must own the key.
func (s *KeyService) Revoke(ctx context.Context, keyID, userID string) error {
	k, err := s.owned(ctx, keyID, userID)
	if err != nil {
		return err
	}
	if !k.Active {
		return nil
	}
	if err := s.keys.Deactivate(ctx, k.ID, s.clock.Now()); err != nil {
		return fault.Unavailable("revoke key", err)
	}

	s.metrics.KeyOperation(OpRevoke)
	s.logger.Info().
		Str("key_id", k.ID).
		Str("user_id", k.UserID).
		Msg("api key revoked")
	return nil
}

// List returns a user's keys, newest first.
func (s *KeyService) List(ctx context.Context, userID string) ([]key.Key, error) {
	keys, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, fault.Unavailable("list keys", err)
	}
	return keys, nil
}

func (s *KeyService) owned(ctx context.Context, keyID, userID string) (key.Key, error) {
	k, err := s.keys.GetByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return key.Key{}, fault.NotFound("key", keyID)
		}
		return key.Key{}, fault.Unavailable("get key", err)
	}
	if userID != "" && k.UserID != userID {
		return key.Key{}, fault.NotFound("key", keyID)
	}
	return k, nil
}

func (s *KeyService) newSecret() (secret string, hash []byte, err error) {
	raw, err := s.random.Bytes(key.SecretBytes)
	if err != nil {
		return "", nil, fault.Unavailable("generate secret", err)
	}
	secret = key.Secret(s.marker, raw)
	hash, err = s.hasher.Hash(secret)
	if err != nil {
		return "", nil, fault.Unavailable("hash secret", err)
	}
	return secret, hash, nil
}

func (s *KeyService) authFailure(reason, msg string) error {
	s.metrics.AuthFailure(reason)
	return fault.Authentication(reason, msg)
}

func checkParams(p GenerateParams, now time.Time) error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fault.Invalid(fe.Field(), describe(fe.Tag(), fe.Param()))
		}
		return fault.Invalid("params", err.Error())
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return fault.Invalid("expires_at", "must be in the future")
	}
	return nil
}

func describe(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	default:
		return "failed " + tag
	}
}
