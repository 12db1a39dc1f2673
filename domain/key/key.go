// Package key provides API key value types and pure validation functions.
// This package has NO dependencies on I/O or external packages.
package key

import (
	"encoding/hex"
	"time"
)

// SecretBytes is the entropy of a generated secret (256 bits).
const SecretBytes = 32

// PrefixLen is the number of leading secret characters stored in clear for lookup.
const PrefixLen = 12

// DefaultMarker is the format marker every secret starts with.
const DefaultMarker = "vk_"

// WildcardScope grants every scope.
const WildcardScope = "*"

// Key represents an API key record. The secret itself is never stored.
type Key struct {
	ID     string
	UserID string
	Name   string
	Hash   []byte // one-way digest of the full secret
	Prefix string // first PrefixLen chars, for lookup and display
	Scopes []string

	// Optional per-key overrides for the ledger-backed limiter.
	RateLimitPerMinute *int64
	RateLimitPerHour   *int64
	RateLimitPerDay    *int64

	ExpiresAt  *time.Time // nil = never expires
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt *time.Time
}

// Overrides is the optional limit set carried by a key.
type Overrides struct {
	PerMinute *int64
	PerHour   *int64
	PerDay    *int64
}

// Overrides returns the key's limit overrides.
func (k Key) Overrides() Overrides {
	return Overrides{
		PerMinute: k.RateLimitPerMinute,
		PerHour:   k.RateLimitPerHour,
		PerDay:    k.RateLimitPerDay,
	}
}

// ValidationResult represents the outcome of key validation (value type).
type ValidationResult struct {
	Valid  bool
	Key    Key    // Populated only if Valid=true
	Reason string // Populated only if Valid=false
}

// Reasons for validation failure.
const (
	ReasonValid     = ""
	ReasonBadFormat = "invalid_format"
	ReasonNotFound  = "key_not_found"
	ReasonRevoked   = "key_revoked"
	ReasonExpired   = "key_expired"
)

// Secret builds the plaintext secret from a marker and random bytes.
// The result is marker + hex(randomBytes).
func Secret(marker string, randomBytes []byte) string {
	return marker + hex.EncodeToString(randomBytes)
}

// PrefixOf returns the lookup prefix of a secret.
func PrefixOf(secret string) string {
	if len(secret) <= PrefixLen {
		return secret
	}
	return secret[:PrefixLen]
}

// Replacement returns the record that supersedes k on rotation: same owner,
// name, scopes, overrides and expiry, with new identity and digest.
func Replacement(k Key, id, prefix string, hash []byte, now time.Time) Key {
	scopes := make([]string, len(k.Scopes))
	copy(scopes, k.Scopes)
	return Key{
		ID:                 id,
		UserID:             k.UserID,
		Name:               k.Name,
		Hash:               hash,
		Prefix:             prefix,
		Scopes:             scopes,
		RateLimitPerMinute: k.RateLimitPerMinute,
		RateLimitPerHour:   k.RateLimitPerHour,
		RateLimitPerDay:    k.RateLimitPerDay,
		ExpiresAt:          k.ExpiresAt,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// State returns a display label for the key's lifecycle state at now.
func (k Key) State(now time.Time) string {
	switch {
	case !k.Active:
		return "inactive"
	case k.ExpiresAt != nil && now.After(*k.ExpiresAt):
		return "expired"
	default:
		return "active"
	}
}
