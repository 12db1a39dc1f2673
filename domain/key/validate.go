package key

import (
	"strings"
	"time"
)

// Validate checks if a key may be used at the given time.
// This is a PURE function - no side effects, deterministic.
func Validate(k Key, now time.Time) ValidationResult {
	if !k.Active {
		return ValidationResult{Reason: ReasonRevoked}
	}

	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return ValidationResult{Reason: ReasonExpired}
	}

	return ValidationResult{Valid: true, Key: k}
}

// ValidateFormat checks if a presented secret has valid format.
// Returns (prefix, valid). Prefix is used for store lookup.
func ValidateFormat(secret, marker string) (prefix string, valid bool) {
	if marker == "" || !strings.HasPrefix(secret, marker) {
		return "", false
	}

	body := secret[len(marker):]
	if len(body) != SecretBytes*2 || !isHex(body) {
		return "", false
	}

	return PrefixOf(secret), true
}

// HasScope reports whether the key holds the required scope exactly or the wildcard.
// A key without scopes holds nothing.
func HasScope(k Key, required string) bool {
	for _, s := range k.Scopes {
		if s == required || s == WildcardScope {
			return true
		}
	}
	return false
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
