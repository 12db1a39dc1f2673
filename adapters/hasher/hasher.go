// Package hasher provides one-way digests for API key secrets.
package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/artpar/quotaguard/ports"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm names accepted by New.
const (
	AlgBcrypt = "bcrypt"
	AlgSHA256 = "sha256"
)

// New returns the hasher for an algorithm name. Empty means bcrypt.
func New(algorithm string, cost int) (ports.Hasher, error) {
	switch algorithm {
	case "", AlgBcrypt:
		return NewBcrypt(cost), nil
	case AlgSHA256:
		return SHA256{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}

// Bcrypt hashes secrets with bcrypt. Secrets must fit bcrypt's 72-byte input.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. Out-of-range costs use bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Cost returns the work factor in use.
func (h *Bcrypt) Cost() int {
	return h.cost
}

// Hash generates a bcrypt hash from a secret.
func (h *Bcrypt) Hash(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), h.cost)
}

// Compare checks if secret matches hash.
func (h *Bcrypt) Compare(hash []byte, secret string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

var _ ports.Hasher = (*Bcrypt)(nil)

// SHA256 stores the unsalted hex SHA-256 digest of a secret.
type SHA256 struct{}

// Hash returns the lowercase hex digest of secret.
func (SHA256) Hash(secret string) ([]byte, error) {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:])), nil
}

// Compare checks the digest in constant time.
func (s SHA256) Compare(hash []byte, secret string) bool {
	want, _ := s.Hash(secret)
	return subtle.ConstantTimeCompare(hash, want) == 1
}

var _ ports.Hasher = SHA256{}

// Fake stores secrets verbatim (NOT FOR PRODUCTION).
type Fake struct{}

// Hash returns the secret as bytes.
func (Fake) Hash(secret string) ([]byte, error) {
	return []byte(secret), nil
}

// Compare does simple equality check.
func (Fake) Compare(hash []byte, secret string) bool {
	return string(hash) == secret
}

var _ ports.Hasher = Fake{}
