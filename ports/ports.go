// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/quotaguard/domain/key"
	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/artpar/quotaguard/domain/usage"
)

// Store sentinel errors.
var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInactive is returned by KeyStore.Rotate when the key was already
	// rotated away or revoked.
	ErrInactive = errors.New("key inactive")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides one-way hashing of secrets.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Counter Store
// -----------------------------------------------------------------------------

// CounterStore holds fixed-window and daily quota counters.
//
// Admit is the only mutating request-path operation: it reads the counters
// behind slots (initialising missing ones), decides with ratelimit.Decide,
// and on admission increments every counter, all without letting a
// concurrent Admit on the same keys interleave.
type CounterStore interface {
	// Admit checks and, if allowed, increments the counters behind slots.
	Admit(ctx context.Context, slots []ratelimit.Slot, now time.Time) (ratelimit.Decision, error)

	// Peek returns a counter without changing it. ok is false if absent or expired.
	Peek(ctx context.Context, key string, now time.Time) (c ratelimit.Counter, ok bool, err error)

	// Sweep removes window counters whose reset instant has passed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// EvictQuota removes quota counters whose day ended before cutoff.
	EvictQuota(ctx context.Context, cutoff time.Time) (int, error)
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// KeyStore persists API key records.
type KeyStore interface {
	// Get retrieves keys matching a prefix (for validation).
	Get(ctx context.Context, prefix string) ([]key.Key, error)

	// GetByID retrieves a key by ID.
	GetByID(ctx context.Context, id string) (key.Key, error)

	// Create stores a new key.
	Create(ctx context.Context, k key.Key) error

	// Deactivate marks a key inactive. Deactivating an inactive key is not an error.
	Deactivate(ctx context.Context, id string, at time.Time) error

	// Rotate deactivates oldID and stores replacement in one transaction.
	// It returns ErrInactive, storing nothing, if oldID is no longer active.
	Rotate(ctx context.Context, oldID string, replacement key.Key, at time.Time) error

	// ListByUser returns all keys for a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]key.Key, error)

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}

// UsageStore persists the append-only usage ledger.
type UsageStore interface {
	// Append stores one usage record.
	Append(ctx context.Context, r usage.Record) error

	// SumSince returns the total cost recorded for a key at or after since.
	SumSince(ctx context.Context, keyID string, since time.Time) (int64, error)

	// EndpointStats returns per-endpoint usage since a time, ordered by count desc.
	EndpointStats(ctx context.Context, keyID string, since time.Time) ([]usage.EndpointStats, error)
}

// User is an account: the identity limits are tracked against and the
// contact alerts are sent to.
type User struct {
	ID        string
	Email     string
	Name      string
	Plan      string
	CreatedAt time.Time
}

// UserStore persists user accounts.
type UserStore interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, id string) (User, error)

	// Create stores a new user.
	Create(ctx context.Context, u User) error

	// List returns all users ordered by creation.
	List(ctx context.Context) ([]User, error)
}

// AlertLedger records which quota thresholds were signaled per identity and day.
type AlertLedger interface {
	// Sent returns the thresholds already signaled.
	Sent(ctx context.Context, identity, day string) ([]int, error)

	// Claim records a threshold. It returns false if it was already recorded.
	Claim(ctx context.Context, identity, day string, threshold int) (bool, error)

	// Release forgets a claimed threshold so it can be signaled again.
	Release(ctx context.Context, identity, day string, threshold int) error

	// Evict drops every day lexically before the given day ("2006-01-02").
	Evict(ctx context.Context, before string) (int, error)
}

// -----------------------------------------------------------------------------
// Notification Ports
// -----------------------------------------------------------------------------

// Notification is a quota threshold crossing addressed to a user.
type Notification struct {
	Identity     string
	Email        string
	Name         string
	Plan         string
	UsagePercent float64
	Remaining    int64
	Threshold    int
	Day          string
	Message      string
}

// Notifier delivers quota alerts. Delivery is not retried.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics receives engine events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Admission(plan string, allowed bool, limit string)
	AuthFailure(reason string)
	KeyOperation(op string)
	Alert(threshold int, delivered bool)
	Sweep(kind string, removed int)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) Admission(string, bool, string) {}
func (NopMetrics) AuthFailure(string)              {}
func (NopMetrics) KeyOperation(string)             {}
func (NopMetrics) Alert(int, bool)                 {}
func (NopMetrics) Sweep(string, int)               {}
