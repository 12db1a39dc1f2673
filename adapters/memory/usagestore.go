package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/quotaguard/domain/usage"
	"github.com/artpar/quotaguard/ports"
)

// UsageStore is an in-memory usage ledger.
type UsageStore struct {
	mu      sync.RWMutex
	records map[string][]usage.Record // by key ID
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		records: make(map[string][]usage.Record),
	}
}

// Append stores one usage record.
func (s *UsageStore) Append(ctx context.Context, r usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.KeyID] = append(s.records[r.KeyID], r)
	return nil
}

// SumSince returns the total cost for a key at or after since.
func (s *UsageStore) SumSince(ctx context.Context, keyID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return usage.Sum(s.records[keyID], since), nil
}

// EndpointStats returns per-endpoint usage since a time.
func (s *UsageStore) EndpointStats(ctx context.Context, keyID string, since time.Time) ([]usage.EndpointStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var window []usage.Record
	for _, r := range s.records[keyID] {
		if !r.Timestamp.Before(since) {
			window = append(window, r)
		}
	}
	return usage.Aggregate(window), nil
}

// Records returns a copy of the ledger for a key (for testing).
func (s *UsageStore) Records(keyID string) []usage.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]usage.Record, len(s.records[keyID]))
	copy(out, s.records[keyID])
	return out
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
