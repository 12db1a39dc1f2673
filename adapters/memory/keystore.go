package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/artpar/quotaguard/domain/key"
	"github.com/artpar/quotaguard/ports"
)

// KeyStore is an in-memory implementation of ports.KeyStore.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]key.Key // by ID
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys: make(map[string]key.Key),
	}
}

// Get retrieves keys matching a prefix.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []key.Key
	for _, k := range s.keys {
		if k.Prefix == prefix {
			result = append(result, cloneKey(k))
		}
	}
	return result, nil
}

// GetByID retrieves a key by ID.
func (s *KeyStore) GetByID(ctx context.Context, id string) (key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return key.Key{}, ports.ErrNotFound
	}
	return cloneKey(k), nil
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[k.ID]; exists {
		return fmt.Errorf("key %s already exists", k.ID)
	}
	s.keys[k.ID] = cloneKey(k)
	return nil
}

// Deactivate marks a key inactive.
func (s *KeyStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return ports.ErrNotFound
	}
	if k.Active {
		k.Active = false
		k.UpdatedAt = at
		s.keys[id] = k
	}
	return nil
}

// Rotate deactivates oldID and stores replacement under one lock.
func (s *KeyStore) Rotate(ctx context.Context, oldID string, replacement key.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.keys[oldID]
	if !ok {
		return ports.ErrNotFound
	}
	if !old.Active {
		return ports.ErrInactive
	}
	if _, exists := s.keys[replacement.ID]; exists {
		return fmt.Errorf("key %s already exists", replacement.ID)
	}

	old.Active = false
	old.UpdatedAt = at
	s.keys[oldID] = old
	s.keys[replacement.ID] = cloneKey(replacement)
	return nil
}

// ListByUser returns all keys for a user, newest first.
func (s *KeyStore) ListByUser(ctx context.Context, userID string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []key.Key
	for _, k := range s.keys {
		if k.UserID == userID {
			result = append(result, cloneKey(k))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return ports.ErrNotFound
	}
	k.LastUsedAt = &at
	s.keys[id] = k
	return nil
}

// Len returns the number of stored keys (for testing).
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func cloneKey(k key.Key) key.Key {
	if k.Scopes != nil {
		scopes := make([]string, len(k.Scopes))
		copy(scopes, k.Scopes)
		k.Scopes = scopes
	}
	return k
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
