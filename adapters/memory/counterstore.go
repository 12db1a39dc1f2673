// Package memory provides in-process implementations of the store ports.
package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/artpar/quotaguard/ports"
)

// counterEntry is a stored counter with the kind it was created for.
type counterEntry struct {
	counter ratelimit.Counter
	kind    ratelimit.Kind
}

// counterShard is a single shard of the counter store.
type counterShard struct {
	mu      sync.Mutex
	entries map[string]counterEntry
}

// CounterStore is a sharded in-memory counter store.
// Each counter key maps to one shard; Admit locks every shard its slots
// touch in ascending shard order, so concurrent admissions on overlapping
// keys serialize without deadlocking.
type CounterStore struct {
	shards []*counterShard
}

// CounterConfig configures the counter store.
type CounterConfig struct {
	NumShards int // Number of shards (default: 32)
}

// NewCounterStore creates a new sharded in-memory counter store.
func NewCounterStore(cfg CounterConfig) *CounterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}

	s := &CounterStore{shards: make([]*counterShard, cfg.NumShards)}
	for i := range s.shards {
		s.shards[i] = &counterShard{entries: make(map[string]counterEntry)}
	}
	return s
}

func (s *CounterStore) shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.shards)))
}

// lock acquires the shards behind keys in ascending order and returns the
// matching unlock func.
func (s *CounterStore) lock(keys []string) func() {
	seen := make(map[int]bool, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := s.shardIndex(k)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	for _, i := range idx {
		s.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.shards[idx[j]].mu.Unlock()
		}
	}
}

// Admit checks and, if allowed, increments the counters behind slots.
func (s *CounterStore) Admit(ctx context.Context, slots []ratelimit.Slot, now time.Time) (ratelimit.Decision, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Decision{}, err
	}

	keys := make([]string, len(slots))
	for i, sl := range slots {
		keys[i] = sl.Key
	}
	unlock := s.lock(keys)
	defer unlock()

	counters := make([]ratelimit.Counter, len(slots))
	for i, sl := range slots {
		e, ok := s.shards[s.shardIndex(sl.Key)].entries[sl.Key]
		if !ok || e.counter.Expired(now) {
			counters[i] = sl.Fresh(now)
			continue
		}
		counters[i] = e.counter
	}

	d := ratelimit.Decide(slots, counters)
	if !d.Allowed {
		return d, nil
	}

	for i, c := range ratelimit.Apply(counters) {
		sl := slots[i]
		s.shards[s.shardIndex(sl.Key)].entries[sl.Key] = counterEntry{counter: c, kind: sl.Kind}
	}
	return d, nil
}

// Peek returns a counter without changing it.
func (s *CounterStore) Peek(ctx context.Context, key string, now time.Time) (ratelimit.Counter, bool, error) {
	shard := s.shards[s.shardIndex(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.entries[key]
	if !ok || e.counter.Expired(now) {
		return ratelimit.Counter{}, false, nil
	}
	return e.counter, true, nil
}

// Sweep removes window counters whose reset instant has passed. It holds one
// shard lock at a time.
func (s *CounterStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.removeWhere(ctx, func(e counterEntry) bool {
		return e.kind != ratelimit.KindQuota && e.counter.Expired(now)
	})
}

// EvictQuota removes quota counters whose day ended before cutoff.
func (s *CounterStore) EvictQuota(ctx context.Context, cutoff time.Time) (int, error) {
	return s.removeWhere(ctx, func(e counterEntry) bool {
		return e.kind == ratelimit.KindQuota && e.counter.ResetAt.Before(cutoff)
	})
}

func (s *CounterStore) removeWhere(ctx context.Context, match func(counterEntry) bool) (int, error) {
	removed := 0
	for _, shard := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		shard.mu.Lock()
		for k, e := range shard.entries {
			if match(e) {
				delete(shard.entries, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// Len returns the total number of counters across all shards.
func (s *CounterStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// Clear removes all counters (for testing).
func (s *CounterStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]counterEntry)
		shard.mu.Unlock()
	}
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
