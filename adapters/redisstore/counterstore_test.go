package redisstore

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/quotaguard/domain/plan"
	"github.com/artpar/quotaguard/domain/ratelimit"
)

var starter = plan.DefaultCatalog().Limits(plan.Starter)

// now returns the current time at millisecond precision. Redis expires keys
// against its own clock, so these tests cannot use a fixed date.
func now() time.Time {
	return time.UnixMilli(time.Now().UnixMilli()).UTC()
}

func setupRedisTest(t *testing.T) *CounterStore {
	t.Helper()

	addr := os.Getenv("QUOTAGUARD_TEST_REDIS")
	if addr == "" {
		t.Skip("QUOTAGUARD_TEST_REDIS not set")
	}

	prefix := "test:quotaguard:" + t.Name() + ":"
	store, err := New(Config{URL: addr, DB: 15, Prefix: prefix})
	if err != nil {
		t.Skip("Redis not available:", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		iter := store.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			store.client.Del(ctx, iter.Val())
		}
		store.Close()
	})
	return store
}

func TestNew_BadURL(t *testing.T) {
	if _, err := New(Config{URL: "redis://:bad:url:/x"}); err == nil {
		t.Error("expected error for malformed url")
	}
}

func TestCounterStore_AdmitUntilLimit(t *testing.T) {
	store := setupRedisTest(t)
	ctx := context.Background()
	baseTime := now()
	slots := ratelimit.Slots("u1", "/e", starter, baseTime)

	for i := int64(1); i <= starter.RequestsPerMinute; i++ {
		d, err := store.Admit(ctx, slots, baseTime)
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
		if d.QuotaUsed != i {
			t.Errorf("QuotaUsed = %d, want %d", d.QuotaUsed, i)
		}
	}

	d, err := store.Admit(ctx, slots, baseTime)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if d.Allowed || d.Limit != ratelimit.KindMinute {
		t.Errorf("decision = %+v, want minute denial", d)
	}
	if !d.ResetAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, baseTime.Add(time.Minute))
	}

	c, ok, err := store.Peek(ctx, slots[3].Key, baseTime)
	if err != nil || !ok {
		t.Fatalf("Peek quota = %v, %v", ok, err)
	}
	if c.Count != starter.RequestsPerMinute {
		t.Errorf("quota count = %d after denial, want %d", c.Count, starter.RequestsPerMinute)
	}
}

func TestCounterStore_ConcurrentAdmit(t *testing.T) {
	store := setupRedisTest(t)
	ctx := context.Background()
	baseTime := now()
	slots := ratelimit.Slots("u2", "/e", starter, baseTime)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := store.Admit(ctx, slots, baseTime); err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != starter.RequestsPerMinute {
		t.Errorf("admitted %d, want %d", got, starter.RequestsPerMinute)
	}
}

func TestCounterStore_PeekMissing(t *testing.T) {
	store := setupRedisTest(t)
	if _, ok, err := store.Peek(context.Background(), "nothing", now()); ok || err != nil {
		t.Errorf("Peek(missing) = %v, %v; want false, nil", ok, err)
	}
}
