package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/quotaguard/adapters/memory"
	"github.com/artpar/quotaguard/domain/usage"
	"github.com/artpar/quotaguard/ports"
)

func TestUsageStore_SumAndStats(t *testing.T) {
	store := memory.NewUsageStore()
	ctx := context.Background()

	store.Append(ctx, usage.Record{KeyID: "k1", Endpoint: "/a", Cost: 1, Timestamp: baseTime.Add(-2 * time.Hour)})
	store.Append(ctx, usage.Record{KeyID: "k1", Endpoint: "/a", Cost: 1, Timestamp: baseTime.Add(-30 * time.Second)})
	store.Append(ctx, usage.Record{KeyID: "k1", Endpoint: "/b", Cost: 1, Timestamp: baseTime})
	store.Append(ctx, usage.Record{KeyID: "k2", Endpoint: "/a", Cost: 1, Timestamp: baseTime})

	sum, err := store.SumSince(ctx, "k1", baseTime.Add(-time.Minute))
	if err != nil {
		t.Fatalf("SumSince failed: %v", err)
	}
	if sum != 2 {
		t.Errorf("SumSince(1m) = %d, want 2", sum)
	}

	stats, _ := store.EndpointStats(ctx, "k1", baseTime.Add(-24*time.Hour))
	if len(stats) != 2 || stats[0].Endpoint != "/a" || stats[0].Count != 2 {
		t.Errorf("EndpointStats = %+v, want /a first with 2", stats)
	}
	if len(store.Records("k1")) != 3 {
		t.Errorf("Records(k1) = %d, want 3", len(store.Records("k1")))
	}
}

func TestUserStore(t *testing.T) {
	store := memory.NewUserStore()
	ctx := context.Background()

	store.Create(ctx, ports.User{ID: "u2", Email: "b@example.com", Plan: "pro", CreatedAt: baseTime.Add(time.Hour)})
	store.Create(ctx, ports.User{ID: "u1", Email: "a@example.com", Plan: "starter", CreatedAt: baseTime})

	if err := store.Create(ctx, ports.User{ID: "u1"}); err == nil {
		t.Error("duplicate Create should fail")
	}

	u, err := store.Get(ctx, "u2")
	if err != nil || u.Plan != "pro" {
		t.Errorf("Get(u2) = %+v, %v", u, err)
	}
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get(nope) err = %v, want ErrNotFound", err)
	}

	list, _ := store.List(ctx)
	if len(list) != 2 || list[0].ID != "u1" {
		t.Errorf("List = %+v, want u1 first", list)
	}
}

func TestAlertLedger_ClaimOnce(t *testing.T) {
	ledger := memory.NewAlertLedger()
	ctx := context.Background()

	ok, _ := ledger.Claim(ctx, "u1", "2024-01-15", 90)
	if !ok {
		t.Fatal("first claim refused")
	}
	if ok, _ := ledger.Claim(ctx, "u1", "2024-01-15", 90); ok {
		t.Error("second claim for same threshold accepted")
	}
	if ok, _ := ledger.Claim(ctx, "u1", "2024-01-16", 90); !ok {
		t.Error("claim on a new day refused")
	}
	if ok, _ := ledger.Claim(ctx, "u2", "2024-01-15", 90); !ok {
		t.Error("claim for another identity refused")
	}

	ledger.Claim(ctx, "u1", "2024-01-15", 95)
	sent, _ := ledger.Sent(ctx, "u1", "2024-01-15")
	if len(sent) != 2 || sent[0] != 90 || sent[1] != 95 {
		t.Errorf("Sent = %v, want [90 95]", sent)
	}
}

func TestAlertLedger_ReleaseAndEvict(t *testing.T) {
	ledger := memory.NewAlertLedger()
	ctx := context.Background()

	ledger.Claim(ctx, "u1", "2024-01-15", 90)
	ledger.Release(ctx, "u1", "2024-01-15", 90)
	if ok, _ := ledger.Claim(ctx, "u1", "2024-01-15", 90); !ok {
		t.Error("claim after release refused")
	}

	ledger.Claim(ctx, "u1", "2024-01-14", 90)
	ledger.Claim(ctx, "u2", "2024-01-13", 95)

	removed, err := ledger.Evict(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if sent, _ := ledger.Sent(ctx, "u1", "2024-01-15"); len(sent) != 1 {
		t.Errorf("current day evicted: %v", sent)
	}
}
