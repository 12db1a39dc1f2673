package app_test

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/quotaguard/adapters/clock"
	"github.com/artpar/quotaguard/adapters/hasher"
	"github.com/artpar/quotaguard/adapters/idgen"
	"github.com/artpar/quotaguard/adapters/memory"
	"github.com/artpar/quotaguard/adapters/random"
	"github.com/artpar/quotaguard/app"
	"github.com/artpar/quotaguard/domain/ratelimit"
	"github.com/artpar/quotaguard/ports"
	"github.com/rs/zerolog"
)

// midnight is the start of a UTC day bucket.
var midnight = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

type testStores struct {
	clock    *clock.Fake
	counters *memory.CounterStore
	keys     *memory.KeyStore
	usage    *memory.UsageStore
	users    *memory.UserStore
	ledger   *memory.AlertLedger
	notifier *recordingNotifier
}

func newTestEngine(checkOnAdmit bool) (*app.Engine, *testStores) {
	s := &testStores{
		clock:    clock.NewFake(midnight),
		counters: memory.NewCounterStore(memory.CounterConfig{}),
		keys:     memory.NewKeyStore(),
		usage:    memory.NewUsageStore(),
		users:    memory.NewUserStore(),
		ledger:   memory.NewAlertLedger(),
		notifier: &recordingNotifier{},
	}

	e := app.NewEngine(app.EngineDeps{
		Counters: s.counters,
		Keys:     s.keys,
		Usage:    s.usage,
		Users:    s.users,
		Ledger:   s.ledger,
		Notifier: s.notifier,
		Hasher:   hasher.Fake{},
		Random:   random.NewFake(),
		Clock:    s.clock,
		KeyIDs:   idgen.NewSequential(idgen.PrefixKey),
		UsageIDs: idgen.NewSequential(idgen.PrefixUsage),
		Logger:   zerolog.Nop(),
	}, app.EngineConfig{CheckOnAdmit: checkOnAdmit})

	return e, s
}

func (s *testStores) addUser(id, planName string) {
	_ = s.users.Create(context.Background(), ports.User{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "User " + id,
		Plan:      planName,
		CreatedAt: midnight,
	})
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []ports.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n ports.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) thresholds() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Threshold
	}
	return out
}

// stubCounters serves a fixed quota count from Peek and fails on demand.
type stubCounters struct {
	mu    sync.Mutex
	count int64
	err   error
}

func (s *stubCounters) set(count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = count
}

func (s *stubCounters) Admit(context.Context, []ratelimit.Slot, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, s.err
}

func (s *stubCounters) Peek(_ context.Context, _ string, now time.Time) (ratelimit.Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return ratelimit.Counter{}, false, s.err
	}
	return ratelimit.Counter{Count: s.count, ResetAt: now.Add(time.Hour)}, true, nil
}

func (s *stubCounters) Sweep(context.Context, time.Time) (int, error)      { return 0, s.err }
func (s *stubCounters) EvictQuota(context.Context, time.Time) (int, error) { return 0, s.err }

func intEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
