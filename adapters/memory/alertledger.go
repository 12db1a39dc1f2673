package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/quotaguard/ports"
)

type alertDay struct {
	identity string
	day      string
}

// AlertLedger is an in-memory record of signaled quota thresholds.
type AlertLedger struct {
	mu   sync.Mutex
	sent map[alertDay]map[int]bool
}

// NewAlertLedger creates an empty alert ledger.
func NewAlertLedger() *AlertLedger {
	return &AlertLedger{sent: make(map[alertDay]map[int]bool)}
}

// Sent returns the thresholds already signaled, ascending.
func (l *AlertLedger) Sent(ctx context.Context, identity, day string) ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.sent[alertDay{identity, day}]
	out := make([]int, 0, len(set))
	for th := range set {
		out = append(out, th)
	}
	sort.Ints(out)
	return out, nil
}

// Claim records a threshold, returning false if it was already recorded.
func (l *AlertLedger) Claim(ctx context.Context, identity, day string, threshold int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := alertDay{identity, day}
	set, ok := l.sent[k]
	if !ok {
		set = make(map[int]bool)
		l.sent[k] = set
	}
	if set[threshold] {
		return false, nil
	}
	set[threshold] = true
	return true, nil
}

// Release forgets a claimed threshold.
func (l *AlertLedger) Release(ctx context.Context, identity, day string, threshold int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := alertDay{identity, day}
	if set, ok := l.sent[k]; ok {
		delete(set, threshold)
		if len(set) == 0 {
			delete(l.sent, k)
		}
	}
	return nil
}

// Evict drops every (identity, day) entry older than before.
func (l *AlertLedger) Evict(ctx context.Context, before string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k := range l.sent {
		if k.day < before {
			delete(l.sent, k)
			removed++
		}
	}
	return removed, nil
}

// Ensure interface compliance.
var _ ports.AlertLedger = (*AlertLedger)(nil)
