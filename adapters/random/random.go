// Package random provides Random implementations.
package random

import (
	"crypto/rand"
	"sync"

	"github.com/artpar/quotaguard/ports"
)

// Real uses crypto/rand for secure randomness.
type Real struct{}

// Bytes generates n cryptographically secure random bytes.
func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

var _ ports.Random = Real{}

// Fake provides deterministic randomness for testing.
// Each call returns a distinct byte pattern seeded by a call counter, unless
// preset values are queued.
type Fake struct {
	mu     sync.Mutex
	calls  int
	values [][]byte
	err    error
}

// NewFake creates a fake random source.
func NewFake() *Fake {
	return &Fake{}
}

// Queue appends preset values returned by subsequent calls, in order.
func (f *Fake) Queue(values ...[]byte) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, values...)
	return f
}

// FailWith makes every subsequent call return err.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Bytes returns queued bytes (zero-padded to n) or a counter-derived pattern.
func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	b := make([]byte, n)
	if len(f.values) > 0 {
		copy(b, f.values[0])
		f.values = f.values[1:]
		return b, nil
	}

	f.calls++
	for i := range b {
		b[i] = byte(f.calls*31 + i)
	}
	return b, nil
}

var _ ports.Random = (*Fake)(nil)
