package idgen_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/artpar/quotaguard/adapters/idgen"
	"github.com/google/uuid"
)

func TestUUID_Prefixed(t *testing.T) {
	g := idgen.UUID{Prefix: idgen.PrefixKey}

	id := g.New()
	if !strings.HasPrefix(id, "key_") {
		t.Fatalf("id = %q, want key_ prefix", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "key_")); err != nil {
		t.Errorf("suffix is not a UUID: %v", err)
	}
	if g.New() == id {
		t.Error("UUID generator repeated an ID")
	}
}

func TestSequential(t *testing.T) {
	g := idgen.NewSequential("k")

	for _, want := range []string{"k1", "k2", "k3"} {
		if got := g.New(); got != want {
			t.Errorf("New = %q, want %q", got, want)
		}
	}

	g.Reset()
	if got := g.New(); got != "k1" {
		t.Errorf("after Reset New = %q, want k1", got)
	}
}

func TestSequential_ConcurrentUnique(t *testing.T) {
	g := idgen.NewSequential("")
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.New()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("unique IDs = %d, want 1000", len(seen))
	}
}
