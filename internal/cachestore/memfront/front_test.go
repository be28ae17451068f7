package memfront

import (
	"context"
	"testing"
	"time"

	"github.com/wanderplan/tilegate/internal/cachestore"
)

// countingStore counts backend reads so tests can assert the front absorbed
// them.
type countingStore struct {
	cachestore.Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, gen, key string) (*cachestore.Entry, bool, error) {
	c.gets++
	return c.Store.Get(ctx, gen, key)
}

func entry(body string) *cachestore.Entry {
	return &cachestore.Entry{Status: 200, Body: []byte(body), StoredAt: time.Now()}
}

func TestFrontAbsorbsRepeatTileReads(t *testing.T) {
	backend := &countingStore{Store: cachestore.NewMemory()}
	f, err := New(backend, "map-tiles-v1", 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := f.Put(ctx, "map-tiles-v1", "t1", entry("tile"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for n := 0; n < 5; n++ {
		e, ok, err := f.Get(ctx, "map-tiles-v1", "t1")
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if string(e.Body) != "tile" {
			t.Fatalf("body = %q", e.Body)
		}
	}
	if backend.gets != 0 {
		t.Fatalf("backend saw %d reads, want 0 (write-through should have primed the front)", backend.gets)
	}
}

func TestFrontPassesThroughOtherGenerations(t *testing.T) {
	backend := &countingStore{Store: cachestore.NewMemory()}
	f, err := New(backend, "map-tiles-v1", 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := f.Put(ctx, "runtime-v2", "k", entry("api"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for n := 0; n < 3; n++ {
		if _, ok, _ := f.Get(ctx, "runtime-v2", "k"); !ok {
			t.Fatalf("miss in backing store")
		}
	}
	if backend.gets != 3 {
		t.Fatalf("backend saw %d reads, want 3 (non-tile generations are not fronted)", backend.gets)
	}
}

func TestFrontPrimesOnBackendHit(t *testing.T) {
	backend := &countingStore{Store: cachestore.NewMemory()}
	// write behind the front's back
	if err := backend.Store.Put(context.Background(), "map-tiles-v1", "t2", entry("x"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	f, err := New(backend, "map-tiles-v1", 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		if _, ok, _ := f.Get(ctx, "map-tiles-v1", "t2"); !ok {
			t.Fatalf("miss")
		}
	}
	if backend.gets != 1 {
		t.Fatalf("backend saw %d reads, want 1 (first miss primes the front)", backend.gets)
	}
}

func TestFrontPurgedOnGenerationDelete(t *testing.T) {
	backend := &countingStore{Store: cachestore.NewMemory()}
	f, err := New(backend, "map-tiles-v1", 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_ = f.Put(ctx, "map-tiles-v1", "t3", entry("x"), time.Hour)
	if err := f.DeleteGeneration(ctx, "map-tiles-v1"); err != nil {
		t.Fatalf("DeleteGeneration: %v", err)
	}
	if _, ok, _ := f.Get(ctx, "map-tiles-v1", "t3"); ok {
		t.Fatalf("front served an entry from a deleted generation")
	}
}
