package cachestore

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func testEntry(body string) *Entry {
	return &Entry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte(body),
		StoredAt: time.Now(),
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "runtime-v2", "https://a/x", testEntry("hello"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, ok, err := m.Get(ctx, "runtime-v2", "https://a/x")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(e.Body) != "hello" {
		t.Fatalf("body = %q", e.Body)
	}

	if _, ok, _ := m.Get(ctx, "runtime-v2", "https://a/other"); ok {
		t.Fatalf("unexpected hit for unknown key")
	}
	if _, ok, _ := m.Get(ctx, "static-v9", "https://a/x"); ok {
		t.Fatalf("unexpected hit in unknown generation")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Put(ctx, "runtime-v2", "k", testEntry("x"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "runtime-v2", "k"); !ok {
		t.Fatalf("entry should be live before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "runtime-v2", "k"); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestMemoryDeleteGeneration(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.Put(ctx, "static-v1", "a", testEntry("1"), 0)
	_ = m.Put(ctx, "static-v2", "b", testEntry("2"), 0)

	if err := m.DeleteGeneration(ctx, "static-v1"); err != nil {
		t.Fatalf("DeleteGeneration: %v", err)
	}
	gens, err := m.Generations(ctx)
	if err != nil {
		t.Fatalf("Generations: %v", err)
	}
	if len(gens) != 1 || gens[0] != "static-v2" {
		t.Fatalf("gens = %v, want [static-v2]", gens)
	}

	n, _ := m.EntryCount(ctx, "static-v1")
	if n != 0 {
		t.Fatalf("deleted generation still has %d entries", n)
	}
}
