package cachestore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Used in tests and as a degraded mode when no
// Redis address is configured.
type Memory struct {
	mu   sync.RWMutex
	gens map[string]map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	entry     *Entry
	expiresAt time.Time // zero means no expiry
}

func NewMemory() *Memory {
	return &Memory{
		gens: make(map[string]map[string]memEntry),
		now:  time.Now,
	}
}

func (m *Memory) Get(_ context.Context, gen, key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gens[gen]
	if !ok {
		return nil, false, nil
	}
	me, ok := g[key]
	if !ok {
		return nil, false, nil
	}
	if !me.expiresAt.IsZero() && m.now().After(me.expiresAt) {
		return nil, false, nil
	}
	return me.entry, true, nil
}

func (m *Memory) Put(_ context.Context, gen, key string, e *Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gens[gen]
	if !ok {
		g = make(map[string]memEntry)
		m.gens[gen] = g
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	g[key] = memEntry{entry: e, expiresAt: exp}
	return nil
}

func (m *Memory) Delete(_ context.Context, gen string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gens[gen]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(g, k)
	}
	if len(g) == 0 {
		delete(m.gens, gen)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, gen string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g := m.gens[gen]
	out := make([]string, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	return out, nil
}

func (m *Memory) EntryCount(_ context.Context, gen string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.gens[gen]), nil
}

func (m *Memory) DeleteGeneration(_ context.Context, gen string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.gens, gen)
	return nil
}

func (m *Memory) Generations(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.gens))
	for g := range m.gens {
		out = append(out, g)
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
