// Package memfront puts a small in-process LRU in front of the tile
// generation. Tile lookups dominate request volume while a map is panned, and
// a Redis round trip per tile is wasted work for bytes that were just served.
package memfront

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wanderplan/tilegate/internal/cachestore"
)

type Front struct {
	next     cachestore.Store
	frontGen string
	cache    *lru.TwoQueueCache[string, *cachestore.Entry]
}

// New fronts gen (normally the current tile generation) with a 2Q LRU of the
// given size. All other generations pass straight through.
func New(next cachestore.Store, gen string, size int) (*Front, error) {
	if size <= 0 {
		size = 512
	}
	c, err := lru.New2Q[string, *cachestore.Entry](size)
	if err != nil {
		return nil, err
	}
	return &Front{next: next, frontGen: gen, cache: c}, nil
}

var _ cachestore.Store = (*Front)(nil)

func (f *Front) Get(ctx context.Context, gen, key string) (*cachestore.Entry, bool, error) {
	if gen == f.frontGen {
		if e, ok := f.cache.Get(key); ok {
			return e, true, nil
		}
	}
	e, ok, err := f.next.Get(ctx, gen, key)
	if err == nil && ok && gen == f.frontGen {
		f.cache.Add(key, e)
	}
	return e, ok, err
}

func (f *Front) Put(ctx context.Context, gen, key string, e *cachestore.Entry, ttl time.Duration) error {
	if err := f.next.Put(ctx, gen, key, e, ttl); err != nil {
		return err
	}
	if gen == f.frontGen {
		f.cache.Add(key, e)
	}
	return nil
}

func (f *Front) Delete(ctx context.Context, gen string, keys ...string) error {
	if gen == f.frontGen {
		for _, k := range keys {
			f.cache.Remove(k)
		}
	}
	return f.next.Delete(ctx, gen, keys...)
}

func (f *Front) Keys(ctx context.Context, gen string) ([]string, error) {
	return f.next.Keys(ctx, gen)
}

func (f *Front) EntryCount(ctx context.Context, gen string) (int, error) {
	return f.next.EntryCount(ctx, gen)
}

func (f *Front) DeleteGeneration(ctx context.Context, gen string) error {
	if gen == f.frontGen {
		f.cache.Purge()
	}
	return f.next.DeleteGeneration(ctx, gen)
}

func (f *Front) Generations(ctx context.Context) ([]string, error) {
	return f.next.Generations(ctx)
}
