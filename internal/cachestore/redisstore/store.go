package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/wanderplan/tilegate/internal/cachestore"
)

// Store adapts Client to cachestore.Store, bounding every operation with the
// configured cache op timeout.
type Store struct {
	cli     *Client
	timeout time.Duration
}

func NewStore(cli *Client, timeout time.Duration) *Store {
	return &Store{cli: cli, timeout: timeout}
}

var _ cachestore.Store = (*Store)(nil)

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Get(ctx context.Context, gen, key string) (*cachestore.Entry, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	raw, ok, err := s.cli.Get(ctx, gen, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	e, err := cachestore.DecodeEntry(raw)
	if err != nil {
		// corrupt value; treat as a miss but surface for the caller's logs
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return e, true, nil
}

func (s *Store) Put(ctx context.Context, gen, key string, e *cachestore.Entry, ttl time.Duration) error {
	raw, err := e.Encode()
	if err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.cli.Set(ctx, gen, key, raw, ttl); err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, gen string, keys ...string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.cli.Del(ctx, gen, keys...); err != nil {
		return fmt.Errorf("cache delete %d keys: %w", len(keys), err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, gen string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ks, err := s.cli.Keys(ctx, gen)
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}
	return ks, nil
}

func (s *Store) EntryCount(ctx context.Context, gen string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.cli.EntryCount(ctx, gen)
	if err != nil {
		return 0, fmt.Errorf("cache entry count: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteGeneration(ctx context.Context, gen string) error {
	// generation deletion may touch many keys; give it more room
	timeout := s.timeout * 10
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.cli.DeleteGeneration(ctx, gen); err != nil {
		return fmt.Errorf("cache delete generation: %w", err)
	}
	return nil
}

func (s *Store) Generations(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	gens, err := s.cli.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache generations: %w", err)
	}
	return gens, nil
}
