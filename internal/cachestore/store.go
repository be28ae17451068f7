// Package cachestore implements the generation-aware response snapshot store
// behind the fetch interceptor. Entries are keyed by request URL inside a
// named cache generation; generations are rotated wholesale on activation.
package cachestore

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownGeneration = errors.New("cachestore: unknown generation")

type Store interface {
	// Get returns the entry for key inside generation gen, with a found flag.
	Get(ctx context.Context, gen, key string) (*Entry, bool, error)
	Put(ctx context.Context, gen, key string, e *Entry, ttl time.Duration) error
	Delete(ctx context.Context, gen string, keys ...string) error

	// Keys enumerates the request keys currently stored in gen.
	Keys(ctx context.Context, gen string) ([]string, error)
	EntryCount(ctx context.Context, gen string) (int, error)

	DeleteGeneration(ctx context.Context, gen string) error
	// Generations lists every generation that holds at least one entry.
	Generations(ctx context.Context) ([]string, error)
}
