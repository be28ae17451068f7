// Package redisstore wraps the Redis client operations behind the cache store.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/wanderplan/tilegate/internal/cachestore/keys"
	"github.com/wanderplan/tilegate/internal/core/observability"
)

// key layout:
//   tg:e:<gen>:<hashed request key>  entry value (expires with TTL)
//   tg:i:<gen>                       SET of raw request keys in the generation
//   tg:gens                          SET of generation names with entries

const (
	entryPrefix = "tg:e:"
	indexPrefix = "tg:i:"
	gensKey     = "tg:gens"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func entryKey(gen, key string) string {
	return entryPrefix + gen + ":" + keys.ForURL(key)
}

func indexKey(gen string) string {
	return indexPrefix + gen
}

func (c *Client) Get(ctx context.Context, gen, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, gen, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, entryKey(gen, key), val, ttl)
		p.SAdd(ctx, indexKey(gen), key)
		p.SAdd(ctx, gensKey, gen)
		return nil
	})
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, gen string, ks ...string) error {
	if len(ks) == 0 {
		return nil
	}
	start := time.Now()
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range ks {
			p.Del(ctx, entryKey(gen, k))
		}
		p.SRem(ctx, indexKey(gen), toAny(ks)...)
		return nil
	})
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(ks), err)
	}
	return nil
}

func (c *Client) Keys(ctx context.Context, gen string) ([]string, error) {
	start := time.Now()
	members, err := c.rdb.SMembers(ctx, indexKey(gen)).Result()
	observability.ObserveCacheOp("keys", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", gen, err)
	}
	return members, nil
}

func (c *Client) EntryCount(ctx context.Context, gen string) (int, error) {
	start := time.Now()
	n, err := c.rdb.SCard(ctx, indexKey(gen)).Result()
	observability.ObserveCacheOp("count", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis SCARD %q: %w", gen, err)
	}
	return int(n), nil
}

// DeleteGeneration removes every entry, the index, and the registry row for
// gen in one pipeline.
func (c *Client) DeleteGeneration(ctx context.Context, gen string) error {
	members, err := c.Keys(ctx, gen)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range members {
			p.Del(ctx, entryKey(gen, k))
		}
		p.Del(ctx, indexKey(gen))
		p.SRem(ctx, gensKey, gen)
		return nil
	})
	observability.ObserveCacheOp("del_generation", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis delete generation %q: %w", gen, err)
	}
	return nil
}

func (c *Client) Generations(ctx context.Context) ([]string, error) {
	start := time.Now()
	gens, err := c.rdb.SMembers(ctx, gensKey).Result()
	observability.ObserveCacheOp("generations", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS generations: %w", err)
	}
	return gens, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
