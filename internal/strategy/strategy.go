// Package strategy classifies intercepted requests and applies the per-class
// cache policy: network-first for navigations, cache-first for static assets,
// stale-while-revalidate for map tiles, quality-gated network-first for
// fast-capable APIs, and cache-first-then-network for everything else.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/wanderplan/tilegate/internal/cachestore"
	"github.com/wanderplan/tilegate/internal/core/observability"
	"github.com/wanderplan/tilegate/internal/tiles"
)

type Class int

const (
	ClassNavigation Class = iota
	ClassStatic
	ClassTile
	ClassFastAPI
	ClassDefault
)

func (c Class) String() string {
	switch c {
	case ClassNavigation:
		return "navigation"
	case ClassStatic:
		return "static"
	case ClassTile:
		return "tile"
	case ClassFastAPI:
		return "fast_api"
	default:
		return "default"
	}
}

func (c Class) strategyLabel() string {
	switch c {
	case ClassNavigation:
		return "network_first"
	case ClassStatic:
		return "cache_first"
	case ClassTile:
		return "stale_while_revalidate"
	case ClassFastAPI:
		return "quality_gated"
	default:
		return "cache_first_network"
	}
}

// Request is the descriptor of an intercepted request.
type Request struct {
	URL      *url.URL
	Method   string
	Navigate bool
}

type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceOffline Source = "offline_page"
)

// GenerationView exposes the current generation set. Owned by the worker so
// the strategy layer never sees a stale set mid-activation.
type GenerationView interface {
	Current() cachestore.Set
}

// QualityView gates network-first behavior on fast-capable API hosts.
type QualityView interface {
	Fast() bool
}

type Config struct {
	Origin        *url.URL
	AssetsPrefix  string
	TileHosts     []string
	FastAPIHosts  []string
	FetchTimeout  time.Duration
	TTLDefault    time.Duration
	TTLOverrides  map[string]time.Duration // keyed by class name
	IndexDocument string
	OfflineHTML   []byte
}

type Engine struct {
	store   cachestore.Store
	gens    GenerationView
	quality QualityView
	client  *http.Client
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func New(store cachestore.Store, gens GenerationView, quality QualityView, client *http.Client, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if len(cfg.OfflineHTML) == 0 {
		cfg.OfflineHTML = []byte(defaultOfflineHTML)
	}
	return &Engine{
		store:   store,
		gens:    gens,
		quality: quality,
		client:  client,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Classify applies the first-match-wins classification order.
func (e *Engine) Classify(r Request) Class {
	switch {
	case r.Navigate:
		return ClassNavigation
	case e.isStaticAsset(r.URL):
		return ClassStatic
	case tiles.MatchHost(r.URL.Host, e.cfg.TileHosts):
		return ClassTile
	case tiles.MatchHost(r.URL.Host, e.cfg.FastAPIHosts):
		return ClassFastAPI
	default:
		return ClassDefault
	}
}

func (e *Engine) isStaticAsset(u *url.URL) bool {
	if e.cfg.Origin != nil && u.Host != "" && u.Host != e.cfg.Origin.Host {
		return false
	}
	if e.cfg.AssetsPrefix != "" && strings.HasPrefix(u.Path, e.cfg.AssetsPrefix) {
		return true
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".css", ".js":
		return true
	}
	return false
}

// Serve runs the strategy for an intercepted GET. Non-GET requests must not
// reach here; the interceptor passes them through untouched.
func (e *Engine) Serve(ctx context.Context, r Request) (*cachestore.Entry, Source, error) {
	class := e.Classify(r)

	var (
		entry *cachestore.Entry
		src   Source
		err   error
	)
	switch class {
	case ClassNavigation:
		entry, src, err = e.serveNavigation(ctx, r)
	case ClassStatic:
		entry, src, err = e.cacheFirst(ctx, cachestore.ClassStatic, class, r.URL.String())
	case ClassTile:
		entry, src, err = e.staleWhileRevalidate(ctx, r.URL.String())
	case ClassFastAPI:
		entry, src, err = e.serveGated(ctx, r)
	default:
		entry, src, err = e.cacheFirst(ctx, cachestore.ClassRuntime, class, r.URL.String())
	}
	if err == nil {
		observability.IncStrategyServed(class.strategyLabel(), string(src))
	}
	return entry, src, err
}

// serveNavigation is network-first with cache fallback. Successful responses
// are stored under the fixed site-root key; on network failure the cached
// root, then the cached index document, then a synthesized offline page are
// tried in order. Navigation never surfaces a transport error.
func (e *Engine) serveNavigation(ctx context.Context, r Request) (*cachestore.Entry, Source, error) {
	gen := e.gens.Current().Static.Name()

	live, err := e.fetch(ctx, r.URL.String())
	if err == nil {
		if live.OK() {
			if perr := e.store.Put(ctx, gen, e.rootKey(), live, e.ttlFor(ClassNavigation)); perr != nil {
				e.logger.Warn("navigation cache write failed", "err", perr)
			}
		}
		return live, SourceNetwork, nil
	}
	e.logger.Debug("navigation fetch failed, trying cache", "url", r.URL.String(), "err", err)

	for _, key := range []string{e.rootKey(), e.indexKey()} {
		if cached, ok, gerr := e.store.Get(ctx, gen, key); gerr == nil && ok {
			observability.IncCacheHit(ClassNavigation.String())
			return cached, SourceCache, nil
		}
	}
	observability.IncCacheMiss(ClassNavigation.String())

	return &cachestore.Entry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:     e.cfg.OfflineHTML,
		StoredAt: e.now(),
	}, SourceOffline, nil
}

// cacheFirst short-circuits on a hit with no network activity. On a miss the
// live response is returned and a clone stored under the exact request key;
// a miss plus network failure propagates the error.
func (e *Engine) cacheFirst(ctx context.Context, genClass cachestore.Class, class Class, key string) (*cachestore.Entry, Source, error) {
	gen := e.gens.Current().For(genClass).Name()

	if cached, ok, err := e.store.Get(ctx, gen, key); err == nil && ok {
		observability.IncCacheHit(class.String())
		return cached, SourceCache, nil
	} else if err != nil {
		e.logger.Warn("cache get failed, continuing to network", "key", key, "err", err)
	}
	observability.IncCacheMiss(class.String())

	live, err := e.fetch(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("%s fetch: %w", class, err)
	}
	if live.OK() {
		if perr := e.store.Put(ctx, gen, key, live, e.ttlFor(class)); perr != nil {
			e.logger.Warn("cache write failed", "key", key, "err", perr)
		}
	}
	return live, SourceNetwork, nil
}

// staleWhileRevalidate returns the cached tile immediately and refreshes it
// in the background; the caller never waits on the revalidation. A cold miss
// awaits the network and has no fallback.
func (e *Engine) staleWhileRevalidate(ctx context.Context, key string) (*cachestore.Entry, Source, error) {
	gen := e.gens.Current().Tiles.Name()

	cached, ok, err := e.store.Get(ctx, gen, key)
	if err != nil {
		e.logger.Warn("tile cache get failed", "key", key, "err", err)
	}
	if ok {
		observability.IncCacheHit(ClassTile.String())
		go e.revalidate(gen, key)
		return cached, SourceCache, nil
	}
	observability.IncCacheMiss(ClassTile.String())

	live, err := e.fetch(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("tile fetch: %w", err)
	}
	if live.OK() {
		if perr := e.store.Put(ctx, gen, key, live, e.ttlFor(ClassTile)); perr != nil {
			e.logger.Warn("tile cache write failed", "key", key, "err", perr)
		}
	}
	return live, SourceNetwork, nil
}

// revalidate overwrites the cache entry with a fresh network response.
// Detached from the request; last write wins against concurrent refreshes.
func (e *Engine) revalidate(gen, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FetchTimeout)
	defer cancel()
	live, err := e.fetch(ctx, key)
	if err != nil {
		e.logger.Debug("tile revalidation failed", "key", key, "err", err)
		return
	}
	if !live.OK() {
		return
	}
	if err := e.store.Put(ctx, gen, key, live, e.ttlFor(ClassTile)); err != nil {
		e.logger.Debug("tile revalidation write failed", "key", key, "err", err)
	}
}

// serveGated is network-first on fast connections and cache-first otherwise,
// preferring availability over freshness on poor links.
func (e *Engine) serveGated(ctx context.Context, r Request) (*cachestore.Entry, Source, error) {
	key := r.URL.String()
	gen := e.gens.Current().Runtime.Name()

	if e.quality != nil && !e.quality.Fast() {
		return e.cacheFirst(ctx, cachestore.ClassRuntime, ClassFastAPI, key)
	}

	live, err := e.fetch(ctx, key)
	if err == nil {
		if live.OK() {
			if perr := e.store.Put(ctx, gen, key, live, e.ttlFor(ClassFastAPI)); perr != nil {
				e.logger.Warn("api cache write failed", "key", key, "err", perr)
			}
		}
		return live, SourceNetwork, nil
	}

	if cached, ok, gerr := e.store.Get(ctx, gen, key); gerr == nil && ok {
		observability.IncCacheHit(ClassFastAPI.String())
		return cached, SourceCache, nil
	}
	observability.IncCacheMiss(ClassFastAPI.String())
	return nil, "", fmt.Errorf("api fetch: %w", err)
}

// Warm fetches a URL and stores it in the generation its class maps to.
// Used by the preload engine and install-time shell population helpers.
func (e *Engine) Warm(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("warm parse %q: %w", rawURL, err)
	}
	class := e.Classify(Request{URL: u, Method: http.MethodGet})

	live, err := e.fetch(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("warm fetch %q: %w", rawURL, err)
	}
	if !live.OK() {
		return fmt.Errorf("warm fetch %q: status %d", rawURL, live.Status)
	}

	var genClass cachestore.Class
	switch class {
	case ClassNavigation, ClassStatic:
		genClass = cachestore.ClassStatic
	case ClassTile:
		genClass = cachestore.ClassTiles
	default:
		genClass = cachestore.ClassRuntime
	}
	gen := e.gens.Current().For(genClass).Name()
	if err := e.store.Put(ctx, gen, rawURL, live, e.ttlFor(class)); err != nil {
		return fmt.Errorf("warm store %q: %w", rawURL, err)
	}
	return nil
}

func (e *Engine) fetch(ctx context.Context, rawURL string) (*cachestore.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	observability.ObserveUpstreamLatency(upstreamLabel(req.URL), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", rawURL, err)
	}
	entry, err := cachestore.Snapshot(resp, e.now())
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", rawURL, err)
	}
	return entry, nil
}

func (e *Engine) ttlFor(class Class) time.Duration {
	if d, ok := e.cfg.TTLOverrides[class.String()]; ok {
		return d
	}
	return e.cfg.TTLDefault
}

func (e *Engine) rootKey() string {
	if e.cfg.Origin == nil {
		return "/"
	}
	root := *e.cfg.Origin
	root.Path = "/"
	return root.String()
}

func (e *Engine) indexKey() string {
	doc := e.cfg.IndexDocument
	if doc == "" {
		doc = "/index.html"
	}
	if e.cfg.Origin == nil {
		return doc
	}
	idx := *e.cfg.Origin
	idx.Path = doc
	return idx.String()
}

func upstreamLabel(u *url.URL) string {
	if u == nil {
		return "unknown"
	}
	return u.Host
}

const defaultOfflineHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>Wanderplan could not reach the network. Your saved itinerary is still
available, and changes made now will sync when the connection returns.</p>
<p><a href="/">Retry</a></p>
</body>
</html>`
