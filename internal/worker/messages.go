package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Page-to-worker message protocol. Type and field names are interop contract
// with the page script and must not change.
const (
	MsgCacheMapTiles = "CACHE_MAP_TILES"
	MsgClearCache    = "CLEAR_CACHE"
	MsgGetCacheInfo  = "GET_CACHE_INFO"
)

type Message struct {
	Type      string   `json:"type"`
	Tiles     []string `json:"tiles,omitempty"`
	CacheName string   `json:"cacheName,omitempty"`
}

type TileStatus struct {
	Tile   string `json:"tile"`
	Status string `json:"status"` // cached | failed
}

type CacheInfo struct {
	EntryCount int      `json:"entryCount"`
	URLs       []string `json:"urls"`
}

type IgnoredReply struct {
	Status string `json:"status"`
}

// HandleMessage dispatches one page message. Unknown types are logged and
// ignored, never an error.
func (w *Worker) HandleMessage(ctx context.Context, raw []byte) (any, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch msg.Type {
	case MsgCacheMapTiles:
		return w.cacheMapTiles(ctx, msg.Tiles), nil
	case MsgClearCache:
		return w.clearCache(ctx, msg.CacheName)
	case MsgGetCacheInfo:
		return w.cacheInfo(ctx)
	default:
		w.logger.Warn("ignoring unknown worker message", "type", msg.Type)
		return IgnoredReply{Status: "ignored"}, nil
	}
}

// cacheMapTiles precaches the given tile URLs into the tile generation with
// bounded, tier-derived concurrency. Per-tile failures are reported back, not
// propagated.
func (w *Worker) cacheMapTiles(ctx context.Context, tileURLs []string) []TileStatus {
	out := make([]TileStatus, len(tileURLs))

	workers := w.conc()
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				st := TileStatus{Tile: tileURLs[i], Status: "cached"}
				if err := w.strategy.Warm(ctx, tileURLs[i]); err != nil {
					w.logger.Debug("tile precache failed", "tile", tileURLs[i], "err", err)
					st.Status = "failed"
				}
				out[i] = st
			}
		}()
	}
	for i := range tileURLs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			for j := range out {
				if out[j].Tile == "" {
					out[j] = TileStatus{Tile: tileURLs[j], Status: "failed"}
				}
			}
			return out
		}
	}
	close(jobs)
	wg.Wait()
	return out
}

// clearCache clears one generation by name, or every current generation when
// no name is given.
func (w *Worker) clearCache(ctx context.Context, name string) (any, error) {
	names := w.set.Names()
	if name != "" {
		names = []string{name}
	}
	cleared := make([]string, 0, len(names))
	for _, g := range names {
		if err := w.store.DeleteGeneration(ctx, g); err != nil {
			return nil, fmt.Errorf("clear cache %q: %w", g, err)
		}
		cleared = append(cleared, g)
	}
	return map[string][]string{"cleared": cleared}, nil
}

func (w *Worker) cacheInfo(ctx context.Context) (map[string]CacheInfo, error) {
	out := make(map[string]CacheInfo, 3)
	for _, g := range w.set.Names() {
		urls, err := w.store.Keys(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("cache info %q: %w", g, err)
		}
		n, err := w.store.EntryCount(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("cache info %q: %w", g, err)
		}
		out[g] = CacheInfo{EntryCount: n, URLs: urls}
	}
	return out, nil
}
