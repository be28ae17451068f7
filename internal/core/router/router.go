// Package router exposes the gateway's HTTP surface: the intercepting proxy
// catchall plus the control endpoints for the page script (worker messages,
// batching, sync queue, action tracking).
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wanderplan/tilegate/internal/batch"
	"github.com/wanderplan/tilegate/internal/core/observability"
	"github.com/wanderplan/tilegate/internal/netquality"
	"github.com/wanderplan/tilegate/internal/preload"
	"github.com/wanderplan/tilegate/internal/strategy"
	"github.com/wanderplan/tilegate/internal/syncqueue"
	"github.com/wanderplan/tilegate/internal/worker"
)

const maxBodyBytes = 1 << 20

// Gateway bundles the handler dependencies. Constructed once in main and
// handed to the server.
type Gateway struct {
	Logger   *slog.Logger
	Origin   *url.URL
	Worker   *worker.Worker
	Batch    *batch.Engine
	Sync     *syncqueue.Queue
	Preload  *preload.Engine
	Monitor  *netquality.Monitor
	Upstream *httputil.ReverseProxy
}

func New(logger *slog.Logger, origin *url.URL, w *worker.Worker, b *batch.Engine, q *syncqueue.Queue, p *preload.Engine, m *netquality.Monitor) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		Logger:   logger,
		Origin:   origin,
		Worker:   w,
		Batch:    b,
		Sync:     q,
		Preload:  p,
		Monitor:  m,
		Upstream: httputil.NewSingleHostReverseProxy(origin),
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// HandleFetch is the catchall interceptor. GETs run the strategy engine;
// anything else, and everything arriving before the worker activates, is
// proxied straight through to the origin.
func (g *Gateway) HandleFetch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		target, err := g.targetURL(r)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/fetch", sw.code, time.Since(start).Seconds())
			return
		}

		if r.Method != http.MethodGet {
			g.Upstream.ServeHTTP(sw, r)
			observability.ObserveHTTP(r.Method, "/fetch", sw.code, time.Since(start).Seconds())
			return
		}

		req := strategy.Request{
			URL:      target,
			Method:   r.Method,
			Navigate: isNavigation(r),
		}
		entry, src, err := g.Worker.HandleFetch(r.Context(), req)
		switch {
		case errors.Is(err, worker.ErrNotActive):
			g.Upstream.ServeHTTP(sw, r)
		case err != nil:
			g.Logger.Warn("fetch failed", "url", target.String(), "err", err)
			http.Error(sw, "upstream unavailable", http.StatusBadGateway)
		default:
			sw.Header().Set("X-Served-From", string(src))
			entry.WriteTo(sw)
		}
		observability.ObserveHTTP(r.Method, "/fetch", sw.code, time.Since(start).Seconds())
	}
}

// targetURL resolves what the intercepted request actually wants: /proxy?url=
// carries an absolute third-party URL (tile servers), everything else is an
// origin-relative path.
func (g *Gateway) targetURL(r *http.Request) (*url.URL, error) {
	if r.URL.Path == "/proxy" {
		raw := strings.TrimSpace(r.URL.Query().Get("url"))
		if raw == "" {
			return nil, errors.New("missing required parameter: url")
		}
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("invalid absolute url %q", raw)
		}
		return u, nil
	}
	return g.Origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}), nil
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// HandleWorkerMessage adapts the page postMessage protocol onto HTTP.
func (g *Gateway) HandleWorkerMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(sw, "read body", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/worker/message", sw.code, time.Since(start).Seconds())
			return
		}
		reply, err := g.Worker.HandleMessage(r.Context(), raw)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/worker/message", sw.code, time.Since(start).Seconds())
			return
		}
		writeJSON(sw, http.StatusOK, reply)
		observability.ObserveHTTP(r.Method, "/worker/message", sw.code, time.Since(start).Seconds())
	}
}

type enqueueRequest struct {
	URL      string          `json:"url"`
	Method   string          `json:"method,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority int             `json:"priority,omitempty"`
}

func (e enqueueRequest) validate() error {
	if strings.TrimSpace(e.URL) == "" {
		return errors.New("missing required field: url")
	}
	if _, err := url.Parse(e.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	return nil
}

// HandleEnqueue accepts a deferred request into the batching engine.
func (g *Gateway) HandleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		var in enqueueRequest
		if err := decodeJSON(r, &in); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/api/enqueue", sw.code, time.Since(start).Seconds())
			return
		}
		if err := in.validate(); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/api/enqueue", sw.code, time.Since(start).Seconds())
			return
		}

		id := g.Batch.Enqueue(batch.Request{
			URL:      in.URL,
			Method:   in.Method,
			Payload:  in.Payload,
			Priority: in.Priority,
		})
		writeJSON(sw, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
		observability.ObserveHTTP(r.Method, "/api/enqueue", sw.code, time.Since(start).Seconds())
	}
}

// HandleMutate routes a mutation by connectivity: online goes through the
// batching engine, offline lands in the sync queue for replay.
func (g *Gateway) HandleMutate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		var in enqueueRequest
		if err := decodeJSON(r, &in); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/api/mutate", sw.code, time.Since(start).Seconds())
			return
		}
		if err := in.validate(); err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/api/mutate", sw.code, time.Since(start).Seconds())
			return
		}
		if in.Method == "" || in.Method == http.MethodGet {
			http.Error(sw, "mutations require a non-GET method", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/api/mutate", sw.code, time.Since(start).Seconds())
			return
		}

		if !g.Monitor.Online() {
			it, err := g.Sync.Add(in.URL, in.Method, in.Payload)
			if err != nil {
				http.Error(sw, err.Error(), http.StatusInternalServerError)
				observability.ObserveHTTP(r.Method, "/api/mutate", sw.code, time.Since(start).Seconds())
				return
			}
			writeJSON(sw, http.StatusAccepted, map[string]string{"id": it.ID, "status": "queued_offline"})
			observability.ObserveHTTP(r.Method, "/api/mutate", sw.code, time.Since(start).Seconds())
			return
		}

		id := g.Batch.Enqueue(batch.Request{
			URL:      in.URL,
			Method:   in.Method,
			Payload:  in.Payload,
			Priority: in.Priority,
		})
		writeJSON(sw, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
		observability.ObserveHTTP(r.Method, "/api/mutate", sw.code, time.Since(start).Seconds())
	}
}

func (g *Gateway) HandleQueueStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		writeJSON(sw, http.StatusOK, g.Sync.Stats())
		observability.ObserveHTTP(r.Method, "/queue/status", sw.code, time.Since(start).Seconds())
	}
}

func (g *Gateway) HandleQueueClear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		if err := g.Sync.Clear(); err != nil {
			http.Error(sw, err.Error(), http.StatusInternalServerError)
		} else {
			writeJSON(sw, http.StatusOK, map[string]string{"status": "cleared"})
		}
		observability.ObserveHTTP(r.Method, "/queue/clear", sw.code, time.Since(start).Seconds())
	}
}

// HandleAction records a user interaction for the preload engine. map_move
// additionally carries the viewport so tile preloading has a center.
func (g *Gateway) HandleAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		name := chi.URLParam(r, "name")
		if name == "" {
			http.Error(sw, "missing action name", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/actions", sw.code, time.Since(start).Seconds())
			return
		}

		if name == "map_move" {
			lat, latErr := parseFloat(r.URL.Query().Get("lat"))
			lon, lonErr := parseFloat(r.URL.Query().Get("lon"))
			zoom, zoomErr := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("zoom")))
			if latErr == nil && lonErr == nil && zoomErr == nil {
				g.Preload.SetViewport(lat, lon, zoom)
			} else {
				g.Logger.Debug("map_move without usable viewport", "lat", r.URL.Query().Get("lat"),
					"lon", r.URL.Query().Get("lon"), "zoom", r.URL.Query().Get("zoom"))
			}
		}

		g.Preload.TrackAction(name)
		writeJSON(sw, http.StatusOK, map[string]any{"action": name, "count": g.Preload.Count(name)})
		observability.ObserveHTTP(r.Method, "/actions", sw.code, time.Since(start).Seconds())
	}
}

// HandleNetStatus reports the current sample and tier, mirroring what the
// page would read off navigator.connection.
func (g *Gateway) HandleNetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		s := g.Monitor.Current()
		writeJSON(sw, http.StatusOK, map[string]any{
			"effectiveType": string(s.EffectiveType),
			"downlink":      s.DownlinkMbps,
			"rtt":           s.RoundTripMs,
			"saveData":      s.SaveData,
			"online":        s.Online,
			"tier":          g.Monitor.TierName(),
		})
		observability.ObserveHTTP(r.Method, "/net/status", sw.code, time.Since(start).Seconds())
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
