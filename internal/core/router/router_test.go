package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wanderplan/tilegate/internal/batch"
	"github.com/wanderplan/tilegate/internal/cachestore"
	"github.com/wanderplan/tilegate/internal/netquality"
	"github.com/wanderplan/tilegate/internal/preload"
	"github.com/wanderplan/tilegate/internal/strategy"
	"github.com/wanderplan/tilegate/internal/syncqueue"
	"github.com/wanderplan/tilegate/internal/worker"
)

type fixture struct {
	gw      *Gateway
	monitor *netquality.Monitor
	batch   *batch.Engine
	origin  *httptest.Server
	api     *httptest.Server
}

func newFixture(t *testing.T, originHandler http.HandlerFunc) *fixture {
	t.Helper()

	origin := httptest.NewServer(originHandler)
	t.Cleanup(origin.Close)
	originURL, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}

	store := cachestore.NewMemory()
	set := cachestore.NewSet(2, 2, 1)
	monitor := netquality.New(netquality.Config{
		Tiers: netquality.TierTable{
			Poor:      netquality.Params{BatchSize: 2, BatchDelay: time.Hour, Concurrency: 1},
			Moderate:  netquality.Params{BatchSize: 4, BatchDelay: time.Hour, Concurrency: 2},
			Good:      netquality.Params{BatchSize: 8, BatchDelay: time.Hour, Concurrency: 4},
			Excellent: netquality.Params{BatchSize: 16, BatchDelay: time.Hour, Concurrency: 8},
		},
		FastDownlinkMin: 10,
	})

	eng := strategy.New(store, gens{set}, monitor, origin.Client(), nil, strategy.Config{
		Origin:       originURL,
		AssetsPrefix: "/assets/",
		FetchTimeout: 2 * time.Second,
		TTLDefault:   time.Minute,
	})
	w := worker.New(store, set, eng, origin.Client(), nil, worker.Config{
		Origin:       originURL,
		Manifest:     []string{"/"},
		ShellTTL:     time.Minute,
		FetchTimeout: 2 * time.Second,
	}, nil)

	be := batch.New(batch.NewHTTPExecutor(origin.Client()), monitor, batch.Config{MaxAttempts: 3}, nil)
	t.Cleanup(be.Close)

	sq, err := syncqueue.New(be, nil, syncqueue.Config{MaxAttempts: 3}, nil)
	if err != nil {
		t.Fatalf("syncqueue: %v", err)
	}

	pe := preload.New(be, monitor, preload.DefaultRules(origin.URL), 3, "", nil)

	gw := New(nil, originURL, w, be, sq, pe, monitor)

	r := chi.NewRouter()
	r.Post("/worker/message", gw.HandleWorkerMessage())
	r.Post("/api/enqueue", gw.HandleEnqueue())
	r.Post("/api/mutate", gw.HandleMutate())
	r.Get("/queue/status", gw.HandleQueueStatus())
	r.Post("/queue/clear", gw.HandleQueueClear())
	r.Post("/actions/{name}", gw.HandleAction())
	r.Get("/net/status", gw.HandleNetStatus())
	r.Handle("/*", gw.HandleFetch())

	api := httptest.NewServer(r)
	t.Cleanup(api.Close)

	return &fixture{gw: gw, monitor: monitor, batch: be, origin: origin, api: api}
}

type gens struct{ set cachestore.Set }

func (g gens) Current() cachestore.Set { return g.set }

func (f *fixture) activate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.gw.Worker.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := f.gw.Worker.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestFetchPassthroughBeforeActivation(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "origin-direct")
	})

	resp, err := http.Get(f.api.URL + "/anything")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if buf.String() != "origin-direct" {
		t.Fatalf("body = %q, want proxied origin response", buf.String())
	}
	if resp.Header.Get("X-Served-From") != "" {
		t.Fatalf("passthrough should not carry a strategy source header")
	}
}

func TestFetchServedByStrategyWhenActive(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "asset")
	})
	f.activate(t)

	resp, err := http.Get(f.api.URL + "/assets/app.js")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("X-Served-From"); got != "network" {
		t.Fatalf("first read served from %q, want network", got)
	}

	resp, err = http.Get(f.api.URL + "/assets/app.js")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("X-Served-From"); got != "cache" {
		t.Fatalf("second read served from %q, want cache", got)
	}
}

func TestFetchProxiesMutationsUntouched(t *testing.T) {
	var sawMethod string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		sawMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	})
	f.activate(t)

	resp := postJSON(t, f.api.URL+"/api/pois", map[string]string{"name": "louvre"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sawMethod != http.MethodPost {
		t.Fatalf("origin saw method %q", sawMethod)
	}
}

func TestProxyEndpointRequiresAbsoluteURL(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.activate(t)

	resp, err := http.Get(f.api.URL + "/proxy?url=not-absolute")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWorkerMessageEndpoint(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	f.activate(t)

	resp := postJSON(t, f.api.URL+"/worker/message", map[string]string{"type": "GET_CACHE_INFO"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var info map[string]struct {
		EntryCount int      `json:"entryCount"`
		URLs       []string `json:"urls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["static-v2"].EntryCount != 1 {
		t.Fatalf("info = %+v, want the installed shell in static-v2", info)
	}
}

func TestWorkerMessageUnknownTypeIgnored(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	f.activate(t)

	resp := postJSON(t, f.api.URL+"/worker/message", map[string]string{"type": "NOPE"})
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ignored" {
		t.Fatalf("reply = %v", out)
	}
}

func TestMutateRoutesByConnectivity(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	// online: into the batch engine
	resp := postJSON(t, f.api.URL+"/api/mutate", map[string]any{
		"url": f.origin.URL + "/api/pois", "method": "POST",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["status"] != "queued" {
		t.Fatalf("online mutate status = %q", out["status"])
	}
	if f.batch.QueueLen() != 1 {
		t.Fatalf("batch queue len = %d", f.batch.QueueLen())
	}

	// offline: into the sync queue
	f.monitor.SetOnline(false)
	resp = postJSON(t, f.api.URL+"/api/mutate", map[string]any{
		"url": f.origin.URL + "/api/pois", "method": "POST",
	})
	out = map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["status"] != "queued_offline" {
		t.Fatalf("offline mutate status = %q", out["status"])
	}
	if got := f.gw.Sync.Stats().Pending; got != 1 {
		t.Fatalf("sync queue pending = %d", got)
	}
}

func TestMutateRejectsGET(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	resp := postJSON(t, f.api.URL+"/api/mutate", map[string]any{
		"url": f.origin.URL + "/api/pois", "method": "GET",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQueueStatusShape(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.monitor.SetOnline(false)
	postJSON(t, f.api.URL+"/api/mutate", map[string]any{
		"url": f.origin.URL + "/api/pois", "method": "DELETE",
	})

	resp, err := http.Get(f.api.URL + "/queue/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var st struct {
		Pending int    `json:"pending"`
		State   string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Pending != 1 || st.State != "idle" {
		t.Fatalf("status = %+v", st)
	}
}

func TestActionTracking(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})

	var out struct {
		Action string `json:"action"`
		Count  int    `json:"count"`
	}
	for i := 1; i <= 2; i++ {
		resp, err := http.Post(f.api.URL+"/actions/add_poi", "application/json", strings.NewReader(""))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_ = resp.Body.Close()
		if out.Count != i {
			t.Fatalf("count = %d, want %d", out.Count, i)
		}
	}
	if out.Action != "add_poi" {
		t.Fatalf("action = %q", out.Action)
	}
}

func TestNetStatusEndpoint(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.monitor.ForceSample(netquality.Sample{
		EffectiveType: netquality.Conn4G, DownlinkMbps: 25, RoundTripMs: 40, Online: true,
	})

	resp, err := http.Get(f.api.URL + "/net/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		EffectiveType string  `json:"effectiveType"`
		Downlink      float64 `json:"downlink"`
		Tier          string  `json:"tier"`
		Online        bool    `json:"online"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.EffectiveType != "4g" || out.Tier != "excellent" || !out.Online {
		t.Fatalf("net status = %+v", out)
	}
}
