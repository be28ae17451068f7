// Package worker owns the fetch-interceptor lifecycle: install populates the
// offline shell into a fresh static generation, activate evicts every stale
// generation, and only then does fetch handling begin. The lifecycle is an
// explicit state machine; HTTP handlers are thin adapters over it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/wanderplan/tilegate/internal/cachestore"
	"github.com/wanderplan/tilegate/internal/strategy"
)

type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalledWaiting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateInstalledWaiting:
		return "installed-waiting"
	case StateActive:
		return "active"
	default:
		return "invalid"
	}
}

var (
	ErrNotActive     = errors.New("worker: not active")
	ErrBadTransition = errors.New("worker: invalid state transition")
)

type Config struct {
	Origin       *url.URL
	Manifest     []string // shell asset paths, resolved against Origin
	ShellTTL     time.Duration
	FetchTimeout time.Duration
}

type Worker struct {
	mu    sync.Mutex
	state State

	store    cachestore.Store
	set      cachestore.Set
	strategy *strategy.Engine
	client   *http.Client
	logger   *slog.Logger
	cfg      Config

	// concurrency for bulk tile precaching; re-read every call so it tracks
	// the current network tier
	conc func() int
}

func New(store cachestore.Store, set cachestore.Set, eng *strategy.Engine, client *http.Client, logger *slog.Logger, cfg Config, conc func() int) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if conc == nil {
		conc = func() int { return 4 }
	}
	return &Worker{
		state:    StateUninstalled,
		store:    store,
		set:      set,
		strategy: eng,
		client:   client,
		logger:   logger,
		cfg:      cfg,
		conc:     conc,
	}
}

// Current implements strategy.GenerationView.
func (w *Worker) Current() cachestore.Set { return w.set }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) Readiness() (bool, string) {
	s := w.State()
	return s == StateActive, s.String()
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: %s -> %s (currently %s)", ErrBadTransition, from, to, w.state)
	}
	w.state = to
	return nil
}

// Install eagerly populates the shell manifest into the static generation.
// All-or-nothing: a single unreachable asset fails the install and the
// previous generation set stays live, so the user keeps the old shell rather
// than getting a partial one.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateUninstalled, StateInstalling); err != nil {
		return err
	}

	gen := w.set.Static.Name()
	for _, p := range w.cfg.Manifest {
		key := w.resolve(p)
		entry, err := w.fetch(ctx, key)
		if err != nil {
			_ = w.transition(StateInstalling, StateUninstalled)
			return fmt.Errorf("install shell asset %q: %w", p, err)
		}
		if !entry.OK() {
			_ = w.transition(StateInstalling, StateUninstalled)
			return fmt.Errorf("install shell asset %q: status %d", p, entry.Status)
		}
		if err := w.store.Put(ctx, gen, key, entry, w.cfg.ShellTTL); err != nil {
			_ = w.transition(StateInstalling, StateUninstalled)
			return fmt.Errorf("install shell asset %q: %w", p, err)
		}
	}

	if err := w.transition(StateInstalling, StateInstalledWaiting); err != nil {
		return err
	}
	w.logger.Info("worker installed", "generation", gen, "assets", len(w.cfg.Manifest))
	return nil
}

// Activate deletes every generation outside the current set, then starts
// serving fetches. Stale-generation reads cannot happen after activation
// because fetch handling is gated on the active state.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalledWaiting, StateActive); err != nil {
		return err
	}

	gens, err := w.store.Generations(ctx)
	if err != nil {
		w.mu.Lock()
		w.state = StateInstalledWaiting
		w.mu.Unlock()
		return fmt.Errorf("activate: enumerate generations: %w", err)
	}
	for _, g := range gens {
		if w.set.Contains(g) {
			continue
		}
		if err := w.store.DeleteGeneration(ctx, g); err != nil {
			w.mu.Lock()
			w.state = StateInstalledWaiting
			w.mu.Unlock()
			return fmt.Errorf("activate: delete stale generation %q: %w", g, err)
		}
		w.logger.Info("deleted stale cache generation", "generation", g)
	}

	w.logger.Info("worker active", "generations", w.set.Names())
	return nil
}

// HandleFetch runs the strategy engine for an intercepted GET. Non-GET
// requests must be passed through by the caller without touching the cache.
func (w *Worker) HandleFetch(ctx context.Context, r strategy.Request) (*cachestore.Entry, strategy.Source, error) {
	if w.State() != StateActive {
		return nil, "", ErrNotActive
	}
	if r.Method != http.MethodGet {
		return nil, "", fmt.Errorf("worker: refusing to intercept %s", r.Method)
	}
	return w.strategy.Serve(ctx, r)
}

func (w *Worker) resolve(p string) string {
	if w.cfg.Origin == nil {
		return p
	}
	ref, err := url.Parse(p)
	if err != nil {
		return p
	}
	return w.cfg.Origin.ResolveReference(ref).String()
}

func (w *Worker) fetch(ctx context.Context, rawURL string) (*cachestore.Entry, error) {
	timeout := w.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return cachestore.Snapshot(resp, time.Now())
}
