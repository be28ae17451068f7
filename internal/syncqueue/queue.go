// Package syncqueue holds mutations performed while offline and replays them
// through the batching engine when connectivity returns. Items survive process
// restarts via an on-disk journal.
package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wanderplan/tilegate/internal/batch"
	"github.com/wanderplan/tilegate/internal/core/observability"
	"github.com/wanderplan/tilegate/internal/logger"
	"github.com/wanderplan/tilegate/internal/netquality"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Item struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Body       []byte    `json:"body,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Status     Status    `json:"status"`
	LastError  string    `json:"lastError,omitempty"`
}

// Stats is the shape served on /queue/status.
type Stats struct {
	Pending int    `json:"pending"`
	Syncing int    `json:"syncing"`
	Failed  int    `json:"failed"`
	State   string `json:"state"`
}

type Batcher interface {
	Enqueue(batch.Request) string
}

type OnlineSource interface {
	Subscribe() <-chan netquality.Sample
	Online() bool
}

type Config struct {
	// MaxAttempts is the batch engine's attempt budget. Items are enqueued
	// one attempt shy of it so a single failed replay is terminal; the next
	// replay happens on the next offline-to-online transition, not in a
	// retry loop.
	MaxAttempts int
	// Priority given to replayed mutations; kept above regular preload work.
	Priority int
}

type Queue struct {
	mu      sync.Mutex
	items   map[string]*Item
	syncing bool
	lastErr string

	batcher Batcher
	journal *Journal
	cfg     Config
	logger  *slog.Logger
}

func New(batcher Batcher, journal *Journal, cfg Config, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Priority == 0 {
		cfg.Priority = 5
	}
	q := &Queue{
		items:   make(map[string]*Item),
		batcher: batcher,
		journal: journal,
		cfg:     cfg,
		logger:  log,
	}
	loaded, err := journal.Load()
	if err != nil {
		return nil, fmt.Errorf("restore sync queue: %w", err)
	}
	for _, it := range loaded {
		q.items[it.ID] = it
	}
	if len(loaded) > 0 {
		log.Info("restored sync queue from journal", "items", len(loaded))
	}
	q.publishDepth()
	return q, nil
}

// Add records a mutation for later replay. It never performs the mutation
// itself.
func (q *Queue) Add(url, method string, body []byte) (*Item, error) {
	if method == "" || method == http.MethodGet {
		return nil, fmt.Errorf("sync queue accepts mutations only, got %q", method)
	}
	it := &Item{
		ID:         logger.NewID(),
		URL:        url,
		Method:     method,
		Body:       body,
		EnqueuedAt: time.Now(),
		Status:     StatusPending,
	}
	if err := q.journal.Put(it); err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.items[it.ID] = it
	q.mu.Unlock()
	q.publishDepth()
	q.logger.Info("queued offline mutation", "id", it.ID, "method", method, "url", url)
	return it, nil
}

// OnOnline replays everything pending or failed at the moment it is called.
// Items added while a replay is in flight wait for the next transition. A
// replay already in progress makes this a no-op.
func (q *Queue) OnOnline(ctx context.Context) {
	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return
	}
	var snapshot []*Item
	for _, it := range q.items {
		if it.Status == StatusPending || it.Status == StatusFailed {
			it.Status = StatusSyncing
			snapshot = append(snapshot, it)
		}
	}
	if len(snapshot) == 0 {
		q.mu.Unlock()
		return
	}
	q.syncing = true
	remaining := len(snapshot)
	q.mu.Unlock()

	q.logger.Info("replaying sync queue", "items", len(snapshot))
	q.publishDepth()

	for _, it := range snapshot {
		it := it
		q.batcher.Enqueue(batch.Request{
			ID:       it.ID,
			URL:      it.URL,
			Method:   it.Method,
			Payload:  it.Body,
			Priority: q.cfg.Priority,
			Attempts: q.cfg.MaxAttempts - 1,
			Done: func(res batch.Result) {
				q.settle(it, res)
				q.mu.Lock()
				remaining--
				if remaining == 0 {
					q.syncing = false
				}
				q.mu.Unlock()
				q.publishDepth()
			},
		})
	}
}

func (q *Queue) settle(it *Item, res batch.Result) {
	q.mu.Lock()
	if res.Failed() {
		it.Status = StatusFailed
		if res.Err != nil {
			it.LastError = res.Err.Error()
		} else {
			it.LastError = fmt.Sprintf("status %d", res.Status)
		}
		q.lastErr = it.LastError
		q.mu.Unlock()
		observability.IncSyncResult("failed")
		q.logger.Warn("sync replay failed", "id", it.ID, "url", it.URL, "err", it.LastError)
		if err := q.journal.Put(it); err != nil {
			q.logger.Error("journal update failed", "id", it.ID, "err", err)
		}
		return
	}

	it.Status = StatusCompleted
	delete(q.items, it.ID)
	q.mu.Unlock()
	observability.IncSyncResult("ok")
	q.logger.Info("sync replay completed", "id", it.ID, "url", it.URL, "status", res.Status)
	if err := q.journal.Delete(it.ID); err != nil {
		q.logger.Error("journal delete failed", "id", it.ID, "err", err)
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{State: "idle"}
	for _, it := range q.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusSyncing:
			s.Syncing++
		case StatusFailed:
			s.Failed++
		}
	}
	if q.syncing {
		s.State = "syncing"
	} else if s.Failed > 0 {
		s.State = "error"
	}
	return s
}

// Clear drops every queued item, journal included.
func (q *Queue) Clear() error {
	q.mu.Lock()
	q.items = make(map[string]*Item)
	q.lastErr = ""
	q.mu.Unlock()
	q.publishDepth()
	return q.journal.Clear()
}

// Run watches connectivity and triggers a replay on every offline-to-online
// transition. Blocks until ctx is done.
func (q *Queue) Run(ctx context.Context, src OnlineSource) {
	sub := src.Subscribe()
	prev := src.Online()
	if prev {
		// came up online with journaled work
		q.OnOnline(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sub:
			if s.Online && !prev {
				q.OnOnline(ctx)
			}
			prev = s.Online
		}
	}
}

func (q *Queue) publishDepth() {
	q.mu.Lock()
	var pending, failed, syncing int
	for _, it := range q.items {
		switch it.Status {
		case StatusPending:
			pending++
		case StatusSyncing:
			syncing++
		case StatusFailed:
			failed++
		}
	}
	q.mu.Unlock()
	observability.SetSyncQueueDepth("pending", pending)
	observability.SetSyncQueueDepth("syncing", syncing)
	observability.SetSyncQueueDepth("failed", failed)
}
