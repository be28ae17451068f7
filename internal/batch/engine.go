// Package batch decouples "an operation wants to happen" from "when and how
// many happen together". Queued requests are grouped into batches whose size,
// delay, and concurrency derive from the current network quality tier.
package batch

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wanderplan/tilegate/internal/core/observability"
	"github.com/wanderplan/tilegate/internal/logger"
	"github.com/wanderplan/tilegate/internal/netquality"
)

type Request struct {
	ID         string
	URL        string
	Method     string
	Payload    []byte
	Priority   int
	EnqueuedAt time.Time
	Attempts   int

	// Done, when set, receives the terminal result: success, or the error
	// that exhausted the attempt budget.
	Done func(Result)

	seq uint64
}

type Result struct {
	ID     string
	Status int
	Err    error
}

func (r Result) Failed() bool {
	return r.Err != nil || r.Status >= 400
}

// Executor performs one request. The default executor does a plain HTTP
// round trip; the gateway wires a cache-aware one for GETs.
type Executor func(ctx context.Context, r *Request) Result

// QualityView supplies the tier parameters governing the next flush.
type QualityView interface {
	Params() netquality.Params
	TierName() string
}

type Config struct {
	MinPriority int
	MaxAttempts int
}

type Engine struct {
	mu         sync.Mutex
	pq         requestHeap
	seq        uint64
	timer      *time.Timer
	timerArmed bool
	closed     bool

	exec    Executor
	quality QualityView
	cfg     Config
	logger  *slog.Logger

	flushWG sync.WaitGroup
}

func New(exec Executor, quality QualityView, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Engine{
		exec:    exec,
		quality: quality,
		cfg:     cfg,
		logger:  log,
	}
}

// NewHTTPExecutor builds the default executor over an outbound client.
// Payloads are sent as JSON bodies on mutating methods.
func NewHTTPExecutor(client *http.Client) Executor {
	return func(ctx context.Context, r *Request) Result {
		var body *bytes.Reader
		if len(r.Payload) > 0 {
			body = bytes.NewReader(r.Payload)
		} else {
			body = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
		if err != nil {
			return Result{ID: r.ID, Err: fmt.Errorf("build request: %w", err)}
		}
		if len(r.Payload) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			return Result{ID: r.ID, Err: fmt.Errorf("execute %s %s: %w", r.Method, r.URL, err)}
		}
		defer func() { _ = resp.Body.Close() }()
		return Result{ID: r.ID, Status: resp.StatusCode}
	}
}

// Enqueue inserts the request and arms the flush timer if none is pending.
// An already-armed timer is never reset, so constant arrival cannot delay a
// flush indefinitely.
func (e *Engine) Enqueue(r Request) string {
	if r.ID == "" {
		r.ID = logger.NewID()
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return r.ID
	}
	e.seq++
	r.seq = e.seq
	heap.Push(&e.pq, &r)
	e.armLocked()
	return r.ID
}

// armLocked schedules the next flush unless one is already pending.
func (e *Engine) armLocked() {
	if e.timerArmed || e.pq.Len() == 0 || e.closed {
		return
	}
	delay := e.quality.Params().BatchDelay
	e.timerArmed = true
	e.timer = time.AfterFunc(delay, func() {
		e.Flush(context.Background())
	})
}

// Flush takes one batch off the queue and executes it. Also called directly
// on shutdown and in tests.
func (e *Engine) Flush(ctx context.Context) {
	params := e.quality.Params()

	e.mu.Lock()
	e.timerArmed = false
	size := params.BatchSize
	if size <= 0 {
		size = 1
	}
	batch := make([]*Request, 0, size)
	for len(batch) < size && e.pq.Len() > 0 {
		batch = append(batch, heap.Pop(&e.pq).(*Request))
	}
	// leftover work gets its own window
	e.armLocked()
	e.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	observability.ObserveBatchFlush(e.quality.TierName(), len(batch))
	e.logger.Debug("flushing batch",
		"size", len(batch), "tier", e.quality.TierName(), "concurrency", params.Concurrency)

	e.flushWG.Add(1)
	defer e.flushWG.Done()
	e.execute(ctx, batch, params.Concurrency)
}

// execute runs GETs in parallel under the tier's concurrency cap and
// mutations strictly sequentially in dequeue order, so writes cannot race
// each other against the backend.
func (e *Engine) execute(ctx context.Context, batch []*Request, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}

	var gets, mutations []*Request
	for _, r := range batch {
		if r.Method == http.MethodGet {
			gets = append(gets, r)
		} else {
			mutations = append(mutations, r)
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for _, r := range gets {
		wg.Add(1)
		go func(r *Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			e.settle(r, e.exec(ctx, r))
		}(r)
	}

	for _, r := range mutations {
		e.settle(r, e.exec(ctx, r))
	}
	wg.Wait()
}

// settle resolves one executed request: success completes it, failure
// re-enqueues it with decayed priority until the attempt budget runs out.
func (e *Engine) settle(r *Request, res Result) {
	if !res.Failed() {
		if r.Done != nil {
			r.Done(res)
		}
		return
	}

	r.Attempts++
	if r.Attempts >= e.cfg.MaxAttempts {
		observability.IncBatchDrop()
		e.logger.Warn("dropping batched request after max attempts",
			"id", r.ID, "url", r.URL, "attempts", r.Attempts, "err", res.Err)
		if r.Done != nil {
			if res.Err == nil {
				res.Err = fmt.Errorf("status %d after %d attempts", res.Status, r.Attempts)
			}
			r.Done(res)
		}
		return
	}

	observability.IncBatchRetry()
	if r.Priority > e.cfg.MinPriority {
		r.Priority--
	}
	e.logger.Debug("re-enqueueing failed request",
		"id", r.ID, "priority", r.Priority, "attempts", r.Attempts)

	e.mu.Lock()
	if !e.closed {
		e.seq++
		r.seq = e.seq
		heap.Push(&e.pq, r)
		e.armLocked()
	}
	e.mu.Unlock()
}

func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pq.Len()
}

// Close stops scheduling and waits for in-flight flushes.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerArmed = false
	e.mu.Unlock()
	e.flushWG.Wait()
}
