package syncqueue

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wanderplan/tilegate/internal/batch"
	"github.com/wanderplan/tilegate/internal/netquality"
)

// scriptedBatcher settles every enqueued request synchronously.
type scriptedBatcher struct {
	mu   sync.Mutex
	reqs []batch.Request
	fail bool
}

func (b *scriptedBatcher) Enqueue(r batch.Request) string {
	b.mu.Lock()
	b.reqs = append(b.reqs, r)
	fail := b.fail
	b.mu.Unlock()
	if r.Done != nil {
		if fail {
			r.Done(batch.Result{ID: r.ID, Err: errors.New("scripted failure")})
		} else {
			r.Done(batch.Result{ID: r.ID, Status: http.StatusCreated})
		}
	}
	return r.ID
}

func (b *scriptedBatcher) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reqs)
}

func newQueue(t *testing.T, b Batcher, journal *Journal) *Queue {
	t.Helper()
	q, err := New(b, journal, Config{MaxAttempts: 5}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestAddRejectsGET(t *testing.T) {
	q := newQueue(t, &scriptedBatcher{}, nil)
	if _, err := q.Add("https://a/pois", http.MethodGet, nil); err == nil {
		t.Fatalf("GET must not be queueable")
	}
}

func TestReplayCompletesAndRemoves(t *testing.T) {
	b := &scriptedBatcher{}
	q := newQueue(t, b, nil)

	if _, err := q.Add("https://a/pois", http.MethodPost, []byte(`{"name":"louvre"}`)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s := q.Stats(); s.Pending != 1 || s.State != "idle" {
		t.Fatalf("stats before replay = %+v", s)
	}

	q.OnOnline(context.Background())

	if b.count() != 1 {
		t.Fatalf("batcher saw %d requests, want 1", b.count())
	}
	s := q.Stats()
	if s.Pending != 0 || s.Failed != 0 || s.Syncing != 0 {
		t.Fatalf("stats after replay = %+v", s)
	}
}

func TestReplayFailureIsTerminalUntilNextTransition(t *testing.T) {
	b := &scriptedBatcher{fail: true}
	q := newQueue(t, b, nil)

	_, _ = q.Add("https://a/pois", http.MethodPost, nil)

	q.OnOnline(context.Background())

	s := q.Stats()
	if s.Failed != 1 {
		t.Fatalf("stats = %+v, want one failed item", s)
	}
	if s.State != "error" {
		t.Fatalf("state = %q, want error", s.State)
	}
	if b.count() != 1 {
		t.Fatalf("batcher saw %d requests; a failed item must not loop", b.count())
	}

	// items enqueued one attempt shy of the budget: a single failure is final
	b.mu.Lock()
	attempts := b.reqs[0].Attempts
	b.mu.Unlock()
	if attempts != 4 {
		t.Fatalf("enqueued with %d attempts, want MaxAttempts-1", attempts)
	}

	// the next transition retries it
	b.mu.Lock()
	b.fail = false
	b.mu.Unlock()
	q.OnOnline(context.Background())
	if s := q.Stats(); s.Failed != 0 || s.Pending != 0 {
		t.Fatalf("stats after second transition = %+v", s)
	}
}

func TestReplayInFlightIsNoop(t *testing.T) {
	// batcher that never settles, so the queue stays in the syncing state
	b := &scriptedBatcherNoSettle{}
	q := newQueue(t, b, nil)

	_, _ = q.Add("https://a/1", http.MethodPost, nil)
	q.OnOnline(context.Background())
	q.OnOnline(context.Background())

	if b.count() != 1 {
		t.Fatalf("second OnOnline re-enqueued mid-sync: %d", b.count())
	}
	if s := q.Stats(); s.State != "syncing" || s.Syncing != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

type scriptedBatcherNoSettle struct {
	mu   sync.Mutex
	reqs []batch.Request
}

func (b *scriptedBatcherNoSettle) Enqueue(r batch.Request) string {
	b.mu.Lock()
	b.reqs = append(b.reqs, r)
	b.mu.Unlock()
	return r.ID
}

func (b *scriptedBatcherNoSettle) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reqs)
}

func TestClearDropsEverything(t *testing.T) {
	q := newQueue(t, &scriptedBatcher{fail: true}, nil)
	_, _ = q.Add("https://a/1", http.MethodPost, nil)
	_, _ = q.Add("https://a/2", http.MethodDelete, nil)

	if err := q.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s := q.Stats(); s.Pending != 0 || s.Failed != 0 {
		t.Fatalf("stats after clear = %+v", s)
	}
}

func TestJournalSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	j1, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	q1 := newQueue(t, &scriptedBatcherNoSettle{}, j1)
	it, err := q1.Add("https://a/pois", http.MethodPost, []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := OpenJournal(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = j2.Close() })

	b := &scriptedBatcher{}
	q2 := newQueue(t, b, j2)
	if s := q2.Stats(); s.Pending != 1 {
		t.Fatalf("restored stats = %+v, want one pending", s)
	}

	q2.OnOnline(context.Background())
	b.mu.Lock()
	gotID := b.reqs[0].ID
	gotBody := string(b.reqs[0].Payload)
	b.mu.Unlock()
	if gotID != it.ID {
		t.Fatalf("restored item has ID %q, want %q", gotID, it.ID)
	}
	if gotBody != `{"x":1}` {
		t.Fatalf("restored body = %q", gotBody)
	}

	// completion removes the journal row
	loaded, err := j2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("journal still holds %d items after completion", len(loaded))
	}
}

func TestRunReplaysOnOfflineToOnlineTransition(t *testing.T) {
	m := netquality.New(netquality.Config{})
	m.SetOnline(false)

	b := &scriptedBatcher{}
	q := newQueue(t, b, nil)
	_, _ = q.Add("https://a/pois", http.MethodPost, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, m)

	time.Sleep(20 * time.Millisecond)
	if b.count() != 0 {
		t.Fatalf("replay happened while offline")
	}

	m.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for b.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("online transition never triggered a replay")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
