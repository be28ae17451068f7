package cachestore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Entry is an immutable snapshot of a network response. The body is copied
// out of the live response so the cache write and the caller are independent
// consumers of the same payload.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
}

func (e *Entry) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return b, nil
}

func DecodeEntry(b []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

// Snapshot drains resp.Body into an Entry. The response body is closed.
func Snapshot(resp *http.Response, now time.Time) (*Entry, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("snapshot body: %w", err)
	}
	h := make(http.Header, len(resp.Header))
	for k, v := range resp.Header {
		h[k] = v
	}
	return &Entry{
		Status:   resp.StatusCode,
		Header:   h,
		Body:     body,
		StoredAt: now,
	}, nil
}

// WriteTo replays the snapshot onto a live response writer.
func (e *Entry) WriteTo(w http.ResponseWriter) {
	for k, vs := range e.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

func (e *Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}
