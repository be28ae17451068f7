package invalidation

import (
	"encoding/json"
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		Version: 1,
		Op:      "update",
		Entity:  "poi",
		TS:      time.Now(),
		Paths:   []string{"/api/pois", "/api/pois/42"},
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	if err := validEvent().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"wrong version", func(e *Event) { e.Version = 2 }},
		{"bad op", func(e *Event) { e.Op = "upsert" }},
		{"empty entity", func(e *Event) { e.Entity = "  " }},
		{"zero timestamp", func(e *Event) { e.TS = time.Time{} }},
		{"no paths", func(e *Event) { e.Paths = nil }},
		{"relative path", func(e *Event) { e.Paths = []string{"api/pois"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEvent()
			tc.mutate(&e)
			if err := e.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestEventJSONShape(t *testing.T) {
	raw := []byte(`{
		"version": 1,
		"op": "delete",
		"entity": "poi",
		"ts": "2026-08-24T10:00:00Z",
		"paths": ["/api/pois/7"]
	}`)
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if e.Op != "delete" || len(e.Paths) != 1 {
		t.Fatalf("decoded %+v", e)
	}
}
