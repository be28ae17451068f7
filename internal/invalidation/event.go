// Package invalidation defines the content-change event contract published by
// the itinerary backend when POI data is mutated out-of-band.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Entity  string    `json:"entity"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`

	// Paths are origin-relative request paths whose cached responses are
	// stale after this change, e.g. "/api/pois" or "/api/pois/42".
	Paths []string `json:"paths"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Entity) == "" {
		return fmt.Errorf("entity is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if len(e.Paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	for _, p := range e.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("path %q must be origin-relative", p)
		}
	}
	return nil
}
