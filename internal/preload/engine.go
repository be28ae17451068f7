// Package preload speculatively warms resources the user is statistically
// likely to need next, driven by coarse per-session action counters. Preload
// work rides the batching engine at low priority and never surfaces a failure
// to the triggering action.
package preload

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/wanderplan/tilegate/internal/batch"
	"github.com/wanderplan/tilegate/internal/core/observability"
	"github.com/wanderplan/tilegate/internal/netquality"
	"github.com/wanderplan/tilegate/internal/tiles"
)

type CandidateType string

const (
	TypeScript CandidateType = "script"
	TypeStyle  CandidateType = "style"
	TypeImage  CandidateType = "image"
	TypeData   CandidateType = "data"
)

type Candidate struct {
	Type     CandidateType
	URL      string
	Priority int
}

// Rule fires once an action's counter reaches Threshold. Evaluation happens
// on stride boundaries, so a rule keeps re-firing as the counter grows; warms
// are idempotent cache fills, so that is cheap.
type Rule struct {
	Action     string
	Threshold  int
	Candidates []Candidate
}

type Batcher interface {
	Enqueue(batch.Request) string
}

type QualityView interface {
	Params() netquality.Params
}

type viewport struct {
	lat, lon float64
	zoom     int
	set      bool
}

type Engine struct {
	mu     sync.Mutex
	counts map[string]int
	vp     viewport

	stride       int
	rules        []Rule
	tileTemplate string

	batcher Batcher
	quality QualityView
	logger  *slog.Logger
}

func New(batcher Batcher, quality QualityView, rules []Rule, stride int, tileTemplate string, logger *slog.Logger) *Engine {
	if stride <= 0 {
		stride = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		counts:       make(map[string]int),
		stride:       stride,
		rules:        rules,
		tileTemplate: tileTemplate,
		batcher:      batcher,
		quality:      quality,
		logger:       logger,
	}
}

// TrackAction increments the session counter for name and evaluates the rule
// set on every stride-th occurrence.
func (e *Engine) TrackAction(name string) {
	e.mu.Lock()
	e.counts[name]++
	count := e.counts[name]
	e.mu.Unlock()

	if count%e.stride != 0 {
		return
	}
	e.evaluate(name, count)
}

// SetViewport records the map center used for tile-radius preloading.
func (e *Engine) SetViewport(lat, lon float64, zoom int) {
	e.mu.Lock()
	e.vp = viewport{lat: lat, lon: lon, zoom: zoom, set: true}
	e.mu.Unlock()
}

func (e *Engine) Count(action string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[action]
}

func (e *Engine) evaluate(action string, count int) {
	for _, r := range e.rules {
		if r.Action != action || count < r.Threshold {
			continue
		}
		for _, c := range r.Candidates {
			e.enqueue(c)
		}
	}

	if action == "map_move" {
		e.preloadTiles()
	}
}

// preloadTiles enqueues the tiles around the current viewport within the
// tier-derived radius. On the poorest tier the radius is zero and only the
// center tile is warmed.
func (e *Engine) preloadTiles() {
	e.mu.Lock()
	vp := e.vp
	e.mu.Unlock()
	if !vp.set || e.tileTemplate == "" {
		return
	}

	radius := e.quality.Params().TileRadius
	for _, u := range tiles.Around(e.tileTemplate, vp.lat, vp.lon, vp.zoom, radius) {
		e.enqueue(Candidate{Type: TypeImage, URL: u, Priority: 1})
	}
}

func (e *Engine) enqueue(c Candidate) {
	typ := c.Type
	e.batcher.Enqueue(batch.Request{
		URL:      c.URL,
		Method:   http.MethodGet,
		Priority: c.Priority,
		Done: func(res batch.Result) {
			if res.Err != nil {
				// preload failures are logged and swallowed, never surfaced
				observability.IncPreloadResult(string(typ), "failed")
				e.logger.Debug("preload failed", "type", string(typ), "url", c.URL, "err", res.Err)
				return
			}
			observability.IncPreloadResult(string(typ), "ok")
		},
	})
}

// DefaultRules maps the itinerary app's interaction counters to warm-up
// candidates against the given origin.
func DefaultRules(origin string) []Rule {
	return []Rule{
		{
			Action:    "add_poi",
			Threshold: 3,
			Candidates: []Candidate{
				{Type: TypeData, URL: origin + "/api/pois", Priority: 2},
				{Type: TypeData, URL: origin + "/api/categories", Priority: 1},
			},
		},
		{
			Action:    "open_map",
			Threshold: 2,
			Candidates: []Candidate{
				{Type: TypeScript, URL: origin + "/assets/map.js", Priority: 2},
				{Type: TypeStyle, URL: origin + "/assets/map.css", Priority: 2},
			},
		},
		{
			Action:    "open_calendar",
			Threshold: 3,
			Candidates: []Candidate{
				{Type: TypeScript, URL: origin + "/assets/calendar.js", Priority: 1},
			},
		},
	}
}
