package netquality

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wanderplan/tilegate/internal/core/observability"
)

// Prober measures one round trip against a reference endpoint.
type Prober interface {
	Probe(ctx context.Context) (rttMs, downlinkMbps float64, err error)
}

// HTTPProber measures RTT with a HEAD request and, when a body URL is
// configured, estimates downlink from a small GET.
type HTTPProber struct {
	Client  *http.Client
	HeadURL string
	BodyURL string
}

func (p *HTTPProber) Probe(ctx context.Context) (float64, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.HeadURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("probe request: %w", err)
	}
	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("probe head: %w", err)
	}
	_ = resp.Body.Close()
	rtt := float64(time.Since(start).Milliseconds())

	var downlink float64
	if p.BodyURL != "" {
		breq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BodyURL, nil)
		if err != nil {
			return rtt, 0, nil
		}
		bstart := time.Now()
		bresp, err := p.Client.Do(breq)
		if err == nil {
			n, _ := io.Copy(io.Discard, bresp.Body)
			_ = bresp.Body.Close()
			if dur := time.Since(bstart).Seconds(); dur > 0 && n > 0 {
				downlink = float64(n) * 8 / dur / 1e6
			}
		}
	}
	return rtt, downlink, nil
}

type Config struct {
	Prober          Prober // nil means the capability is unavailable
	Interval        time.Duration
	FastDownlinkMin float64
	Tiers           TierTable
	Logger          *slog.Logger

	// Alpha is the smoothing factor applied to rtt/downlink estimates,
	// in (0,1]; 1 disables smoothing.
	Alpha float64
}

// Monitor holds the last known sample and notifies subscribers on change.
// Current never blocks; consumers must not cache a classification beyond the
// current tick.
type Monitor struct {
	mu         sync.RWMutex
	cur        Sample
	capability Capability
	subs       []chan Sample

	prober          Prober
	interval        time.Duration
	fastDownlinkMin float64
	tiers           TierTable
	alpha           float64
	logger          *slog.Logger
	now             func() time.Time

	smoothedRTT      float64
	smoothedDownlink float64
}

func New(cfg Config) *Monitor {
	capability := CapabilityAvailable
	if cfg.Prober == nil {
		capability = CapabilityUnavailable
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		capability:      capability,
		prober:          cfg.Prober,
		interval:        cfg.Interval,
		fastDownlinkMin: cfg.FastDownlinkMin,
		tiers:           cfg.Tiers,
		alpha:           cfg.Alpha,
		logger:          logger,
		now:             time.Now,
	}
	m.cur = DefaultSample(m.now())
	return m
}

func (m *Monitor) Capability() Capability { return m.capability }

// Current returns the last known sample without blocking.
func (m *Monitor) Current() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func (m *Monitor) Tier() Tier {
	return TierFor(m.Current(), m.fastDownlinkMin)
}

func (m *Monitor) Params() Params {
	return m.tiers.For(m.Tier())
}

func (m *Monitor) ParamsFor(t Tier) Params { return m.tiers.For(t) }

func (m *Monitor) TierName() string { return m.Tier().String() }

// Fast reports whether the connection is good enough for network-first
// behavior on gated strategies.
func (m *Monitor) Fast() bool {
	t := m.Tier()
	return t == TierGood || t == TierExcellent
}

func (m *Monitor) Online() bool {
	return m.Current().Online
}

// Subscribe returns a channel receiving every sample change. Slow consumers
// miss intermediate samples rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan Sample {
	ch := make(chan Sample, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// ForceSample overrides the current sample and notifies subscribers. Used by
// tests and by the connectivity signal endpoint.
func (m *Monitor) ForceSample(s Sample) {
	if s.At.IsZero() {
		s.At = m.now()
	}
	m.publish(s)
}

// SetOnline flips only the connectivity bit, keeping measurements. This is
// the adapter for platform online/offline signals.
func (m *Monitor) SetOnline(online bool) {
	cur := m.Current()
	if cur.Online == online {
		return
	}
	cur.Online = online
	cur.At = m.now()
	m.publish(cur)
}

// Run polls the prober until ctx is done. With no capability it returns
// immediately, leaving the conservative default sample in place.
func (m *Monitor) Run(ctx context.Context) {
	if m.capability == CapabilityUnavailable {
		m.logger.Info("network quality probing unavailable; reporting unknown")
		return
	}
	m.probeOnce(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	rtt, downlink, err := m.prober.Probe(ctx)
	if err != nil {
		m.logger.Debug("probe failed; reporting offline", "err", err)
		m.publish(Sample{EffectiveType: Unknown, Online: false, At: m.now()})
		return
	}

	m.mu.Lock()
	if m.smoothedRTT == 0 {
		m.smoothedRTT = rtt
	} else {
		m.smoothedRTT = m.alpha*rtt + (1-m.alpha)*m.smoothedRTT
	}
	if downlink > 0 {
		if m.smoothedDownlink == 0 {
			m.smoothedDownlink = downlink
		} else {
			m.smoothedDownlink = m.alpha*downlink + (1-m.alpha)*m.smoothedDownlink
		}
	}
	srtt, sdl := m.smoothedRTT, m.smoothedDownlink
	m.mu.Unlock()

	m.publish(Sample{
		EffectiveType: classify(srtt, sdl),
		DownlinkMbps:  sdl,
		RoundTripMs:   srtt,
		Online:        true,
		At:            m.now(),
	})
}

// classify maps measured rtt/downlink onto effective connection types. The
// breakpoints follow the usual network-information heuristics; they are
// tuning, not contract.
func classify(rttMs, downlinkMbps float64) EffectiveType {
	switch {
	case rttMs >= 2000 || (downlinkMbps > 0 && downlinkMbps < 0.05):
		return Slow2G
	case rttMs >= 1400 || (downlinkMbps > 0 && downlinkMbps < 0.07):
		return Conn2G
	case rttMs >= 270 || (downlinkMbps > 0 && downlinkMbps < 0.7):
		return Conn3G
	case rttMs > 0:
		return Conn4G
	default:
		return Unknown
	}
}

func (m *Monitor) publish(s Sample) {
	m.mu.Lock()
	changed := m.cur.EffectiveType != s.EffectiveType ||
		m.cur.Online != s.Online ||
		m.cur.SaveData != s.SaveData ||
		m.cur.DownlinkMbps != s.DownlinkMbps ||
		m.cur.RoundTripMs != s.RoundTripMs
	m.cur = s
	subs := make([]chan Sample, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	observability.ObserveProbe(s.RoundTripMs/1000, s.DownlinkMbps)
	observability.SetNetTier(TierFor(s, m.fastDownlinkMin).String(), TierNames)

	if !changed {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}
