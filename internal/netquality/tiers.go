package netquality

import "time"

type Tier int

const (
	TierPoor Tier = iota
	TierModerate
	TierGood
	TierExcellent
)

func (t Tier) String() string {
	switch t {
	case TierPoor:
		return "poor"
	case TierModerate:
		return "moderate"
	case TierGood:
		return "good"
	case TierExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

var TierNames = []string{"poor", "moderate", "good", "excellent"}

// Params are the knobs consumers derive from the current tier. The table must
// be monotonic: a worse tier never gets a bigger batch, shorter delay, higher
// concurrency, or wider tile radius than a better one.
type Params struct {
	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
	TileRadius  int
}

type TierTable struct {
	Poor      Params
	Moderate  Params
	Good      Params
	Excellent Params
}

func (t TierTable) For(tier Tier) Params {
	switch tier {
	case TierPoor:
		return t.Poor
	case TierGood:
		return t.Good
	case TierExcellent:
		return t.Excellent
	default:
		return t.Moderate
	}
}

// TierFor classifies a sample. fastDownlinkMin separates the standard 4g tier
// from the most aggressive one.
func TierFor(s Sample, fastDownlinkMin float64) Tier {
	if s.SaveData {
		return TierPoor
	}
	switch s.EffectiveType {
	case Slow2G, Conn2G:
		return TierPoor
	case Conn3G:
		return TierModerate
	case Conn4G:
		if fastDownlinkMin > 0 && s.DownlinkMbps >= fastDownlinkMin {
			return TierExcellent
		}
		return TierGood
	default:
		// no connection metadata: middle of the road, never aggressive
		return TierModerate
	}
}
