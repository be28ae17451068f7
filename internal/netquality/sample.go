// Package netquality produces a best-effort, continuously updated
// classification of the gateway's network connection, and derives the tier
// parameters every adaptive consumer (batching, preload, tile radius,
// strategy gating) reads from.
package netquality

import "time"

type EffectiveType string

const (
	Slow2G  EffectiveType = "slow-2g"
	Conn2G  EffectiveType = "2g"
	Conn3G  EffectiveType = "3g"
	Conn4G  EffectiveType = "4g"
	Unknown EffectiveType = "unknown"
)

// Sample is the last observed connection state. Never persisted; it always
// reflects "now".
type Sample struct {
	EffectiveType EffectiveType
	DownlinkMbps  float64
	RoundTripMs   float64
	SaveData      bool
	Online        bool
	At            time.Time
}

// DefaultSample is what consumers see when no probing capability exists:
// unknown type, zero measurements, assumed online.
func DefaultSample(now time.Time) Sample {
	return Sample{
		EffectiveType: Unknown,
		Online:        true,
		At:            now,
	}
}

type Capability int

const (
	CapabilityAvailable Capability = iota
	CapabilityUnavailable
)

func (c Capability) String() string {
	if c == CapabilityAvailable {
		return "available"
	}
	return "unavailable"
}
