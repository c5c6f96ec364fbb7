// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package quality turns raw transport statistics into a discrete
// connection-health level.
//
// [Sample] is one instantaneous reading of a peer's transport
// (packet loss, round-trip time, jitter, frame drops). [Classify]
// reduces a sample to one of six ordered [Level] values; the overall
// level is the worst band triggered by any single metric, so one bad
// dimension is enough to degrade the classification. Samples are
// consumed once and discarded — only the latest level per peer is
// retained, by the caller.
//
// [Sampler] runs the fixed-cadence sampling loop for one peer,
// pulling samples from a [StatsSource] and invoking its callback only
// when the level changes, which keeps noisy-but-stable links from
// generating event storms.
package quality

import "time"

// Level is a discrete classification of live transport health,
// ordered from best to worst.
type Level int

const (
	Excellent Level = iota
	Good
	Fair
	Poor
	Critical
	// Disconnected is reserved for the absence of a live transport.
	// Metrics alone never classify to it.
	Disconnected
)

var levelNames = map[Level]string{
	Excellent:    "excellent",
	Good:         "good",
	Fair:         "fair",
	Poor:         "poor",
	Critical:     "critical",
	Disconnected: "disconnected",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// AtLeastPoor reports whether the level warrants recovery action.
func (l Level) AtLeastPoor() bool { return l >= Poor }

// Sample is one reading of a peer's transport statistics. Produced on
// a fixed cadence, consumed once by Classify, then discarded.
type Sample struct {
	PeerID          string
	PacketLossRatio float64
	RoundTripTime   time.Duration
	Jitter          time.Duration
	FrameDropRatio  float64
	SampledAt       time.Time
}

// Per-metric band thresholds. Each value is the inclusive lower bound
// of its band: a round-trip time of exactly 500ms classifies critical.
var (
	rttBands = [4]time.Duration{
		60 * time.Millisecond,  // good
		150 * time.Millisecond, // fair
		300 * time.Millisecond, // poor
		500 * time.Millisecond, // critical
	}
	lossBands   = [4]float64{0.005, 0.02, 0.05, 0.12}
	jitterBands = [4]time.Duration{
		10 * time.Millisecond,
		30 * time.Millisecond,
		60 * time.Millisecond,
		120 * time.Millisecond,
	}
	frameDropBands = [4]float64{0.01, 0.03, 0.08, 0.20}
)

// Classify reduces a sample to a level: the worst band triggered by
// any single metric. It never returns Disconnected — that level is
// asserted by the connection owner when the transport is gone, not
// derived from metrics.
func Classify(sample Sample) Level {
	level := durationBand(sample.RoundTripTime, rttBands)
	if lossLevel := ratioBand(sample.PacketLossRatio, lossBands); lossLevel > level {
		level = lossLevel
	}
	if jitterLevel := durationBand(sample.Jitter, jitterBands); jitterLevel > level {
		level = jitterLevel
	}
	if dropLevel := ratioBand(sample.FrameDropRatio, frameDropBands); dropLevel > level {
		level = dropLevel
	}
	return level
}

func durationBand(value time.Duration, bands [4]time.Duration) Level {
	switch {
	case value >= bands[3]:
		return Critical
	case value >= bands[2]:
		return Poor
	case value >= bands[1]:
		return Fair
	case value >= bands[0]:
		return Good
	default:
		return Excellent
	}
}

func ratioBand(value float64, bands [4]float64) Level {
	switch {
	case value >= bands[3]:
		return Critical
	case value >= bands[2]:
		return Poor
	case value >= bands[1]:
		return Fair
	case value >= bands[0]:
		return Good
	default:
		return Excellent
	}
}
