// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package quality

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// PeerConnectionSource reads a live pion PeerConnection's stats
// report and reduces it to a Sample. Round-trip time prefers the
// selected ICE candidate pair; loss and jitter come from
// remote-inbound RTP stats (the receiver's view of what we sent).
type PeerConnectionSource struct {
	conn *webrtc.PeerConnection

	// frameCounts, when non-nil, supplies cumulative sent and dropped
	// frame counts from the stream adapter. Frame drops are a capture
	// signal that pion cannot see.
	frameCounts func() (sent, dropped uint64)

	lastSent    uint64
	lastDropped uint64
}

// NewPeerConnectionSource creates a stats source for conn.
// frameCounts may be nil when no local media is being sent.
func NewPeerConnectionSource(conn *webrtc.PeerConnection, frameCounts func() (sent, dropped uint64)) *PeerConnectionSource {
	return &PeerConnectionSource{conn: conn, frameCounts: frameCounts}
}

// Sample reduces the current stats report. It never fails on missing
// stats entries — a young connection simply yields zero readings.
func (s *PeerConnectionSource) Sample(_ context.Context) (Sample, error) {
	report := s.conn.GetStats()

	sample := Sample{SampledAt: time.Now()}
	for _, entry := range report {
		switch stats := entry.(type) {
		case webrtc.ICECandidatePairStats:
			if stats.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			rtt := time.Duration(stats.CurrentRoundTripTime * float64(time.Second))
			if rtt > sample.RoundTripTime {
				sample.RoundTripTime = rtt
			}
		case webrtc.RemoteInboundRTPStreamStats:
			if stats.FractionLost > sample.PacketLossRatio {
				sample.PacketLossRatio = stats.FractionLost
			}
			jitter := time.Duration(stats.Jitter * float64(time.Second))
			if jitter > sample.Jitter {
				sample.Jitter = jitter
			}
			if sample.RoundTripTime == 0 && stats.RoundTripTime > 0 {
				sample.RoundTripTime = time.Duration(stats.RoundTripTime * float64(time.Second))
			}
		}
	}

	if s.frameCounts != nil {
		sent, dropped := s.frameCounts()
		deltaSent := sent - s.lastSent
		deltaDropped := dropped - s.lastDropped
		s.lastSent, s.lastDropped = sent, dropped
		if total := deltaSent + deltaDropped; total > 0 {
			sample.FrameDropRatio = float64(deltaDropped) / float64(total)
		}
	}

	return sample, nil
}
