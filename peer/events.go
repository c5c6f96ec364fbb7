// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/glimpse-remote/glimpse/quality"
)

// Event is the closed set of notifications a Manager delivers to its
// subscribers.
type Event interface {
	event()
}

// Connected reports a fully established transport, either the first
// time or after a successful recovery.
type Connected struct {
	PeerID string
	Handle Handle
}

// Recovering reports one ICE-restart attempt. Attempt counts from 1
// up to the restart ceiling.
type Recovering struct {
	PeerID  string
	Attempt int
}

// Closed is terminal for one peer: its record is gone and no further
// events for that peer will fire.
type Closed struct {
	PeerID string
	Reason string
}

// QualityChanged reports a connection quality level transition for
// one peer.
type QualityChanged struct {
	PeerID string
	Level  quality.Level
	Sample quality.Sample
}

// TrackReceived reports an inbound media track from a peer.
type TrackReceived struct {
	PeerID   string
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// ControlChannelOpen reports that the peer's control data channel is
// ready to carry input, clipboard, and file-transfer traffic.
type ControlChannelOpen struct {
	PeerID  string
	Handle  Handle
	Channel DataChannel
}

func (Connected) event()          {}
func (Recovering) event()         {}
func (Closed) event()             {}
func (QualityChanged) event()     {}
func (TrackReceived) event()      {}
func (ControlChannelOpen) event() {}
