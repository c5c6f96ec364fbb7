// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import "github.com/pion/webrtc/v4"

// Event is the closed set of notifications a Client delivers to its
// subscribers. Room operations are fire-and-forget: their outcomes
// arrive as events, so callers subscribe before invoking.
type Event interface {
	event()
}

// RoomCreated reports that the relay accepted create-room.
type RoomCreated struct {
	RoomID string
}

// RoomJoined reports a successful join together with the
// relay-asserted list of peers already present. That list is the
// ordering authority for offer/answer roles: peers in it were present
// first and will offer to this client; this client offers to peers
// that join later.
type RoomJoined struct {
	RoomID   string
	Peers    []string
	Settings *RoomSettings
}

// RoomLeft reports that this client left the room.
type RoomLeft struct {
	RoomID string
}

// PeerJoined reports a new remote peer in the room.
type PeerJoined struct {
	PeerID string
}

// PeerLeft reports a relay-confirmed peer departure.
type PeerLeft struct {
	PeerID string
}

// OfferReceived carries a relayed SDP offer from a peer.
type OfferReceived struct {
	PeerID string
	SDP    string
}

// AnswerReceived carries a relayed SDP answer from a peer.
type AnswerReceived struct {
	PeerID string
	SDP    string
}

// CandidateReceived carries a relayed ICE candidate from a peer.
type CandidateReceived struct {
	PeerID    string
	Candidate webrtc.ICECandidateInit
}

// Reconnecting reports one reconnect attempt to the relay. Attempt
// counts from 1 up to the configured ceiling.
type Reconnecting struct {
	Attempt int
}

// Disconnected is terminal: the reconnect ceiling was exhausted (or
// the client was closed) and no further traffic will flow.
type Disconnected struct {
	// Reason describes why the control channel is gone.
	Reason string
}

// RelayError surfaces an error message sent by the relay.
type RelayError struct {
	Text string
}

func (RoomCreated) event()       {}
func (RoomJoined) event()        {}
func (RoomLeft) event()          {}
func (PeerJoined) event()        {}
func (PeerLeft) event()          {}
func (OfferReceived) event()     {}
func (AnswerReceived) event()    {}
func (CandidateReceived) event() {}
func (Reconnecting) event()      {}
func (Disconnected) event()      {}
func (RelayError) event()        {}
