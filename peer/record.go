// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/glimpse-remote/glimpse/quality"
)

// Role classifies the remote end of a peer record. The peer that was
// in the room first hosts the session; everyone who joins later views.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// State is a peer record's position in its lifecycle.
type State int

const (
	// StateNew: record exists, no negotiation exchanged yet.
	StateNew State = iota
	// StateNegotiating: an offer or answer is in flight.
	StateNegotiating
	// StateConnected: the transport is established and healthy.
	StateConnected
	// StateDegraded: connected but quality has fallen to Poor or
	// worse.
	StateDegraded
	// StateRecovering: an ICE restart is in progress.
	StateRecovering
	// StateClosed: terminal. The record is gone from the arena.
	StateClosed
)

var stateNames = map[State]string{
	StateNew:         "new",
	StateNegotiating: "negotiating",
	StateConnected:   "connected",
	StateDegraded:    "degraded",
	StateRecovering:  "recovering",
	StateClosed:      "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// record is the manager's per-peer bookkeeping. All fields are
// guarded by the manager mutex; the transport and sampler run their
// own goroutines but re-enter the manager through callbacks that take
// the lock.
type record struct {
	peerID    string
	handle    Handle
	transport Transport
	state     State

	// restarts counts consecutive failed recovery attempts. It resets
	// to zero only on a fully re-established transport.
	restarts int

	// restartTimer fires when a recovery attempt does not reach
	// connected in time. Nil outside StateRecovering.
	restartTimer *clock.Timer

	// offerer is true when this side initiates negotiation for this
	// peer: the side already in the room offers to the newcomer.
	offerer bool

	// role is what the remote peer is to us. A peer we offer to
	// joined after us and views; a peer that answers us was present
	// first and hosts.
	role Role

	// control is the per-peer control data channel once negotiated.
	// The offerer creates it before its first offer; the answerer
	// adopts it when the transport surfaces it.
	control DataChannel

	// lastActivity is the time of the most recent signaling, state,
	// sample, or control-channel event seen for this peer.
	lastActivity time.Time

	// quality sampling lifecycle, cancelled on destroy.
	sampleCancel context.CancelFunc
	level        quality.Level
}
