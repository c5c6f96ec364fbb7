// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer manages WebRTC connections to every remote peer in a
// room.
//
// A [Manager] consumes [signaling.Client] events and maintains one
// [Transport] per remote peer, held in an arena and referenced by a
// stable [Handle]. The side already present in the room initiates the
// offer to each newcomer; the joiner answers every peer the relay
// lists as already present.
//
// Each peer moves through a fixed lifecycle: new, negotiating,
// connected, and on trouble degraded, recovering, and finally closed.
// A connected peer whose quality falls to Poor or worse is recovered
// with an ICE restart; after [DefaultMaxRestarts] consecutive failed
// attempts the peer is closed for good. The restart budget refills
// only when a transport fully reconnects.
//
// Every locally generated session description carries per-media
// bandwidth hints (see [BandwidthConfig]), including restart offers.
//
// Next to media, each peer carries one control [DataChannel] (labelled
// [ControlChannelLabel]) for input, clipboard, and file-transfer
// traffic. The offering side opens it before its first offer; the
// answering side adopts it and both sides learn of readiness through
// [ControlChannelOpen].
package peer
