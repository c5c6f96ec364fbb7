// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package input carries remote input events between peers.
//
// An [Event] covers pointer, keyboard, touch-gesture, and
// special-command input, with multi-monitor targeting via
// [MonitorConfiguration]. Events travel CBOR-encoded over a WebRTC
// data channel: a [Sender] on the viewing side, a [Bridge] on the
// hosting side. The bridge validates each event and hands it to the
// injected [Forwarder]; while forwarding is disabled, events are
// dropped, never queued.
package input
