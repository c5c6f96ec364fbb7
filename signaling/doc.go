// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling maintains the control channel between a Glimpse
// endpoint and the relay that brokers session setup.
//
// [Client] owns one logical connection to the relay. Room operations
// ([Client.CreateRoom], [Client.JoinRoom], [Client.LeaveRoom]) are
// fire-and-forget requests whose outcomes arrive asynchronously as
// [Event] values; callers subscribe with [Client.Subscribe] (which
// returns a deregistration handle) before invoking. A message sent
// while disconnected fails immediately with [ErrNotConnected] — the
// client never buffers control traffic across an outage.
//
// When the connection drops, the client retries with exponential
// backoff up to a configured ceiling, emitting one [Reconnecting]
// event per attempt and a terminal [Disconnected] event when the
// ceiling is exhausted. A periodic keepalive ping runs on the open
// connection; total silence (not even a pong) for the dead-peer
// interval is treated as a disconnect.
//
// The wire protocol is JSON over a message-oriented connection (see
// [Message] and [Kind]); the relay is the sole ordering authority for
// control messages. The production transport is a gorilla websocket
// ([WebsocketDialer]); the relaytest subpackage provides an
// in-process relay for tests.
//
// When a security.Manager is attached, privileged messages carry an
// HMAC signature and timestamp; inbound privileged messages are
// verified — signature first, then freshness — before any handler
// acts on them, and dropped silently on failure.
package signaling
