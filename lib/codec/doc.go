// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Glimpse's standard binary serialization:
// CBOR with Core Deterministic Encoding.
//
// Every payload that crosses a data channel (input events, clipboard
// entries, file-transfer chunks) and every payload that gets signed or
// encrypted by the security manager goes through [Marshal] and
// [Unmarshal]. Deterministic encoding guarantees that signing the
// "same" message twice produces the same bytes, independent of Go map
// iteration order.
//
// The signaling wire protocol is JSON (see the signaling package) —
// that boundary is shared with non-Go relay implementations. CBOR is
// used only peer-to-peer.
package codec
