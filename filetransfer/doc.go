// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package filetransfer moves files between peers over a dedicated
// data channel.
//
// Transfers are chunked, zstd-compressed, and digest-verified twice:
// every chunk carries a BLAKE3 digest of its uncompressed bytes, and
// the offer carries a digest of the whole file that the assembled
// result must match. Either digest failing aborts the transfer —
// partial or corrupted content is never delivered.
//
// The protocol is five CBOR frames: offer, accept, chunk, complete,
// cancel. A [Sender] offers and streams on acceptance; a [Receiver]
// verifies and delivers. Both report [Progress] as chunks move.
package filetransfer
