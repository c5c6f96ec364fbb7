// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream bridges an external capture/encode source to WebRTC
// media tracks.
//
// An [Adapter] pumps frames from a [CaptureSource] into a local
// track, publishes that track to every peer, and rebuilds the
// pipeline when the source announces a codec or dimension change. It
// runs in one of two modes fixed at startup: [ModeEncoded] forwards
// hardware-encoded chunks as-is, [ModeRaster] re-timestamps raw
// rasters at the nominal frame rate. Connection quality levels feed
// an adaptation ladder that steps the encoder's bitrate and frame
// rate; capture health itself is reported separately through
// [Adapter.Stats], because a struggling encoder and a congested
// network need different remedies.
//
// A [Receiver] performs the inverse for inbound tracks, reassembling
// RTP packets into whole frames per codec.
package stream
