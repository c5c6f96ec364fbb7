// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// VideoCodec names the compressed format a capture source emits.
type VideoCodec string

const (
	CodecH264 VideoCodec = "h264"
	CodecVP8  VideoCodec = "vp8"
	CodecVP9  VideoCodec = "vp9"
	CodecAV1  VideoCodec = "av1"
)

// MimeType maps the codec to its WebRTC MIME type. Unknown codecs
// map to VP8, the format every receiver can decode.
func (c VideoCodec) MimeType() string {
	switch c {
	case CodecH264:
		return webrtc.MimeTypeH264
	case CodecVP8:
		return webrtc.MimeTypeVP8
	case CodecVP9:
		return webrtc.MimeTypeVP9
	case CodecAV1:
		return webrtc.MimeTypeAV1
	}
	return webrtc.MimeTypeVP8
}

// LatencyMode trades latency against visual quality in the encoder.
type LatencyMode string

const (
	LatencyUltraLow LatencyMode = "ultra-low"
	LatencyBalanced LatencyMode = "balanced"
	LatencyQuality  LatencyMode = "quality"
)

// MonitorInfo describes one capturable display.
type MonitorInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	RefreshRate int    `json:"refreshRate"`
	Primary     bool   `json:"primary"`
}

// CaptureConfig is the encoder/capture parameter set. The adapter
// rewrites BitrateKbps and FPS as connection quality moves.
type CaptureConfig struct {
	FPS         int
	BitrateKbps int
	Codec       VideoCodec
	Latency     LatencyMode
}

// Format describes the shape of the frames a source is currently
// producing. A source announces a new Format out of band whenever the
// codec or dimensions change.
type Format struct {
	Codec  VideoCodec
	Width  int
	Height int
	FPS    int
}

// Frame is one unit of captured video: an encoded chunk in the
// hardware path, a raw raster in the fallback path.
type Frame struct {
	Data     []byte
	Duration time.Duration
	Keyframe bool
}

// CaptureSource is the external capture/encode collaborator. The
// platform shell implements it; everything here treats it as opaque.
type CaptureSource interface {
	// StartCapture begins producing frames from the given monitor.
	StartCapture(monitor int, config CaptureConfig) error

	// StopCapture halts frame production. Idempotent.
	StopCapture() error

	// Reconfigure applies new encoder parameters to a running
	// capture without restarting it.
	Reconfigure(config CaptureConfig) error

	// Monitors enumerates capturable displays.
	Monitors() ([]MonitorInfo, error)

	// Frames delivers captured frames. The channel closes when the
	// capture stops.
	Frames() <-chan Frame

	// FormatChanges announces codec or dimension changes.
	FormatChanges() <-chan Format
}

// HardwareProber is optionally implemented by sources that know
// whether their platform has a working hardware encode path.
type HardwareProber interface {
	HardwareEncoder() bool
}

// DetectMode picks the adapter mode for a source: ModeEncoded when
// the source reports a hardware encode path, ModeRaster otherwise.
// Called once at startup; the mode never changes mid-session.
func DetectMode(source CaptureSource) Mode {
	if prober, ok := source.(HardwareProber); ok && prober.HardwareEncoder() {
		return ModeEncoded
	}
	return ModeRaster
}
