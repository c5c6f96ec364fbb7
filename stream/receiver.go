// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// sampleLateness is how many packets of reordering the sample builder
// absorbs before giving up on a gap.
const sampleLateness = 64

const videoClockRate = 90000

// Receiver unwraps one inbound remote track into complete frames for
// the consuming surface. RTP packets are reassembled per codec; a
// frame is emitted only when every packet of its access unit arrived.
type Receiver struct {
	track  *webrtc.TrackRemote
	logger *slog.Logger
	frames chan Frame
}

// NewReceiver creates a receiver for track. Call Run to start
// reading.
func NewReceiver(track *webrtc.TrackRemote, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		track:  track,
		logger: logger,
		frames: make(chan Frame, 16),
	}
}

// Frames delivers reassembled frames. The channel closes when the
// track ends.
func (r *Receiver) Frames() <-chan Frame {
	return r.frames
}

// Run reads the track until ctx is cancelled or the track ends.
func (r *Receiver) Run(ctx context.Context) {
	defer close(r.frames)

	depacketizer := depacketizerFor(r.track.Codec().MimeType)
	builder := samplebuilder.New(sampleLateness, depacketizer, videoClockRate)

	for {
		packet, _, err := r.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.logger.Debug("reading track", "error", err)
			}
			return
		}
		builder.Push(packet)

		for {
			sample := builder.Pop()
			if sample == nil {
				break
			}
			frame := Frame{Data: sample.Data, Duration: sample.Duration}
			select {
			case r.frames <- frame:
			default:
				// A stalled consumer must not stall the track read
				// loop; the frame is lost, the stream recovers at
				// the next keyframe.
			}
		}
	}
}

func depacketizerFor(mimeType string) rtp.Depacketizer {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return &codecs.H264Packet{}
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}
	case strings.EqualFold(mimeType, webrtc.MimeTypeAV1):
		return &codecs.AV1Depacketizer{}
	default:
		return &codecs.VP8Packet{}
	}
}
