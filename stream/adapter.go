// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/glimpse-remote/glimpse/quality"
)

// Mode selects how the adapter feeds frames into its track. It is
// chosen once at startup (see [DetectMode]) and never changes.
type Mode int

const (
	// ModeEncoded passes already-encoded chunks straight through:
	// the source owns timing and keyframes.
	ModeEncoded Mode = iota
	// ModeRaster treats frames as raw rasters re-captured from an
	// intermediate surface and re-timestamps them at the nominal
	// frame rate.
	ModeRaster
)

func (m Mode) String() string {
	if m == ModeEncoded {
		return "encoded"
	}
	return "raster"
}

// CaptureStats is a point-in-time view of capture health. It is
// sampled independently of network quality: a struggling encoder and
// a struggling network are different problems.
type CaptureStats struct {
	EffectiveFPS  float64
	Width         int
	Height        int
	FramesSent    uint64
	FramesDropped uint64
}

// ErrNoMonitor reports a capture start against a monitor the source
// does not have.
var ErrNoMonitor = errors.New("stream: monitor index out of range")

// mediaTrack is the track surface the adapter writes to.
// TrackLocalStaticSample satisfies it.
type mediaTrack interface {
	webrtc.TrackLocal
	WriteSample(media.Sample) error
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	// Source is the capture collaborator. Required.
	Source CaptureSource

	// Attach publishes a track to every connected peer and reports
	// how many attaches succeeded. Wired to the peer manager's
	// AddTrackToAllPeers. Required.
	Attach func(webrtc.TrackLocal) int

	// Mode is the pipeline mode; see DetectMode.
	Mode Mode

	// Monitor is the display index to capture.
	Monitor int

	// Capture is the initial encoder parameter set. Its BitrateKbps
	// and FPS become the adaptation ladder's 100% rung.
	Capture CaptureConfig

	// Clock drives stats windows. Nil means the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means
	// slog.Default().
	Logger *slog.Logger

	// newTrack overrides track construction in tests.
	newTrack func(Format) (mediaTrack, error)
}

// Adapter bridges a capture source to WebRTC tracks. It pumps frames
// from the source into a local track, follows out-of-band format
// changes by rebuilding the track, and steps the encoder up and down
// the bitrate ladder as connection quality moves.
type Adapter struct {
	source   CaptureSource
	attach   func(webrtc.TrackLocal) int
	mode     Mode
	monitor  int
	nominal  CaptureConfig
	clock    clock.Clock
	logger   *slog.Logger
	newTrack func(Format) (mediaTrack, error)

	mu          sync.Mutex
	track       mediaTrack
	format      Format
	current     CaptureConfig
	rung        quality.Level
	sent        uint64
	dropped     uint64
	lastStatsAt time.Time
	lastSent    uint64
	running     bool
}

// NewAdapter creates an adapter. Call Start to begin streaming.
func NewAdapter(config AdapterConfig) *Adapter {
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capture := config.Capture
	if capture.FPS <= 0 {
		capture.FPS = 30
	}
	if capture.BitrateKbps <= 0 {
		capture.BitrateKbps = 4000
	}
	if capture.Codec == "" {
		capture.Codec = CodecVP8
	}
	newTrack := config.newTrack
	if newTrack == nil {
		newTrack = func(format Format) (mediaTrack, error) {
			return webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: format.Codec.MimeType()},
				"glimpse-video", "glimpse-"+uuid.NewString())
		}
	}
	return &Adapter{
		source:   config.Source,
		attach:   config.Attach,
		mode:     config.Mode,
		monitor:  config.Monitor,
		nominal:  capture,
		current:  capture,
		rung:     quality.Excellent,
		clock:    clk,
		logger:   logger,
		newTrack: newTrack,
	}
}

// Start validates the monitor, starts the capture, publishes the
// track, and runs the frame pump until ctx is cancelled or the source
// closes its frame channel.
func (a *Adapter) Start(ctx context.Context) error {
	monitors, err := a.source.Monitors()
	if err != nil {
		return fmt.Errorf("stream: enumerating monitors: %w", err)
	}
	if a.monitor < 0 || a.monitor >= len(monitors) {
		return fmt.Errorf("%w: %d of %d", ErrNoMonitor, a.monitor, len(monitors))
	}
	selected := monitors[a.monitor]

	if err := a.source.StartCapture(a.monitor, a.nominal); err != nil {
		return fmt.Errorf("stream: starting capture: %w", err)
	}

	format := Format{
		Codec:  a.nominal.Codec,
		Width:  selected.Width,
		Height: selected.Height,
		FPS:    a.nominal.FPS,
	}
	if err := a.publishTrack(format); err != nil {
		a.source.StopCapture()
		return err
	}

	a.mu.Lock()
	a.running = true
	a.lastStatsAt = a.clock.Now()
	a.mu.Unlock()

	a.logger.Info("stream started",
		"mode", a.mode.String(), "monitor", selected.Name,
		"codec", format.Codec, "width", format.Width, "height", format.Height)

	go a.pump(ctx)
	return nil
}

// publishTrack builds a track for format and attaches it to every
// peer. Zero successful attaches is fine: peers arriving later get
// the track through the peer manager's remembered-track list.
func (a *Adapter) publishTrack(format Format) error {
	track, err := a.newTrack(format)
	if err != nil {
		return fmt.Errorf("stream: creating track: %w", err)
	}
	attached := a.attach(track)

	a.mu.Lock()
	a.track = track
	a.format = format
	a.mu.Unlock()

	a.logger.Info("track published", "codec", format.Codec, "attached", attached)
	return nil
}

// pump moves frames from the source to the track and follows format
// changes until the capture ends.
func (a *Adapter) pump(ctx context.Context) {
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		if err := a.source.StopCapture(); err != nil {
			a.logger.Debug("stopping capture", "error", err)
		}
	}()

	frames := a.source.Frames()
	changes := a.source.FormatChanges()

	for {
		select {
		case <-ctx.Done():
			return
		case format, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			// The source changed codec or dimensions mid-session:
			// the old track's codec no longer matches, so the
			// pipeline is rebuilt around a fresh one.
			a.logger.Info("capture format changed",
				"codec", format.Codec, "width", format.Width, "height", format.Height)
			if err := a.publishTrack(format); err != nil {
				a.logger.Error("republishing track", "error", err)
			}
		case frame, ok := <-frames:
			if !ok {
				return
			}
			a.writeFrame(frame)
		}
	}
}

func (a *Adapter) writeFrame(frame Frame) {
	a.mu.Lock()
	track := a.track
	duration := frame.Duration
	if a.mode == ModeRaster || duration <= 0 {
		// Raster frames carry no encoder timing; re-timestamp at the
		// nominal rate.
		fps := a.current.FPS
		if fps <= 0 {
			fps = a.nominal.FPS
		}
		duration = time.Second / time.Duration(fps)
	}
	a.mu.Unlock()

	if track == nil {
		return
	}
	err := track.WriteSample(media.Sample{Data: frame.Data, Duration: duration})

	a.mu.Lock()
	if err != nil {
		a.dropped++
	} else {
		a.sent++
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Debug("writing sample", "error", err)
	}
}

// ApplyQuality steps the encoder along the adaptation ladder for the
// new connection quality level. Same level twice is a no-op.
func (a *Adapter) ApplyQuality(level quality.Level) {
	a.mu.Lock()
	if level == a.rung || !a.running {
		a.mu.Unlock()
		return
	}
	a.rung = level
	config := a.ladderConfigLocked(level)
	a.current = config
	a.mu.Unlock()

	a.logger.Info("adapting capture to quality",
		"level", level.String(), "bitrateKbps", config.BitrateKbps, "fps", config.FPS)
	if err := a.source.Reconfigure(config); err != nil {
		a.logger.Warn("reconfiguring capture", "error", err)
	}
}

// ladderConfigLocked maps a quality level to encoder parameters as a
// fraction of the nominal rung. Caller holds a.mu.
func (a *Adapter) ladderConfigLocked(level quality.Level) CaptureConfig {
	config := a.nominal
	switch level {
	case quality.Excellent:
		// full rate
	case quality.Good:
		config.BitrateKbps = a.nominal.BitrateKbps * 85 / 100
	case quality.Fair:
		config.BitrateKbps = a.nominal.BitrateKbps * 60 / 100
	case quality.Poor:
		config.BitrateKbps = a.nominal.BitrateKbps * 40 / 100
		config.FPS = min(a.nominal.FPS, 20)
	default:
		// Critical and worse: minimum viable picture.
		config.BitrateKbps = a.nominal.BitrateKbps / 4
		config.FPS = min(a.nominal.FPS, 10)
	}
	return config
}

// Stats reports capture health over the window since the previous
// Stats call.
func (a *Adapter) Stats() CaptureStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	stats := CaptureStats{
		Width:         a.format.Width,
		Height:        a.format.Height,
		FramesSent:    a.sent,
		FramesDropped: a.dropped,
	}
	if elapsed := now.Sub(a.lastStatsAt); elapsed > 0 {
		stats.EffectiveFPS = float64(a.sent-a.lastSent) / elapsed.Seconds()
	}
	a.lastStatsAt = now
	a.lastSent = a.sent
	return stats
}

// FrameCounts exposes cumulative sent and dropped counts in the shape
// the quality sampler consumes.
func (a *Adapter) FrameCounts() (sent, dropped uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent, a.dropped
}
