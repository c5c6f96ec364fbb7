// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/glimpse-remote/glimpse/quality"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeSource scripts a capture collaborator.
type fakeSource struct {
	mu           sync.Mutex
	monitors     []MonitorInfo
	started      []CaptureConfig
	reconfigured []CaptureConfig
	stopped      int

	frames  chan Frame
	changes chan Format
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		monitors: []MonitorInfo{
			{Index: 0, Name: "primary", Width: 1920, Height: 1080, Primary: true},
			{Index: 1, Name: "side", Width: 1280, Height: 1024},
		},
		frames:  make(chan Frame, 64),
		changes: make(chan Format, 4),
	}
}

func (s *fakeSource) StartCapture(monitor int, config CaptureConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, config)
	return nil
}

func (s *fakeSource) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeSource) Reconfigure(config CaptureConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconfigured = append(s.reconfigured, config)
	return nil
}

func (s *fakeSource) Monitors() ([]MonitorInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MonitorInfo(nil), s.monitors...), nil
}

func (s *fakeSource) Frames() <-chan Frame         { return s.frames }
func (s *fakeSource) FormatChanges() <-chan Format { return s.changes }

func (s *fakeSource) lastReconfigure(t *testing.T) CaptureConfig {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reconfigured) == 0 {
		t.Fatal("no Reconfigure call recorded")
	}
	return s.reconfigured[len(s.reconfigured)-1]
}

// fakeTrack records written samples behind a real TrackLocal facade.
type fakeTrack struct {
	webrtc.TrackLocal

	mu       sync.Mutex
	samples  []media.Sample
	failNext bool
	format   Format
}

func (f *fakeTrack) WriteSample(sample media.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("scripted write failure")
	}
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeTrack) sampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

type harness struct {
	adapter *Adapter
	source  *fakeSource
	clock   *clock.Mock

	mu       sync.Mutex
	tracks   []*fakeTrack
	attaches int
}

func newHarness(t *testing.T, mutate func(*AdapterConfig)) *harness {
	t.Helper()
	h := &harness{source: newFakeSource(), clock: clock.NewMock()}
	config := AdapterConfig{
		Source: h.source,
		Attach: func(webrtc.TrackLocal) int {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.attaches++
			return 2
		},
		Mode:    ModeRaster,
		Capture: CaptureConfig{FPS: 30, BitrateKbps: 4000, Codec: CodecVP8},
		Clock:   h.clock,
		Logger:  discardLogger(),
		newTrack: func(format Format) (mediaTrack, error) {
			track := &fakeTrack{format: format}
			h.mu.Lock()
			h.tracks = append(h.tracks, track)
			h.mu.Unlock()
			return track, nil
		},
	}
	if mutate != nil {
		mutate(&config)
	}
	h.adapter = NewAdapter(config)
	return h
}

func (h *harness) start(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.adapter.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(cancel)
	return cancel
}

func (h *harness) track(t *testing.T, index int) *fakeTrack {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if index >= len(h.tracks) {
		t.Fatalf("track %d not created (have %d)", index, len(h.tracks))
	}
	return h.tracks[index]
}

func waitUntil(t *testing.T, condition func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRejectsBadMonitorIndex(t *testing.T) {
	h := newHarness(t, func(c *AdapterConfig) { c.Monitor = 7 })
	err := h.adapter.Start(context.Background())
	if !errors.Is(err, ErrNoMonitor) {
		t.Fatalf("Start with bad monitor = %v, want ErrNoMonitor", err)
	}
	h.source.mu.Lock()
	defer h.source.mu.Unlock()
	if len(h.source.started) != 0 {
		t.Fatal("capture started despite invalid monitor")
	}
}

func TestRasterFramesRetimestampedAtNominalRate(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	// Raster frames arrive with no timing of their own.
	h.source.frames <- Frame{Data: []byte{1}}
	h.source.frames <- Frame{Data: []byte{2}}

	track := h.track(t, 0)
	waitUntil(t, func() bool { return track.sampleCount() == 2 }, "two samples")

	track.mu.Lock()
	defer track.mu.Unlock()
	want := time.Second / 30
	for i, sample := range track.samples {
		if sample.Duration != want {
			t.Errorf("sample %d duration = %v, want %v", i, sample.Duration, want)
		}
	}
}

func TestEncodedFramesKeepSourceTiming(t *testing.T) {
	h := newHarness(t, func(c *AdapterConfig) { c.Mode = ModeEncoded })
	h.start(t)

	h.source.frames <- Frame{Data: []byte{1}, Duration: 41 * time.Millisecond}

	track := h.track(t, 0)
	waitUntil(t, func() bool { return track.sampleCount() == 1 }, "one sample")

	track.mu.Lock()
	defer track.mu.Unlock()
	if got := track.samples[0].Duration; got != 41*time.Millisecond {
		t.Errorf("duration = %v, want the source's 41ms", got)
	}
}

func TestFormatChangeRebuildsTrack(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.source.changes <- Format{Codec: CodecH264, Width: 2560, Height: 1440, FPS: 30}

	waitUntil(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.tracks) == 2
	}, "replacement track")

	replacement := h.track(t, 1)
	if replacement.format.Codec != CodecH264 || replacement.format.Width != 2560 {
		t.Fatalf("replacement format = %+v, want h264 2560 wide", replacement.format)
	}

	// Frames after the change land on the new track.
	h.source.frames <- Frame{Data: []byte{9}}
	waitUntil(t, func() bool { return replacement.sampleCount() == 1 }, "frame on new track")
	if h.track(t, 0).sampleCount() != 0 {
		t.Fatal("frame leaked onto the retired track")
	}
}

func TestWriteFailureCountsAsDrop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	track := h.track(t, 0)
	track.mu.Lock()
	track.failNext = true
	track.mu.Unlock()

	h.source.frames <- Frame{Data: []byte{1}}
	h.source.frames <- Frame{Data: []byte{2}}

	waitUntil(t, func() bool {
		sent, dropped := h.adapter.FrameCounts()
		return sent == 1 && dropped == 1
	}, "one sent, one dropped")
}

func TestQualityLadderStepsEncoderDownAndBack(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.adapter.ApplyQuality(quality.Critical)
	config := h.source.lastReconfigure(t)
	if config.BitrateKbps != 1000 {
		t.Errorf("critical bitrate = %d, want 1000", config.BitrateKbps)
	}
	if config.FPS != 10 {
		t.Errorf("critical fps = %d, want 10", config.FPS)
	}

	h.adapter.ApplyQuality(quality.Excellent)
	config = h.source.lastReconfigure(t)
	if config.BitrateKbps != 4000 || config.FPS != 30 {
		t.Errorf("recovered config = %+v, want the nominal 4000/30", config)
	}

	// Same level twice must not touch the encoder again.
	h.source.mu.Lock()
	calls := len(h.source.reconfigured)
	h.source.mu.Unlock()
	h.adapter.ApplyQuality(quality.Excellent)
	h.source.mu.Lock()
	defer h.source.mu.Unlock()
	if len(h.source.reconfigured) != calls {
		t.Error("repeated level reconfigured the encoder")
	}
}

func TestStatsMeasureEffectiveFPSOverWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	for i := 0; i < 30; i++ {
		h.source.frames <- Frame{Data: []byte{byte(i)}}
	}
	track := h.track(t, 0)
	waitUntil(t, func() bool { return track.sampleCount() == 30 }, "all frames written")

	h.clock.Add(time.Second)
	stats := h.adapter.Stats()
	if stats.EffectiveFPS < 29.9 || stats.EffectiveFPS > 30.1 {
		t.Errorf("EffectiveFPS = %v, want ~30", stats.EffectiveFPS)
	}
	if stats.FramesSent != 30 || stats.FramesDropped != 0 {
		t.Errorf("counters = %d sent %d dropped, want 30/0", stats.FramesSent, stats.FramesDropped)
	}
	if stats.Width != 1920 || stats.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want the captured monitor's 1920x1080", stats.Width, stats.Height)
	}
}

func TestClosedFrameChannelStopsCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	close(h.source.frames)

	waitUntil(t, func() bool {
		h.source.mu.Lock()
		defer h.source.mu.Unlock()
		return h.source.stopped == 1
	}, "StopCapture after source ended")
}
