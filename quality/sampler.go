// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultSampleInterval is the cadence at which a peer's transport
// statistics are pulled.
const DefaultSampleInterval = 2 * time.Second

// StatsSource supplies raw transport statistics for one peer. The
// production implementation reads pion PeerConnection stats; tests
// script the readings.
type StatsSource interface {
	Sample(ctx context.Context) (Sample, error)
}

// Sampler runs the fixed-cadence classification loop for a single
// peer. Only a level change invokes the callback. A transient stats
// failure is logged and skipped; it never stops the loop.
type Sampler struct {
	peerID   string
	source   StatsSource
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	// onChange receives each level transition together with the
	// sample that caused it.
	onChange func(Level, Sample)
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	PeerID   string
	Source   StatsSource
	OnChange func(Level, Sample)

	// Interval is the sampling cadence; zero means
	// DefaultSampleInterval.
	Interval time.Duration
	// Clock drives the cadence. Nil means the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// NewSampler creates a sampler. Call Run to start it.
func NewSampler(config SamplerConfig) *Sampler {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		peerID:   config.PeerID,
		source:   config.Source,
		interval: interval,
		clock:    clk,
		logger:   logger,
		onChange: config.OnChange,
	}
}

// Run samples until ctx is cancelled. The first classification always
// fires the callback (there is no previous level); afterwards only
// changes do. Cancelling ctx stops the loop immediately — the owner
// cancels it before destroying the peer record.
func (s *Sampler) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	havePrevious := false
	var previous Level

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, err := s.source.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// One peer's stats fetch failing is a local transient:
			// log, skip, keep sampling.
			s.logger.Debug("stats sample failed", "peer", s.peerID, "error", err)
			continue
		}
		sample.PeerID = s.peerID

		level := Classify(sample)
		if havePrevious && level == previous {
			continue
		}
		havePrevious = true
		previous = level
		if s.onChange != nil {
			s.onChange(level, sample)
		}
	}
}
