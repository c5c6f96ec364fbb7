// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package clipboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/glimpse-remote/glimpse/lib/codec"
)

// DefaultPollInterval is the local clipboard polling cadence.
const DefaultPollInterval = time.Second

// historyLimit caps the retained entry history.
const historyLimit = 50

// SyncerConfig configures a Syncer.
type SyncerConfig struct {
	// Provider is the local platform clipboard. Required.
	Provider Provider

	// Send transmits an encoded entry to the remote side. Required.
	Send func(data []byte) error

	// Interval is the polling cadence; zero means
	// DefaultPollInterval.
	Interval time.Duration

	// Clock drives polling. Nil means the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Syncer keeps the local clipboard and the remote side in step.
type Syncer struct {
	provider Provider
	send     func(data []byte) error
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	lastDigest [32]byte
	haveDigest bool
	history    []Entry
}

// NewSyncer creates a syncer. Call Run to start polling.
func NewSyncer(config SyncerConfig) *Syncer {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		provider: config.Provider,
		send:     config.Send,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Run polls the local provider until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.poll(ctx)
	}
}

func (s *Syncer) poll(ctx context.Context) {
	content, err := s.provider.Get(ctx)
	if err != nil {
		// An unreadable clipboard (owner gone, empty selection) is
		// routine; keep polling.
		s.logger.Debug("reading clipboard", "error", err)
		return
	}
	if len(content.Data) == 0 {
		return
	}

	digest := contentDigest(content.Type, content.Data)
	s.mu.Lock()
	if s.haveDigest && digest == s.lastDigest {
		s.mu.Unlock()
		return
	}
	s.lastDigest = digest
	s.haveDigest = true
	entry := Entry{
		ID:   uuid.NewString(),
		Type: content.Type,
		Data: content.Data,
		Metadata: Metadata{
			Size:     len(content.Data),
			MimeType: content.MimeType,
			Source:   "local",
		},
		Timestamp: s.clock.Now(),
	}
	s.recordLocked(entry)
	s.mu.Unlock()

	data, err := codec.Marshal(entry)
	if err != nil {
		s.logger.Error("encoding clipboard entry", "error", err)
		return
	}
	if err := s.send(data); err != nil {
		s.logger.Warn("broadcasting clipboard entry", "error", err)
		return
	}
	s.logger.Debug("clipboard entry broadcast",
		"id", entry.ID, "type", entry.Type, "size", entry.Metadata.Size)
}

// ApplyRemote decodes an inbound entry and writes it to the local
// clipboard. Its digest is recorded first, so the next poll sees the
// content as already known and does not broadcast it back.
func (s *Syncer) ApplyRemote(ctx context.Context, data []byte) error {
	var entry Entry
	if err := codec.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("clipboard: decoding remote entry: %w", err)
	}

	s.mu.Lock()
	s.lastDigest = contentDigest(entry.Type, entry.Data)
	s.haveDigest = true
	entry.Metadata.Source = "remote"
	s.recordLocked(entry)
	s.mu.Unlock()

	content := Content{Type: entry.Type, Data: entry.Data, MimeType: entry.Metadata.MimeType}
	if err := s.provider.Set(ctx, content); err != nil {
		return fmt.Errorf("clipboard: applying remote entry: %w", err)
	}
	s.logger.Debug("remote clipboard entry applied", "id", entry.ID, "type", entry.Type)
	return nil
}

// History returns the retained entries, most recent last.
func (s *Syncer) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

// ClearHistory drops all retained entries.
func (s *Syncer) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// recordLocked appends to history, evicting the oldest entry past the
// cap. Caller holds s.mu.
func (s *Syncer) recordLocked(entry Entry) {
	s.history = append(s.history, entry)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

func contentDigest(contentType ContentType, data []byte) [32]byte {
	hasher := blake3.New()
	hasher.Write([]byte(contentType))
	hasher.Write([]byte{0})
	hasher.Write(data)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}
