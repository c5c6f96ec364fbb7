// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package filetransfer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/glimpse-remote/glimpse/lib/codec"
)

const (
	// DefaultChunkSize keeps each frame comfortably under data
	// channel message limits even before compression helps.
	DefaultChunkSize = 64 * 1024

	// MaxChunkSize bounds what either side will accept.
	MaxChunkSize = 256 * 1024
)

// Progress reports how far a transfer has advanced.
type Progress struct {
	TransferID string
	Name       string
	ChunksDone int
	ChunkCount int
	BytesDone  int64
	Size       int64
}

// ErrUnknownTransfer reports a protocol frame for a transfer this
// side is not tracking.
var ErrUnknownTransfer = errors.New("filetransfer: unknown transfer")

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Send transmits one encoded protocol frame. Required.
	Send func(data []byte) error

	// ChunkSize bounds the uncompressed bytes per chunk; zero means
	// DefaultChunkSize, and values above MaxChunkSize are clamped.
	ChunkSize int

	// OnProgress, when non-nil, observes chunk completion.
	OnProgress func(Progress)

	// Logger is used for structured logging. Nil means
	// slog.Default().
	Logger *slog.Logger
}

type outgoing struct {
	name    string
	payload []byte
}

// Sender drives the offering side: it proposes transfers and streams
// compressed chunks once the receiver accepts.
type Sender struct {
	send       func(data []byte) error
	chunkSize  int
	onProgress func(Progress)
	logger     *slog.Logger
	encoder    *zstd.Encoder

	mu        sync.Mutex
	transfers map[string]*outgoing
}

// NewSender creates a sender.
func NewSender(config SenderConfig) (*Sender, error) {
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > MaxChunkSize {
		chunkSize = MaxChunkSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: creating compressor: %w", err)
	}
	return &Sender{
		send:       config.Send,
		chunkSize:  chunkSize,
		onProgress: config.OnProgress,
		logger:     logger,
		encoder:    encoder,
		transfers:  make(map[string]*outgoing),
	}, nil
}

// Offer proposes sending payload under the given name and returns the
// transfer id. Chunks flow only after the receiver accepts.
func (s *Sender) Offer(name string, payload []byte) (string, error) {
	digest := blake3.Sum256(payload)
	chunkCount := (len(payload) + s.chunkSize - 1) / s.chunkSize
	if chunkCount == 0 {
		chunkCount = 1 // empty file still needs one (empty) chunk
	}

	transferID := uuid.NewString()
	offer := Message{
		Type:       MsgOffer,
		TransferID: transferID,
		Name:       name,
		Size:       int64(len(payload)),
		ChunkSize:  s.chunkSize,
		ChunkCount: chunkCount,
		FileDigest: digest[:],
	}
	// Registered before the offer goes out: an accept can arrive
	// before sendMessage returns when the channel is synchronous.
	s.mu.Lock()
	s.transfers[transferID] = &outgoing{name: name, payload: payload}
	s.mu.Unlock()

	if err := s.sendMessage(&offer); err != nil {
		s.mu.Lock()
		delete(s.transfers, transferID)
		s.mu.Unlock()
		return "", err
	}

	s.logger.Info("transfer offered",
		"transfer", transferID, "name", name, "size", len(payload), "chunks", chunkCount)
	return transferID, nil
}

// Cancel withdraws an offered or in-flight transfer.
func (s *Sender) Cancel(transferID, reason string) error {
	s.mu.Lock()
	_, ok := s.transfers[transferID]
	delete(s.transfers, transferID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	return s.sendMessage(&Message{Type: MsgCancel, TransferID: transferID, Reason: reason})
}

// HandleMessage processes one inbound protocol frame: accept starts
// the chunk stream, cancel drops the transfer.
func (s *Sender) HandleMessage(data []byte) error {
	var message Message
	if err := codec.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("filetransfer: decoding frame: %w", err)
	}
	if err := message.Validate(); err != nil {
		return err
	}

	switch message.Type {
	case MsgAccept:
		return s.stream(message.TransferID)
	case MsgCancel:
		s.mu.Lock()
		delete(s.transfers, message.TransferID)
		s.mu.Unlock()
		s.logger.Info("transfer cancelled by receiver",
			"transfer", message.TransferID, "reason", message.Reason)
		return nil
	default:
		return fmt.Errorf("%w: unexpected %s on sending side", ErrMalformedMessage, message.Type)
	}
}

// stream pushes every chunk followed by the completion marker.
func (s *Sender) stream(transferID string) error {
	s.mu.Lock()
	transfer, ok := s.transfers[transferID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}

	payload := transfer.payload
	chunkCount := (len(payload) + s.chunkSize - 1) / s.chunkSize
	if chunkCount == 0 {
		chunkCount = 1
	}

	for index := 0; index < chunkCount; index++ {
		start := index * s.chunkSize
		end := min(start+s.chunkSize, len(payload))
		chunk := payload[start:end]
		digest := blake3.Sum256(chunk)

		message := Message{
			Type:        MsgChunk,
			TransferID:  transferID,
			Index:       index,
			Data:        s.encoder.EncodeAll(chunk, nil),
			ChunkDigest: digest[:],
		}
		if err := s.sendMessage(&message); err != nil {
			return err
		}
		if s.onProgress != nil {
			s.onProgress(Progress{
				TransferID: transferID,
				Name:       transfer.name,
				ChunksDone: index + 1,
				ChunkCount: chunkCount,
				BytesDone:  int64(end),
				Size:       int64(len(payload)),
			})
		}
	}

	if err := s.sendMessage(&Message{Type: MsgComplete, TransferID: transferID}); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.transfers, transferID)
	s.mu.Unlock()
	s.logger.Info("transfer sent", "transfer", transferID, "name", transfer.name)
	return nil
}

func (s *Sender) sendMessage(message *Message) error {
	data, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("filetransfer: encoding %s: %w", message.Type, err)
	}
	if err := s.send(data); err != nil {
		return fmt.Errorf("filetransfer: sending %s: %w", message.Type, err)
	}
	return nil
}
