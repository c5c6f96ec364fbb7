// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package filetransfer

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/glimpse-remote/glimpse/lib/codec"
)

// ErrDigestMismatch reports content whose digest does not match what
// the sender declared. The transfer fails; nothing partial is
// delivered.
var ErrDigestMismatch = errors.New("filetransfer: digest mismatch")

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Send transmits accept and cancel frames back to the sender.
	// Required.
	Send func(data []byte) error

	// AcceptOffer decides whether to take an offered transfer. Nil
	// accepts everything.
	AcceptOffer func(id, name string, size int64) bool

	// OnComplete delivers a fully verified file.
	OnComplete func(id, name string, content []byte)

	// OnFailed reports a transfer that will never complete.
	OnFailed func(id string, err error)

	// OnProgress, when non-nil, observes chunk arrival.
	OnProgress func(Progress)

	// Logger is used for structured logging. Nil means
	// slog.Default().
	Logger *slog.Logger
}

type incoming struct {
	name       string
	size       int64
	chunkCount int
	fileDigest []byte
	chunks     [][]byte
	received   int
	bytes      int64
}

// Receiver drives the accepting side: it verifies each chunk's digest
// as it lands and the whole file's digest at completion, delivering
// only content that passes both.
type Receiver struct {
	send        func(data []byte) error
	acceptOffer func(id, name string, size int64) bool
	onComplete  func(id, name string, content []byte)
	onFailed    func(id string, err error)
	onProgress  func(Progress)
	logger      *slog.Logger
	decoder     *zstd.Decoder

	mu        sync.Mutex
	transfers map[string]*incoming
}

// NewReceiver creates a receiver.
func NewReceiver(config ReceiverConfig) (*Receiver, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: creating decompressor: %w", err)
	}
	return &Receiver{
		send:        config.Send,
		acceptOffer: config.AcceptOffer,
		onComplete:  config.OnComplete,
		onFailed:    config.OnFailed,
		onProgress:  config.OnProgress,
		logger:      logger,
		decoder:     decoder,
		transfers:   make(map[string]*incoming),
	}, nil
}

// HandleMessage processes one inbound protocol frame.
func (r *Receiver) HandleMessage(data []byte) error {
	var message Message
	if err := codec.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("filetransfer: decoding frame: %w", err)
	}
	if err := message.Validate(); err != nil {
		return err
	}

	switch message.Type {
	case MsgOffer:
		return r.handleOffer(&message)
	case MsgChunk:
		return r.handleChunk(&message)
	case MsgComplete:
		return r.handleComplete(&message)
	case MsgCancel:
		r.mu.Lock()
		_, ok := r.transfers[message.TransferID]
		delete(r.transfers, message.TransferID)
		r.mu.Unlock()
		if ok {
			r.fail(message.TransferID, fmt.Errorf("filetransfer: cancelled by sender: %s", message.Reason))
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected %s on receiving side", ErrMalformedMessage, message.Type)
	}
}

func (r *Receiver) handleOffer(message *Message) error {
	if message.ChunkSize > MaxChunkSize {
		return r.decline(message.TransferID, "chunk size too large")
	}
	if r.acceptOffer != nil && !r.acceptOffer(message.TransferID, message.Name, message.Size) {
		return r.decline(message.TransferID, "declined")
	}

	r.mu.Lock()
	r.transfers[message.TransferID] = &incoming{
		name:       message.Name,
		size:       message.Size,
		chunkCount: message.ChunkCount,
		fileDigest: message.FileDigest,
		chunks:     make([][]byte, message.ChunkCount),
	}
	r.mu.Unlock()

	r.logger.Info("transfer accepted",
		"transfer", message.TransferID, "name", message.Name, "size", message.Size)
	return r.sendFrame(&Message{Type: MsgAccept, TransferID: message.TransferID})
}

func (r *Receiver) handleChunk(message *Message) error {
	r.mu.Lock()
	transfer, ok := r.transfers[message.TransferID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, message.TransferID)
	}
	if message.Index >= transfer.chunkCount {
		return r.abort(message.TransferID, fmt.Errorf("%w: chunk %d of %d", ErrMalformedMessage, message.Index, transfer.chunkCount))
	}

	chunk, err := r.decoder.DecodeAll(message.Data, nil)
	if err != nil {
		return r.abort(message.TransferID, fmt.Errorf("filetransfer: decompressing chunk %d: %w", message.Index, err))
	}
	digest := blake3.Sum256(chunk)
	if subtle.ConstantTimeCompare(digest[:], message.ChunkDigest) != 1 {
		return r.abort(message.TransferID, fmt.Errorf("%w: chunk %d", ErrDigestMismatch, message.Index))
	}

	r.mu.Lock()
	if transfer.chunks[message.Index] == nil {
		transfer.received++
		transfer.bytes += int64(len(chunk))
	}
	transfer.chunks[message.Index] = chunk
	progress := Progress{
		TransferID: message.TransferID,
		Name:       transfer.name,
		ChunksDone: transfer.received,
		ChunkCount: transfer.chunkCount,
		BytesDone:  transfer.bytes,
		Size:       transfer.size,
	}
	r.mu.Unlock()

	if r.onProgress != nil {
		r.onProgress(progress)
	}
	return nil
}

func (r *Receiver) handleComplete(message *Message) error {
	r.mu.Lock()
	transfer, ok := r.transfers[message.TransferID]
	delete(r.transfers, message.TransferID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, message.TransferID)
	}

	if transfer.received != transfer.chunkCount {
		err := fmt.Errorf("filetransfer: complete with %d of %d chunks", transfer.received, transfer.chunkCount)
		r.fail(message.TransferID, err)
		return err
	}

	content := bytes.Join(transfer.chunks, nil)
	digest := blake3.Sum256(content)
	if subtle.ConstantTimeCompare(digest[:], transfer.fileDigest) != 1 {
		err := fmt.Errorf("%w: assembled file", ErrDigestMismatch)
		r.fail(message.TransferID, err)
		return err
	}

	r.logger.Info("transfer complete",
		"transfer", message.TransferID, "name", transfer.name, "size", len(content))
	if r.onComplete != nil {
		r.onComplete(message.TransferID, transfer.name, content)
	}
	return nil
}

// abort drops the transfer, tells the sender, and reports the error
// both to the failure observer and to the caller.
func (r *Receiver) abort(transferID string, cause error) error {
	r.mu.Lock()
	delete(r.transfers, transferID)
	r.mu.Unlock()

	if err := r.sendFrame(&Message{Type: MsgCancel, TransferID: transferID, Reason: cause.Error()}); err != nil {
		r.logger.Warn("sending cancel", "transfer", transferID, "error", err)
	}
	r.fail(transferID, cause)
	return cause
}

func (r *Receiver) decline(transferID, reason string) error {
	r.logger.Info("transfer declined", "transfer", transferID, "reason", reason)
	return r.sendFrame(&Message{Type: MsgCancel, TransferID: transferID, Reason: reason})
}

func (r *Receiver) fail(transferID string, err error) {
	r.logger.Warn("transfer failed", "transfer", transferID, "error", err)
	if r.onFailed != nil {
		r.onFailed(transferID, err)
	}
}

func (r *Receiver) sendFrame(message *Message) error {
	data, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("filetransfer: encoding %s: %w", message.Type, err)
	}
	if err := r.send(data); err != nil {
		return fmt.Errorf("filetransfer: sending %s: %w", message.Type, err)
	}
	return nil
}
