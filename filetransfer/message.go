// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package filetransfer

import (
	"errors"
	"fmt"
)

// MessageType discriminates the transfer protocol union.
type MessageType string

const (
	// MsgOffer proposes a transfer: name, size, chunking plan, and
	// the whole-file digest the receiver will verify against.
	MsgOffer MessageType = "offer"
	// MsgAccept is the receiver's go-ahead.
	MsgAccept MessageType = "accept"
	// MsgChunk carries one compressed chunk and its digest.
	MsgChunk MessageType = "chunk"
	// MsgComplete marks the last chunk sent.
	MsgComplete MessageType = "complete"
	// MsgCancel aborts in either direction, with a reason.
	MsgCancel MessageType = "cancel"
)

// Message is one frame of the transfer protocol. Only the fields for
// its Type are set.
type Message struct {
	Type       MessageType `cbor:"type"`
	TransferID string      `cbor:"transferId"`

	// Offer fields.
	Name       string `cbor:"name,omitempty"`
	Size       int64  `cbor:"size,omitempty"`
	ChunkSize  int    `cbor:"chunkSize,omitempty"`
	ChunkCount int    `cbor:"chunkCount,omitempty"`
	FileDigest []byte `cbor:"fileDigest,omitempty"`

	// Chunk fields. Data is zstd-compressed; ChunkDigest covers the
	// uncompressed bytes.
	Index       int    `cbor:"index,omitempty"`
	Data        []byte `cbor:"data,omitempty"`
	ChunkDigest []byte `cbor:"chunkDigest,omitempty"`

	// Cancel field.
	Reason string `cbor:"reason,omitempty"`
}

// ErrMalformedMessage reports a protocol frame that does not satisfy
// its type.
var ErrMalformedMessage = errors.New("filetransfer: malformed message")

// Validate checks the per-type field requirements.
func (m *Message) Validate() error {
	if m.TransferID == "" {
		return fmt.Errorf("%w: missing transferId", ErrMalformedMessage)
	}
	switch m.Type {
	case MsgOffer:
		if m.Name == "" || m.Size < 0 || m.ChunkCount <= 0 || len(m.FileDigest) == 0 {
			return fmt.Errorf("%w: incomplete offer", ErrMalformedMessage)
		}
	case MsgChunk:
		if m.Index < 0 || len(m.ChunkDigest) == 0 {
			return fmt.Errorf("%w: incomplete chunk", ErrMalformedMessage)
		}
	case MsgAccept, MsgComplete, MsgCancel:
		// TransferID alone suffices.
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}
