// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// DefaultReplayWindow bounds how old an envelope may be and still
// verify. Envelopes older than this are rejected regardless of
// signature validity.
const DefaultReplayWindow = 5 * time.Minute

// MaxClockSkew bounds how far in the future a timestamp may lie
// before it is rejected. Peers are expected to run NTP-synced clocks;
// one minute absorbs ordinary drift.
const MaxClockSkew = time.Minute

// Envelope is a signed, encrypted message. Created per outgoing
// message and discarded after one verification; never mutated.
type Envelope struct {
	// Ciphertext is the chacha20poly1305-sealed payload.
	Ciphertext []byte `json:"ciphertext" cbor:"1,keyasint"`

	// Nonce is the unique sealing nonce.
	Nonce []byte `json:"nonce" cbor:"2,keyasint"`

	// Timestamp is the creation time in Unix milliseconds. It is
	// covered by both the signature and the AEAD associated data, so
	// it cannot be advanced to extend the replay window.
	Timestamp int64 `json:"timestamp" cbor:"3,keyasint"`

	// Signature is the HMAC over nonce, timestamp, and ciphertext.
	Signature []byte `json:"signature" cbor:"4,keyasint"`
}

// Envelope verification errors. All of them mean the message must be
// dropped without processing.
var (
	ErrEnvelopeExpired   = errors.New("security: envelope outside replay window")
	ErrEnvelopeSignature = errors.New("security: envelope signature mismatch")
	ErrEnvelopeMalformed = errors.New("security: malformed envelope")
)

// EncryptMessage seals payload into an Envelope bound to the current
// time. The result is a pure function of payload, the clock, the key
// material, and the random nonce.
func (m *Manager) EncryptMessage(payload []byte) (*Envelope, error) {
	aead, err := chacha20poly1305.New(m.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security: creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, fmt.Errorf("security: generating nonce: %w", err)
	}

	timestamp := m.clock.Now().UnixMilli()
	ciphertext := aead.Seal(nil, nonce, payload, timestampAAD(timestamp))

	envelope := &Envelope{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Timestamp:  timestamp,
	}
	envelope.Signature = m.Sign(envelope.signedBytes())
	return envelope, nil
}

// DecryptAndVerify opens an Envelope. Checks run fail-closed in
// order: replay window first (a stale envelope is rejected regardless
// of signature validity), then signature, then AEAD decryption.
func (m *Manager) DecryptAndVerify(envelope *Envelope) ([]byte, error) {
	return m.decryptAndVerify(envelope, DefaultReplayWindow)
}

// DecryptAndVerifyWithin is DecryptAndVerify with an explicit replay
// window.
func (m *Manager) DecryptAndVerifyWithin(envelope *Envelope, window time.Duration) ([]byte, error) {
	return m.decryptAndVerify(envelope, window)
}

func (m *Manager) decryptAndVerify(envelope *Envelope, window time.Duration) ([]byte, error) {
	if envelope == nil || len(envelope.Nonce) != chacha20poly1305.NonceSize {
		return nil, ErrEnvelopeMalformed
	}

	now := m.clock.Now()
	sent := time.UnixMilli(envelope.Timestamp)
	if now.Sub(sent) > window || sent.Sub(now) > MaxClockSkew {
		return nil, ErrEnvelopeExpired
	}

	if !m.Verify(envelope.signedBytes(), envelope.Signature) {
		return nil, ErrEnvelopeSignature
	}

	aead, err := chacha20poly1305.New(m.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security: creating cipher: %w", err)
	}
	payload, err := aead.Open(nil, envelope.Nonce, envelope.Ciphertext, timestampAAD(envelope.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("security: opening envelope: %w", err)
	}
	return payload, nil
}

// signedBytes is the byte string covered by the envelope signature:
// nonce, then timestamp, then ciphertext. Fixed-width timestamp keeps
// the encoding unambiguous.
func (e *Envelope) signedBytes() []byte {
	signed := make([]byte, 0, len(e.Nonce)+8+len(e.Ciphertext))
	signed = append(signed, e.Nonce...)
	signed = binary.BigEndian.AppendUint64(signed, uint64(e.Timestamp))
	signed = append(signed, e.Ciphertext...)
	return signed
}

func timestampAAD(timestamp int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(timestamp))
}
