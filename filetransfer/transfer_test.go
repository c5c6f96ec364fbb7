// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package filetransfer

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/glimpse-remote/glimpse/lib/codec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// pair wires a sender and receiver back to back, with an optional
// tap that can rewrite frames in flight.
type pair struct {
	sender   *Sender
	receiver *Receiver

	mu        sync.Mutex
	tamper    func(Message) Message
	completed map[string][]byte
	failures  map[string]error
	progress  []Progress
}

func newPair(t *testing.T, mutateSender func(*SenderConfig), mutateReceiver func(*ReceiverConfig)) *pair {
	t.Helper()
	p := &pair{
		completed: make(map[string][]byte),
		failures:  make(map[string]error),
	}

	senderConfig := SenderConfig{
		Send:   p.toReceiver,
		Logger: discardLogger(),
	}
	if mutateSender != nil {
		mutateSender(&senderConfig)
	}
	sender, err := NewSender(senderConfig)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}

	receiverConfig := ReceiverConfig{
		Send: func(data []byte) error { return p.sender.HandleMessage(data) },
		OnComplete: func(id, name string, content []byte) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.completed[id] = content
		},
		OnFailed: func(id string, err error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.failures[id] = err
		},
		OnProgress: func(progress Progress) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.progress = append(p.progress, progress)
		},
		Logger: discardLogger(),
	}
	if mutateReceiver != nil {
		mutateReceiver(&receiverConfig)
	}
	receiver, err := NewReceiver(receiverConfig)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}

	p.sender = sender
	p.receiver = receiver
	return p
}

func (p *pair) toReceiver(data []byte) error {
	p.mu.Lock()
	tamper := p.tamper
	p.mu.Unlock()
	if tamper != nil {
		var message Message
		if err := codec.Unmarshal(data, &message); err != nil {
			return err
		}
		message = tamper(message)
		rewritten, err := codec.Marshal(message)
		if err != nil {
			return err
		}
		data = rewritten
	}
	return p.receiver.HandleMessage(data)
}

func (p *pair) completedContent(t *testing.T, id string) []byte {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	content, ok := p.completed[id]
	if !ok {
		t.Fatalf("transfer %s did not complete (failures: %v)", id, p.failures)
	}
	return content
}

func randomPayload(size int) []byte {
	payload := make([]byte, size)
	rng := rand.New(rand.NewSource(42))
	rng.Read(payload)
	return payload
}

func TestMultiChunkTransferRoundTrip(t *testing.T) {
	p := newPair(t, func(c *SenderConfig) { c.ChunkSize = 16 * 1024 }, nil)
	payload := randomPayload(100*1024 + 17)

	id, err := p.sender.Offer("backup.tar", payload)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	content := p.completedContent(t, id)
	if !bytes.Equal(content, payload) {
		t.Fatal("delivered content differs from the payload")
	}

	// 100KiB+17 over 16KiB chunks is 7 chunks; progress must be
	// monotonic and end at the full size.
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.progress) != 7 {
		t.Fatalf("progress reports = %d, want 7", len(p.progress))
	}
	last := Progress{}
	for i, progress := range p.progress {
		if progress.ChunksDone != last.ChunksDone+1 || progress.BytesDone <= last.BytesDone && i > 0 {
			t.Fatalf("progress %d not monotonic: %+v after %+v", i, progress, last)
		}
		last = progress
	}
	if last.BytesDone != int64(len(payload)) || last.ChunksDone != last.ChunkCount {
		t.Fatalf("final progress = %+v, want the whole file", last)
	}
}

func TestEmptyFileTransfers(t *testing.T) {
	p := newPair(t, nil, nil)
	id, err := p.sender.Offer("empty.txt", nil)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if content := p.completedContent(t, id); len(content) != 0 {
		t.Fatalf("delivered %d bytes for an empty file", len(content))
	}
}

func TestCorruptedChunkFailsTransfer(t *testing.T) {
	p := newPair(t, func(c *SenderConfig) { c.ChunkSize = 1024 }, nil)
	p.mu.Lock()
	p.tamper = func(message Message) Message {
		if message.Type == MsgChunk && message.Index == 2 {
			message.Data = append([]byte(nil), message.Data...)
			message.Data[0] ^= 0x01
		}
		return message
	}
	p.mu.Unlock()

	// The whole exchange runs synchronously through the tap, so the
	// receiver-side abort propagates back out of Offer as an error
	// and the id is only visible in the failure callback.
	if _, err := p.sender.Offer("doc.pdf", randomPayload(8*1024)); err == nil {
		t.Fatal("Offer over a corrupting channel succeeded")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.completed) != 0 {
		t.Fatal("corrupted transfer delivered content")
	}
	if len(p.failures) != 1 {
		t.Fatalf("failures = %v, want exactly one", p.failures)
	}
	for _, failure := range p.failures {
		if !errors.Is(failure, ErrDigestMismatch) {
			t.Fatalf("failure = %v, want ErrDigestMismatch", failure)
		}
	}
}

func TestForgedFileDigestFailsAtCompletion(t *testing.T) {
	p := newPair(t, nil, nil)
	p.mu.Lock()
	p.tamper = func(message Message) Message {
		if message.Type == MsgOffer {
			message.FileDigest = append([]byte(nil), message.FileDigest...)
			message.FileDigest[0] ^= 0xff
		}
		return message
	}
	p.mu.Unlock()

	if _, err := p.sender.Offer("notes.md", []byte("content")); err == nil {
		t.Fatal("Offer with a forged digest in flight succeeded")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.completed) != 0 {
		t.Fatal("transfer with a forged file digest delivered content")
	}
	if len(p.failures) != 1 {
		t.Fatalf("failures = %v, want exactly one", p.failures)
	}
	for _, failure := range p.failures {
		if !errors.Is(failure, ErrDigestMismatch) {
			t.Fatalf("failure = %v, want ErrDigestMismatch", failure)
		}
	}
}

func TestDeclinedOfferSendsNoChunks(t *testing.T) {
	p := newPair(t, nil, func(c *ReceiverConfig) {
		c.AcceptOffer = func(id, name string, size int64) bool { return false }
	})

	if _, err := p.sender.Offer("secret.bin", randomPayload(2048)); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.progress) != 0 {
		t.Fatal("declined transfer still moved chunks")
	}
	if len(p.completed) != 0 {
		t.Fatal("declined transfer delivered content")
	}
}

func TestSenderCancelBeforeAcceptDropsTransfer(t *testing.T) {
	// Accept is deferred so the cancel can arrive first.
	var pendingAccept []byte
	p := newPair(t, nil, nil)
	p.receiver.send = func(data []byte) error {
		pendingAccept = data
		return nil
	}

	id, err := p.sender.Offer("big.iso", randomPayload(4096))
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if err := p.sender.Cancel(id, "user aborted"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// The late accept now references a transfer the sender dropped.
	if err := p.sender.HandleMessage(pendingAccept); !errors.Is(err, ErrUnknownTransfer) {
		t.Fatalf("late accept = %v, want ErrUnknownTransfer", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, failed := p.failures[id]; !failed {
		t.Fatal("receiver never learned of the cancellation")
	}
}

func TestMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		message Message
		valid   bool
	}{
		{"offer complete", Message{Type: MsgOffer, TransferID: "t", Name: "f", Size: 1, ChunkCount: 1, FileDigest: []byte{1}}, true},
		{"offer without digest", Message{Type: MsgOffer, TransferID: "t", Name: "f", Size: 1, ChunkCount: 1}, false},
		{"offer without id", Message{Type: MsgOffer, Name: "f", Size: 1, ChunkCount: 1, FileDigest: []byte{1}}, false},
		{"chunk complete", Message{Type: MsgChunk, TransferID: "t", Index: 0, ChunkDigest: []byte{1}}, true},
		{"chunk without digest", Message{Type: MsgChunk, TransferID: "t", Index: 0}, false},
		{"accept", Message{Type: MsgAccept, TransferID: "t"}, true},
		{"complete", Message{Type: MsgComplete, TransferID: "t"}, true},
		{"cancel", Message{Type: MsgCancel, TransferID: "t", Reason: "r"}, true},
		{"unknown type", Message{Type: "upload", TransferID: "t"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.Validate()
			if tc.valid && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatal("Validate accepted a malformed message")
			}
		})
	}
}
