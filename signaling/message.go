// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind discriminates control messages on the relay wire. The wire
// protocol is JSON so non-Go relay implementations can interoperate.
type Kind string

const (
	// Client → relay.
	KindCreateRoom Kind = "create-room"
	KindJoinRoom   Kind = "join-room"
	KindLeaveRoom  Kind = "leave-room"

	// Relay → client.
	KindRoomCreated Kind = "room-created"
	KindRoomJoined  Kind = "room-joined"
	KindRoomLeft    Kind = "room-left"
	KindPeerJoined  Kind = "peer-joined"
	KindPeerLeft    Kind = "peer-left"
	KindError       Kind = "error"

	// Peer → peer, forwarded by the relay.
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"

	// Keepalive, both directions.
	KindPing Kind = "ping"
	KindPong Kind = "pong"
)

// RoomSettings are the host-chosen parameters attached to create-room
// and echoed back in room-joined.
type RoomSettings struct {
	// MaxViewers caps concurrent viewers; zero means unlimited.
	MaxViewers int `json:"maxViewers,omitempty"`

	// SecurityMode names the authentication mode of the room.
	SecurityMode string `json:"securityMode,omitempty"`
}

// Message is the typed control envelope exchanged with the relay:
// room lifecycle, peer lifecycle, and transport negotiation. A
// Message is immutable once sent.
//
// Which fields are meaningful depends on Type; [Message.Validate]
// enforces the per-kind requirements and is called on every inbound
// message before dispatch, so handlers never see a half-formed one.
type Message struct {
	Type   Kind   `json:"type"`
	Sender string `json:"sender,omitempty"`
	Target string `json:"target,omitempty"`

	RoomID   string        `json:"roomId,omitempty"`
	Settings *RoomSettings `json:"settings,omitempty"`

	// PeerID identifies the subject peer of peer-joined/peer-left and
	// the counterpart of offer/answer/ice-candidate.
	PeerID string   `json:"peerId,omitempty"`
	Peers  []string `json:"peers,omitempty"`

	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`

	// ErrorText carries the relay's error description for KindError.
	ErrorText string `json:"message,omitempty"`

	// Signature and Timestamp are present on privileged messages when
	// security is active. The signature covers the canonical byte
	// string from signedPayload.
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates a wire message. Unknown kinds and
// missing required fields are errors; the caller drops the message.
func Decode(data []byte) (*Message, error) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("signaling: decoding message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}
	return &message, nil
}

// Validate checks the per-kind field requirements. The switch is
// exhaustive over Kind so a new message kind is a compile-visible
// change here.
func (m *Message) Validate() error {
	switch m.Type {
	case KindCreateRoom, KindPing, KindPong, KindLeaveRoom:
		// create-room may omit roomId (the relay generates one).
		return nil
	case KindJoinRoom, KindRoomCreated, KindRoomJoined, KindRoomLeft:
		if m.RoomID == "" {
			return fmt.Errorf("signaling: %s message missing roomId", m.Type)
		}
		return nil
	case KindPeerJoined, KindPeerLeft:
		if m.PeerID == "" {
			return fmt.Errorf("signaling: %s message missing peerId", m.Type)
		}
		return nil
	case KindOffer, KindAnswer:
		if m.PeerID == "" || m.SDP == "" {
			return fmt.Errorf("signaling: %s message missing peerId or sdp", m.Type)
		}
		return nil
	case KindICECandidate:
		if m.PeerID == "" || m.Candidate == nil {
			return fmt.Errorf("signaling: %s message missing peerId or candidate", m.Type)
		}
		return nil
	case KindError:
		if m.ErrorText == "" {
			return fmt.Errorf("signaling: error message missing text")
		}
		return nil
	default:
		return fmt.Errorf("signaling: unknown message kind %q", m.Type)
	}
}

// privileged reports whether this message kind must carry a valid
// signature when security is active. Room lifecycle requests and
// negotiation messages are privileged; keepalive and relay status
// messages are not.
func (m *Message) privileged() bool {
	switch m.Type {
	case KindCreateRoom, KindJoinRoom, KindLeaveRoom,
		KindOffer, KindAnswer, KindICECandidate:
		return true
	default:
		return false
	}
}

// signedPayload is the canonical byte string covered by a control
// message signature. Field order is fixed; the length prefixes keep
// adjacent fields from running together.
func (m *Message) signedPayload() []byte {
	var body string
	switch m.Type {
	case KindOffer, KindAnswer:
		body = m.SDP
	case KindICECandidate:
		if m.Candidate != nil {
			body = m.Candidate.Candidate
		}
	}

	fields := []string{string(m.Type), m.Sender, m.Target, m.RoomID, m.PeerID, body}
	payload := make([]byte, 0, 64+len(body))
	for _, field := range fields {
		payload = append(payload, []byte(fmt.Sprintf("%d:", len(field)))...)
		payload = append(payload, field...)
	}
	payload = append(payload, []byte(fmt.Sprintf("@%d", m.Timestamp))...)
	return payload
}
