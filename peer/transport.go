// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/glimpse-remote/glimpse/quality"
)

// TransportState is the reduced connection state a Transport reports:
// enough for the manager's state machine without exposing every ICE
// transition.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportFailed
	TransportClosed
)

// DataChannel is the message-oriented channel a transport carries next
// to media. Input, clipboard, and file transfer all ride on it. A pion
// data channel satisfies the interface directly.
type DataChannel interface {
	Label() string
	OnOpen(func())
	OnMessage(func(webrtc.DataChannelMessage))
	Send(data []byte) error
	Close() error
}

var _ DataChannel = (*webrtc.DataChannel)(nil)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// Transport is one media/control connection to a single remote peer.
// The production implementation wraps a pion PeerConnection; tests
// script one. Callbacks must be registered before negotiation starts.
type Transport interface {
	// CreateOffer generates the local description (optionally flagged
	// for ICE restart) and returns its SDP, with bandwidth hints
	// already applied.
	CreateOffer(iceRestart bool) (string, error)

	// AcceptOffer applies a remote offer and returns the local answer
	// SDP, with bandwidth hints already applied.
	AcceptOffer(sdp string) (string, error)

	// AcceptAnswer applies a remote answer to a sent offer.
	AcceptAnswer(sdp string) error

	// AddICECandidate adds a relayed remote candidate.
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// AddTrack attaches an outgoing media track.
	AddTrack(track webrtc.TrackLocal) error

	// CreateDataChannel opens a locally initiated data channel. The
	// offering side calls this before its first offer so the channel
	// is negotiated with the rest of the session.
	CreateDataChannel(label string) (DataChannel, error)

	// OnDataChannel registers the observer for data channels the
	// remote peer opens.
	OnDataChannel(func(DataChannel))

	// OnStateChange registers the connection state observer.
	OnStateChange(func(TransportState))

	// OnCandidate registers the local-candidate observer; candidates
	// are relayed to the remote peer as they are gathered.
	OnCandidate(func(webrtc.ICECandidateInit))

	// OnTrack registers the inbound media observer.
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	// StatsSource exposes the transport's statistics for the quality
	// sampler.
	StatsSource() quality.StatsSource

	// Close releases the transport. Idempotent.
	Close() error
}

// TransportFactory creates one Transport per remote peer.
type TransportFactory interface {
	NewTransport(peerID string) (Transport, error)
}

// ICEConfig holds the STUN/TURN server set for new transports.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// PionFactory builds pion-backed transports. This is the production
// TransportFactory.
type PionFactory struct {
	ICE       ICEConfig
	Bandwidth BandwidthConfig
	Logger    *slog.Logger
}

// NewTransport creates a pion PeerConnection for the given peer.
func (f *PionFactory) NewTransport(peerID string) (Transport, error) {
	connection, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.ICE.Servers,
	})
	if err != nil {
		return nil, fmt.Errorf("peer: creating PeerConnection for %s: %w", peerID, err)
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &pionTransport{
		peerID:     peerID,
		connection: connection,
		bandwidth:  f.Bandwidth,
		logger:     logger,
	}, nil
}

// pionTransport adapts a pion PeerConnection to the Transport
// interface and applies bandwidth shaping to every locally generated
// description, including restart offers.
type pionTransport struct {
	peerID     string
	connection *webrtc.PeerConnection
	bandwidth  BandwidthConfig
	logger     *slog.Logger
}

func (t *pionTransport) CreateOffer(iceRestart bool) (string, error) {
	var options *webrtc.OfferOptions
	if iceRestart {
		options = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.connection.CreateOffer(options)
	if err != nil {
		return "", fmt.Errorf("peer: creating offer for %s: %w", t.peerID, err)
	}

	offer.SDP = t.bandwidth.Shape(offer.SDP)
	if err := t.connection.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("peer: setting local offer for %s: %w", t.peerID, err)
	}
	return offer.SDP, nil
}

func (t *pionTransport) AcceptOffer(sdp string) (string, error) {
	if t.connection.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		// Offer glare: both sides offered at once. Roll back our
		// pending offer and answer the remote one instead.
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := t.connection.SetLocalDescription(rollback); err != nil {
			return "", fmt.Errorf("peer: rolling back local offer for %s: %w", t.peerID, err)
		}
		t.logger.Debug("rolled back local offer", "peer", t.peerID)
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := t.connection.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("peer: setting remote offer from %s: %w", t.peerID, err)
	}

	answer, err := t.connection.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("peer: creating answer for %s: %w", t.peerID, err)
	}
	answer.SDP = t.bandwidth.Shape(answer.SDP)
	if err := t.connection.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("peer: setting local answer for %s: %w", t.peerID, err)
	}
	return answer.SDP, nil
}

func (t *pionTransport) AcceptAnswer(sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := t.connection.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("peer: setting remote answer from %s: %w", t.peerID, err)
	}
	return nil
}

func (t *pionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := t.connection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("peer: adding candidate from %s: %w", t.peerID, err)
	}
	return nil
}

func (t *pionTransport) AddTrack(track webrtc.TrackLocal) error {
	if _, err := t.connection.AddTrack(track); err != nil {
		return fmt.Errorf("peer: attaching track to %s: %w", t.peerID, err)
	}
	return nil
}

func (t *pionTransport) CreateDataChannel(label string) (DataChannel, error) {
	channel, err := t.connection.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("peer: creating data channel %q for %s: %w", label, t.peerID, err)
	}
	return channel, nil
}

func (t *pionTransport) OnDataChannel(callback func(DataChannel)) {
	t.connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		callback(channel)
	})
}

func (t *pionTransport) OnStateChange(callback func(TransportState)) {
	t.connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("transport state change", "peer", t.peerID, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			callback(TransportConnected)
		case webrtc.PeerConnectionStateFailed:
			callback(TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			callback(TransportClosed)
		case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
			callback(TransportConnecting)
		case webrtc.PeerConnectionStateDisconnected:
			// Disconnected can self-heal; pion escalates to Failed
			// when it cannot. Only Failed triggers recovery.
		}
	})
}

func (t *pionTransport) OnCandidate(callback func(webrtc.ICECandidateInit)) {
	t.connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return // end-of-gathering marker
		}
		callback(candidate.ToJSON())
	})
}

func (t *pionTransport) OnTrack(callback func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	t.connection.OnTrack(callback)
}

func (t *pionTransport) StatsSource() quality.StatsSource {
	return quality.NewPeerConnectionSource(t.connection, nil)
}

func (t *pionTransport) Close() error {
	return t.connection.Close()
}
