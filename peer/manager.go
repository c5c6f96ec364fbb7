// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/glimpse-remote/glimpse/quality"
	"github.com/glimpse-remote/glimpse/signaling"
)

const (
	// DefaultMaxRestarts is how many consecutive ICE-restart attempts
	// a peer gets before its record is closed for good.
	DefaultMaxRestarts = 5

	// DefaultRestartTimeout bounds one recovery attempt: a restart
	// that has not reached connected by then counts as failed.
	DefaultRestartTimeout = 10 * time.Second

	// ControlChannelLabel names the per-peer data channel that carries
	// input, clipboard, and file-transfer traffic. The offering side
	// opens it before its first offer.
	ControlChannelLabel = "glimpse-control"

	eventBuffer = 32
)

// Config configures a Manager.
type Config struct {
	// Signaling relays negotiation messages. Required.
	Signaling *signaling.Client

	// Factory builds one Transport per remote peer. Nil means a
	// PionFactory using ICE and Bandwidth below.
	Factory TransportFactory

	// ICE configures STUN/TURN servers for the default factory.
	ICE ICEConfig

	// Bandwidth sets the per-media hints the default factory writes
	// into every local description. Zero value means
	// DefaultBandwidth.
	Bandwidth BandwidthConfig

	// MaxRestarts caps consecutive recovery attempts per peer; zero
	// means DefaultMaxRestarts.
	MaxRestarts int

	// RestartTimeout bounds one recovery attempt; zero means
	// DefaultRestartTimeout.
	RestartTimeout time.Duration

	// SampleInterval is the quality sampling cadence; zero means
	// quality.DefaultSampleInterval.
	SampleInterval time.Duration

	// Clock drives restart timers and sampling. Nil means the real
	// clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Manager owns every peer connection in the current room. It consumes
// signaling events, negotiates transports, samples their quality, and
// recovers degraded connections with bounded ICE restarts.
//
// The side already present in a room offers to each newcomer; a
// joining side answers every peer the relay lists as already present.
// The relay's delivery order is the single ordering authority, so the
// two sides never produce simultaneous initial offers.
type Manager struct {
	signaling      *signaling.Client
	factory        TransportFactory
	maxRestarts    int
	restartTimeout time.Duration
	sampleInterval time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	mu          sync.Mutex
	arena       *arena
	tracks      []webrtc.TrackLocal
	subscribers map[int]chan Event
	nextSubID   int
	runCtx      context.Context
}

// NewManager creates a manager. Call Run to start consuming
// signaling events.
func NewManager(config Config) *Manager {
	factory := config.Factory
	if factory == nil {
		bandwidth := config.Bandwidth
		if bandwidth == (BandwidthConfig{}) {
			bandwidth = DefaultBandwidth()
		}
		factory = &PionFactory{ICE: config.ICE, Bandwidth: bandwidth, Logger: config.Logger}
	}
	maxRestarts := config.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}
	restartTimeout := config.RestartTimeout
	if restartTimeout <= 0 {
		restartTimeout = DefaultRestartTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		signaling:      config.Signaling,
		factory:        factory,
		maxRestarts:    maxRestarts,
		restartTimeout: restartTimeout,
		sampleInterval: config.SampleInterval,
		clock:          clk,
		logger:         logger,
		arena:          newArena(),
		subscribers:    make(map[int]chan Event),
	}
}

// Subscribe returns a buffered event channel and its deregistration
// func. Events that arrive while the channel is full are dropped for
// that subscriber.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Event, eventBuffer)
	m.subscribers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Run consumes signaling events until ctx is cancelled. All peer
// records are destroyed on return.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	events, cancel := m.signaling.Subscribe()
	defer cancel()
	defer m.destroyAll("manager stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handleSignal(event)
		}
	}
}

func (m *Manager) handleSignal(event signaling.Event) {
	switch event := event.(type) {
	case signaling.RoomJoined:
		// Peers already present were there first: they initiate, we
		// answer. Records are created now so their offers land on a
		// ready transport.
		for _, peerID := range event.Peers {
			m.ensurePeer(peerID, false)
		}
	case signaling.PeerJoined:
		// A pre-existing member is announced after the join list and
		// already has a record; a genuine newcomer does not, and we
		// were present first, so we offer.
		m.ensurePeer(event.PeerID, true)
	case signaling.PeerLeft:
		m.destroyPeer(event.PeerID, "peer left")
	case signaling.OfferReceived:
		m.handleOffer(event.PeerID, event.SDP)
	case signaling.AnswerReceived:
		m.handleAnswer(event.PeerID, event.SDP)
	case signaling.CandidateReceived:
		m.handleCandidate(event.PeerID, event.Candidate)
	case signaling.RoomLeft:
		m.destroyAll("left room")
	case signaling.Disconnected:
		m.destroyAll("signaling lost: " + event.Reason)
	}
}

// ensurePeer creates a record for peerID if none exists. When offer
// is true this side initiates negotiation immediately.
func (m *Manager) ensurePeer(peerID string, offer bool) {
	m.mu.Lock()
	if existing := m.arena.byPeerID(peerID); existing != nil {
		m.mu.Unlock()
		return
	}
	r, err := m.createRecordLocked(peerID, offer)
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("creating peer transport", "peer", peerID, "error", err)
		return
	}

	if !offer {
		return
	}
	sdp, err := r.transport.CreateOffer(false)
	if err != nil {
		m.logger.Error("creating offer", "peer", peerID, "error", err)
		m.destroyPeer(peerID, "offer failed")
		return
	}
	m.mu.Lock()
	if r.state == StateNew {
		r.state = StateNegotiating
	}
	m.mu.Unlock()
	if err := m.signaling.SendOffer(peerID, sdp); err != nil {
		m.logger.Error("sending offer", "peer", peerID, "error", err)
	}
}

// createRecordLocked builds the transport, inserts the record, and
// wires callbacks. Caller holds m.mu.
func (m *Manager) createRecordLocked(peerID string, offerer bool) (*record, error) {
	transport, err := m.factory.NewTransport(peerID)
	if err != nil {
		return nil, err
	}

	role := RoleHost
	if offerer {
		// We were present first, so the remote joined to view.
		role = RoleViewer
	}
	r := &record{
		peerID:       peerID,
		transport:    transport,
		state:        StateNew,
		offerer:      offerer,
		role:         role,
		lastActivity: m.clock.Now(),
	}
	handle := m.arena.insert(r)

	for _, track := range m.tracks {
		if err := transport.AddTrack(track); err != nil {
			m.logger.Warn("attaching track to new peer", "peer", peerID, "error", err)
		}
	}

	transport.OnStateChange(func(state TransportState) {
		m.onTransportState(handle, state)
	})
	transport.OnCandidate(func(candidate webrtc.ICECandidateInit) {
		if err := m.signaling.SendCandidate(peerID, candidate); err != nil {
			m.logger.Debug("relaying candidate", "peer", peerID, "error", err)
		}
	})
	transport.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.emit(TrackReceived{PeerID: peerID, Track: track, Receiver: receiver})
	})
	transport.OnDataChannel(func(channel DataChannel) {
		m.adoptControlChannel(handle, channel)
	})

	if offerer {
		// Opened before the first offer so the channel rides the
		// initial negotiation. The session stays usable for media if
		// this fails; input and transfers just never come up.
		channel, err := transport.CreateDataChannel(ControlChannelLabel)
		if err != nil {
			m.logger.Error("creating control channel", "peer", peerID, "error", err)
		} else {
			r.control = channel
			channel.OnOpen(func() { m.onControlOpen(handle) })
		}
	}

	sampleCtx, sampleCancel := context.WithCancel(m.runContextLocked())
	r.sampleCancel = sampleCancel
	sampler := quality.NewSampler(quality.SamplerConfig{
		PeerID:   peerID,
		Source:   transport.StatsSource(),
		Interval: m.sampleInterval,
		Clock:    m.clock,
		Logger:   m.logger,
		OnChange: func(level quality.Level, sample quality.Sample) {
			m.onQuality(handle, level, sample)
		},
	})
	go sampler.Run(sampleCtx)

	m.logger.Info("peer record created", "peer", peerID, "offerer", offerer)
	return r, nil
}

// adoptControlChannel binds a remotely opened data channel to its
// record. Only the control channel is accepted; anything else the
// remote opens is refused.
func (m *Manager) adoptControlChannel(handle Handle, channel DataChannel) {
	if channel.Label() != ControlChannelLabel {
		m.logger.Warn("refusing unexpected data channel", "label", channel.Label())
		_ = channel.Close()
		return
	}
	m.mu.Lock()
	r := m.arena.get(handle)
	if r == nil {
		m.mu.Unlock()
		_ = channel.Close()
		return
	}
	r.control = channel
	r.lastActivity = m.clock.Now()
	m.mu.Unlock()
	channel.OnOpen(func() { m.onControlOpen(handle) })
}

func (m *Manager) onControlOpen(handle Handle) {
	m.mu.Lock()
	r := m.arena.get(handle)
	if r == nil {
		m.mu.Unlock()
		return
	}
	r.lastActivity = m.clock.Now()
	peerID := r.peerID
	channel := r.control
	m.mu.Unlock()

	m.logger.Info("control channel open", "peer", peerID)
	m.emit(ControlChannelOpen{PeerID: peerID, Handle: handle, Channel: channel})
}

func (m *Manager) runContextLocked() context.Context {
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

func (m *Manager) handleOffer(peerID, sdp string) {
	m.mu.Lock()
	r := m.arena.byPeerID(peerID)
	if r == nil {
		// Offer ahead of the join announcement; the relay's ordering
		// makes this rare but a reconnecting remote can race it.
		var err error
		r, err = m.createRecordLocked(peerID, false)
		if err != nil {
			m.mu.Unlock()
			m.logger.Error("creating peer transport", "peer", peerID, "error", err)
			return
		}
	}
	if r.state == StateRecovering && r.offerer {
		// Restart glare: both sides degraded and offered at once. The
		// original offerer keeps its restart offer on the table; the
		// remote rolls back and answers it instead.
		m.mu.Unlock()
		m.logger.Debug("ignoring restart offer during own recovery", "peer", peerID)
		return
	}
	if r.state == StateNew {
		r.state = StateNegotiating
	}
	r.lastActivity = m.clock.Now()
	transport := r.transport
	m.mu.Unlock()

	answer, err := transport.AcceptOffer(sdp)
	if err != nil {
		m.logger.Error("accepting offer", "peer", peerID, "error", err)
		m.destroyPeer(peerID, "offer rejected")
		return
	}
	if err := m.signaling.SendAnswer(peerID, answer); err != nil {
		m.logger.Error("sending answer", "peer", peerID, "error", err)
	}
}

func (m *Manager) handleAnswer(peerID, sdp string) {
	m.mu.Lock()
	r := m.arena.byPeerID(peerID)
	if r != nil {
		r.lastActivity = m.clock.Now()
	}
	m.mu.Unlock()
	if r == nil {
		m.logger.Debug("answer for unknown peer", "peer", peerID)
		return
	}
	if err := r.transport.AcceptAnswer(sdp); err != nil {
		m.logger.Error("accepting answer", "peer", peerID, "error", err)
	}
}

func (m *Manager) handleCandidate(peerID string, candidate webrtc.ICECandidateInit) {
	m.mu.Lock()
	r := m.arena.byPeerID(peerID)
	if r != nil {
		r.lastActivity = m.clock.Now()
	}
	m.mu.Unlock()
	if r == nil {
		m.logger.Debug("candidate for unknown peer", "peer", peerID)
		return
	}
	if err := r.transport.AddICECandidate(candidate); err != nil {
		m.logger.Debug("adding candidate", "peer", peerID, "error", err)
	}
}

// onTransportState funnels transport callbacks into the state
// machine.
func (m *Manager) onTransportState(handle Handle, state TransportState) {
	m.mu.Lock()
	r := m.arena.get(handle)
	if r == nil {
		m.mu.Unlock()
		return
	}
	r.lastActivity = m.clock.Now()

	switch state {
	case TransportConnected:
		// Full success is the only thing that clears the restart
		// budget.
		r.restarts = 0
		r.state = StateConnected
		m.stopRestartTimerLocked(r)
		peerID := r.peerID
		m.mu.Unlock()
		m.logger.Info("peer connected", "peer", peerID)
		m.emit(Connected{PeerID: peerID, Handle: handle})
		return
	case TransportFailed:
		m.restartLocked(r, "transport failed")
		return
	case TransportClosed:
		m.destroyLocked(r, "transport closed")
		return
	}
	m.mu.Unlock()
}

// onQuality records the peer's new level and kicks recovery when a
// connected peer degrades to Poor or worse.
func (m *Manager) onQuality(handle Handle, level quality.Level, sample quality.Sample) {
	m.mu.Lock()
	r := m.arena.get(handle)
	if r == nil {
		m.mu.Unlock()
		return
	}
	r.level = level
	r.lastActivity = m.clock.Now()
	peerID := r.peerID
	degrade := level.AtLeastPoor() && r.state == StateConnected
	if degrade {
		r.state = StateDegraded
	}
	m.mu.Unlock()

	m.emit(QualityChanged{PeerID: peerID, Level: level, Sample: sample})

	if !degrade {
		return
	}
	m.mu.Lock()
	r = m.arena.get(handle)
	if r == nil || r.state != StateDegraded {
		m.mu.Unlock()
		return
	}
	m.restartLocked(r, fmt.Sprintf("quality %s", level))
}

// restartLocked starts (or gives up on) one recovery attempt. Caller
// holds m.mu; the lock is released before any signaling I/O.
func (m *Manager) restartLocked(r *record, reason string) {
	if r.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if r.restarts >= m.maxRestarts {
		m.destroyLocked(r, "restart ceiling reached")
		return
	}
	r.restarts++
	attempt := r.restarts
	r.state = StateRecovering
	m.stopRestartTimerLocked(r)
	handle := r.handle
	r.restartTimer = m.clock.AfterFunc(m.restartTimeout, func() {
		m.onRestartTimeout(handle)
	})
	peerID := r.peerID
	transport := r.transport
	m.mu.Unlock()

	m.logger.Warn("recovering peer connection",
		"peer", peerID, "attempt", attempt, "reason", reason)
	m.emit(Recovering{PeerID: peerID, Attempt: attempt})

	sdp, err := transport.CreateOffer(true)
	if err != nil {
		// The armed timer converts this into the next attempt.
		m.logger.Error("creating restart offer", "peer", peerID, "error", err)
		return
	}
	if err := m.signaling.SendOffer(peerID, sdp); err != nil {
		m.logger.Error("sending restart offer", "peer", peerID, "error", err)
	}
}

func (m *Manager) onRestartTimeout(handle Handle) {
	m.mu.Lock()
	r := m.arena.get(handle)
	if r == nil || r.state != StateRecovering {
		m.mu.Unlock()
		return
	}
	m.restartLocked(r, "restart timed out")
}

func (m *Manager) stopRestartTimerLocked(r *record) {
	if r.restartTimer != nil {
		r.restartTimer.Stop()
		r.restartTimer = nil
	}
}

// AddTrackToAllPeers attaches track to every live peer and remembers
// it for peers created later. It returns how many attaches succeeded;
// per-peer failures are logged, not returned.
func (m *Manager) AddTrackToAllPeers(track webrtc.TrackLocal) int {
	m.mu.Lock()
	m.tracks = append(m.tracks, track)
	type target struct {
		peerID    string
		transport Transport
	}
	var targets []target
	m.arena.each(func(r *record) {
		targets = append(targets, target{r.peerID, r.transport})
	})
	m.mu.Unlock()

	attached := 0
	for _, t := range targets {
		if err := t.transport.AddTrack(track); err != nil {
			m.logger.Warn("attaching track", "peer", t.peerID, "error", err)
			continue
		}
		attached++
	}
	return attached
}

// PeerCount reports the number of live peer records.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.size()
}

// PeerState reports the state of one peer, and whether it exists.
func (m *Manager) PeerState(peerID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.arena.byPeerID(peerID)
	if r == nil {
		return StateClosed, false
	}
	return r.state, true
}

// ControlChannel returns the peer's control data channel. The second
// return is false while the peer is unknown or the channel has not
// been negotiated yet.
func (m *Manager) ControlChannel(peerID string) (DataChannel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.arena.byPeerID(peerID)
	if r == nil || r.control == nil {
		return nil, false
	}
	return r.control, true
}

// PeerRole reports what the remote peer is to this side.
func (m *Manager) PeerRole(peerID string) (Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.arena.byPeerID(peerID)
	if r == nil {
		return "", false
	}
	return r.role, true
}

// LastActivity reports when the peer was last heard from: signaling,
// transport state, a quality sample, or the control channel.
func (m *Manager) LastActivity(peerID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.arena.byPeerID(peerID)
	if r == nil {
		return time.Time{}, false
	}
	return r.lastActivity, true
}

// QualityLevel reports the last classified level for one peer.
func (m *Manager) QualityLevel(peerID string) (quality.Level, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.arena.byPeerID(peerID)
	if r == nil {
		return quality.Disconnected, false
	}
	return r.level, true
}

// destroyPeer removes peerID's record if present.
func (m *Manager) destroyPeer(peerID, reason string) {
	m.mu.Lock()
	r := m.arena.byPeerID(peerID)
	if r == nil {
		m.mu.Unlock()
		return
	}
	m.destroyLocked(r, reason)
}

// destroyLocked tears down one record: sampler cancelled, timer
// stopped, transport closed, slot recycled. Caller holds m.mu; the
// lock is released before the transport close and the event emit.
func (m *Manager) destroyLocked(r *record, reason string) {
	if r.state == StateClosed {
		m.mu.Unlock()
		return
	}
	r.state = StateClosed
	m.stopRestartTimerLocked(r)
	if r.sampleCancel != nil {
		r.sampleCancel()
	}
	m.arena.remove(r.handle)
	peerID := r.peerID
	transport := r.transport
	control := r.control
	m.mu.Unlock()

	if control != nil {
		_ = control.Close()
	}
	if err := transport.Close(); err != nil {
		m.logger.Debug("closing transport", "peer", peerID, "error", err)
	}
	m.logger.Info("peer record destroyed", "peer", peerID, "reason", reason)
	m.emit(Closed{PeerID: peerID, Reason: reason})
}

func (m *Manager) destroyAll(reason string) {
	m.mu.Lock()
	var records []*record
	m.arena.each(func(r *record) {
		records = append(records, r)
	})
	m.mu.Unlock()

	for _, r := range records {
		m.destroyPeer(r.peerID, reason)
	}
}

func (m *Manager) emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			m.logger.Warn("subscriber event buffer full, dropping event",
				"subscriber", id, "event", fmt.Sprintf("%T", event))
		}
	}
}
