// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/glimpse-remote/glimpse/quality"
	"github.com/glimpse-remote/glimpse/signaling"
	"github.com/glimpse-remote/glimpse/signaling/relaytest"
)

const eventTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeTransport scripts negotiation without touching the network.
// State transitions are fired explicitly by the test.
type fakeTransport struct {
	peerID string

	mu              sync.Mutex
	offerFlags      []bool // iceRestart per CreateOffer
	acceptedOffers  []string
	acceptedAnswers []string
	candidates      []webrtc.ICECandidateInit
	trackCount      int
	failAddTrack    bool
	closed          bool

	stateCallback     func(TransportState)
	candidateCallback func(webrtc.ICECandidateInit)

	channels        []*fakeDataChannel
	channelCallback func(DataChannel)

	stats *scriptedStats
}

func newFakeTransport(peerID string) *fakeTransport {
	return &fakeTransport{peerID: peerID, stats: &scriptedStats{}}
}

func (f *fakeTransport) CreateOffer(iceRestart bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offerFlags = append(f.offerFlags, iceRestart)
	return fmt.Sprintf("offer-%d-from-%s", len(f.offerFlags), f.peerID), nil
}

func (f *fakeTransport) AcceptOffer(sdp string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptedOffers = append(f.acceptedOffers, sdp)
	return fmt.Sprintf("answer-%d-from-%s", len(f.acceptedOffers), f.peerID), nil
}

func (f *fakeTransport) AcceptAnswer(sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptedAnswers = append(f.acceptedAnswers, sdp)
	return nil
}

func (f *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeTransport) AddTrack(webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAddTrack {
		return errors.New("scripted attach failure")
	}
	f.trackCount++
	return nil
}

func (f *fakeTransport) CreateDataChannel(label string) (DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channel := &fakeDataChannel{label: label}
	f.channels = append(f.channels, channel)
	return channel, nil
}

func (f *fakeTransport) OnDataChannel(callback func(DataChannel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCallback = callback
}

// openRemoteChannel simulates the remote side opening a data channel.
func (f *fakeTransport) openRemoteChannel(label string) *fakeDataChannel {
	f.mu.Lock()
	callback := f.channelCallback
	f.mu.Unlock()
	channel := &fakeDataChannel{label: label}
	if callback != nil {
		callback(channel)
	}
	return channel
}

func (f *fakeTransport) localChannels() []*fakeDataChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeDataChannel(nil), f.channels...)
}

func (f *fakeTransport) OnStateChange(callback func(TransportState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCallback = callback
}

func (f *fakeTransport) OnCandidate(callback func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidateCallback = callback
}

func (f *fakeTransport) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeTransport) StatsSource() quality.StatsSource { return f.stats }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) fireState(state TransportState) {
	f.mu.Lock()
	callback := f.stateCallback
	f.mu.Unlock()
	if callback != nil {
		callback(state)
	}
}

func (f *fakeTransport) restartOffers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, restart := range f.offerFlags {
		if restart {
			count++
		}
	}
	return count
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDataChannel scripts a control channel; the test fires open.
type fakeDataChannel struct {
	label string

	mu        sync.Mutex
	openFunc  func()
	onMessage func(webrtc.DataChannelMessage)
	sent      [][]byte
	closed    bool
}

func (c *fakeDataChannel) Label() string { return c.label }

func (c *fakeDataChannel) OnOpen(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openFunc = callback
}

func (c *fakeDataChannel) OnMessage(callback func(webrtc.DataChannelMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = callback
}

func (c *fakeDataChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeDataChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeDataChannel) fireOpen() {
	c.mu.Lock()
	callback := c.openFunc
	c.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func (c *fakeDataChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// scriptedStats serves one settable sample.
type scriptedStats struct {
	mu     sync.Mutex
	sample quality.Sample
}

func (s *scriptedStats) set(sample quality.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = sample
}

func (s *scriptedStats) Sample(context.Context) (quality.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample, nil
}

// fakeFactory hands out fakeTransports and remembers them per peer.
type fakeFactory struct {
	mu         sync.Mutex
	transports map[string][]*fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[string][]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(peerID string) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	transport := newFakeTransport(peerID)
	f.transports[peerID] = append(f.transports[peerID], transport)
	return transport, nil
}

func (f *fakeFactory) created(peerID string) []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTransport(nil), f.transports[peerID]...)
}

func newRelayClient(t *testing.T, relay *relaytest.Relay, clientID string) *signaling.Client {
	t.Helper()
	client, err := signaling.NewClient(signaling.ClientConfig{
		URL:      "memory://relay",
		ClientID: clientID,
		Dialer:   relay.Dialer(),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient(%s): %v", clientID, err)
	}
	t.Cleanup(func() { client.Close() })
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(%s): %v", clientID, err)
	}
	return client
}

// newTestManager wires a manager to a connected relay client with a
// scripted transport factory. Signaling events are NOT consumed: the
// tests drive handleSignal directly for determinism, except where
// they run the manager end to end.
func newTestManager(t *testing.T, relay *relaytest.Relay, clientID string, mutate func(*Config)) (*Manager, *fakeFactory) {
	t.Helper()
	factory := newFakeFactory()
	config := Config{
		Signaling: newRelayClient(t, relay, clientID),
		Factory:   factory,
		Logger:    discardLogger(),
	}
	if mutate != nil {
		mutate(&config)
	}
	manager := NewManager(config)
	t.Cleanup(func() { manager.destroyAll("test done") })
	return manager, factory
}

func waitFor[E Event](t *testing.T, events <-chan Event) E {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case event := <-events:
			if typed, ok := event.(E); ok {
				return typed
			}
		case <-deadline:
			var zero E
			t.Fatalf("timed out waiting for %T", zero)
			panic("unreachable")
		}
	}
}

// singleTransport fetches the one transport created for peerID,
// failing when there are zero or several.
func singleTransport(t *testing.T, factory *fakeFactory, peerID string) *fakeTransport {
	t.Helper()
	transports := factory.created(peerID)
	if len(transports) != 1 {
		t.Fatalf("peer %s has %d transports, want exactly 1", peerID, len(transports))
	}
	return transports[0]
}

func TestPresentSideInitiatesOffer(t *testing.T) {
	relay := relaytest.New()

	hostManager, hostFactory := newTestManager(t, relay, "host", nil)
	viewerManager, viewerFactory := newTestManager(t, relay, "viewer", nil)

	hostEvents, unsubHost := hostManager.Subscribe()
	defer unsubHost()
	viewerEvents, unsubViewer := viewerManager.Subscribe()
	defer unsubViewer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hostManager.Run(ctx)
	go viewerManager.Run(ctx)

	hostSignals, unsubHostSignals := hostManager.signaling.Subscribe()
	defer unsubHostSignals()
	if err := hostManager.signaling.CreateRoom("demo", nil); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	waitForSignal[signaling.RoomCreated](t, hostSignals)

	if err := viewerManager.signaling.JoinRoom("demo"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	// The host was present first, so the host initiates.
	waitUntil(t, func() bool {
		transports := hostFactory.created("viewer")
		return len(transports) == 1 && len(transports[0].offerFlags) == 1
	}, "host offer to viewer")
	hostTransport := singleTransport(t, hostFactory, "viewer")
	if hostTransport.offerFlags[0] {
		t.Fatal("initial offer flagged as ICE restart")
	}

	// The viewer answers; the answer flows back to the host.
	waitUntil(t, func() bool {
		transports := viewerFactory.created("host")
		return len(transports) == 1 && len(transports[0].acceptedOffers) == 1
	}, "viewer accepting the offer")
	viewerTransport := singleTransport(t, viewerFactory, "host")
	waitUntil(t, func() bool {
		hostTransport.mu.Lock()
		defer hostTransport.mu.Unlock()
		return len(hostTransport.acceptedAnswers) == 1
	}, "host accepting the answer")

	// The viewer never initiated: it produced no offers of its own.
	viewerTransport.mu.Lock()
	viewerOffers := len(viewerTransport.offerFlags)
	viewerTransport.mu.Unlock()
	if viewerOffers != 0 {
		t.Fatalf("viewer created %d offers, want 0", viewerOffers)
	}

	viewerTransport.fireState(TransportConnected)
	hostTransport.fireState(TransportConnected)
	if event := waitFor[Connected](t, viewerEvents); event.PeerID != "host" {
		t.Fatalf("viewer connected to %q, want host", event.PeerID)
	}
	if event := waitFor[Connected](t, hostEvents); event.PeerID != "viewer" {
		t.Fatalf("host connected to %q, want viewer", event.PeerID)
	}
}

func TestDuplicateAnnouncementCreatesOneTransport(t *testing.T) {
	relay := relaytest.New()
	manager, factory := newTestManager(t, relay, "host", nil)

	manager.handleSignal(signaling.RoomJoined{RoomID: "demo", Peers: []string{"p1"}})
	manager.handleSignal(signaling.PeerJoined{PeerID: "p1"})
	manager.handleSignal(signaling.PeerJoined{PeerID: "p1"})

	if got := len(factory.created("p1")); got != 1 {
		t.Fatalf("created %d transports for p1, want 1", got)
	}
	if got := manager.PeerCount(); got != 1 {
		t.Fatalf("PeerCount = %d, want 1", got)
	}
}

func TestRestartCeilingClosesPeer(t *testing.T) {
	relay := relaytest.New()
	mock := clock.NewMock()
	manager, factory := newTestManager(t, relay, "host", func(c *Config) {
		c.MaxRestarts = 3
		c.Clock = mock
		c.SampleInterval = time.Hour // keep samplers quiet
	})
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.PeerJoined{PeerID: "flaky"})
	transport := singleTransport(t, factory, "flaky")
	transport.fireState(TransportConnected)
	waitFor[Connected](t, events)

	// First failure starts attempt 1; each timeout burns the next
	// attempt; the fourth trigger finds the budget spent.
	transport.fireState(TransportFailed)
	for attempt := 1; attempt <= 3; attempt++ {
		event := waitFor[Recovering](t, events)
		if event.Attempt != attempt {
			t.Fatalf("Recovering.Attempt = %d, want %d", event.Attempt, attempt)
		}
		mock.Add(DefaultRestartTimeout)
	}

	closed := waitFor[Closed](t, events)
	if !strings.Contains(closed.Reason, "ceiling") {
		t.Fatalf("Closed.Reason = %q, want a restart-ceiling reason", closed.Reason)
	}
	if got := transport.restartOffers(); got != 3 {
		t.Fatalf("restart offers = %d, want exactly 3", got)
	}
	if !transport.isClosed() {
		t.Fatal("transport left open after the ceiling")
	}
	if _, ok := manager.PeerState("flaky"); ok {
		t.Fatal("record still present after the ceiling")
	}

	// No further attempts: the record is gone, so another timeout
	// tick must not produce an offer.
	mock.Add(DefaultRestartTimeout)
	if got := transport.restartOffers(); got != 3 {
		t.Fatalf("restart offers grew to %d after close", got)
	}
}

func TestRestartBudgetRefillsOnReconnect(t *testing.T) {
	relay := relaytest.New()
	mock := clock.NewMock()
	manager, factory := newTestManager(t, relay, "host", func(c *Config) {
		c.MaxRestarts = 3
		c.Clock = mock
		c.SampleInterval = time.Hour
	})
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.PeerJoined{PeerID: "flaky"})
	transport := singleTransport(t, factory, "flaky")
	transport.fireState(TransportConnected)
	waitFor[Connected](t, events)

	// Two failed attempts, one short of the ceiling.
	transport.fireState(TransportFailed)
	if event := waitFor[Recovering](t, events); event.Attempt != 1 {
		t.Fatalf("Attempt = %d, want 1", event.Attempt)
	}
	mock.Add(DefaultRestartTimeout)
	if event := waitFor[Recovering](t, events); event.Attempt != 2 {
		t.Fatalf("Attempt = %d, want 2", event.Attempt)
	}

	// Recovery succeeds: the budget refills completely.
	transport.fireState(TransportConnected)
	waitFor[Connected](t, events)

	transport.fireState(TransportFailed)
	if event := waitFor[Recovering](t, events); event.Attempt != 1 {
		t.Fatalf("Attempt after reconnect = %d, want 1", event.Attempt)
	}
}

func TestBroadcastAttachReportsSuccessCount(t *testing.T) {
	relay := relaytest.New()
	manager, factory := newTestManager(t, relay, "host", nil)

	for _, peerID := range []string{"a", "b", "c"} {
		manager.handleSignal(signaling.PeerJoined{PeerID: peerID})
	}
	broken := singleTransport(t, factory, "b")
	broken.mu.Lock()
	broken.failAddTrack = true
	broken.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "glimpse")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	if got := manager.AddTrackToAllPeers(track); got != 2 {
		t.Fatalf("AddTrackToAllPeers = %d, want 2", got)
	}

	// A peer created afterwards receives the remembered track.
	manager.handleSignal(signaling.PeerJoined{PeerID: "d"})
	late := singleTransport(t, factory, "d")
	late.mu.Lock()
	lateTracks := late.trackCount
	late.mu.Unlock()
	if lateTracks != 1 {
		t.Fatalf("late peer has %d tracks, want 1", lateTracks)
	}
}

func TestDegradedQualityTriggersRecovery(t *testing.T) {
	relay := relaytest.New()
	manager, factory := newTestManager(t, relay, "host", func(c *Config) {
		c.SampleInterval = 10 * time.Millisecond
	})
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.PeerJoined{PeerID: "remote"})
	transport := singleTransport(t, factory, "remote")
	transport.fireState(TransportConnected)
	waitFor[Connected](t, events)

	transport.stats.set(quality.Sample{RoundTripTime: 600 * time.Millisecond})

	// Depending on tick timing the healthy first reading may or may
	// not have been classified before the bad one; only the critical
	// transition matters here.
	for {
		change := waitFor[QualityChanged](t, events)
		if change.Level == quality.Critical {
			break
		}
	}
	recovering := waitFor[Recovering](t, events)
	if recovering.PeerID != "remote" || recovering.Attempt != 1 {
		t.Fatalf("Recovering = %+v, want remote attempt 1", recovering)
	}
	waitUntil(t, func() bool { return transport.restartOffers() == 1 }, "restart offer")
}

func TestPeerLeftDestroysRecord(t *testing.T) {
	relay := relaytest.New()
	manager, factory := newTestManager(t, relay, "host", nil)
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.PeerJoined{PeerID: "gone"})
	transport := singleTransport(t, factory, "gone")
	manager.handleSignal(signaling.PeerLeft{PeerID: "gone"})

	closed := waitFor[Closed](t, events)
	if closed.PeerID != "gone" {
		t.Fatalf("Closed.PeerID = %q, want gone", closed.PeerID)
	}
	if !transport.isClosed() {
		t.Fatal("transport left open after peer-left")
	}
	if got := manager.PeerCount(); got != 0 {
		t.Fatalf("PeerCount = %d, want 0", got)
	}
}

func TestOfferBeforeAnnouncementStillAnswered(t *testing.T) {
	relay := relaytest.New()
	manager, factory := newTestManager(t, relay, "host", nil)

	manager.handleSignal(signaling.OfferReceived{PeerID: "eager", SDP: "offer-sdp"})

	transport := singleTransport(t, factory, "eager")
	transport.mu.Lock()
	accepted := len(transport.acceptedOffers)
	transport.mu.Unlock()
	if accepted != 1 {
		t.Fatalf("accepted %d offers, want 1", accepted)
	}
	if state, ok := manager.PeerState("eager"); !ok || state != StateNegotiating {
		t.Fatalf("state = %v (present=%v), want negotiating", state, ok)
	}
}

func TestOffererOpensControlChannel(t *testing.T) {
	relay := relaytest.New()
	mock := clock.NewMock()
	manager, factory := newTestManager(t, relay, "host", func(c *Config) {
		c.Clock = mock
		c.SampleInterval = time.Hour
	})
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.PeerJoined{PeerID: "remote"})
	transport := singleTransport(t, factory, "remote")

	// The channel is created on the transport before any offer so it
	// rides the initial negotiation.
	channels := transport.localChannels()
	if len(channels) != 1 {
		t.Fatalf("created %d local channels, want 1", len(channels))
	}
	if channels[0].Label() != ControlChannelLabel {
		t.Fatalf("channel label = %q, want %q", channels[0].Label(), ControlChannelLabel)
	}
	if role, ok := manager.PeerRole("remote"); !ok || role != RoleViewer {
		t.Fatalf("PeerRole = %v (present=%v), want viewer", role, ok)
	}
	if _, ok := manager.ControlChannel("remote"); !ok {
		t.Fatal("control channel not recorded before open")
	}

	mock.Add(5 * time.Second)
	channels[0].fireOpen()

	open := waitFor[ControlChannelOpen](t, events)
	if open.PeerID != "remote" {
		t.Fatalf("ControlChannelOpen.PeerID = %q, want remote", open.PeerID)
	}
	if open.Channel != DataChannel(channels[0]) {
		t.Fatal("event carries a different channel than the transport created")
	}
	if last, ok := manager.LastActivity("remote"); !ok || !last.Equal(mock.Now()) {
		t.Fatalf("LastActivity = %v (present=%v), want %v", last, ok, mock.Now())
	}
}

func TestAnswererAdoptsRemoteControlChannel(t *testing.T) {
	relay := relaytest.New()
	manager, factory := newTestManager(t, relay, "joiner", nil)
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.RoomJoined{RoomID: "demo", Peers: []string{"remote"}})
	transport := singleTransport(t, factory, "remote")

	// The answering side never initiates a channel of its own.
	if got := len(transport.localChannels()); got != 0 {
		t.Fatalf("answerer created %d local channels, want 0", got)
	}
	if role, ok := manager.PeerRole("remote"); !ok || role != RoleHost {
		t.Fatalf("PeerRole = %v (present=%v), want host", role, ok)
	}

	control := transport.openRemoteChannel(ControlChannelLabel)
	control.fireOpen()

	open := waitFor[ControlChannelOpen](t, events)
	if open.PeerID != "remote" || open.Channel != DataChannel(control) {
		t.Fatalf("ControlChannelOpen = %+v, want the adopted remote channel", open)
	}

	// Anything else the remote opens is refused without disturbing the
	// adopted control channel.
	rogue := transport.openRemoteChannel("side-band")
	if !rogue.isClosed() {
		t.Fatal("unexpected channel left open")
	}
	if got, ok := manager.ControlChannel("remote"); !ok || got != DataChannel(control) {
		t.Fatal("control channel replaced by a refused channel")
	}
}

// TestRestartGlareDefersToOriginalOfferer: both sides degrade and
// offer an ICE restart at once. The side that initiated the original
// negotiation keeps its offer and ignores the remote one; the session
// must survive the collision.
func TestRestartGlareDefersToOriginalOfferer(t *testing.T) {
	relay := relaytest.New()
	mock := clock.NewMock()
	manager, factory := newTestManager(t, relay, "host", func(c *Config) {
		c.Clock = mock
		c.SampleInterval = time.Hour
	})
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.PeerJoined{PeerID: "remote"})
	transport := singleTransport(t, factory, "remote")
	transport.fireState(TransportConnected)
	waitFor[Connected](t, events)

	transport.fireState(TransportFailed)
	waitFor[Recovering](t, events)

	manager.handleSignal(signaling.OfferReceived{PeerID: "remote", SDP: "remote-restart-offer"})

	transport.mu.Lock()
	accepted := len(transport.acceptedOffers)
	transport.mu.Unlock()
	if accepted != 0 {
		t.Fatalf("accepted %d offers during own recovery, want 0", accepted)
	}
	if state, ok := manager.PeerState("remote"); !ok || state != StateRecovering {
		t.Fatalf("state = %v (present=%v), want recovering", state, ok)
	}
	if transport.isClosed() {
		t.Fatal("transport destroyed by restart glare")
	}

	// The remote backs down and answers our restart offer instead.
	manager.handleSignal(signaling.AnswerReceived{PeerID: "remote", SDP: "remote-answer"})
	transport.fireState(TransportConnected)
	if event := waitFor[Connected](t, events); event.PeerID != "remote" {
		t.Fatalf("Connected.PeerID = %q, want remote", event.PeerID)
	}
}

func TestAnswererAcceptsRestartOfferDuringRecovery(t *testing.T) {
	relay := relaytest.New()
	mock := clock.NewMock()
	manager, factory := newTestManager(t, relay, "joiner", func(c *Config) {
		c.Clock = mock
		c.SampleInterval = time.Hour
	})
	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	manager.handleSignal(signaling.RoomJoined{RoomID: "demo", Peers: []string{"remote"}})
	transport := singleTransport(t, factory, "remote")
	transport.fireState(TransportConnected)
	waitFor[Connected](t, events)

	transport.fireState(TransportFailed)
	waitFor[Recovering](t, events)

	// The original offerer's restart offer wins; this side answers it.
	manager.handleSignal(signaling.OfferReceived{PeerID: "remote", SDP: "remote-restart-offer"})

	transport.mu.Lock()
	accepted := len(transport.acceptedOffers)
	transport.mu.Unlock()
	if accepted != 1 {
		t.Fatalf("accepted %d offers, want 1", accepted)
	}
	if _, ok := manager.PeerState("remote"); !ok {
		t.Fatal("record destroyed while resolving restart glare")
	}

	transport.fireState(TransportConnected)
	if event := waitFor[Connected](t, events); event.PeerID != "remote" {
		t.Fatalf("Connected.PeerID = %q, want remote", event.PeerID)
	}
}

func waitForSignal[E signaling.Event](t *testing.T, events <-chan signaling.Event) E {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case event := <-events:
			if typed, ok := event.(E); ok {
				return typed
			}
		case <-deadline:
			var zero E
			t.Fatalf("timed out waiting for %T", zero)
			panic("unreachable")
		}
	}
}

// waitUntil polls condition until it holds or the timeout expires.
func waitUntil(t *testing.T, condition func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
