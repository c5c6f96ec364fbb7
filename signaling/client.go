// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/glimpse-remote/glimpse/security"
)

// Conn is one message-oriented connection to the relay. The
// production implementation wraps a websocket; tests use in-process
// pipes from the relaytest package.
type Conn interface {
	// ReadMessage blocks until the next wire message arrives. It
	// returns an error once the connection is unusable.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one wire message. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close tears down the connection, unblocking pending reads.
	Close() error
}

// Dialer establishes relay connections. Abstracted so the reconnect
// loop and tests share one code path.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Client errors.
var (
	ErrNotConnected = errors.New("signaling: not connected to relay")
	ErrClosed       = errors.New("signaling: client closed")
)

// Reconnect and keepalive defaults.
const (
	defaultReconnectInitialDelay = 500 * time.Millisecond
	defaultReconnectMaxDelay     = 15 * time.Second
	defaultMaxReconnectAttempts  = 5
	defaultKeepaliveInterval     = 15 * time.Second
	defaultDeadPeerInterval      = 45 * time.Second

	// eventBuffer is the per-subscriber channel capacity. A slow
	// subscriber loses events past this depth rather than stalling
	// the dispatch loop.
	eventBuffer = 32
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the relay endpoint.
	URL string

	// ClientID identifies this client to the relay and to peers. It
	// becomes the Sender of every outbound message.
	ClientID string

	// Dialer establishes connections. Nil means the websocket dialer.
	Dialer Dialer

	// Security, when non-nil, signs privileged outbound messages and
	// verifies privileged inbound ones.
	Security *security.Manager

	// Clock drives keepalive, dead-peer detection, and backoff. Nil
	// means the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger

	// ReconnectInitialDelay, ReconnectMaxDelay, and
	// MaxReconnectAttempts bound the reconnect loop. Zero values take
	// the defaults.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	MaxReconnectAttempts  int

	// KeepaliveInterval is the ping cadence; DeadPeerInterval is how
	// long total silence (not even a pong) is tolerated before the
	// connection is declared dead. Zero values take the defaults.
	KeepaliveInterval time.Duration
	DeadPeerInterval  time.Duration
}

// Client owns the logical control channel to the relay. It survives
// transport drops by reconnecting with bounded backoff, emits typed
// events to subscribers, and fails sends immediately while
// disconnected rather than buffering them.
type Client struct {
	url      string
	clientID string
	dialer   Dialer
	security *security.Manager
	clock    clock.Clock
	logger   *slog.Logger

	reconnectInitialDelay time.Duration
	reconnectMaxDelay     time.Duration
	maxReconnectAttempts  int
	keepaliveInterval     time.Duration
	deadPeerInterval      time.Duration

	mu           sync.Mutex
	conn         Conn
	connGen      int // increments per (re)connect; stale read loops exit
	connected    bool
	inRoom       bool
	roomID       string
	lastActivity time.Time
	subscribers  map[int]chan Event
	nextSubID    int

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a Client. Call Connect to establish the control
// channel.
func NewClient(config ClientConfig) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("signaling: URL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("signaling: ClientID is required")
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = &WebsocketDialer{}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{
		url:                   config.URL,
		clientID:              config.ClientID,
		dialer:                dialer,
		security:              config.Security,
		clock:                 clk,
		logger:                logger,
		reconnectInitialDelay: config.ReconnectInitialDelay,
		reconnectMaxDelay:     config.ReconnectMaxDelay,
		maxReconnectAttempts:  config.MaxReconnectAttempts,
		keepaliveInterval:     config.KeepaliveInterval,
		deadPeerInterval:      config.DeadPeerInterval,
		subscribers:           make(map[int]chan Event),
		closed:                make(chan struct{}),
	}
	if client.reconnectInitialDelay <= 0 {
		client.reconnectInitialDelay = defaultReconnectInitialDelay
	}
	if client.reconnectMaxDelay <= 0 {
		client.reconnectMaxDelay = defaultReconnectMaxDelay
	}
	if client.maxReconnectAttempts <= 0 {
		client.maxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if client.keepaliveInterval <= 0 {
		client.keepaliveInterval = defaultKeepaliveInterval
	}
	if client.deadPeerInterval <= 0 {
		client.deadPeerInterval = defaultDeadPeerInterval
	}
	return client, nil
}

// Subscribe registers an event channel and returns it together with a
// deregistration func. Events that arrive while the channel is full
// are dropped for that subscriber.
func (c *Client) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Event, eventBuffer)
	c.subscribers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Connect dials the relay and starts the read and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("signaling: connecting to relay: %w", err)
	}
	c.adoptConn(conn)
	return nil
}

// adoptConn installs a fresh connection and starts its loops.
func (c *Client) adoptConn(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connGen++
	generation := c.connGen
	c.connected = true
	c.lastActivity = c.clock.Now()
	c.mu.Unlock()

	go c.readLoop(conn, generation)
	go c.keepaliveLoop(conn, generation)
}

// Close tears down the control channel and aborts any in-flight
// reconnect. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// CreateRoom asks the relay to create a room. Fire-and-forget: the
// outcome arrives as a RoomCreated (or RelayError) event. An empty
// roomID lets the relay generate one.
func (c *Client) CreateRoom(roomID string, settings *RoomSettings) error {
	return c.send(&Message{Type: KindCreateRoom, RoomID: roomID, Settings: settings})
}

// JoinRoom asks the relay to join a room. The outcome arrives as a
// RoomJoined event carrying the relay-asserted peer list.
func (c *Client) JoinRoom(roomID string) error {
	return c.send(&Message{Type: KindJoinRoom, RoomID: roomID})
}

// LeaveRoom leaves the current room. Idempotent: a second call when
// no room is joined is a no-op returning nil, and exactly one
// RoomLeft event is delivered per actual leave. Calling LeaveRoom
// while a reconnect is in flight aborts the reconnect.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	if !c.inRoom {
		c.mu.Unlock()
		return nil
	}
	c.inRoom = false
	roomID := c.roomID
	c.roomID = ""
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		// Disconnected mid-session: nothing to tell the relay, but the
		// local state must resolve. The reconnect loop observes inRoom
		// == false and aborts; the shell still sees its one RoomLeft.
		c.emit(RoomLeft{RoomID: roomID})
		return nil
	}
	return c.send(&Message{Type: KindLeaveRoom, RoomID: roomID})
}

// SendOffer relays an SDP offer to the given peer.
func (c *Client) SendOffer(peerID, sdp string) error {
	return c.send(&Message{Type: KindOffer, Target: peerID, PeerID: peerID, SDP: sdp})
}

// SendAnswer relays an SDP answer to the given peer.
func (c *Client) SendAnswer(peerID, sdp string) error {
	return c.send(&Message{Type: KindAnswer, Target: peerID, PeerID: peerID, SDP: sdp})
}

// SendCandidate relays an ICE candidate to the given peer.
func (c *Client) SendCandidate(peerID string, candidate webrtc.ICECandidateInit) error {
	return c.send(&Message{Type: KindICECandidate, Target: peerID, PeerID: peerID, Candidate: &candidate})
}

// send signs (when privileged and security is active) and writes one
// message. A send while disconnected fails immediately with
// ErrNotConnected; messages are never silently buffered.
func (c *Client) send(message *Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	message.Sender = c.clientID
	if c.security != nil && message.privileged() {
		message.Timestamp = c.clock.Now().UnixMilli()
		message.Signature = hex.EncodeToString(c.security.Sign(message.signedPayload()))
	}

	data, err := message.Encode()
	if err != nil {
		return fmt.Errorf("signaling: encoding %s: %w", message.Type, err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("signaling: sending %s: %w", message.Type, err)
	}
	return nil
}

// readLoop consumes inbound messages until the connection dies, then
// hands off to the reconnect loop. generation guards against a stale
// loop (from a replaced connection) racing the current one.
func (c *Client) readLoop(conn Conn, generation int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionLoss(generation, err)
			return
		}

		c.mu.Lock()
		c.lastActivity = c.clock.Now()
		stale := c.connGen != generation
		c.mu.Unlock()
		if stale {
			return
		}

		message, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable relay message", "error", err)
			continue
		}
		c.dispatch(conn, message)
	}
}

// keepaliveLoop pings on a fixed cadence and declares the connection
// dead when nothing at all (not even a pong) has arrived for the
// dead-peer interval.
func (c *Client) keepaliveLoop(conn Conn, generation int) {
	ticker := c.clock.Ticker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.connGen != generation || !c.connected
			silent := c.clock.Now().Sub(c.lastActivity) > c.deadPeerInterval
			c.mu.Unlock()
			if stale {
				return
			}
			if silent {
				c.logger.Warn("relay silent past dead-peer interval, closing connection",
					"interval", c.deadPeerInterval)
				conn.Close() // read loop unblocks and reconnects
				return
			}

			ping, err := (&Message{Type: KindPing, Sender: c.clientID}).Encode()
			if err == nil {
				if err := conn.WriteMessage(ping); err != nil {
					c.logger.Debug("keepalive write failed", "error", err)
				}
			}
		}
	}
}

// dispatch verifies and routes one inbound message.
func (c *Client) dispatch(conn Conn, message *Message) {
	if message.Type == KindPing {
		pong, err := (&Message{Type: KindPong, Sender: c.clientID}).Encode()
		if err == nil {
			conn.WriteMessage(pong)
		}
		return
	}
	if message.Type == KindPong {
		return // lastActivity already updated
	}

	if c.security != nil && message.privileged() {
		if !c.verifyInbound(message) {
			c.logger.Warn("dropping message with bad signature",
				"kind", message.Type, "sender", message.Sender)
			return
		}
	}

	switch message.Type {
	case KindRoomCreated:
		// The creator is a member of its new room from this point on.
		c.mu.Lock()
		c.inRoom = true
		c.roomID = message.RoomID
		c.mu.Unlock()
		c.emit(RoomCreated{RoomID: message.RoomID})
	case KindRoomJoined:
		c.mu.Lock()
		c.inRoom = true
		c.roomID = message.RoomID
		c.mu.Unlock()
		c.emit(RoomJoined{RoomID: message.RoomID, Peers: message.Peers, Settings: message.Settings})
	case KindRoomLeft:
		c.mu.Lock()
		c.inRoom = false
		c.roomID = ""
		c.mu.Unlock()
		c.emit(RoomLeft{RoomID: message.RoomID})
	case KindPeerJoined:
		c.emit(PeerJoined{PeerID: message.PeerID})
	case KindPeerLeft:
		c.emit(PeerLeft{PeerID: message.PeerID})
	case KindOffer:
		c.emit(OfferReceived{PeerID: message.Sender, SDP: message.SDP})
	case KindAnswer:
		c.emit(AnswerReceived{PeerID: message.Sender, SDP: message.SDP})
	case KindICECandidate:
		c.emit(CandidateReceived{PeerID: message.Sender, Candidate: *message.Candidate})
	case KindError:
		c.emit(RelayError{Text: message.ErrorText})
	default:
		// Validate already rejected unknown kinds; client-bound kinds
		// (create/join/leave) are not expected inbound and are ignored.
	}
}

// verifyInbound checks signature freshness and validity on a
// privileged inbound message. Fail-closed: any defect drops the
// message.
func (c *Client) verifyInbound(message *Message) bool {
	if message.Signature == "" {
		return false
	}
	sent := time.UnixMilli(message.Timestamp)
	now := c.clock.Now()
	if now.Sub(sent) > security.DefaultReplayWindow || sent.Sub(now) > security.MaxClockSkew {
		return false
	}
	signature, err := hex.DecodeString(message.Signature)
	if err != nil {
		return false
	}
	return c.security.Verify(message.signedPayload(), signature)
}

// handleConnectionLoss runs the bounded-backoff reconnect loop. Each
// attempt emits Reconnecting; exhaustion emits a terminal
// Disconnected. A reconnect superseded by Close or LeaveRoom aborts.
func (c *Client) handleConnectionLoss(generation int, cause error) {
	c.mu.Lock()
	if c.connGen != generation {
		// A newer connection replaced this one; nothing to recover.
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	rejoinRoom := c.roomID
	c.mu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}

	c.logger.Warn("relay connection lost", "error", cause)

	delay := c.reconnectInitialDelay
	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		c.emit(Reconnecting{Attempt: attempt})

		select {
		case <-c.closed:
			return
		case <-c.clock.After(delay):
		}

		// An explicit leave during the backoff supersedes recovery.
		c.mu.Lock()
		abandoned := rejoinRoom != "" && !c.inRoom
		c.mu.Unlock()
		if abandoned {
			c.logger.Info("reconnect aborted by explicit leave")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.reconnectMaxDelay)
		conn, err := c.dialer.Dial(ctx, c.url)
		cancel()
		if err == nil {
			c.logger.Info("relay connection re-established", "attempt", attempt)
			c.adoptConn(conn)
			if rejoinRoom != "" {
				if err := c.JoinRoom(rejoinRoom); err != nil {
					c.logger.Warn("rejoining room after reconnect failed", "room", rejoinRoom, "error", err)
				}
			}
			return
		}

		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		delay *= 2
		if delay > c.reconnectMaxDelay {
			delay = c.reconnectMaxDelay
		}
	}

	c.emit(Disconnected{Reason: "reconnect attempts exhausted"})
}

// emit fans an event out to all subscribers. Full subscriber channels
// drop the event rather than blocking dispatch.
func (c *Client) emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- event:
		default:
			c.logger.Warn("subscriber event buffer full, dropping event",
				"subscriber", id, "event", fmt.Sprintf("%T", event))
		}
	}
}
