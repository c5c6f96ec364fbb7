// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package relaytest provides an in-process relay implementing the
// signaling wire protocol. Clients connect through [Relay.Dialer]
// with no network involved, which makes multi-client session tests
// deterministic and fast. Negotiation payloads are forwarded as the
// original bytes, so message signatures survive the relay untouched
// exactly as they do in production.
package relaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/glimpse-remote/glimpse/signaling"
)

// Relay is an in-process signaling relay for tests. It implements
// room lifecycle, peer lifecycle, negotiation forwarding, and
// keepalive per the control-channel wire protocol.
type Relay struct {
	mu      sync.Mutex
	rooms   map[string]*room
	clients map[*client]struct{}
}

type room struct {
	id       string
	settings *signaling.RoomSettings
	// members in join order. The relay is the ordering authority, so
	// the slice order is what peers see in room-joined.
	members []*client
}

type client struct {
	relay  *Relay
	id     string
	roomID string

	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

// New creates an empty relay.
func New() *Relay {
	return &Relay{
		rooms:   make(map[string]*room),
		clients: make(map[*client]struct{}),
	}
}

// Dialer returns a signaling.Dialer whose Dial connects a new client
// to this relay. The URL argument is ignored.
func (r *Relay) Dialer() signaling.Dialer {
	return dialerFunc(func(ctx context.Context, url string) (signaling.Conn, error) {
		cl := &client{
			relay:  r,
			out:    make(chan []byte, 64),
			closed: make(chan struct{}),
		}
		r.mu.Lock()
		r.clients[cl] = struct{}{}
		r.mu.Unlock()
		return cl, nil
	})
}

type dialerFunc func(ctx context.Context, url string) (signaling.Conn, error)

func (f dialerFunc) Dial(ctx context.Context, url string) (signaling.Conn, error) {
	return f(ctx, url)
}

// DisconnectAll severs every live connection from the relay side, as
// a relay crash would. Clients observe a read error and enter their
// reconnect loops.
func (r *Relay) DisconnectAll() {
	r.mu.Lock()
	clients := make([]*client, 0, len(r.clients))
	for cl := range r.clients {
		clients = append(clients, cl)
	}
	r.mu.Unlock()

	for _, cl := range clients {
		cl.Close()
	}
}

// Disconnect severs the connection of the client with the given id,
// leaving everyone else attached.
func (r *Relay) Disconnect(clientID string) {
	r.mu.Lock()
	var target *client
	for cl := range r.clients {
		if cl.id == clientID {
			target = cl
			break
		}
	}
	r.mu.Unlock()
	if target != nil {
		target.Close()
	}
}

// RoomPeers returns the member ids of a room in join order.
func (r *Relay) RoomPeers(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.members))
	for _, member := range rm.members {
		ids = append(ids, member.id)
	}
	return ids
}

// Conn interface, client side.

func (c *client) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.out:
		return data, nil
	case <-c.closed:
		return nil, errors.New("relaytest: connection closed")
	}
}

func (c *client) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("relaytest: connection closed")
	default:
	}
	c.relay.handle(c, data)
	return nil
}

func (c *client) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.relay.drop(c)
	})
	return nil
}

// deliver queues data for the client. The buffer is generous; a full
// buffer in a test indicates a stuck reader, so dropping is fine.
func (c *client) deliver(data []byte) {
	select {
	case c.out <- data:
	case <-c.closed:
	default:
	}
}

func (c *client) send(message *signaling.Message) {
	data, err := message.Encode()
	if err != nil {
		return
	}
	c.deliver(data)
}

// handle processes one message from cl, holding the relay lock for
// the whole operation so per-room delivery order matches arrival
// order (the relay is the sole ordering authority).
func (r *Relay) handle(cl *client, data []byte) {
	message, err := signaling.Decode(data)
	if err != nil {
		r.mu.Lock()
		cl.send(&signaling.Message{Type: signaling.KindError, ErrorText: err.Error()})
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cl.id == "" {
		cl.id = message.Sender
	}

	switch message.Type {
	case signaling.KindPing:
		cl.send(&signaling.Message{Type: signaling.KindPong})

	case signaling.KindCreateRoom:
		roomID := message.RoomID
		if roomID == "" {
			roomID = uuid.NewString()
		}
		if _, exists := r.rooms[roomID]; exists {
			cl.send(&signaling.Message{Type: signaling.KindError, ErrorText: fmt.Sprintf("room %s already exists", roomID)})
			return
		}
		r.rooms[roomID] = &room{id: roomID, settings: message.Settings, members: []*client{cl}}
		cl.roomID = roomID
		cl.send(&signaling.Message{Type: signaling.KindRoomCreated, RoomID: roomID})

	case signaling.KindJoinRoom:
		rm, ok := r.rooms[message.RoomID]
		if !ok {
			cl.send(&signaling.Message{Type: signaling.KindError, ErrorText: fmt.Sprintf("room %s not found", message.RoomID)})
			return
		}
		if rm.settings != nil && rm.settings.MaxViewers > 0 && len(rm.members) > rm.settings.MaxViewers {
			cl.send(&signaling.Message{Type: signaling.KindError, ErrorText: fmt.Sprintf("room %s is full", message.RoomID)})
			return
		}

		existing := make([]string, 0, len(rm.members))
		for _, member := range rm.members {
			if member == cl {
				// Duplicate join (e.g. a rejoin racing reconnection)
				// is idempotent.
				cl.send(&signaling.Message{Type: signaling.KindRoomJoined, RoomID: rm.id, Peers: existing, Settings: rm.settings})
				return
			}
			existing = append(existing, member.id)
		}
		rm.members = append(rm.members, cl)
		cl.roomID = rm.id

		cl.send(&signaling.Message{Type: signaling.KindRoomJoined, RoomID: rm.id, Peers: existing, Settings: rm.settings})
		for _, member := range rm.members {
			if member == cl {
				continue
			}
			// Announce the joiner to everyone present, and everyone
			// present to the joiner: each side gets exactly one
			// peer-joined per counterpart.
			member.send(&signaling.Message{Type: signaling.KindPeerJoined, PeerID: cl.id})
			cl.send(&signaling.Message{Type: signaling.KindPeerJoined, PeerID: member.id})
		}

	case signaling.KindLeaveRoom:
		r.removeLocked(cl, true)

	case signaling.KindOffer, signaling.KindAnswer, signaling.KindICECandidate:
		rm, ok := r.rooms[cl.roomID]
		if !ok {
			cl.send(&signaling.Message{Type: signaling.KindError, ErrorText: "not in a room"})
			return
		}
		for _, member := range rm.members {
			if member.id == message.Target {
				// Original bytes: signatures must survive the relay.
				member.deliver(data)
				return
			}
		}
		cl.send(&signaling.Message{Type: signaling.KindError, ErrorText: fmt.Sprintf("peer %s not in room", message.Target)})

	default:
		cl.send(&signaling.Message{Type: signaling.KindError, ErrorText: fmt.Sprintf("unexpected message kind %s", message.Type)})
	}
}

// drop handles a severed connection: the peer leaves its room as a
// relay-reported disconnect.
func (r *Relay) drop(cl *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, cl)
	r.removeLocked(cl, false)
}

// removeLocked takes cl out of its room. When notifyLeaver is set the
// leaver receives room-left (explicit leave); remaining members get
// peer-left either way.
func (r *Relay) removeLocked(cl *client, notifyLeaver bool) {
	rm, ok := r.rooms[cl.roomID]
	if !ok {
		return
	}

	for i, member := range rm.members {
		if member == cl {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}
	roomID := cl.roomID
	cl.roomID = ""

	if notifyLeaver {
		cl.send(&signaling.Message{Type: signaling.KindRoomLeft, RoomID: roomID})
	}
	for _, member := range rm.members {
		member.send(&signaling.Message{Type: signaling.KindPeerLeft, PeerID: cl.id})
	}
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
}
