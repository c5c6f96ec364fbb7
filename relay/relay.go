// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the signaling relay server.
//
// The relay is the sole ordering authority for room membership: every
// join, leave, and announcement is serialized under one lock, so all
// members observe the same history. Negotiation payloads (offers,
// answers, ICE candidates) are forwarded byte-for-byte — the relay
// never re-encodes them, which is what lets end-to-end signatures
// survive the hop.
//
// The relay is deliberately blind to room security: it checks message
// shape, not signatures. Clients verify each other's privileged
// messages end to end, so a compromised relay can drop traffic but
// not forge it.
package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/glimpse-remote/glimpse/signaling"
)

const (
	// writeWait bounds one websocket write.
	writeWait = 10 * time.Second

	// outBuffer is the per-client outbound queue; a client that
	// cannot drain it is dropped rather than allowed to stall the
	// room.
	outBuffer = 64

	maxMessageSize = 512 * 1024
)

// Config configures a Server.
type Config struct {
	// CheckOrigin, when non-nil, restricts browser origins. Nil
	// accepts everything, which suits native clients behind TLS
	// termination.
	CheckOrigin func(r *http.Request) bool

	// Logger is used for structured logging. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Server relays signaling traffic between room members.
type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	rooms   map[string]*room
	clients map[*client]struct{}
}

type room struct {
	id       string
	settings *signaling.RoomSettings
	members  []*client
}

type client struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
}

// NewServer creates a relay server.
func NewServer(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
		logger:  logger,
		rooms:   make(map[string]*room),
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the websocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	cl := &client{conn: conn, out: make(chan []byte, outBuffer)}
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	go s.writePump(cl)
	s.readPump(cl)
}

// readPump consumes one client's messages until the connection dies,
// then removes the client from its room.
func (s *Server) readPump(cl *client) {
	defer s.drop(cl)

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		message, err := signaling.Decode(data)
		if err != nil {
			s.logger.Debug("dropping undecodable message", "client", cl.id, "error", err)
			continue
		}
		s.handle(cl, message, data)
	}
}

func (s *Server) writePump(cl *client) {
	for data := range cl.out {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	cl.conn.Close()
}

// handle dispatches one decoded message. All room mutations happen
// under the server lock; that single lock is what makes the relay the
// ordering authority.
func (s *Server) handle(cl *client, message *signaling.Message, original []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The first message names the client; the id is sticky for the
	// connection's lifetime.
	if cl.id == "" {
		if message.Sender == "" {
			s.sendError(cl, "sender required")
			return
		}
		cl.id = message.Sender
	}

	switch message.Type {
	case signaling.KindPing:
		s.send(cl, &signaling.Message{Type: signaling.KindPong})

	case signaling.KindCreateRoom:
		roomID := message.RoomID
		if roomID == "" {
			roomID = uuid.NewString()
		}
		if _, exists := s.rooms[roomID]; exists {
			s.sendError(cl, fmt.Sprintf("room %s already exists", roomID))
			return
		}
		s.leaveLocked(cl, false)
		s.rooms[roomID] = &room{id: roomID, settings: message.Settings, members: []*client{cl}}
		s.send(cl, &signaling.Message{Type: signaling.KindRoomCreated, RoomID: roomID})
		s.logger.Info("room created", "room", roomID, "client", cl.id)

	case signaling.KindJoinRoom:
		rm, ok := s.rooms[message.RoomID]
		if !ok {
			s.sendError(cl, fmt.Sprintf("room %s not found", message.RoomID))
			return
		}
		for _, member := range rm.members {
			if member == cl {
				// A rejoin racing reconnection is idempotent.
				s.send(cl, s.joinedMessage(rm, cl))
				return
			}
		}
		if rm.settings != nil && rm.settings.MaxViewers > 0 && len(rm.members) > rm.settings.MaxViewers {
			s.sendError(cl, fmt.Sprintf("room %s is full", message.RoomID))
			return
		}
		s.leaveLocked(cl, false)
		rm.members = append(rm.members, cl)
		s.send(cl, s.joinedMessage(rm, cl))
		for _, member := range rm.members {
			if member == cl {
				continue
			}
			// Each side gets exactly one peer-joined per counterpart:
			// the joiner learns the existing members, the existing
			// members learn the joiner.
			s.send(member, &signaling.Message{Type: signaling.KindPeerJoined, PeerID: cl.id})
			s.send(cl, &signaling.Message{Type: signaling.KindPeerJoined, PeerID: member.id})
		}
		s.logger.Info("room joined", "room", rm.id, "client", cl.id, "members", len(rm.members))

	case signaling.KindLeaveRoom:
		s.leaveLocked(cl, true)

	case signaling.KindOffer, signaling.KindAnswer, signaling.KindICECandidate:
		rm := s.roomOfLocked(cl)
		if rm == nil {
			s.sendError(cl, "not in a room")
			return
		}
		for _, member := range rm.members {
			if member.id == message.Target {
				// Original bytes: end-to-end signatures must survive.
				s.sendRaw(member, original)
				return
			}
		}
		s.sendError(cl, fmt.Sprintf("peer %s not in room", message.Target))
	}
}

func (s *Server) joinedMessage(rm *room, cl *client) *signaling.Message {
	peers := make([]string, 0, len(rm.members))
	for _, member := range rm.members {
		if member != cl {
			peers = append(peers, member.id)
		}
	}
	return &signaling.Message{
		Type: signaling.KindRoomJoined, RoomID: rm.id, Peers: peers, Settings: rm.settings,
	}
}

// leaveLocked removes cl from its room, announcing to the remaining
// members and (when confirm is set) to cl itself. Caller holds s.mu.
func (s *Server) leaveLocked(cl *client, confirm bool) {
	rm := s.roomOfLocked(cl)
	if rm == nil {
		return
	}
	members := rm.members[:0]
	for _, member := range rm.members {
		if member != cl {
			members = append(members, member)
		}
	}
	rm.members = members

	if confirm {
		s.send(cl, &signaling.Message{Type: signaling.KindRoomLeft, RoomID: rm.id})
	}
	for _, member := range rm.members {
		s.send(member, &signaling.Message{Type: signaling.KindPeerLeft, PeerID: cl.id})
	}
	if len(rm.members) == 0 {
		delete(s.rooms, rm.id)
		s.logger.Info("room emptied", "room", rm.id)
	}
}

func (s *Server) roomOfLocked(cl *client) *room {
	for _, rm := range s.rooms {
		for _, member := range rm.members {
			if member == cl {
				return rm
			}
		}
	}
	return nil
}

// drop removes a dead client: its room sees a peer-left exactly as if
// it had left deliberately.
func (s *Server) drop(cl *client) {
	s.mu.Lock()
	s.leaveLocked(cl, false)
	delete(s.clients, cl)
	s.mu.Unlock()

	cl.once.Do(func() { close(cl.out) })
	s.logger.Debug("client disconnected", "client", cl.id)
}

func (s *Server) send(cl *client, message *signaling.Message) {
	data, err := message.Encode()
	if err != nil {
		s.logger.Error("encoding relay message", "type", message.Type, "error", err)
		return
	}
	s.sendRaw(cl, data)
}

func (s *Server) sendRaw(cl *client, data []byte) {
	select {
	case cl.out <- data:
	default:
		// The slow client loses the message; its keepalive will
		// notice the gap and reconnect.
		s.logger.Warn("client write queue full, dropping message", "client", cl.id)
	}
}

func (s *Server) sendError(cl *client, text string) {
	s.send(cl, &signaling.Message{Type: signaling.KindError, ErrorText: text})
}

// RoomCount reports the number of live rooms.
func (s *Server) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Close drops every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.mu.Unlock()

	for _, cl := range clients {
		cl.conn.Close()
	}
}
