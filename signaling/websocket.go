// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Compile-time interface checks.
var (
	_ Dialer = (*WebsocketDialer)(nil)
	_ Conn   = (*websocketConn)(nil)
)

// WebsocketDialer dials the relay over a websocket. This is the
// production Dialer.
type WebsocketDialer struct {
	// Dialer overrides the underlying websocket dialer. Nil means
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial opens a websocket connection to the relay URL.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: websocket dial %s: %w", url, err)
	}
	return &websocketConn{ws: ws}, nil
}

// websocketConn adapts a gorilla websocket to the Conn interface.
// gorilla permits one concurrent writer, so writes are serialized.
type websocketConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *websocketConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) Close() error {
	return c.ws.Close()
}
