// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package input

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/glimpse-remote/glimpse/lib/codec"
)

// DataChannel is the message-oriented pipe input travels over. A pion
// data channel satisfies it.
type DataChannel interface {
	OnMessage(func(webrtc.DataChannelMessage))
	Send(data []byte) error
}

var _ DataChannel = (*webrtc.DataChannel)(nil)

// Bridge sits on the hosting side of an input data channel: it
// decodes inbound events and hands them to the injected Forwarder.
// While disabled it drops events on the floor instead of queueing
// them — stale input replayed after re-enabling would be worse than
// lost input.
type Bridge struct {
	forwarder Forwarder
	logger    *slog.Logger

	mu      sync.Mutex
	enabled bool
}

// NewBridge wires channel into forwarder. The bridge starts enabled.
func NewBridge(channel DataChannel, forwarder Forwarder, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{forwarder: forwarder, logger: logger, enabled: true}
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		b.handle(message.Data)
	})
	return b
}

// SetEnabled toggles injection, on the bridge and on the forwarder.
func (b *Bridge) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
	b.forwarder.SetEnabled(enabled)
	b.logger.Info("input forwarding toggled", "enabled", enabled)
}

// Enabled reports the current gate state.
func (b *Bridge) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// ConfigureMonitors passes the display layout to the forwarder.
func (b *Bridge) ConfigureMonitors(monitors []MonitorConfiguration) error {
	if err := b.forwarder.ConfigureMonitors(monitors); err != nil {
		return fmt.Errorf("input: configuring monitors: %w", err)
	}
	return nil
}

func (b *Bridge) handle(data []byte) {
	b.mu.Lock()
	enabled := b.enabled
	b.mu.Unlock()
	if !enabled {
		return
	}

	var event Event
	if err := codec.Unmarshal(data, &event); err != nil {
		b.logger.Debug("dropping undecodable input event", "error", err)
		return
	}
	if err := event.Validate(); err != nil {
		b.logger.Debug("dropping invalid input event", "error", err)
		return
	}
	if err := b.forwarder.ForwardEvent(event); err != nil {
		// One rejected injection is not a session failure.
		b.logger.Debug("forwarding input event", "type", event.Type, "error", err)
	}
}

// Sender sits on the viewing side: it encodes local events onto the
// channel.
type Sender struct {
	channel DataChannel
}

// NewSender creates a sender over channel.
func NewSender(channel DataChannel) *Sender {
	return &Sender{channel: channel}
}

// Send validates and transmits one event.
func (s *Sender) Send(event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	data, err := codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("input: encoding event: %w", err)
	}
	if err := s.channel.Send(data); err != nil {
		return fmt.Errorf("input: sending event: %w", err)
	}
	return nil
}
