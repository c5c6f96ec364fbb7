// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package input

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/glimpse-remote/glimpse/lib/codec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// pipeChannel is an in-process DataChannel: Send on one end invokes
// the OnMessage handler on the other.
type pipeChannel struct {
	mu      sync.Mutex
	handler func(webrtc.DataChannelMessage)
	remote  *pipeChannel
}

func newPipe() (*pipeChannel, *pipeChannel) {
	a := &pipeChannel{}
	b := &pipeChannel{}
	a.remote = b
	b.remote = a
	return a, b
}

func (p *pipeChannel) OnMessage(handler func(webrtc.DataChannelMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

func (p *pipeChannel) Send(data []byte) error {
	p.remote.mu.Lock()
	handler := p.remote.handler
	p.remote.mu.Unlock()
	if handler == nil {
		return errors.New("no handler registered")
	}
	handler(webrtc.DataChannelMessage{Data: data})
	return nil
}

type recordingForwarder struct {
	mu       sync.Mutex
	events   []Event
	monitors []MonitorConfiguration
	enabled  []bool
	fail     bool
}

func (f *recordingForwarder) ForwardEvent(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("scripted injection failure")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *recordingForwarder) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, enabled)
}

func (f *recordingForwarder) ConfigureMonitors(monitors []MonitorConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitors = monitors
	return nil
}

func (f *recordingForwarder) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func newBridgePair(t *testing.T) (*Sender, *Bridge, *recordingForwarder) {
	t.Helper()
	viewerEnd, hostEnd := newPipe()
	forwarder := &recordingForwarder{}
	bridge := NewBridge(hostEnd, forwarder, discardLogger())
	return NewSender(viewerEnd), bridge, forwarder
}

func TestEventsFlowViewerToForwarder(t *testing.T) {
	sender, _, forwarder := newBridgePair(t)

	events := []Event{
		{Type: EventMouseMove, X: 120, Y: 450, Monitor: 1},
		{Type: EventMouseButton, Button: ButtonLeft, IsPressed: true},
		{Type: EventMouseScroll, DeltaY: -3},
		{Type: EventKeyPress, KeyCode: 65, Modifiers: []string{"ctrl", "shift"}},
		{Type: EventKeyRelease, KeyCode: 65},
		{Type: EventTouchGesture, Gesture: GesturePinch, GestureMagnitude: 0.4},
		{Type: EventSpecialCommand, Command: CommandAppSwitcher},
	}
	for _, event := range events {
		if err := sender.Send(event); err != nil {
			t.Fatalf("Send(%s): %v", event.Type, err)
		}
	}

	received := forwarder.received()
	if len(received) != len(events) {
		t.Fatalf("forwarded %d events, want %d", len(received), len(events))
	}
	for i, want := range events {
		got := received[i]
		if got.Type != want.Type || got.X != want.X || got.Button != want.Button ||
			got.KeyCode != want.KeyCode || got.Gesture != want.Gesture ||
			got.Command != want.Command {
			t.Errorf("event %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestDisabledBridgeDropsEvents(t *testing.T) {
	sender, bridge, forwarder := newBridgePair(t)

	bridge.SetEnabled(false)
	if err := sender.Send(Event{Type: EventMouseMove, X: 1, Y: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := forwarder.received(); len(got) != 0 {
		t.Fatalf("disabled bridge forwarded %d events, want 0", len(got))
	}

	// Re-enabling forwards new events only; the dropped one is gone.
	bridge.SetEnabled(true)
	if err := sender.Send(Event{Type: EventMouseMove, X: 2, Y: 2}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := forwarder.received()
	if len(got) != 1 || got[0].X != 2 {
		t.Fatalf("after re-enable got %+v, want only the new event", got)
	}

	forwarder.mu.Lock()
	toggles := append([]bool(nil), forwarder.enabled...)
	forwarder.mu.Unlock()
	if len(toggles) != 2 || toggles[0] || !toggles[1] {
		t.Fatalf("forwarder toggles = %v, want [false true]", toggles)
	}
}

func TestUndecodableAndInvalidPayloadsDropped(t *testing.T) {
	viewerEnd, hostEnd := newPipe()
	forwarder := &recordingForwarder{}
	NewBridge(hostEnd, forwarder, discardLogger())

	if err := viewerEnd.Send([]byte{0xff, 0x00, 0x13}); err != nil {
		t.Fatalf("Send raw: %v", err)
	}
	data, err := codec.Marshal(Event{Type: "warp"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := viewerEnd.Send(data); err != nil {
		t.Fatalf("Send unknown type: %v", err)
	}

	if got := forwarder.received(); len(got) != 0 {
		t.Fatalf("forwarded %d garbage events, want 0", len(got))
	}
}

func TestSenderRejectsInvalidEvents(t *testing.T) {
	sender, _, forwarder := newBridgePair(t)

	invalid := []Event{
		{Type: EventMouseButton},                 // no button
		{Type: EventKeyPress},                    // no key code
		{Type: EventMouseScroll},                 // no delta
		{Type: EventTouchGesture},                // no gesture
		{Type: EventSpecialCommand},              // no command
		{Type: EventType("teleport"), X: 1},      // unknown type
	}
	for _, event := range invalid {
		if err := sender.Send(event); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("Send(%+v) = %v, want ErrMalformedEvent", event, err)
		}
	}
	if got := forwarder.received(); len(got) != 0 {
		t.Fatalf("forwarded %d invalid events, want 0", len(got))
	}
}

func TestConfigureMonitorsReachesForwarder(t *testing.T) {
	_, bridge, forwarder := newBridgePair(t)

	layout := []MonitorConfiguration{
		{Index: 0, Width: 1920, Height: 1080, ScaleFactor: 1, Primary: true},
		{Index: 1, XOffset: 1920, Width: 1280, Height: 1024, ScaleFactor: 1.25},
	}
	if err := bridge.ConfigureMonitors(layout); err != nil {
		t.Fatalf("ConfigureMonitors: %v", err)
	}

	forwarder.mu.Lock()
	defer forwarder.mu.Unlock()
	if len(forwarder.monitors) != 2 || forwarder.monitors[1].XOffset != 1920 {
		t.Fatalf("forwarder monitors = %+v, want the two-display layout", forwarder.monitors)
	}
}

func TestInjectionFailureDoesNotPropagate(t *testing.T) {
	sender, _, forwarder := newBridgePair(t)
	forwarder.mu.Lock()
	forwarder.fail = true
	forwarder.mu.Unlock()

	// The bridge logs and swallows per-event injection failures; the
	// sender only sees transport errors.
	if err := sender.Send(Event{Type: EventMouseMove, X: 5, Y: 5}); err != nil {
		t.Fatalf("Send during injection failure: %v", err)
	}
}
