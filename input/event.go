// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package input

import (
	"errors"
	"fmt"
)

// EventType discriminates the input event union.
type EventType string

const (
	EventMouseMove      EventType = "mouse-move"
	EventMouseButton    EventType = "mouse-button"
	EventMouseScroll    EventType = "mouse-scroll"
	EventKeyPress       EventType = "key-press"
	EventKeyRelease     EventType = "key-release"
	EventTouchGesture   EventType = "touch-gesture"
	EventSpecialCommand EventType = "special-command"
)

// MouseButton identifies a pointer button, including the synthetic
// buttons precision trackpads report.
type MouseButton string

const (
	ButtonLeft           MouseButton = "left"
	ButtonMiddle         MouseButton = "middle"
	ButtonRight          MouseButton = "right"
	ButtonBack           MouseButton = "back"
	ButtonForward        MouseButton = "forward"
	ButtonTouchTap       MouseButton = "touch-tap"
	ButtonTouchDoubleTap MouseButton = "touch-double-tap"
)

// TouchGesture identifies a multi-finger gesture.
type TouchGesture string

const (
	GesturePinch            TouchGesture = "pinch"
	GestureRotate           TouchGesture = "rotate"
	GestureThreeFingerSwipe TouchGesture = "three-finger-swipe"
	GestureFourFingerSwipe  TouchGesture = "four-finger-swipe"
	GestureTwoFingerScroll  TouchGesture = "two-finger-scroll"
)

// GestureDirection orients a swipe or scroll gesture.
type GestureDirection string

const (
	DirectionLeft  GestureDirection = "left"
	DirectionRight GestureDirection = "right"
	DirectionUp    GestureDirection = "up"
	DirectionDown  GestureDirection = "down"
)

// SpecialCommand names a desktop-level chord that cannot be expressed
// as raw key events portably.
type SpecialCommand string

const (
	CommandAppSwitcher    SpecialCommand = "app-switcher"
	CommandDesktopToggle  SpecialCommand = "desktop-toggle"
	CommandScreenSnapshot SpecialCommand = "screen-snapshot"
	CommandLockScreen     SpecialCommand = "lock-screen"
)

// Event is one remote input event. Only the fields relevant to its
// Type are set; Validate enforces the per-type requirements.
type Event struct {
	Type EventType `json:"eventType" cbor:"eventType"`

	// Pointer position, in the coordinate space of the target
	// monitor.
	X int `json:"x,omitempty" cbor:"x,omitempty"`
	Y int `json:"y,omitempty" cbor:"y,omitempty"`

	Button    MouseButton `json:"button,omitempty" cbor:"button,omitempty"`
	IsPressed bool        `json:"isPressed,omitempty" cbor:"isPressed,omitempty"`

	KeyCode   uint32   `json:"keyCode,omitempty" cbor:"keyCode,omitempty"`
	Modifiers []string `json:"modifiers,omitempty" cbor:"modifiers,omitempty"`

	// Scroll deltas, in lines.
	DeltaX float32 `json:"deltaX,omitempty" cbor:"deltaX,omitempty"`
	DeltaY float32 `json:"deltaY,omitempty" cbor:"deltaY,omitempty"`

	// Monitor is the target display for multi-monitor setups;
	// negative means the primary.
	Monitor int `json:"monitorIndex,omitempty" cbor:"monitorIndex,omitempty"`

	Gesture          TouchGesture     `json:"gesture,omitempty" cbor:"gesture,omitempty"`
	GestureDirection GestureDirection `json:"gestureDirection,omitempty" cbor:"gestureDirection,omitempty"`
	GestureMagnitude float32          `json:"gestureMagnitude,omitempty" cbor:"gestureMagnitude,omitempty"`

	Command SpecialCommand `json:"specialCommand,omitempty" cbor:"specialCommand,omitempty"`

	// CustomCommand carries the command string when Command names a
	// host-defined chord.
	CustomCommand string `json:"customCommand,omitempty" cbor:"customCommand,omitempty"`
}

// ErrMalformedEvent reports an event whose fields do not satisfy its
// type.
var ErrMalformedEvent = errors.New("input: malformed event")

// Validate checks the per-type field requirements.
func (e *Event) Validate() error {
	switch e.Type {
	case EventMouseMove:
		// Position zero is a legal corner; nothing further to check.
	case EventMouseButton:
		if e.Button == "" {
			return fmt.Errorf("%w: mouse-button without button", ErrMalformedEvent)
		}
	case EventMouseScroll:
		if e.DeltaX == 0 && e.DeltaY == 0 {
			return fmt.Errorf("%w: mouse-scroll without delta", ErrMalformedEvent)
		}
	case EventKeyPress, EventKeyRelease:
		if e.KeyCode == 0 {
			return fmt.Errorf("%w: %s without keyCode", ErrMalformedEvent, e.Type)
		}
	case EventTouchGesture:
		if e.Gesture == "" {
			return fmt.Errorf("%w: touch-gesture without gesture", ErrMalformedEvent)
		}
	case EventSpecialCommand:
		if e.Command == "" {
			return fmt.Errorf("%w: special-command without command", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}

// MonitorConfiguration places one display in the virtual desktop so
// pointer coordinates can be translated across monitors.
type MonitorConfiguration struct {
	Index       int     `json:"index" cbor:"index"`
	XOffset     int     `json:"xOffset" cbor:"xOffset"`
	YOffset     int     `json:"yOffset" cbor:"yOffset"`
	Width       int     `json:"width" cbor:"width"`
	Height      int     `json:"height" cbor:"height"`
	ScaleFactor float32 `json:"scaleFactor" cbor:"scaleFactor"`
	Primary     bool    `json:"isPrimary" cbor:"isPrimary"`
}
