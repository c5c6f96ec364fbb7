// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package input

// Forwarder is the injection collaborator on the hosting side: it
// turns remote events into local input. The platform shell implements
// it (X11, Wayland, a test double); everything here treats it as
// opaque.
type Forwarder interface {
	// ForwardEvent injects one event into the local session.
	ForwardEvent(event Event) error

	// SetEnabled toggles injection. While disabled, implementations
	// must inject nothing.
	SetEnabled(enabled bool)

	// ConfigureMonitors supplies the display layout used to translate
	// pointer coordinates.
	ConfigureMonitors(monitors []MonitorConfiguration) error
}
