// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"github.com/pion/sdp/v3"
)

// Default bandwidth hints in kilobits per second. Video dominates a
// desktop stream; audio and the control data channel are modest.
const (
	DefaultVideoKbps       = 4000
	DefaultAudioKbps       = 128
	DefaultApplicationKbps = 1000
)

// BandwidthConfig sets per-media-type AS bandwidth hints written into
// every locally generated session description. A zero value for a
// media type leaves that section untouched.
type BandwidthConfig struct {
	VideoKbps       uint64
	AudioKbps       uint64
	ApplicationKbps uint64
}

// DefaultBandwidth returns the standard hint set.
func DefaultBandwidth() BandwidthConfig {
	return BandwidthConfig{
		VideoKbps:       DefaultVideoKbps,
		AudioKbps:       DefaultAudioKbps,
		ApplicationKbps: DefaultApplicationKbps,
	}
}

func (c BandwidthConfig) kbpsFor(media string) uint64 {
	switch media {
	case "video":
		return c.VideoKbps
	case "audio":
		return c.AudioKbps
	case "application":
		return c.ApplicationKbps
	}
	return 0
}

// Shape rewrites raw SDP so each media section carries the configured
// b=AS hint. The input is returned unchanged when it does not parse
// or when no section needs a hint: a malformed description is the
// negotiation layer's problem to reject, not ours to mangle.
func (c BandwidthConfig) Shape(raw string) string {
	parsed := &sdp.SessionDescription{}
	if err := parsed.UnmarshalString(raw); err != nil {
		return raw
	}

	changed := false
	for _, media := range parsed.MediaDescriptions {
		kbps := c.kbpsFor(media.MediaName.Media)
		if kbps == 0 {
			continue
		}
		media.Bandwidth = setASBandwidth(media.Bandwidth, kbps)
		changed = true
	}
	if !changed {
		return raw
	}

	shaped, err := parsed.Marshal()
	if err != nil {
		return raw
	}
	return string(shaped)
}

// setASBandwidth replaces any existing AS entry, keeping other
// bandwidth lines (for example TIAS) intact.
func setASBandwidth(existing []sdp.Bandwidth, kbps uint64) []sdp.Bandwidth {
	kept := existing[:0]
	for _, b := range existing {
		if b.Type != "AS" {
			kept = append(kept, b)
		}
	}
	return append(kept, sdp.Bandwidth{Type: "AS", Bandwidth: kbps})
}
