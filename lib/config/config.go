// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Glimpse
// components.
//
// Configuration is loaded from a single YAML file specified by:
//   - GLIMPSE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; environment variables never override
// its values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a Glimpse host.
type Config struct {
	// Signaling configures the relay connection.
	Signaling SignalingConfig `yaml:"signaling"`

	// Security configures room protection.
	Security SecurityConfig `yaml:"security"`

	// ICE lists STUN/TURN servers for peer transports.
	ICE ICEConfig `yaml:"ice"`

	// Media configures capture and encoding.
	Media MediaConfig `yaml:"media"`

	// Input configures remote input injection.
	Input InputConfig `yaml:"input"`

	// Clipboard configures clipboard synchronization.
	Clipboard ClipboardConfig `yaml:"clipboard"`

	// FileTransfer configures file exchange.
	FileTransfer FileTransferConfig `yaml:"file_transfer"`
}

// SignalingConfig configures the relay connection.
type SignalingConfig struct {
	// URL is the relay websocket endpoint, e.g. wss://relay.example/ws.
	URL string `yaml:"url"`

	// ClientID identifies this host to the relay. Empty means a
	// generated id.
	ClientID string `yaml:"client_id"`

	// ReconnectAttempts bounds the reconnect loop; zero keeps the
	// built-in default.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// KeepaliveInterval is the ping cadence as a duration string
	// ("20s"); empty keeps the built-in default.
	KeepaliveInterval string `yaml:"keepalive_interval"`
}

// Keepalive returns the parsed keepalive interval, zero when unset.
func (c SignalingConfig) Keepalive() time.Duration {
	d, _ := time.ParseDuration(c.KeepaliveInterval)
	return d
}

// SecurityConfig configures room protection.
type SecurityConfig struct {
	// Mode selects the access policy: public, protected,
	// authenticated, or private. Empty means public.
	Mode string `yaml:"mode"`

	// SecretFile is the path to the master secret. When
	// IdentityDir is set, the file holds the age-sealed secret.
	SecretFile string `yaml:"secret_file"`

	// IdentityDir is the directory holding the age identity that
	// unseals SecretFile. Empty means SecretFile holds the raw
	// secret.
	IdentityDir string `yaml:"identity_dir"`

	// RoomPassword protects rooms in protected mode.
	RoomPassword string `yaml:"room_password"`

	// Users lists the registered accounts for authenticated and
	// private modes.
	Users []UserConfig `yaml:"users"`

	// AllowList names the users admitted in allowlist mode.
	AllowList []string `yaml:"allow_list"`
}

// UserConfig is one registered account.
type UserConfig struct {
	// Name is the account name presented at authentication.
	Name string `yaml:"name"`

	// Role is the account's session role: host or viewer.
	Role string `yaml:"role"`

	// CredentialHash is the argon2id hash of the account's credential,
	// as produced by glimpse-keygen --hash.
	CredentialHash string `yaml:"credential_hash"`
}

// ICEConfig lists STUN/TURN servers.
type ICEConfig struct {
	Servers []ICEServer `yaml:"servers"`
}

// ICEServer is one STUN or TURN endpoint.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// MediaConfig configures capture and encoding.
type MediaConfig struct {
	// Monitor is the display index to capture.
	Monitor int `yaml:"monitor"`

	// FPS is the nominal frame rate.
	FPS int `yaml:"fps"`

	// BitrateKbps is the nominal video bitrate.
	BitrateKbps int `yaml:"bitrate_kbps"`

	// Codec names the video codec: h264, vp8, vp9, or av1.
	Codec string `yaml:"codec"`

	// Latency selects the encoder latency mode: ultra-low, balanced,
	// or quality.
	Latency string `yaml:"latency"`
}

// InputConfig configures remote input injection.
type InputConfig struct {
	// Enabled gates all injection.
	Enabled bool `yaml:"enabled"`

	// TouchGestures enables multi-finger gesture events.
	TouchGestures bool `yaml:"touch_gestures"`

	// SpecialCommands enables desktop-level chord events.
	SpecialCommands bool `yaml:"special_commands"`

	// KeyboardLayout names the layout used for key code translation.
	KeyboardLayout string `yaml:"keyboard_layout"`
}

// ClipboardConfig configures clipboard synchronization.
type ClipboardConfig struct {
	// Enabled gates synchronization in both directions.
	Enabled bool `yaml:"enabled"`

	// PollInterval is the local clipboard polling cadence as a
	// duration string ("500ms"); empty keeps the built-in default.
	PollInterval string `yaml:"poll_interval"`
}

// Poll returns the parsed polling cadence, zero when unset.
func (c ClipboardConfig) Poll() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// FileTransferConfig configures file exchange.
type FileTransferConfig struct {
	// Enabled gates transfers in both directions.
	Enabled bool `yaml:"enabled"`

	// ChunkSize bounds uncompressed bytes per chunk; zero keeps the
	// built-in default.
	ChunkSize int `yaml:"chunk_size"`

	// DownloadDir is where accepted files land.
	DownloadDir string `yaml:"download_dir"`
}

// Default returns the default configuration. These defaults ensure
// every field has a sensible zero value before the file is applied;
// the config file itself is still required.
func Default() *Config {
	return &Config{
		Signaling: SignalingConfig{
			URL: "ws://127.0.0.1:8750/ws",
		},
		Security: SecurityConfig{
			Mode: "public",
		},
		ICE: ICEConfig{
			Servers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		Media: MediaConfig{
			Monitor:     0,
			FPS:         30,
			BitrateKbps: 4000,
			Codec:       "vp8",
			Latency:     "balanced",
		},
		Input: InputConfig{
			Enabled:         true,
			TouchGestures:   true,
			SpecialCommands: true,
			KeyboardLayout:  "us",
		},
		Clipboard: ClipboardConfig{
			Enabled: true,
		},
		FileTransfer: FileTransferConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from the GLIMPSE_CONFIG environment
// variable. There are no fallbacks: if GLIMPSE_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	path := os.Getenv("GLIMPSE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("GLIMPSE_CONFIG environment variable not set; " +
			"set it to the path of your glimpse.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, applied on
// top of Default.
func LoadFile(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

var validModes = map[string]bool{
	"public": true, "protected": true, "authenticated": true, "private": true,
}

var validCodecs = map[string]bool{
	"h264": true, "vp8": true, "vp9": true, "av1": true,
}

var validLatencies = map[string]bool{
	"ultra-low": true, "balanced": true, "quality": true,
}

// Validate checks cross-field consistency. It catches configurations
// that would fail later in confusing ways.
func (c *Config) Validate() error {
	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url is required")
	}
	if !validModes[c.Security.Mode] {
		return fmt.Errorf("security.mode %q is not one of public, protected, authenticated, private", c.Security.Mode)
	}
	if c.Security.Mode != "public" && c.Security.SecretFile == "" {
		return fmt.Errorf("security.secret_file is required for mode %q", c.Security.Mode)
	}
	if c.Security.Mode == "protected" && c.Security.RoomPassword == "" {
		return fmt.Errorf("security.room_password is required for protected mode")
	}
	if c.Security.Mode == "private" && len(c.Security.AllowList) == 0 {
		return fmt.Errorf("security.allow_list is required for private mode")
	}
	if c.Security.Mode == "authenticated" || c.Security.Mode == "private" {
		if len(c.Security.Users) == 0 {
			return fmt.Errorf("security.users is required for mode %q", c.Security.Mode)
		}
		for i, user := range c.Security.Users {
			if user.Name == "" {
				return fmt.Errorf("security.users[%d]: name is required", i)
			}
			if user.CredentialHash == "" {
				return fmt.Errorf("security.users[%d] (%s): credential_hash is required", i, user.Name)
			}
			if user.Role != "host" && user.Role != "viewer" {
				return fmt.Errorf("security.users[%d] (%s): role %q is not one of host, viewer", i, user.Name, user.Role)
			}
		}
	}
	if !validCodecs[c.Media.Codec] {
		return fmt.Errorf("media.codec %q is not one of h264, vp8, vp9, av1", c.Media.Codec)
	}
	if !validLatencies[c.Media.Latency] {
		return fmt.Errorf("media.latency %q is not one of ultra-low, balanced, quality", c.Media.Latency)
	}
	if c.Media.FPS <= 0 || c.Media.FPS > 240 {
		return fmt.Errorf("media.fps %d is out of range (1-240)", c.Media.FPS)
	}
	if c.Media.Monitor < 0 {
		return fmt.Errorf("media.monitor must not be negative")
	}
	if c.Signaling.KeepaliveInterval != "" {
		if _, err := time.ParseDuration(c.Signaling.KeepaliveInterval); err != nil {
			return fmt.Errorf("signaling.keepalive_interval: %w", err)
		}
	}
	if c.Clipboard.PollInterval != "" {
		if _, err := time.ParseDuration(c.Clipboard.PollInterval); err != nil {
			return fmt.Errorf("clipboard.poll_interval: %w", err)
		}
	}
	return nil
}
