// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Glimpse-host runs a sharing session: it connects to the signaling
// relay, opens a room, and negotiates a transport with every viewer
// that joins. Platform capture and input injection plug in behind the
// stream and input package interfaces; without them the host still
// carries the full session control plane, which is what this binary
// exercises on headless deployments.
//
// Configuration comes from the YAML file named by --config or the
// GLIMPSE_CONFIG environment variable.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/glimpse-remote/glimpse/filetransfer"
	"github.com/glimpse-remote/glimpse/lib/config"
	"github.com/glimpse-remote/glimpse/peer"
	"github.com/glimpse-remote/glimpse/security"
	"github.com/glimpse-remote/glimpse/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glimpse-host: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("glimpse-host", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to glimpse.yaml (default: $GLIMPSE_CONFIG)")
	roomID := flagSet.String("room", "", "room id to create (default: relay-assigned)")
	maxViewers := flagSet.Int("max-viewers", 0, "cap on concurrent viewers, 0 for unlimited")
	verbose := flagSet.BoolP("verbose", "v", false, "enable debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var conf *config.Config
	var err error
	if *configPath != "" {
		conf, err = config.LoadFile(*configPath)
	} else {
		conf, err = config.Load()
	}
	if err != nil {
		return err
	}

	securityManager, err := buildSecurity(conf)
	if err != nil {
		return err
	}

	clientID := conf.Signaling.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client, err := signaling.NewClient(signaling.ClientConfig{
		URL:                  conf.Signaling.URL,
		ClientID:             clientID,
		Security:             securityManager,
		KeepaliveInterval:    conf.Signaling.Keepalive(),
		MaxReconnectAttempts: conf.Signaling.ReconnectAttempts,
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	manager := peer.NewManager(peer.Config{
		Signaling: client,
		ICE:       peer.ICEConfig{Servers: iceServers(conf)},
		Bandwidth: peer.BandwidthConfig{VideoKbps: uint64(conf.Media.BitrateKbps)},
		Logger:    logger,
	})
	peerEvents, cancelPeerEvents := manager.Subscribe()
	defer cancelPeerEvents()
	signalEvents, cancelSignalEvents := client.Subscribe()
	defer cancelSignalEvents()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to relay: %w", err)
	}
	logger.Info("connected to relay", "url", conf.Signaling.URL, "client", clientID)

	managerDone := make(chan struct{})
	go func() {
		manager.Run(ctx)
		close(managerDone)
	}()

	room, err := sessionRoomID(*roomID, securityManager)
	if err != nil {
		return err
	}
	var settings *signaling.RoomSettings
	if *maxViewers > 0 {
		settings = &signaling.RoomSettings{MaxViewers: *maxViewers}
	}
	if err := client.CreateRoom(room, settings); err != nil {
		return fmt.Errorf("creating room: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			client.LeaveRoom()
			<-managerDone
			logger.Info("session ended")
			return nil
		case event := <-peerEvents:
			if open, ok := event.(peer.ControlChannelOpen); ok {
				bindControlChannel(conf, logger, open)
				continue
			}
			logPeerEvent(logger, event)
		case event := <-signalEvents:
			switch typed := event.(type) {
			case signaling.RoomCreated:
				// The room id doubles as the join code viewers need.
				logger.Info("room ready", "room", typed.RoomID, "mode", conf.Security.Mode)
			case signaling.Disconnected:
				return fmt.Errorf("relay connection lost: %s", typed.Reason)
			case signaling.RelayError:
				logger.Warn("relay error", "text", typed.Text)
			}
		}
	}
}

// buildSecurity returns the security manager for the configured mode,
// or nil for public sessions.
func buildSecurity(conf *config.Config) (*security.Manager, error) {
	if conf.Security.Mode == "" || conf.Security.Mode == "public" {
		return nil, nil
	}
	secret, err := loadSecret(conf)
	if err != nil {
		return nil, err
	}
	users := make([]security.User, 0, len(conf.Security.Users))
	for _, user := range conf.Security.Users {
		users = append(users, security.User{
			Name:           user.Name,
			Role:           security.Role(user.Role),
			CredentialHash: user.CredentialHash,
		})
	}
	manager, err := security.NewManager(security.Config{
		Secret:       secret,
		RoomPassword: conf.Security.RoomPassword,
		Users:        users,
		AllowList:    conf.Security.AllowList,
	})
	if err != nil {
		return nil, err
	}
	return manager, nil
}

// loadSecret reads the master secret, unsealing it with the age
// identity when one is configured.
func loadSecret(conf *config.Config) ([]byte, error) {
	raw, err := os.ReadFile(conf.Security.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	if conf.Security.IdentityDir == "" {
		return raw, nil
	}
	identity, err := security.LoadIdentity(conf.Security.IdentityDir)
	if err != nil {
		return nil, err
	}
	return security.OpenSecret(strings.TrimSpace(string(raw)), identity)
}

// sessionRoomID picks the room id the host asks the relay for. Secure
// sessions embed a creation stamp in the id, so a base id is required;
// public sessions may leave it to the relay.
func sessionRoomID(requested string, securityManager *security.Manager) (string, error) {
	if securityManager == nil {
		return requested, nil
	}
	base := requested
	if base == "" {
		base = uuid.NewString()
	}
	return securityManager.CreateSecureRoom(base)
}

func iceServers(conf *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(conf.ICE.Servers))
	for _, server := range conf.ICE.Servers {
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		servers = append(servers, entry)
	}
	return servers
}

// bindControlChannel attaches the file-transfer receiver to a peer's
// freshly opened control channel, delivering accepted files into the
// configured download directory.
func bindControlChannel(conf *config.Config, logger *slog.Logger, open peer.ControlChannelOpen) {
	logger.Info("control channel open", "peer", open.PeerID)
	if !conf.FileTransfer.Enabled {
		return
	}
	receiver, err := filetransfer.NewReceiver(filetransfer.ReceiverConfig{
		Send: open.Channel.Send,
		OnComplete: func(id, name string, content []byte) {
			path := filepath.Join(conf.FileTransfer.DownloadDir, filepath.Base(name))
			if err := os.WriteFile(path, content, 0o600); err != nil {
				logger.Error("saving received file", "transfer", id, "path", path, "error", err)
				return
			}
			logger.Info("file received", "peer", open.PeerID, "path", path, "bytes", len(content))
		},
		OnFailed: func(id string, err error) {
			logger.Warn("file transfer failed", "peer", open.PeerID, "transfer", id, "error", err)
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("creating file-transfer receiver", "peer", open.PeerID, "error", err)
		return
	}
	open.Channel.OnMessage(func(message webrtc.DataChannelMessage) {
		if err := receiver.HandleMessage(message.Data); err != nil {
			logger.Debug("control frame not handled", "peer", open.PeerID, "error", err)
		}
	})
}

func logPeerEvent(logger *slog.Logger, event peer.Event) {
	switch typed := event.(type) {
	case peer.Connected:
		logger.Info("peer connected", "peer", typed.PeerID)
	case peer.Recovering:
		logger.Warn("peer recovering", "peer", typed.PeerID, "attempt", typed.Attempt)
	case peer.Closed:
		logger.Info("peer closed", "peer", typed.PeerID, "reason", typed.Reason)
	case peer.QualityChanged:
		logger.Debug("peer quality", "peer", typed.PeerID, "level", typed.Level,
			"rtt", typed.Sample.RoundTripTime, "loss", typed.Sample.PacketLossRatio)
	case peer.TrackReceived:
		logger.Info("peer track", "peer", typed.PeerID)
	}
}
