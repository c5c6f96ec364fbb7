// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Glimpse-relay is the standalone signaling relay. Hosts and viewers
// connect to it over websockets to discover each other and exchange
// session negotiation messages; media itself flows peer to peer and
// never touches the relay.
//
// The relay holds no persistent state: rooms live exactly as long as
// their last member's connection.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/glimpse-remote/glimpse/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glimpse-relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("glimpse-relay", pflag.ContinueOnError)
	listenAddr := flagSet.String("listen", "127.0.0.1:8750", "address to listen on")
	endpointPath := flagSet.String("path", "/ws", "websocket endpoint path")
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

	server := relay.NewServer(relay.Config{Logger: logger})
	mux := http.NewServeMux()
	mux.Handle(*endpointPath, server.Handler())
	httpServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpServer.ListenAndServe()
	}()
	logger.Info("relay listening", "address", *listenAddr, "path", *endpointPath)

	select {
	case err := <-serveDone:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
