// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package clipboard synchronizes clipboard content between peers.
//
// A [Syncer] polls the local platform [Provider] on a cadence,
// deduplicates by content digest, and broadcasts new entries to the
// remote side. Inbound entries are applied to the local provider with
// their digest pre-recorded, so the next poll does not echo them back
// — that suppression is what keeps two syncers from ping-ponging the
// same content forever.
package clipboard

import (
	"context"
	"time"
)

// ContentType discriminates what kind of data an entry carries.
type ContentType string

const (
	TypeText  ContentType = "text"
	TypeImage ContentType = "image"
	TypeHTML  ContentType = "html"
	TypeFiles ContentType = "files"
)

// Content is the raw clipboard payload a Provider exchanges.
type Content struct {
	Type     ContentType
	Data     []byte
	MimeType string
}

// Metadata describes an entry without its payload.
type Metadata struct {
	Size     int    `json:"size" cbor:"size"`
	MimeType string `json:"mimeType" cbor:"mimeType"`
	// Source is "local" or "remote", for history display.
	Source string `json:"source" cbor:"source"`
}

// Entry is one synchronized clipboard item.
type Entry struct {
	ID        string      `json:"id" cbor:"id"`
	Type      ContentType `json:"contentType" cbor:"contentType"`
	Data      []byte      `json:"data" cbor:"data"`
	Metadata  Metadata    `json:"metadata" cbor:"metadata"`
	Timestamp time.Time   `json:"timestamp" cbor:"timestamp"`
}

// Provider is the platform clipboard collaborator (X11, Wayland, a
// test double).
type Provider interface {
	// Get reads the current clipboard content.
	Get(ctx context.Context) (Content, error)

	// Set replaces the clipboard content.
	Set(ctx context.Context, content Content) error
}
