// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Package security gates privileged session actions behind
// authentication and protects control-plane integrity and
// confidentiality.
//
// [Manager] is an explicitly constructed, dependency-injected object:
// the signaling client and the peer manager receive it at construction
// and never reach for ambient state. All key material lives inside the
// Manager; other packages go through its interface for signing and
// encryption, which serializes concurrent calls internally.
//
// Four access modes are supported: [ModePublic] (no authentication),
// [ModeProtected] (shared room password), [ModeAuthenticated]
// (per-user credential and role), and [ModePrivate] (explicit
// allow-list). [Manager.Authenticate] returns false on expected
// failures rather than an error; only configuration problems (an
// uninitialized manager, an unknown mode) surface as errors.
//
// Secure room identifiers bind a room id to its creation via an HMAC
// signature: [Manager.CreateSecureRoom] produces "roomID:SIG" and
// [Manager.JoinSecureRoom] verifies SIG before any credential check,
// so a tampered id is rejected without leaking whether the password
// would have matched.
//
// Message protection is a pure function of message, current time, and
// key material: [Manager.EncryptMessage] signs and encrypts a payload
// into an [Envelope]; [Manager.DecryptAndVerify] enforces the replay
// window, verifies the signature, and only then decrypts. Signing and
// encryption keys are derived independently from the long-lived room
// secret with HKDF, so a signature never doubles as key material.
//
// Tokens are HMAC-signed JWTs ([Manager.GenerateToken],
// [Manager.ValidateToken]). Validation is stateless: any holder of the
// shared secret can validate a token without prior authentication.
package security
