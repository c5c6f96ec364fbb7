// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Key material at rest: the long-lived room secret is sealed with age
// x25519 encryption so the core never stores it in plaintext. The age
// identity is the machine's key; the sealed secret can sit in the
// configuration directory.

const identityFile = "glimpse-identity"

// GenerateIdentity creates a new age x25519 identity and writes it to
// dir with 0600 permissions. Returns the public recipient string,
// which is safe to share.
func GenerateIdentity(dir string) (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("security: generating identity: %w", err)
	}
	path := filepath.Join(dir, identityFile)
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), 0600); err != nil {
		return "", fmt.Errorf("security: writing identity: %w", err)
	}
	return identity.Recipient().String(), nil
}

// LoadIdentity reads the age identity from dir.
func LoadIdentity(dir string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(filepath.Join(dir, identityFile))
	if err != nil {
		return nil, fmt.Errorf("security: reading identity: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("security: parsing identity: %w", err)
	}
	return identity, nil
}

// SealSecret encrypts the room secret to the given recipient public
// keys and returns base64 ciphertext suitable for a config file. At
// least one recipient is required.
func SealSecret(secret []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("security: at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("security: parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipients...)
	if err != nil {
		return "", fmt.Errorf("security: starting encryption: %w", err)
	}
	if _, err := writer.Write(secret); err != nil {
		return "", fmt.Errorf("security: encrypting secret: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("security: finalizing encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sealed.Bytes()), nil
}

// OpenSecret decrypts a sealed room secret with the given identity.
func OpenSecret(sealedBase64 string, identity *age.X25519Identity) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(sealedBase64)
	if err != nil {
		return nil, fmt.Errorf("security: decoding sealed secret: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, fmt.Errorf("security: decrypting secret: %w", err)
	}
	secret, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("security: reading decrypted secret: %w", err)
	}
	return secret, nil
}
