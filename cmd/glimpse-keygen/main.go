// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

// Glimpse-keygen manages the key material for secured sessions. It
// generates the machine's age identity and seals the master secret to
// it, so the secret never sits on disk in plaintext.
//
// Typical setup:
//
//	glimpse-keygen --dir ~/.config/glimpse
//	glimpse-keygen --dir ~/.config/glimpse --seal secret.raw --out secret.sealed
//
// Point security.secret_file at the sealed output and
// security.identity_dir at the identity directory.
//
// It also hashes account credentials for the security.users section:
//
//	glimpse-keygen --hash 'viewer-passphrase'
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/glimpse-remote/glimpse/security"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glimpse-keygen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("glimpse-keygen", pflag.ContinueOnError)
	dir := flagSet.String("dir", "", "directory for the identity (required)")
	sealPath := flagSet.String("seal", "", "plaintext secret file to seal")
	outPath := flagSet.String("out", "", "where to write the sealed secret (required with --seal)")
	hashCredential := flagSet.String("hash", "", "credential to hash for the config users section")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *hashCredential != "" {
		hash, err := security.HashCredential(*hashCredential)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}
	if *dir == "" {
		return fmt.Errorf("--dir is required")
	}

	if *sealPath == "" {
		recipient, err := security.GenerateIdentity(*dir)
		if err != nil {
			return err
		}
		fmt.Printf("identity written to %s\nrecipient: %s\n", *dir, recipient)
		return nil
	}

	if *outPath == "" {
		return fmt.Errorf("--out is required with --seal")
	}
	identity, err := security.LoadIdentity(*dir)
	if err != nil {
		return err
	}
	secret, err := os.ReadFile(*sealPath)
	if err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}
	sealed, err := security.SealSecret(secret, []string{identity.Recipient().String()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, []byte(sealed+"\n"), 0600); err != nil {
		return fmt.Errorf("writing sealed secret: %w", err)
	}
	fmt.Printf("sealed secret written to %s\n", *outPath)
	return nil
}
