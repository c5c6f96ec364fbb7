// Copyright 2026 The Glimpse Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Mode selects how a room authenticates its participants.
type Mode string

const (
	// ModePublic requires no authentication.
	ModePublic Mode = "public"
	// ModeProtected requires the shared room password.
	ModeProtected Mode = "protected"
	// ModeAuthenticated requires a registered user credential.
	ModeAuthenticated Mode = "authenticated"
	// ModePrivate additionally restricts access to an explicit
	// allow-list of user names.
	ModePrivate Mode = "private"
)

// Role is the authorization role of an authenticated user.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// Errors surfaced by the security manager. Expected authentication
// failures are reported as a false return, not as an error; these
// errors indicate configuration or integrity problems.
var (
	ErrNotInitialized   = errors.New("security: manager not initialized with a secret")
	ErrNotAuthenticated = errors.New("security: no authenticated user context")
	ErrMalformedRoomID  = errors.New("security: malformed secure room id")
	ErrTamperedRoomID   = errors.New("security: secure room id signature mismatch")
)

// randReader sources randomness for salts and nonces. A variable so
// tests can make generation deterministic.
var randReader io.Reader = rand.Reader

// minSecretSize is the minimum length of the long-lived room secret.
const minSecretSize = 16

// User is a registered participant for ModeAuthenticated and
// ModePrivate rooms. CredentialHash is an argon2id hash produced by
// [HashCredential]; the plain credential is never stored.
type User struct {
	Name           string
	Role           Role
	CredentialHash string
}

// Config configures a Manager.
type Config struct {
	// Secret is the long-lived key material supplied externally at
	// initialization. It is opaque to the rest of the system; signing
	// and encryption keys are derived from it.
	Secret []byte

	// RoomPassword is the shared secret for ModeProtected rooms.
	RoomPassword string

	// Users are the registered users for ModeAuthenticated and
	// ModePrivate rooms, keyed by name at construction.
	Users []User

	// AllowList is the set of user names admitted in ModePrivate.
	AllowList []string

	// Clock supplies time for replay windows and token expiry. Nil
	// means the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Manager holds the key material and authentication state for one
// session. All methods are safe for concurrent use; cryptographic
// calls are serialized internally.
type Manager struct {
	signingKey    []byte
	encryptionKey []byte

	roomPassword string
	users        map[string]User
	allowList    map[string]struct{}

	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	currentUser *User
	currentMode Mode
}

// NewManager derives the signing and encryption keys from the
// configured secret and returns a ready Manager. The secret must be at
// least 16 bytes; key material shorter than that is a configuration
// error, surfaced synchronously.
func NewManager(config Config) (*Manager, error) {
	if len(config.Secret) < minSecretSize {
		return nil, fmt.Errorf("security: secret must be at least %d bytes, got %d", minSecretSize, len(config.Secret))
	}

	// Independent keys for signing and encryption, both bound to the
	// same long-lived secret. A compromise of one derived key does not
	// reveal the other.
	signingKey, err := deriveKey(config.Secret, "glimpse/signing/v1", sha256.Size)
	if err != nil {
		return nil, fmt.Errorf("security: deriving signing key: %w", err)
	}
	encryptionKey, err := deriveKey(config.Secret, "glimpse/encryption/v1", chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("security: deriving encryption key: %w", err)
	}

	users := make(map[string]User, len(config.Users))
	for _, user := range config.Users {
		users[user.Name] = user
	}
	allowList := make(map[string]struct{}, len(config.AllowList))
	for _, name := range config.AllowList {
		allowList[name] = struct{}{}
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		signingKey:    signingKey,
		encryptionKey: encryptionKey,
		roomPassword:  config.RoomPassword,
		users:         users,
		allowList:     allowList,
		clock:         clk,
		logger:        logger,
	}, nil
}

// deriveKey expands the master secret into a purpose-bound key using
// HKDF-SHA256 with the purpose string as info.
func deriveKey(secret []byte, purpose string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Authenticate checks a credential against the given mode. It returns
// true and establishes the current-user context on success; expected
// failures (wrong password, unknown user, not on the allow-list)
// return false. Only an unknown mode is an error.
func (m *Manager) Authenticate(mode Mode, credential, userName, originAddress string) (bool, error) {
	switch mode {
	case ModePublic:
		m.setCurrent(mode, &User{Name: userName, Role: RoleViewer})
		return true, nil

	case ModeProtected:
		if subtle.ConstantTimeCompare([]byte(credential), []byte(m.roomPassword)) != 1 {
			m.logger.Warn("room password rejected", "origin", originAddress)
			return false, nil
		}
		m.setCurrent(mode, &User{Name: userName, Role: RoleViewer})
		return true, nil

	case ModeAuthenticated:
		user, ok := m.verifyUser(userName, credential)
		if !ok {
			m.logger.Warn("user credential rejected", "user", userName, "origin", originAddress)
			return false, nil
		}
		m.setCurrent(mode, user)
		return true, nil

	case ModePrivate:
		if _, allowed := m.allowList[userName]; !allowed {
			m.logger.Warn("user not on allow-list", "user", userName, "origin", originAddress)
			return false, nil
		}
		user, ok := m.verifyUser(userName, credential)
		if !ok {
			m.logger.Warn("user credential rejected", "user", userName, "origin", originAddress)
			return false, nil
		}
		m.setCurrent(mode, user)
		return true, nil

	default:
		return false, fmt.Errorf("security: unknown mode %q", mode)
	}
}

func (m *Manager) verifyUser(name, credential string) (*User, bool) {
	user, ok := m.users[name]
	if !ok {
		// Burn the same work as a real comparison so a missing user is
		// not distinguishable from a wrong credential by timing.
		VerifyCredential(credential, emptyCredentialHash)
		return nil, false
	}
	if !VerifyCredential(credential, user.CredentialHash) {
		return nil, false
	}
	return &user, true
}

func (m *Manager) setCurrent(mode Mode, user *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentMode = mode
	m.currentUser = user
}

// CurrentUser returns the authenticated user context, or false when no
// authentication has succeeded yet.
func (m *Manager) CurrentUser() (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentUser == nil {
		return User{}, false
	}
	return *m.currentUser, true
}

// Reset clears the current-user context. Called on room teardown.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentUser = nil
	m.currentMode = ""
}

// Sign computes the keyed signature of message. The scheme is
// HMAC-SHA256 under the derived signing key.
func (m *Manager) Sign(message []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	mac := hmac.New(sha256.New, m.signingKey)
	mac.Write(message)
	return mac.Sum(nil)
}

// Verify reports whether signature is a valid signature of message.
// Comparison is constant-time.
func (m *Manager) Verify(message, signature []byte) bool {
	expected := m.Sign(message)
	return hmac.Equal(expected, signature)
}

// secureRoomSeparator splits the room id from its signature block in a
// secure room id. The signature block is base64url and never contains
// the separator, so splitting on the last occurrence is unambiguous
// even when the room id itself contains ':'.
const secureRoomSeparator = ":"

// CreateSecureRoom binds roomID to its creation time under the signing
// key and returns the composite secure room id "roomID:SIG". SIG
// encodes the creation timestamp together with the signature so that
// any holder of the shared secret can verify it from the id alone.
func (m *Manager) CreateSecureRoom(roomID string) (string, error) {
	if roomID == "" || strings.HasSuffix(roomID, secureRoomSeparator) {
		return "", fmt.Errorf("security: invalid room id %q", roomID)
	}

	createdAt := m.clock.Now().Unix()
	signature := m.signRoomBinding(roomID, createdAt)

	// Signature block: 8-byte big-endian timestamp followed by the
	// 32-byte HMAC, base64url without padding.
	block := make([]byte, 8, 8+len(signature))
	binary.BigEndian.PutUint64(block, uint64(createdAt))
	block = append(block, signature...)

	return roomID + secureRoomSeparator + base64.RawURLEncoding.EncodeToString(block), nil
}

// JoinSecureRoom splits the composite id and verifies the signature
// before any credential check: a tampered id fails with
// ErrTamperedRoomID without revealing whether the password would have
// matched. On signature success it authenticates per mode and returns
// the bare room id.
func (m *Manager) JoinSecureRoom(secureRoomID string, mode Mode, credential, userName, originAddress string) (string, bool, error) {
	separator := strings.LastIndex(secureRoomID, secureRoomSeparator)
	if separator <= 0 || separator == len(secureRoomID)-1 {
		return "", false, ErrMalformedRoomID
	}
	roomID := secureRoomID[:separator]

	block, err := base64.RawURLEncoding.DecodeString(secureRoomID[separator+1:])
	if err != nil || len(block) != 8+sha256.Size {
		return "", false, ErrMalformedRoomID
	}

	createdAt := int64(binary.BigEndian.Uint64(block[:8]))
	expected := m.signRoomBinding(roomID, createdAt)
	if !hmac.Equal(expected, block[8:]) {
		return "", false, ErrTamperedRoomID
	}

	ok, err := m.Authenticate(mode, credential, userName, originAddress)
	if err != nil {
		return "", false, err
	}
	return roomID, ok, nil
}

// signRoomBinding signs the (roomID, createdAt) pair. The length
// prefix prevents ambiguity between room ids that are prefixes of one
// another.
func (m *Manager) signRoomBinding(roomID string, createdAt int64) []byte {
	message := make([]byte, 0, 16+len(roomID))
	message = binary.BigEndian.AppendUint64(message, uint64(len(roomID)))
	message = append(message, roomID...)
	message = binary.BigEndian.AppendUint64(message, uint64(createdAt))
	return m.Sign(message)
}

// Argon2id parameters for credential hashing. Interactive-login cost:
// 64 MiB, 1 pass, parallelism 4.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// emptyCredentialHash is a throwaway hash used to equalize timing when
// the user name is unknown.
var emptyCredentialHash = func() string {
	hash, err := hashCredentialWithSalt("", make([]byte, argonSaltLen))
	if err != nil {
		panic("security: building empty credential hash: " + err.Error())
	}
	return hash
}()

// HashCredential hashes a plain credential with argon2id and a random
// salt, returning a self-describing "salt$digest" string (both
// base64url) for storage in configuration.
func HashCredential(credential string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return "", fmt.Errorf("security: generating credential salt: %w", err)
	}
	return hashCredentialWithSalt(credential, salt)
}

func hashCredentialWithSalt(credential string, salt []byte) (string, error) {
	digest := argon2.IDKey([]byte(credential), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawURLEncoding.EncodeToString(salt) + "$" + base64.RawURLEncoding.EncodeToString(digest), nil
}

// VerifyCredential reports whether credential matches a stored
// "salt$digest" hash. Malformed hashes verify as false.
func VerifyCredential(credential, stored string) bool {
	saltPart, digestPart, found := strings.Cut(stored, "$")
	if !found {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	digest, err := base64.RawURLEncoding.DecodeString(digestPart)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(credential), salt, argonTime, argonMemory, argonThreads, uint32(len(digest)))
	return subtle.ConstantTimeCompare(computed, digest) == 1
}
