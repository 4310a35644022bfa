// Package gateway implements the relay server: the nonce/signature
// handshake anchored to a single desktop trust root, the device registry,
// unicast/broadcast relay, and the pairing bridge between unauthenticated
// mobile devices and the desktop.
package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hearthkit/hearth/internal/identity"
)

// AuthResult reports the outcome of a handshake verification. Negative
// outcomes carry a structured reason; none of them are Go errors because
// a failed verification is an expected protocol state.
type AuthResult struct {
	OK       bool
	DeviceID string
	Reason   string
}

func authFail(reason string) AuthResult { return AuthResult{Reason: reason} }

// trustRootState is the persisted trust-root file shape.
type trustRootState struct {
	DesktopPublicKey string `json:"desktop_public_key"`
	ClaimedAt        string `json:"claimed_at"`
}

// AuthStore holds the gateway's desktop trust root and validates
// desktop-claim, desktop-auth, and device-auth payloads. A single instance
// is shared by all connections.
type AuthStore struct {
	mu            sync.Mutex
	statePath     string
	desktopKey    ed25519.PublicKey // nil = unclaimed
	desktopKeyB64 string
	now           func() time.Time
}

// OpenAuthStore seeds an AuthStore from the state file. A missing or
// corrupt file is non-fatal and leaves the store unclaimed so the gateway
// can be re-claimed.
func OpenAuthStore(statePath string) *AuthStore {
	s := &AuthStore{statePath: statePath, now: time.Now}
	data, err := os.ReadFile(statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("trust root unreadable, starting unclaimed", "path", statePath, "error", err)
		}
		return s
	}
	var state trustRootState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("trust root corrupt, starting unclaimed", "path", statePath, "error", err)
		return s
	}
	if state.DesktopPublicKey == "" {
		return s
	}
	key, err := identity.ParsePublicKeyB64(state.DesktopPublicKey)
	if err != nil {
		slog.Warn("trust root key invalid, starting unclaimed", "path", statePath, "error", err)
		return s
	}
	s.desktopKey = key
	s.desktopKeyB64 = state.DesktopPublicKey
	return s
}

// IsClaimed reports whether a desktop has claimed this gateway.
func (s *AuthStore) IsClaimed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desktopKey != nil
}

// DesktopPublicKeyB64 returns the stored trust root, or "" when unclaimed.
func (s *AuthStore) DesktopPublicKeyB64() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desktopKeyB64
}

// VerifyDesktopClaim verifies the nonce signature with the supplied key and
// claims the gateway first-writer-wins. A repeat claim from the same key is
// accepted idempotently; a different key fails.
func (s *AuthStore) VerifyDesktopClaim(nonceHex, publicKeyB64, nonceSignatureB64 string) AuthResult {
	key, err := identity.ParsePublicKeyB64(publicKeyB64)
	if err != nil || !identity.VerifyNonce(key, nonceHex, nonceSignatureB64) {
		return authFail("desktop claim signature invalid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desktopKey != nil {
		if !s.desktopKey.Equal(key) {
			return authFail("gateway already claimed by another desktop")
		}
		return AuthResult{OK: true}
	}
	s.desktopKey = key
	s.desktopKeyB64 = publicKeyB64
	if err := s.saveLocked(publicKeyB64); err != nil {
		slog.Warn("failed to persist trust root", "error", err)
	}
	return AuthResult{OK: true}
}

// VerifyDesktopAuth verifies a nonce signature against the stored root.
func (s *AuthStore) VerifyDesktopAuth(nonceHex, nonceSignatureB64 string) AuthResult {
	s.mu.Lock()
	key := s.desktopKey
	s.mu.Unlock()
	if key == nil {
		return authFail("gateway not claimed by desktop yet")
	}
	if !identity.VerifyNonce(key, nonceHex, nonceSignatureB64) {
		return authFail("desktop signature invalid")
	}
	return AuthResult{OK: true}
}

// VerifyDeviceAuth validates a device handshake: the desktop signature over
// the attestation blob bytes, the blob's required claims, the expiry, and
// finally the device's own signature over the nonce.
func (s *AuthStore) VerifyDeviceAuth(nonceHex, attestationBlob, desktopSignatureB64, nonceSignatureB64 string) AuthResult {
	s.mu.Lock()
	root := s.desktopKey
	s.mu.Unlock()
	if root == nil {
		return authFail("gateway not claimed by desktop yet")
	}
	if !identity.VerifyB64(root, []byte(attestationBlob), desktopSignatureB64) {
		return authFail("attestation signature invalid")
	}

	claims, err := identity.ParseAttestationBlob(attestationBlob)
	if err != nil {
		return authFail(err.Error())
	}
	expiry, err := claims.Expiry()
	if err != nil {
		return authFail(err.Error())
	}
	if !expiry.After(s.now().UTC()) {
		return authFail("attestation expired")
	}

	deviceKey, err := identity.ParsePublicKeyB64(claims.DevicePublicKey)
	if err != nil || !identity.VerifyNonce(deviceKey, nonceHex, nonceSignatureB64) {
		return authFail("device nonce signature invalid")
	}
	return AuthResult{OK: true, DeviceID: claims.DeviceID}
}

func (s *AuthStore) saveLocked(publicKeyB64 string) error {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o700); err != nil {
		return err
	}
	state := trustRootState{
		DesktopPublicKey: publicKeyB64,
		ClaimedAt:        s.now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath, data, 0o600)
}

// generateNonce creates a random challenge nonce encoded as 64 hex chars.
func generateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
