package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthkit/hearth/internal/identity"
	"github.com/hearthkit/hearth/pkg/protocol"
)

// Rejection reasons sent back through the devices plugin.
const (
	ReasonInvalidPairingCode     = "invalid_pairing_code"
	ReasonInvalidDevicePublicKey = "invalid_device_public_key"
	ReasonNoActiveSession        = "no_active_pairing_session"
	ReasonCodeInvalidOrExpired   = "pairing_code_invalid_or_expired"
)

// DefaultAttestationDays is how long issued attestations stay valid.
const DefaultAttestationDays = 30

// Responder delivers a pairing_response event back to the devices plugin.
type Responder func(event string, data map[string]any) error

// Controller resolves pairing requests against the active session and
// issues attestations signed with the desktop master key.
type Controller struct {
	store           *Store
	masterKey       ed25519.PrivateKey
	attestationDays int
	respond         Responder
	now             func() time.Time
}

// NewController wires a controller. attestationDays <= 0 falls back to
// the default.
func NewController(store *Store, masterKey ed25519.PrivateKey, attestationDays int, respond Responder) *Controller {
	if attestationDays <= 0 {
		attestationDays = DefaultAttestationDays
	}
	return &Controller{
		store:           store,
		masterKey:       masterKey,
		attestationDays: attestationDays,
		respond:         respond,
		now:             time.Now,
	}
}

// HandleRequest processes one pairing_request event. Every path responds;
// a request is never left pending on the desktop side.
func (c *Controller) HandleRequest(data map[string]any) error {
	requestID, _ := data["request_id"].(string)
	if requestID == "" {
		return fmt.Errorf("pairing_request missing request_id")
	}

	pairingCode, ok := data["pairing_code"].(string)
	if !ok || pairingCode == "" {
		return c.reject(requestID, ReasonInvalidPairingCode)
	}
	devicePublicKey, ok := data["device_public_key"].(string)
	if !ok || devicePublicKey == "" {
		return c.reject(requestID, ReasonInvalidDevicePublicKey)
	}
	if _, err := identity.ParsePublicKeyB64(devicePublicKey); err != nil {
		return c.reject(requestID, ReasonInvalidDevicePublicKey)
	}

	session, err := c.store.LoadSession()
	if err != nil {
		slog.Error("pairing session unreadable", "error", err)
		return c.reject(requestID, ReasonNoActiveSession)
	}
	if session == nil {
		return c.reject(requestID, ReasonNoActiveSession)
	}
	if !session.Valid(c.now().UTC()) || session.Code != pairingCode {
		return c.reject(requestID, ReasonCodeInvalidOrExpired)
	}

	deviceID, err := newDeviceID()
	if err != nil {
		return fmt.Errorf("allocate device id: %w", err)
	}

	ttl := time.Duration(c.attestationDays) * 24 * time.Hour
	attestation, err := identity.NewAttestation(c.masterKey, deviceID, devicePublicKey, ttl)
	if err != nil {
		return fmt.Errorf("build attestation: %w", err)
	}
	claims, err := identity.ParseAttestationBlob(attestation.Blob)
	if err != nil {
		return fmt.Errorf("re-parse attestation blob: %w", err)
	}
	expiry, err := claims.Expiry()
	if err != nil {
		return fmt.Errorf("attestation expiry: %w", err)
	}

	device := ApprovedDevice{
		DeviceID:        deviceID,
		DevicePublicKey: devicePublicKey,
		PairedAt:        c.now().UTC(),
		ExpiresAt:       &expiry,
	}
	if err := c.store.UpsertDevice(device); err != nil {
		return fmt.Errorf("persist approved device: %w", err)
	}
	if err := c.store.ClearSession(); err != nil {
		slog.Warn("failed to clear pairing session", "error", err)
	}

	slog.Info("device paired", "device_id", deviceID, "expires_at", expiry)
	return c.respond(protocol.EventPairingResponse, map[string]any{
		"request_id": requestID,
		"status":     protocol.PairingApproved,
		"device_id":  deviceID,
		"attestation": map[string]any{
			"blob":              attestation.Blob,
			"desktop_signature": attestation.DesktopSignature,
		},
	})
}

func (c *Controller) reject(requestID, reason string) error {
	slog.Warn("pairing rejected", "request_id", requestID, "reason", reason)
	return c.respond(protocol.EventPairingResponse, map[string]any{
		"request_id": requestID,
		"status":     protocol.PairingRejected,
		"reason":     reason,
	})
}

// newDeviceID allocates a device id of the form mobile-<12 hex chars>.
func newDeviceID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mobile-" + hex.EncodeToString(buf), nil
}
