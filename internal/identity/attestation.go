package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthkit/hearth/pkg/protocol"
)

// timeZ formats a time as RFC-3339 UTC with a Z suffix, the canonical
// timestamp form used inside attestation blobs and state files.
func timeZ(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewAttestation builds and signs a device attestation. The blob is
// canonical JSON: encoding/json sorts map keys and emits compact output,
// so the serialized bytes are stable across runs and runtimes. The gateway
// verifies the desktop signature over exactly these bytes.
func NewAttestation(key ed25519.PrivateKey, deviceID, devicePublicKeyB64 string, ttl time.Duration) (protocol.Attestation, error) {
	issuedAt := time.Now().UTC()
	blobObj := map[string]string{
		"device_id":         deviceID,
		"device_public_key": devicePublicKeyB64,
		"issued_at":         timeZ(issuedAt),
		"expires_at":        timeZ(issuedAt.Add(ttl)),
	}
	blob, err := json.Marshal(blobObj)
	if err != nil {
		return protocol.Attestation{}, fmt.Errorf("marshal attestation blob: %w", err)
	}
	return protocol.Attestation{
		Blob:             string(blob),
		DesktopSignature: SignB64(key, blob),
	}, nil
}

// AttestationClaims are the fields the gateway reads out of a blob.
type AttestationClaims struct {
	DeviceID        string `json:"device_id"`
	DevicePublicKey string `json:"device_public_key"`
	IssuedAt        string `json:"issued_at"`
	ExpiresAt       string `json:"expires_at"`
}

// ParseAttestationBlob decodes a blob and validates the fields the core
// consumes. It does not check the signature or expiry; callers verify the
// signature over the raw blob bytes and apply their own clock.
func ParseAttestationBlob(blob string) (*AttestationClaims, error) {
	var claims AttestationClaims
	if err := json.Unmarshal([]byte(blob), &claims); err != nil {
		return nil, fmt.Errorf("attestation blob is not valid JSON: %w", err)
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("attestation missing device_id")
	}
	if claims.DevicePublicKey == "" {
		return nil, fmt.Errorf("attestation missing device_public_key")
	}
	if claims.ExpiresAt == "" {
		return nil, fmt.Errorf("attestation missing expires_at")
	}
	return &claims, nil
}

// Expiry parses the expires_at claim.
func (c *AttestationClaims) Expiry() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.ExpiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("attestation expires_at invalid: %w", err)
	}
	return t, nil
}
