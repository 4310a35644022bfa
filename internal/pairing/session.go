// Package pairing implements the desktop side of device onboarding:
// short-lived numeric pairing codes, the approved-device registry, and
// the controller that turns a pairing request into a signed attestation.
package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// DefaultCodeLength is the number of digits in a pairing code.
const DefaultCodeLength = 6

// DefaultSessionTTL is how long a pairing code stays redeemable.
const DefaultSessionTTL = 300 * time.Second

// Session is an active pairing window. A session is single-use: the
// controller clears it after the first successful redemption.
type Session struct {
	Code       string    `json:"code"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// ExpiresAt returns the session deadline.
func (s *Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(time.Duration(s.TTLSeconds) * time.Second)
}

// Valid reports whether the session is still redeemable at now.
func (s *Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt())
}

// Remaining returns the time left before expiry, floored at zero.
func (s *Session) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// GeneratePairingCode returns a numeric code of the given length, each
// digit drawn from crypto/rand.
func GeneratePairingCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("pairing code length must be > 0")
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// NewSession creates a pairing session with a fresh code.
func NewSession(ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("pairing session ttl must be > 0")
	}
	code, err := GeneratePairingCode(DefaultCodeLength)
	if err != nil {
		return nil, err
	}
	return &Session{
		Code:       code,
		CreatedAt:  time.Now().UTC(),
		TTLSeconds: int(ttl / time.Second),
	}, nil
}

// ApprovedDevice is one paired mobile device.
type ApprovedDevice struct {
	DeviceID        string            `json:"device_id"`
	DevicePublicKey string            `json:"device_public_key"`
	PairedAt        time.Time         `json:"paired_at"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
