package protocol

import "encoding/json"

// Gateway close codes.
const (
	CloseNormal              = 1000 // pairing flow completed
	CloseReplaced            = 4000 // displaced by a new connection for the same device id
	CloseMissingDeviceID     = 4001 // legacy path, kept so old clients get a recognizable close
	CloseAuthFailure         = 4003 // auth failure or handshake timeout
	CloseMalformedPairing    = 4004 // pairing_request missing required fields
	CloseDesktopNotConnected = 4006 // pairing requested with no desktop registered
	ClosePairingTimeout      = 4008 // pairing caller waited past the bridge window
)

// Gateway frame types.
const (
	FrameAuthChallenge   = "auth_challenge"
	FrameAuthResponse    = "auth_response"
	FrameAuthOK          = "auth_ok"
	FramePairingRequest  = "pairing_request"
	FramePairingPending  = "pairing_pending"
	FramePairingResponse = "pairing_response"
)

// Authentication modes accepted in an auth_response.
const (
	AuthModeDesktopClaim = "desktop_claim"
	AuthModeDesktop      = "desktop"
	AuthModeDevice       = "device"
)

// Peer roles assigned by the gateway after a successful handshake.
const (
	RoleDesktop = "desktop"
	RoleDevice  = "device"
)

// Pairing outcome statuses.
const (
	PairingApproved = "approved"
	PairingRejected = "rejected"
)

// AuthChallenge is the first frame the gateway sends on every connection.
type AuthChallenge struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"` // 64 hex chars
}

// AuthResponse answers the challenge. Field presence depends on auth_mode:
// desktop_claim carries public_key, device carries the attestation pair.
type AuthResponse struct {
	Type             string `json:"type"`
	AuthMode         string `json:"auth_mode"`
	DeviceID         string `json:"device_id"`
	PublicKey        string `json:"public_key,omitempty"`
	NonceSignature   string `json:"nonce_signature"`
	AttestationBlob  string `json:"attestation_blob,omitempty"`
	DesktopSignature string `json:"desktop_signature,omitempty"`
}

// AuthOK acknowledges a successful handshake.
type AuthOK struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// Attestation is a desktop-signed assertion binding a device id to its
// public key. Blob is canonical JSON; the gateway verifies the desktop
// signature over the literal blob bytes.
type Attestation struct {
	Blob             string `json:"blob"`
	DesktopSignature string `json:"desktop_signature"`
}

// RelayEnvelope is the relay frame shape the hub-side plugins consume.
// The gateway itself relays frames as open JSON objects so unknown fields
// survive; this struct covers the fields the core reads.
type RelayEnvelope struct {
	TargetDeviceID string          `json:"target_device_id,omitempty"`
	SenderDeviceID string          `json:"sender_device_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// PairingRequestFrame is the first frame of an unauthenticated pairing
// caller, and also the shape bridged to the desktop (with RequestID set).
type PairingRequestFrame struct {
	Type            string `json:"type"`
	RequestID       string `json:"request_id,omitempty"`
	PairingCode     string `json:"pairing_code"`
	DevicePublicKey string `json:"device_public_key"`
}

// PairingPendingFrame tells the caller its request was bridged.
type PairingPendingFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// PairingResponseFrame resolves a pairing request. Approved responses carry
// DeviceID and Attestation; rejected ones carry Reason only.
type PairingResponseFrame struct {
	Type        string       `json:"type"`
	RequestID   string       `json:"request_id"`
	Status      string       `json:"status"`
	DeviceID    string       `json:"device_id,omitempty"`
	Attestation *Attestation `json:"attestation,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}
