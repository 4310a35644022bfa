package gateway

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthkit/hearth/internal/identity"
	"github.com/hearthkit/hearth/pkg/protocol"
)

func newTestGateway(t *testing.T) (*Server, string) {
	t.Helper()
	auth := OpenAuthStore(filepath.Join(t.TempDir(), "trust.json"))
	s := NewServer("127.0.0.1", 0, auth)
	httpSrv := httptest.NewServer(s.Handler())
	t.Cleanup(httpSrv.Close)
	return s, "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
}

// dialChallenge opens a socket and reads the auth_challenge.
func dialChallenge(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var challenge protocol.AuthChallenge
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&challenge); err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	if challenge.Type != protocol.FrameAuthChallenge || challenge.Nonce == "" {
		t.Fatalf("unexpected challenge: %+v", challenge)
	}
	return conn, challenge.Nonce
}

func connectDesktop(t *testing.T, url string, key ed25519.PrivateKey, deviceID string) *websocket.Conn {
	t.Helper()
	conn, nonce := dialChallenge(t, url)
	sig, err := identity.SignNonce(key, nonce)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(protocol.AuthResponse{
		Type:           protocol.FrameAuthResponse,
		AuthMode:       protocol.AuthModeDesktopClaim,
		DeviceID:       deviceID,
		PublicKey:      identity.PublicKeyB64(key),
		NonceSignature: sig,
	}); err != nil {
		t.Fatal(err)
	}

	var ok protocol.AuthOK
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&ok); err != nil {
		t.Fatalf("read auth_ok: %v", err)
	}
	if ok.Type != protocol.FrameAuthOK {
		t.Fatalf("unexpected ack: %+v", ok)
	}
	return conn
}

func connectDevice(t *testing.T, url string, desktopKey, deviceKey ed25519.PrivateKey, deviceID string) *websocket.Conn {
	t.Helper()
	att, err := identity.NewAttestation(desktopKey, deviceID, identity.PublicKeyB64(deviceKey), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	conn, nonce := dialChallenge(t, url)
	sig, err := identity.SignNonce(deviceKey, nonce)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(protocol.AuthResponse{
		Type:             protocol.FrameAuthResponse,
		AuthMode:         protocol.AuthModeDevice,
		NonceSignature:   sig,
		AttestationBlob:  att.Blob,
		DesktopSignature: att.DesktopSignature,
	}); err != nil {
		t.Fatal(err)
	}

	var ok protocol.AuthOK
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&ok); err != nil {
		t.Fatalf("read auth_ok: %v", err)
	}
	if ok.DeviceID != deviceID {
		t.Fatalf("auth_ok device id = %q, want %q", ok.DeviceID, deviceID)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != code {
		t.Fatalf("close code = %d (%s), want %d", ce.Code, ce.Text, code)
	}
}

func TestRejectsWrongSignature(t *testing.T) {
	_, url := newTestGateway(t)
	conn, nonce := dialChallenge(t, url)

	key, _ := identity.GenerateKey()
	imposter, _ := identity.GenerateKey()
	sig, _ := identity.SignNonce(imposter, nonce)
	conn.WriteJSON(protocol.AuthResponse{
		Type:           protocol.FrameAuthResponse,
		AuthMode:       protocol.AuthModeDesktopClaim,
		DeviceID:       "desktop-main",
		PublicKey:      identity.PublicKeyB64(key),
		NonceSignature: sig,
	})
	expectClose(t, conn, protocol.CloseAuthFailure)
}

func TestSecondDesktopCannotClaim(t *testing.T) {
	_, url := newTestGateway(t)
	first, _ := identity.GenerateKey()
	connectDesktop(t, url, first, "desktop-main")

	second, _ := identity.GenerateKey()
	conn, nonce := dialChallenge(t, url)
	sig, _ := identity.SignNonce(second, nonce)
	conn.WriteJSON(protocol.AuthResponse{
		Type:           protocol.FrameAuthResponse,
		AuthMode:       protocol.AuthModeDesktopClaim,
		DeviceID:       "desktop-rogue",
		PublicKey:      identity.PublicKeyB64(second),
		NonceSignature: sig,
	})
	expectClose(t, conn, protocol.CloseAuthFailure)
}

func TestUnicastRelayStampsSender(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()
	deviceKey, _ := identity.GenerateKey()

	desktop := connectDesktop(t, url, desktopKey, "desktop-main")
	device := connectDevice(t, url, desktopKey, deviceKey, "mobile-000000000001")

	if err := device.WriteJSON(map[string]any{
		"target_device_id": "desktop-main",
		"payload":          map[string]any{"body": "hello"},
	}); err != nil {
		t.Fatal(err)
	}

	frame := readFrame(t, desktop)
	if frame["sender_device_id"] != "mobile-000000000001" {
		t.Errorf("sender_device_id = %v", frame["sender_device_id"])
	}
	payload, _ := frame["payload"].(map[string]any)
	if payload["body"] != "hello" {
		t.Errorf("payload = %v", frame["payload"])
	}
}

func TestBroadcastReachesAllOthers(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()
	aKey, _ := identity.GenerateKey()
	bKey, _ := identity.GenerateKey()

	desktop := connectDesktop(t, url, desktopKey, "desktop-main")
	a := connectDevice(t, url, desktopKey, aKey, "mobile-00000000000a")
	b := connectDevice(t, url, desktopKey, bKey, "mobile-00000000000b")

	if err := a.WriteJSON(map[string]any{
		"payload": map[string]any{"body": "to everyone"},
	}); err != nil {
		t.Fatal(err)
	}

	for name, conn := range map[string]*websocket.Conn{"desktop": desktop, "deviceB": b} {
		frame := readFrame(t, conn)
		if frame["sender_device_id"] != "mobile-00000000000a" {
			t.Errorf("%s: sender_device_id = %v", name, frame["sender_device_id"])
		}
	}

	// The sender itself must not receive its own broadcast.
	a.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := a.ReadMessage(); err == nil {
		t.Error("sender received its own broadcast")
	}
}

func TestUnknownTargetIsDropped(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()

	desktop := connectDesktop(t, url, desktopKey, "desktop-main")
	if err := desktop.WriteJSON(map[string]any{
		"target_device_id": "mobile-does-not-exist",
		"payload":          map[string]any{"body": "lost"},
	}); err != nil {
		t.Fatal(err)
	}

	desktop.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := desktop.ReadMessage(); err == nil {
		t.Error("frame for unknown target was delivered somewhere")
	}
}

func TestReconnectDisplacesOldConnection(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()
	deviceKey, _ := identity.GenerateKey()
	connectDesktop(t, url, desktopKey, "desktop-main")

	old := connectDevice(t, url, desktopKey, deviceKey, "mobile-000000000001")
	connectDevice(t, url, desktopKey, deviceKey, "mobile-000000000001")

	expectClose(t, old, protocol.CloseReplaced)
}

func TestPairingApproved(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()
	desktop := connectDesktop(t, url, desktopKey, "desktop-main")

	deviceKey, _ := identity.GenerateKey()
	caller, _ := dialChallenge(t, url)
	if err := caller.WriteJSON(protocol.PairingRequestFrame{
		Type:            protocol.FramePairingRequest,
		PairingCode:     "123456",
		DevicePublicKey: identity.PublicKeyB64(deviceKey),
	}); err != nil {
		t.Fatal(err)
	}

	// The desktop sees the bridged request with a generated request id.
	forwarded := readFrame(t, desktop)
	if forwarded["type"] != protocol.FramePairingRequest {
		t.Fatalf("desktop got %v", forwarded)
	}
	requestID, _ := forwarded["request_id"].(string)
	if requestID == "" {
		t.Fatal("bridged request has no request_id")
	}
	if forwarded["pairing_code"] != "123456" {
		t.Errorf("pairing_code = %v", forwarded["pairing_code"])
	}

	// The caller is told the request is pending.
	pending := readFrame(t, caller)
	if pending["type"] != protocol.FramePairingPending || pending["request_id"] != requestID {
		t.Fatalf("caller got %v", pending)
	}

	// Desktop approves on its relay socket.
	att, _ := identity.NewAttestation(desktopKey, "mobile-c0ffeec0ffee", identity.PublicKeyB64(deviceKey), time.Hour)
	if err := desktop.WriteJSON(protocol.PairingResponseFrame{
		Type:        protocol.FramePairingResponse,
		RequestID:   requestID,
		Status:      protocol.PairingApproved,
		DeviceID:    "mobile-c0ffeec0ffee",
		Attestation: &att,
	}); err != nil {
		t.Fatal(err)
	}

	resolved := readFrame(t, caller)
	if resolved["status"] != protocol.PairingApproved {
		t.Fatalf("caller resolution = %v", resolved)
	}
	attMap, _ := resolved["attestation"].(map[string]any)
	if attMap == nil || attMap["blob"] == "" {
		t.Errorf("approved response missing attestation: %v", resolved)
	}
	expectClose(t, caller, protocol.CloseNormal)
}

func TestPairingRejected(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()
	desktop := connectDesktop(t, url, desktopKey, "desktop-main")

	deviceKey, _ := identity.GenerateKey()
	caller, _ := dialChallenge(t, url)
	caller.WriteJSON(protocol.PairingRequestFrame{
		Type:            protocol.FramePairingRequest,
		PairingCode:     "000000",
		DevicePublicKey: identity.PublicKeyB64(deviceKey),
	})

	forwarded := readFrame(t, desktop)
	requestID, _ := forwarded["request_id"].(string)
	readFrame(t, caller) // pairing_pending

	desktop.WriteJSON(protocol.PairingResponseFrame{
		Type:      protocol.FramePairingResponse,
		RequestID: requestID,
		Status:    protocol.PairingRejected,
		Reason:    "pairing_code_invalid_or_expired",
	})

	resolved := readFrame(t, caller)
	if resolved["status"] != protocol.PairingRejected {
		t.Fatalf("resolution = %v", resolved)
	}
	if resolved["reason"] != "pairing_code_invalid_or_expired" {
		t.Errorf("reason = %v", resolved["reason"])
	}
	if _, present := resolved["attestation"]; present {
		t.Error("rejected response carries an attestation")
	}
}

func TestPairingWithoutDesktop(t *testing.T) {
	_, url := newTestGateway(t)
	deviceKey, _ := identity.GenerateKey()

	caller, _ := dialChallenge(t, url)
	caller.WriteJSON(protocol.PairingRequestFrame{
		Type:            protocol.FramePairingRequest,
		PairingCode:     "123456",
		DevicePublicKey: identity.PublicKeyB64(deviceKey),
	})
	expectClose(t, caller, protocol.CloseDesktopNotConnected)
}

func TestMalformedPairingRequest(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()
	connectDesktop(t, url, desktopKey, "desktop-main")

	caller, _ := dialChallenge(t, url)
	caller.WriteJSON(map[string]any{"type": protocol.FramePairingRequest, "pairing_code": "123456"})
	expectClose(t, caller, protocol.CloseMalformedPairing)
}

func TestNonJSONFrameIsIgnored(t *testing.T) {
	_, url := newTestGateway(t)
	desktopKey, _ := identity.GenerateKey()
	deviceKey, _ := identity.GenerateKey()

	desktop := connectDesktop(t, url, desktopKey, "desktop-main")
	device := connectDevice(t, url, desktopKey, deviceKey, "mobile-000000000001")

	if err := device.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	// The connection survives and keeps relaying.
	if err := device.WriteJSON(map[string]any{"payload": map[string]any{"body": "still here"}}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, desktop)
	var payload map[string]any
	raw, _ := json.Marshal(frame["payload"])
	json.Unmarshal(raw, &payload)
	if payload["body"] != "still here" {
		t.Errorf("payload = %v", frame["payload"])
	}
}
