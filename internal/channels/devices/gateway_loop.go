package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthkit/hearth/internal/identity"
	"github.com/hearthkit/hearth/pkg/protocol"
)

// runGatewayLoop keeps one authenticated gateway connection alive,
// reconnecting with exponential backoff.
func (c *Channel) runGatewayLoop(ctx context.Context) {
	defer close(c.doneChan())

	c.mu.Lock()
	base, max := c.backoffBase, c.backoffMax
	c.mu.Unlock()

	backoff := base
	for {
		err := c.runGatewayConnection(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("gateway error", "error", err, "retry_in", backoff)
		} else {
			// The handshake completed, so the next outage starts over
			// from the base delay.
			backoff = base
			slog.Warn("gateway disconnected", "retry_in", backoff)
		}

		c.mu.Lock()
		url, deviceID := c.gatewayURL, c.deviceID
		c.mu.Unlock()
		c.EmitEvent(ctx, protocol.EventGatewayDisconnected, map[string]any{
			"gateway_url": url,
			"device_id":   deviceID,
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > max {
			backoff = max
		}
	}
}

func (c *Channel) doneChan() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

func (c *Channel) runGatewayConnection(ctx context.Context) error {
	c.mu.Lock()
	url, deviceID := c.gatewayURL, c.deviceID
	c.mu.Unlock()

	slog.Info("connecting devices channel to gateway", "url", url)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := c.authenticate(ctx, conn); err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	slog.Info("connected to gateway")
	c.EmitEvent(ctx, protocol.EventGatewayConnected, map[string]any{
		"gateway_url": url,
		"device_id":   deviceID,
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return nil
		}
		c.handleGatewayFrame(ctx, raw)
	}
}

// pingLoop keeps the relay connection alive across idle periods.
func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	interval := c.pingInterval
	c.mu.Unlock()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// authenticate runs the desktop-claim handshake: challenge in, signed
// response out, auth_ok back.
func (c *Channel) authenticate(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	key := c.masterKey
	deviceID := c.deviceID
	c.mu.Unlock()
	if key == nil {
		return fmt.Errorf("master key is not loaded")
	}

	readCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	_, raw, err := conn.Read(readCtx)
	if err != nil {
		return fmt.Errorf("gateway auth challenge timeout: %w", err)
	}

	var challenge protocol.AuthChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return fmt.Errorf("gateway auth challenge is not JSON: %w", err)
	}
	if challenge.Type != protocol.FrameAuthChallenge || challenge.Nonce == "" {
		return fmt.Errorf("unexpected first frame from gateway: %s", raw)
	}

	nonceSig, err := identity.SignNonce(key, challenge.Nonce)
	if err != nil {
		return fmt.Errorf("sign nonce: %w", err)
	}
	response := protocol.AuthResponse{
		Type:           protocol.FrameAuthResponse,
		AuthMode:       protocol.AuthModeDesktopClaim,
		DeviceID:       deviceID,
		PublicKey:      identity.PublicKeyB64(key),
		NonceSignature: nonceSig,
	}
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	if err := c.writeConn(ctx, conn, data); err != nil {
		return fmt.Errorf("send auth response: %w", err)
	}

	ackCtx, cancelAck := context.WithTimeout(ctx, authTimeout)
	defer cancelAck()
	_, rawAck, err := conn.Read(ackCtx)
	if err != nil {
		return fmt.Errorf("gateway auth ack timeout: %w", err)
	}
	var ack protocol.AuthOK
	if err := json.Unmarshal(rawAck, &ack); err != nil {
		return fmt.Errorf("gateway auth ack is not JSON: %w", err)
	}
	if ack.Type != protocol.FrameAuthOK {
		return fmt.Errorf("gateway rejected auth: %s", rawAck)
	}
	return nil
}

// handleGatewayFrame translates one relay frame. Pairing requests become
// hub events; everything else is expected to be an envelope carrying a
// UnifiedMessage payload.
func (c *Channel) handleGatewayFrame(ctx context.Context, raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("invalid JSON from gateway")
		return
	}

	if t, _ := msg["type"].(string); t == protocol.FramePairingRequest {
		c.handlePairingRequest(ctx, msg)
		return
	}

	payload, ok := msg["payload"].(map[string]any)
	if !ok {
		slog.Warn("gateway payload is not an object")
		return
	}
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var unified protocol.UnifiedMessage
	if err := json.Unmarshal(payloadRaw, &unified); err != nil {
		slog.Warn("invalid message payload from gateway", "error", err)
		return
	}

	if sender, ok := msg["sender_device_id"].(string); ok && sender != "" {
		unified.SenderID = sender
		if unified.Metadata == nil {
			unified.Metadata = make(map[string]any)
		}
		unified.Metadata["sender_device_id"] = sender
		unified.Metadata["friendly_name"] = sender
	}

	unified.Channel = "devices"
	unified.Direction = protocol.DirectionInbound
	if err := c.Emit(ctx, unified); err != nil {
		slog.Warn("emit inbound message failed", "error", err)
	}
}

// handlePairingRequest forwards a bridged pairing request to the hub so
// the pairing controller can resolve it.
func (c *Channel) handlePairingRequest(ctx context.Context, msg map[string]any) {
	requestID, _ := msg["request_id"].(string)
	pairingCode, _ := msg["pairing_code"].(string)
	devicePublicKey, _ := msg["device_public_key"].(string)
	if requestID == "" || pairingCode == "" || devicePublicKey == "" {
		slog.Warn("pairing_request missing required fields")
		return
	}

	if err := c.EmitEvent(ctx, protocol.EventPairingRequest, map[string]any{
		"request_id":        requestID,
		"pairing_code":      pairingCode,
		"device_public_key": devicePublicKey,
	}); err != nil {
		slog.Warn("emit pairing_request failed", "error", err)
	}
}
