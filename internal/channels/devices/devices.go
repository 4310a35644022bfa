// Package devices bridges gateway-connected mobile devices into the
// unified message model. The plugin owns the hub's WebSocket connection
// to the gateway, performs the desktop-claim handshake with the master
// key, and forwards pairing traffic between gateway and hub.
package devices

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthkit/hearth/internal/identity"
	"github.com/hearthkit/hearth/pkg/channelsdk"
	"github.com/hearthkit/hearth/pkg/protocol"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 60 * time.Second

	// Per-read deadline during the handshake. Relay reads have no
	// deadline; the ping loop keeps the connection alive.
	authTimeout = 15 * time.Second

	defaultPingInterval = 30 * time.Second
)

func defaultMasterKeyPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hearth", identity.MasterKeyFile)
}

// Channel is the devices plugin.
type Channel struct {
	channelsdk.BasePlugin

	mu            sync.Mutex
	gatewayURL    string
	deviceID      string
	masterKeyPath string
	pingInterval  time.Duration
	backoffBase   time.Duration
	backoffMax    time.Duration
	masterKey     ed25519.PrivateKey
	conn          *websocket.Conn
	writeMu       sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an unconfigured devices channel.
func New() *Channel {
	return &Channel{
		gatewayURL:    "ws://localhost:8765",
		masterKeyPath: defaultMasterKeyPath(),
		pingInterval:  defaultPingInterval,
		backoffBase:   defaultBackoffBase,
		backoffMax:    defaultBackoffMax,
	}
}

// Info implements channelsdk.Plugin.
func (c *Channel) Info() protocol.ChannelInfo {
	return protocol.ChannelInfo{
		Name:        "devices",
		Version:     "0.1.0",
		Description: "Bridges gateway-connected devices to unified messages.",
	}
}

// Configure implements channelsdk.Plugin.
func (c *Channel) Configure(ctx context.Context, config map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := config["gateway_url"].(string); ok && v != "" {
		c.gatewayURL = v
	}
	if v, ok := config["device_id"].(string); ok && v != "" {
		c.deviceID = v
	}
	if v, ok := config["master_key_path"].(string); ok && v != "" {
		c.masterKeyPath = v
	}
	if v, ok := config["ping_interval"].(float64); ok && v > 0 {
		c.pingInterval = time.Duration(v * float64(time.Second))
	}
	slog.Info("devices channel configured",
		"gateway", c.gatewayURL, "device_id", c.deviceID, "master_key", c.masterKeyPath)
	return nil
}

// Start implements channelsdk.Plugin. It loads the master key and starts
// the gateway loop.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceID == "" {
		return fmt.Errorf("devices channel requires config.device_id")
	}
	data, err := os.ReadFile(c.masterKeyPath)
	if err != nil {
		return fmt.Errorf("devices channel requires master key file %s: %w", c.masterKeyPath, err)
	}
	key, err := identity.ParsePrivateKeyPEM(data)
	if err != nil {
		return fmt.Errorf("load master key: %w", err)
	}
	c.masterKey = key

	if c.done != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.runGatewayLoop(loopCtx)
	return nil
}

// Stop implements channelsdk.Plugin.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	conn := c.conn
	c.cancel, c.done, c.conn = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "channel stopping")
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return nil
}

// Send implements channelsdk.Plugin: UnifiedMessage → gateway envelope.
// A recipient id becomes a unicast target; none means broadcast.
func (c *Channel) Send(ctx context.Context, msg protocol.UnifiedMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		slog.Warn("gateway not connected, dropping outbound message")
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	envelope := map[string]any{"payload": json.RawMessage(payload)}
	if msg.RecipientID != "" {
		envelope["target_device_id"] = msg.RecipientID
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return c.writeConn(ctx, conn, data)
}

// HandleEvent implements channelsdk.Plugin. The hub sends a
// pairing_response event once the pairing controller has resolved a
// request; the plugin relays it to the gateway verbatim.
func (c *Channel) HandleEvent(ctx context.Context, event string, data map[string]any) error {
	if event != protocol.EventPairingResponse {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		slog.Warn("gateway not connected, cannot send pairing_response")
		return nil
	}

	requestID, _ := data["request_id"].(string)
	status, _ := data["status"].(string)
	if requestID == "" {
		return fmt.Errorf("pairing_response missing request_id")
	}
	if status != protocol.PairingApproved && status != protocol.PairingRejected {
		return fmt.Errorf("pairing_response invalid status %q", status)
	}

	outbound := map[string]any{
		"type":       protocol.FramePairingResponse,
		"request_id": requestID,
		"status":     status,
	}
	if status == protocol.PairingApproved {
		if att, ok := data["attestation"].(map[string]any); ok {
			outbound["attestation"] = att
		}
		if id, ok := data["device_id"].(string); ok && id != "" {
			outbound["device_id"] = id
		}
	} else {
		reason, _ := data["reason"].(string)
		if reason == "" {
			reason = "rejected"
		}
		outbound["reason"] = reason
	}

	frame, err := json.Marshal(outbound)
	if err != nil {
		return err
	}
	return c.writeConn(ctx, conn, frame)
}

func (c *Channel) writeConn(ctx context.Context, conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}
