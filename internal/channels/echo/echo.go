// Package echo is a loopback channel used for end-to-end smoke testing:
// every outbound message is reflected back as an inbound one.
package echo

import (
	"context"
	"log/slog"

	"github.com/hearthkit/hearth/pkg/channelsdk"
	"github.com/hearthkit/hearth/pkg/protocol"
)

// Channel reflects outbound traffic back to the hub.
type Channel struct {
	channelsdk.BasePlugin
}

// New creates an echo channel.
func New() *Channel { return &Channel{} }

// Info implements channelsdk.Plugin.
func (c *Channel) Info() protocol.ChannelInfo {
	return protocol.ChannelInfo{
		Name:        "echo",
		Version:     "0.1.0",
		Description: "Loopback channel that echoes outbound messages.",
	}
}

// Configure implements channelsdk.Plugin.
func (c *Channel) Configure(ctx context.Context, config map[string]any) error { return nil }

// Start implements channelsdk.Plugin.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("echo channel started")
	return nil
}

// Stop implements channelsdk.Plugin.
func (c *Channel) Stop(ctx context.Context) error { return nil }

// Send reflects the outbound message back as a fresh inbound one with an
// "[echo] " prefix, attributed to the original recipient.
func (c *Channel) Send(ctx context.Context, msg protocol.UnifiedMessage) error {
	sender := msg.RecipientID
	if sender == "" {
		sender = "server"
	}

	reflected := msg
	reflected.Direction = protocol.DirectionInbound
	reflected.Body = "[echo] " + msg.Body
	reflected.SenderID = "echo:" + sender
	reflected.RecipientID = msg.SenderID
	return c.Emit(ctx, reflected)
}
