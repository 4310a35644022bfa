// Package channelsdk is the contract between the hub and a channel
// plugin process. Implement Plugin, embed BasePlugin, and hand the
// instance to a Transport to connect it to the hub's plugin socket.
package channelsdk

import (
	"context"

	"github.com/hearthkit/hearth/pkg/protocol"
)

// Plugin is the lifecycle every channel plugin implements.
//
// The transport calls Configure when the hub pushes settings, Start once
// after registration, and Stop on shutdown or disconnect. Send translates
// an outbound unified message into a third-party API call; HandleEvent
// receives hub-originated events (pairing responses and the like).
type Plugin interface {
	Info() protocol.ChannelInfo
	Configure(ctx context.Context, config map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg protocol.UnifiedMessage) error
	HandleEvent(ctx context.Context, event string, data map[string]any) error
}

// Emitter forwards plugin-originated traffic to the hub. Injected into
// BasePlugin by the transport.
type Emitter interface {
	EmitMessage(ctx context.Context, msg protocol.UnifiedMessage) error
	EmitEvent(ctx context.Context, event string, data map[string]any) error
}

// BasePlugin provides the emit plumbing. Embed it in plugin
// implementations; the transport attaches itself before Start.
type BasePlugin struct {
	emitter Emitter
}

// AttachEmitter wires the transport. Called by the transport, not by
// plugin code.
func (b *BasePlugin) AttachEmitter(e Emitter) { b.emitter = e }

// Emit forwards an inbound message from the third party to the hub.
func (b *BasePlugin) Emit(ctx context.Context, msg protocol.UnifiedMessage) error {
	if b.emitter == nil {
		return nil
	}
	return b.emitter.EmitMessage(ctx, msg)
}

// EmitEvent sends a structured event to the hub.
func (b *BasePlugin) EmitEvent(ctx context.Context, event string, data map[string]any) error {
	if b.emitter == nil {
		return nil
	}
	return b.emitter.EmitEvent(ctx, event, data)
}

// HandleEvent is a no-op default so plugins without hub-event handling
// need not implement it.
func (b *BasePlugin) HandleEvent(ctx context.Context, event string, data map[string]any) error {
	return nil
}
