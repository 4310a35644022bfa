package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthkit/hearth/pkg/protocol"
)

// ChannelSender delivers an outbound message to the plugin owning its
// channel. Implemented by the supervisor.
type ChannelSender interface {
	SendToChannel(ctx context.Context, msg protocol.UnifiedMessage) error
}

// PermissionHook inspects an inbound message before it is queued. A false
// return drops the message. The default hook admits everything.
type PermissionHook func(msg protocol.UnifiedMessage) bool

// Router owns the inbound and outbound queues. The sender is attached
// after construction because the supervisor and router reference each
// other.
type Router struct {
	inbound  *queue
	outbound *queue

	mu     sync.Mutex
	sender ChannelSender
	hook   PermissionHook
}

// NewRouter creates a router with an allow-all permission hook.
func NewRouter() *Router {
	return &Router{
		inbound:  newQueue(),
		outbound: newQueue(),
		hook:     func(protocol.UnifiedMessage) bool { return true },
	}
}

// SetSender attaches the outbound delivery target.
func (r *Router) SetSender(s ChannelSender) {
	r.mu.Lock()
	r.sender = s
	r.mu.Unlock()
}

// SetPermissionHook replaces the inbound admission check.
func (r *Router) SetPermissionHook(h PermissionHook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.hook = h
	r.mu.Unlock()
}

// Receive admits an inbound message delivered by a plugin via
// channel.receive. Malformed or rejected messages are dropped with a log
// line; the plugin socket never sees an error for them.
func (r *Router) Receive(params json.RawMessage) error {
	var msg protocol.UnifiedMessage
	if err := json.Unmarshal(params, &msg); err != nil {
		return fmt.Errorf("decode inbound message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid inbound message: %w", err)
	}

	r.mu.Lock()
	hook := r.hook
	r.mu.Unlock()
	if !hook(msg) {
		slog.Warn("inbound message rejected", "channel", msg.Channel, "sender", msg.SenderID)
		return nil
	}

	r.inbound.Enqueue(msg)
	slog.Debug("inbound queued", "channel", msg.Channel, "sender", msg.SenderID, "id", msg.ID)
	return nil
}

// ConsumeInbound blocks for the next inbound message.
func (r *Router) ConsumeInbound(ctx context.Context) (protocol.UnifiedMessage, bool) {
	return r.inbound.Dequeue(ctx)
}

// EnqueueOutbound queues a reply for delivery to its channel.
func (r *Router) EnqueueOutbound(msg protocol.UnifiedMessage) {
	r.outbound.Enqueue(msg)
	slog.Debug("outbound queued", "channel", msg.Channel, "recipient", msg.RecipientID, "id", msg.ID)
}

// Run drains the outbound queue until ctx is cancelled. The permission
// hook is re-run before delivery so a policy change also covers replies
// already queued. Delivery failures are logged and the message is
// dropped; there is no retry.
func (r *Router) Run(ctx context.Context) {
	for {
		msg, ok := r.outbound.Dequeue(ctx)
		if !ok {
			return
		}
		r.mu.Lock()
		sender := r.sender
		hook := r.hook
		r.mu.Unlock()
		if !hook(msg) {
			slog.Warn("outbound message rejected", "channel", msg.Channel, "recipient", msg.RecipientID)
			continue
		}
		if sender == nil {
			slog.Warn("outbound message dropped, no sender attached", "channel", msg.Channel)
			continue
		}
		if err := sender.SendToChannel(ctx, msg); err != nil {
			slog.Error("outbound delivery failed", "channel", msg.Channel, "error", err)
		}
	}
}

// Close shuts both queues down.
func (r *Router) Close() {
	r.inbound.Close()
	r.outbound.Close()
}
