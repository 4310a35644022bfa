package agent

import (
	"context"
	"log/slog"

	"github.com/hearthkit/hearth/internal/bus"
	"github.com/hearthkit/hearth/pkg/protocol"
)

// fallbackBody replaces the reply when the driver errors out, so the
// sender always hears back.
const fallbackBody = "Sorry, I encountered an error processing your message. Please try again."

// Worker consumes the inbound queue and produces agent replies.
type Worker struct {
	router *bus.Router
	driver Driver
}

// NewWorker wires the worker to the router and driver.
func NewWorker(router *bus.Router, driver Driver) *Worker {
	return &Worker{router: router, driver: driver}
}

// Run drains the inbound queue until ctx is cancelled. Non-text messages
// are dropped.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("agent worker started")
	for {
		msg, ok := w.router.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if msg.ContentType != protocol.ContentText {
			slog.Debug("agent ignoring non-text message", "content_type", msg.ContentType)
			continue
		}
		w.process(ctx, msg)
	}
}

func (w *Worker) process(ctx context.Context, inbound protocol.UnifiedMessage) {
	conversation := inbound.ConversationKey()

	body, err := w.driver.Reply(ctx, conversation, inbound.Body)
	if err != nil {
		slog.Error("agent driver error", "conversation", conversation, "error", err)
		body = fallbackBody
	}

	reply := protocol.NewMessage(inbound.Channel, protocol.DirectionOutbound)
	reply.RecipientID = inbound.SenderID
	reply.ContentType = protocol.ContentText
	reply.Body = body

	w.router.EnqueueOutbound(reply)
	slog.Debug("agent reply enqueued", "conversation", conversation, "length", len(body))
}
