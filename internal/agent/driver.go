// Package agent runs the reply loop: it drains the inbound queue, asks
// the configured LLM driver for a reply, and enqueues the outbound
// message back onto the router.
package agent

import "context"

// Driver produces a reply for one inbound message. conversationID keys
// per-conversation memory inside the driver; the hub never persists
// chat history itself.
type Driver interface {
	Reply(ctx context.Context, conversationID, body string) (string, error)
}
