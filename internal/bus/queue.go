// Package bus routes unified messages between channel plugins and the
// agent runtime: inbound frames flow from the supervisor into the agent
// worker, outbound replies flow back to the owning channel.
package bus

import (
	"context"
	"sync"

	"github.com/hearthkit/hearth/pkg/protocol"
)

// queue is an unbounded FIFO of messages. Enqueue never blocks; Dequeue
// blocks until a message arrives or ctx is cancelled.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []protocol.UnifiedMessage
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) Enqueue(msg protocol.UnifiedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, msg)
	q.cond.Signal()
}

// Dequeue pops the oldest message. The second return is false once the
// queue is closed or ctx is done.
func (q *queue) Dequeue(ctx context.Context) (protocol.UnifiedMessage, bool) {
	// Wake the cond wait when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed || ctx.Err() != nil {
			return protocol.UnifiedMessage{}, false
		}
		q.cond.Wait()
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
