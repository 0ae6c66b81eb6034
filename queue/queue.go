package queue

import (
	"context"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/id"
)

// Token is the unit of queued work: a reference to one item of one batch.
// The item's inputs and state live in the store; the token carries only
// enough to locate them.
type Token struct {
	BatchID id.BatchID `msgpack:"batch_id"`
	ItemID  id.ItemID  `msgpack:"item_id"`

	// Attempt counts deliveries of this token, starting at 1. Redelivery
	// after a visibility timeout increments it.
	Attempt int `msgpack:"attempt"`
}

// Delivery is a dequeued token together with the receipt needed to settle
// it. A Delivery must be settled exactly once with Ack or Nack; otherwise
// the queue redelivers the token after the visibility timeout.
type Delivery struct {
	Token Token

	// Receipt identifies this delivery to the queue backend. Opaque to
	// callers.
	Receipt string
}

// Queue is an at-least-once token transport. Implementations must be safe
// for concurrent use by multiple producers and consumers.
type Queue interface {
	// Enqueue makes the tokens available for dequeue in order.
	Enqueue(ctx context.Context, tokens ...Token) error

	// Dequeue returns the next available token, waiting up to wait for
	// one to appear. Returns (nil, nil) when the wait elapses with the
	// queue empty, and ErrQueueClosed after Close.
	Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error)

	// Ack settles a delivery as done. The token will not be redelivered.
	Ack(ctx context.Context, d *Delivery) error

	// Nack returns a delivery to the ready state for immediate
	// redelivery with an incremented attempt counter.
	Nack(ctx context.Context, d *Delivery) error

	// Len reports the number of ready (not in-flight) tokens.
	Len(ctx context.Context) (int64, error)

	// Close releases queue resources. Pending in-flight deliveries may
	// still be settled by a backend that survives the process, such as
	// redis.
	Close(ctx context.Context) error
}
