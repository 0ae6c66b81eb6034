// Package memqueue provides a process-local queue.Queue with visibility
// timeouts. It backs tests and single-binary deployments where intake and
// workers share a process.
package memqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/queue"
)

// Option configures the Queue.
type Option func(*Queue)

// WithVisibilityTimeout sets how long a dequeued token may stay unsettled
// before it is redelivered. Default 30s.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

type inflight struct {
	token    queue.Token
	deadline time.Time
}

// Queue is an in-memory queue.Queue. Safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	ready      []queue.Token
	inflight   map[string]inflight
	nextSeq    uint64
	visibility time.Duration
	closed     bool

	// signal wakes one blocked Dequeue when work arrives.
	signal chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		inflight:   make(map[string]inflight),
		visibility: 30 * time.Second,
		signal:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends tokens to the ready list in order.
func (q *Queue) Enqueue(_ context.Context, tokens ...queue.Token) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return imgproc.ErrQueueClosed
	}
	for _, t := range tokens {
		if t.Attempt == 0 {
			t.Attempt = 1
		}
		q.ready = append(q.ready, t)
	}
	q.wake()
	return nil
}

// Dequeue pops the oldest ready token, waiting up to wait for one. Expired
// in-flight tokens are reaped to the front of the ready list first so
// redelivery does not starve behind new work.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*queue.Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, imgproc.ErrQueueClosed
		}
		q.reapLocked(time.Now())
		if len(q.ready) > 0 {
			t := q.ready[0]
			q.ready = q.ready[1:]
			q.nextSeq++
			receipt := strconv.FormatUint(q.nextSeq, 10)
			q.inflight[receipt] = inflight{token: t, deadline: time.Now().Add(q.visibility)}
			q.mu.Unlock()
			return &queue.Delivery{Token: t, Receipt: receipt}, nil
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		// Cap the sleep so an in-flight expiry within the wait window is
		// noticed without an enqueue signal.
		poll := remaining
		if poll > 100*time.Millisecond {
			poll = 100 * time.Millisecond
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack drops the delivery from the in-flight set.
func (q *Queue) Ack(_ context.Context, d *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.Receipt)
	return nil
}

// Nack returns the delivery's token to the front of the ready list with a
// bumped attempt counter.
func (q *Queue) Nack(_ context.Context, d *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	inf, ok := q.inflight[d.Receipt]
	if !ok {
		return nil
	}
	delete(q.inflight, d.Receipt)
	t := inf.token
	t.Attempt++
	q.ready = append([]queue.Token{t}, q.ready...)
	q.wake()
	return nil
}

// Len reports the number of ready tokens.
func (q *Queue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reapLocked(time.Now())
	return int64(len(q.ready)), nil
}

// Close marks the queue closed. Subsequent Enqueue and Dequeue calls
// return ErrQueueClosed.
func (q *Queue) Close(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wake()
	return nil
}

// reapLocked moves expired in-flight tokens back to the ready list. Caller
// holds q.mu.
func (q *Queue) reapLocked(now time.Time) {
	for receipt, inf := range q.inflight {
		if now.Before(inf.deadline) {
			continue
		}
		delete(q.inflight, receipt)
		t := inf.token
		t.Attempt++
		q.ready = append([]queue.Token{t}, q.ready...)
	}
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
