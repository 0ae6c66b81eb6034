// Package redisq implements queue.Queue on Redis so intake and workers can
// run in separate processes. Ready tokens live in a List; in-flight
// deliveries live in a Sorted Set scored by their visibility deadline. A
// background reaper moves expired deliveries back to the ready list.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/queue"
)

// All keys are prefixed with "imgproc:" to avoid collisions.
const (
	readyKey    = "imgproc:queue:ready"
	inflightKey = "imgproc:queue:inflight"
)

// popScript atomically moves one token from the ready list to the
// in-flight set with the given deadline score.
var popScript = goredis.NewScript(`
local p = redis.call('RPOP', KEYS[1])
if p then
  redis.call('ZADD', KEYS[2], ARGV[1], p)
end
return p
`)

// Option configures the Queue.
type Option func(*Queue)

// WithVisibilityTimeout sets how long a dequeued token may stay unsettled
// before the reaper redelivers it. Default 30s.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue is a Redis-backed queue.Queue. The caller owns the Redis client
// lifecycle.
type Queue struct {
	client     goredis.Cmdable
	logger     *slog.Logger
	visibility time.Duration

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ queue.Queue = (*Queue)(nil)

// New creates a Redis-backed queue and starts its reaper.
func New(client goredis.Cmdable, opts ...Option) *Queue {
	q := &Queue{
		client:     client,
		logger:     slog.Default(),
		visibility: 30 * time.Second,
		stopCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.wg.Add(1)
	go q.reapLoop()
	return q
}

// Enqueue pushes encoded tokens onto the ready list in order.
func (q *Queue) Enqueue(ctx context.Context, tokens ...queue.Token) error {
	if q.isClosed() {
		return imgproc.ErrQueueClosed
	}
	payloads := make([]any, 0, len(tokens))
	for _, t := range tokens {
		if t.Attempt == 0 {
			t.Attempt = 1
		}
		b, err := queue.Encode(t)
		if err != nil {
			return err
		}
		payloads = append(payloads, b)
	}
	if err := q.client.LPush(ctx, readyKey, payloads...).Err(); err != nil {
		return fmt.Errorf("imgproc/redisq: enqueue: %w", err)
	}
	return nil
}

// Dequeue polls the ready list up to wait, claiming the oldest token into
// the in-flight set. Returns (nil, nil) when the wait elapses empty.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*queue.Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		if q.isClosed() {
			return nil, imgproc.ErrQueueClosed
		}
		score := float64(time.Now().Add(q.visibility).UnixMilli())
		res, err := popScript.Run(ctx, q.client, []string{readyKey, inflightKey}, score).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("imgproc/redisq: dequeue: %w", err)
		}
		if err == nil {
			payload, ok := res.(string)
			if !ok {
				return nil, fmt.Errorf("imgproc/redisq: dequeue: unexpected payload type %T", res)
			}
			tok, decErr := queue.Decode([]byte(payload))
			if decErr != nil {
				// Poison payload: drop it from in-flight rather than
				// redelivering it forever.
				q.client.ZRem(ctx, inflightKey, payload)
				return nil, decErr
			}
			return &queue.Delivery{Token: tok, Receipt: payload}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		poll := remaining
		if poll > 100*time.Millisecond {
			poll = 100 * time.Millisecond
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.stopCh:
			timer.Stop()
			return nil, imgproc.ErrQueueClosed
		case <-timer.C:
		}
	}
}

// Ack removes the delivery from the in-flight set.
func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	if err := q.client.ZRem(ctx, inflightKey, d.Receipt).Err(); err != nil {
		return fmt.Errorf("imgproc/redisq: ack: %w", err)
	}
	return nil
}

// Nack moves the delivery back to the ready list with a bumped attempt so
// it is redelivered next.
func (q *Queue) Nack(ctx context.Context, d *queue.Delivery) error {
	t := d.Token
	t.Attempt++
	b, err := queue.Encode(t)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, d.Receipt)
	pipe.RPush(ctx, readyKey, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("imgproc/redisq: nack: %w", err)
	}
	return nil
}

// Len reports the ready list length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("imgproc/redisq: len: %w", err)
	}
	return n, nil
}

// Close stops the reaper. In-flight deliveries survive in Redis and are
// redelivered by the next process's reaper.
func (q *Queue) Close(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.stopCh)
	q.wg.Wait()
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// reapLoop periodically returns expired in-flight deliveries to the ready
// list with a bumped attempt counter.
func (q *Queue) reapLoop() {
	defer q.wg.Done()
	interval := q.visibility / 2
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if err := q.reap(context.Background()); err != nil {
				q.logger.Warn("redisq reap failed", "error", err)
			}
		}
	}
}

func (q *Queue) reap(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	expired, err := q.client.ZRangeByScore(ctx, inflightKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("imgproc/redisq: reap range: %w", err)
	}
	for _, payload := range expired {
		tok, decErr := queue.Decode([]byte(payload))
		if decErr != nil {
			q.client.ZRem(ctx, inflightKey, payload)
			q.logger.Warn("redisq dropped undecodable in-flight payload")
			continue
		}
		tok.Attempt++
		b, encErr := queue.Encode(tok)
		if encErr != nil {
			return encErr
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, inflightKey, payload)
		pipe.RPush(ctx, readyKey, b)
		if _, execErr := pipe.Exec(ctx); execErr != nil {
			return fmt.Errorf("imgproc/redisq: reap requeue: %w", execErr)
		}
		q.logger.Debug("redelivered expired token",
			"item_id", tok.ItemID, "attempt", tok.Attempt)
	}
	return nil
}
