package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/id"
	"github.com/Rohithcheryala/Image-Processing-API/queue"
)

// Pool manages a set of concurrent worker goroutines that drain the
// queue and run tokens through the Executor. Settlement is the pool's
// job: a processed token is acked, a token that hit a transient failure
// is nacked for redelivery.
type Pool struct {
	queue       queue.Queue
	executor    *Executor
	concurrency int
	dequeueWait time.Duration
	workerID    id.WorkerID
	logger      *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithDequeueWait sets how long a worker blocks waiting for a token
// before re-checking for shutdown.
func WithDequeueWait(d time.Duration) PoolOption {
	return func(p *Pool) { p.dequeueWait = d }
}

// NewPool creates a worker pool.
func NewPool(q queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:       q,
		executor:    executor,
		concurrency: 10,
		dequeueWait: time.Second,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		stopCh:      make(chan struct{}),
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context expires first, in-flight items are cancelled; their tokens
// redeliver after the visibility timeout and finalization idempotency
// keeps the counters right.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active items")
		p.cancelActive()
		p.wg.Wait()
	}
	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		d, err := p.queue.Dequeue(context.Background(), p.dequeueWait)
		if err != nil {
			if errors.Is(err, imgproc.ErrQueueClosed) {
				return
			}
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if d == nil {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.track(d.Receipt, cancel)

		procErr := p.executor.Process(ctx, d.Token)

		p.untrack(d.Receipt)
		cancel()

		p.settle(d, procErr)
	}
}

// settle acks a processed delivery or nacks one that failed on a
// transient error.
func (p *Pool) settle(d *queue.Delivery, procErr error) {
	ctx := context.Background()
	if procErr == nil {
		if err := p.queue.Ack(ctx, d); err != nil {
			p.logger.Warn("ack failed",
				slog.String("item_id", d.Token.ItemID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	p.logger.Warn("item processing hit transient error, requeueing",
		slog.String("item_id", d.Token.ItemID.String()),
		slog.Int("attempt", d.Token.Attempt),
		slog.String("error", procErr.Error()),
	)
	if err := p.queue.Nack(ctx, d); err != nil {
		p.logger.Warn("nack failed",
			slog.String("item_id", d.Token.ItemID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.dequeueWait):
	case <-p.stopCh:
	}
}

func (p *Pool) track(receipt string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[receipt] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(receipt string) {
	p.activeMu.Lock()
	delete(p.active, receipt)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for receipt, cancel := range p.active {
		p.logger.Warn("cancelling active item", slog.String("receipt", receipt))
		cancel()
	}
}
