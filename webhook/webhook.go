// Package webhook delivers batch-completion notifications. A finalizing
// worker that wins the webhook claim hands the batch ID to the
// Dispatcher, which posts the completion payload with bounded retries
// and then records the final delivery state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/backoff"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/hook"
	"github.com/Rohithcheryala/Image-Processing-API/id"
)

// Payload is the JSON body posted to the batch's webhook URL.
type Payload struct {
	BatchID        string     `json:"batch_id"`
	Status         string     `json:"status"`
	ItemCount      int        `json:"item_count"`
	CompletedCount int        `json:"completed_count"`
	FailedCount    int        `json:"failed_count"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Dispatcher posts completion notifications for batches whose terminal
// transition claimed the webhook. Claims are made in the store; the
// dispatcher only ever sees a batch once because the claim moves the
// webhook state off none atomically with the batch closing.
type Dispatcher struct {
	store       batch.Store
	client      *http.Client
	backoff     backoff.Strategy
	maxAttempts int
	hooks       *hook.Registry
	logger      *slog.Logger

	notifyCh chan id.BatchID
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient sets the HTTP client used for deliveries.
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithBackoff sets the delay strategy between delivery attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(d *Dispatcher) { d.backoff = s }
}

// WithMaxAttempts caps delivery attempts per batch.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store batch.Store, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		backoff:     backoff.DefaultStrategy(),
		maxAttempts: 5,
		hooks:       hooks,
		logger:      logger,
		notifyCh:    make(chan id.BatchID, 256),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify hands a claimed batch to the dispatch loop. It never blocks; if
// the buffer is full the notification is dropped and the claim stays
// pending in the store for operators to replay.
func (d *Dispatcher) Notify(batchID id.BatchID) {
	select {
	case d.notifyCh <- batchID:
	default:
		d.logger.Error("webhook notify buffer full, delivery stays pending",
			slog.String("batch_id", batchID.String()),
		)
	}
}

// Start launches the dispatch loop. Before consuming notifications it
// replays any claims still pending in the store, so deliveries dropped
// by a full buffer or a shutdown are re-attempted. It returns
// immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	d.running = true

	d.wg.Add(1)
	go func() {
		d.replayPending()
		d.loop()
	}()
	return nil
}

// replayPending delivers every batch whose webhook claim is still
// pending. Deliver skips anything a concurrent notification already
// settled.
func (d *Dispatcher) replayPending() {
	ctx := context.Background()
	pending, err := d.store.ListBatches(ctx, batch.ListOpts{WebhookState: batch.WebhookPending})
	if err != nil {
		d.logger.Error("scan for pending webhooks failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, b := range pending {
		select {
		case <-d.stopCh:
			return
		default:
		}
		if err := d.Deliver(ctx, b.ID); err != nil {
			d.logger.Error("webhook replay failed",
				slog.String("batch_id", b.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Stop shuts down the dispatch loop. The in-flight delivery, if any,
// finishes its current attempt; notifications still buffered are
// dropped and their claims stay pending in the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case batchID := <-d.notifyCh:
			if err := d.Deliver(context.Background(), batchID); err != nil {
				d.logger.Error("webhook delivery failed",
					slog.String("batch_id", batchID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Deliver posts the completion payload for one batch, retrying up to the
// attempt cap, and records the outcome in the store. It is a no-op for
// batches whose webhook is not in the pending state, which makes
// replaying a notification safe.
func (d *Dispatcher) Deliver(ctx context.Context, batchID id.BatchID) error {
	b, err := d.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	if b.WebhookState != batch.WebhookPending {
		d.logger.Debug("skipping webhook, not pending",
			slog.String("batch_id", batchID.String()),
			slog.String("state", string(b.WebhookState)),
		)
		return nil
	}
	if b.WebhookURL == "" {
		// Should not happen: the claim requires a URL.
		return d.store.SetWebhookState(ctx, batchID, batch.WebhookPending, batch.WebhookExhausted)
	}

	body, err := json.Marshal(Payload{
		BatchID:        b.ID.String(),
		Status:         string(b.Status),
		ItemCount:      b.ItemCount,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		CompletedAt:    b.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := d.wait(ctx, d.backoff.Delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = d.post(ctx, b.WebhookURL, body)
		if lastErr == nil {
			if err := d.store.SetWebhookState(ctx, batchID, batch.WebhookPending, batch.WebhookDelivered); err != nil {
				return fmt.Errorf("record delivery: %w", err)
			}
			d.hooks.EmitWebhookDelivered(ctx, b, attempt)
			d.logger.Info("webhook delivered",
				slog.String("batch_id", batchID.String()),
				slog.Int("attempt", attempt),
			)
			return nil
		}

		d.logger.Warn("webhook attempt failed",
			slog.String("batch_id", batchID.String()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", d.maxAttempts),
			slog.String("error", lastErr.Error()),
		)
	}

	if err := d.store.SetWebhookState(ctx, batchID, batch.WebhookPending, batch.WebhookExhausted); err != nil {
		return fmt.Errorf("record exhaustion: %w", err)
	}
	d.hooks.EmitWebhookExhausted(ctx, b, d.maxAttempts, lastErr)
	d.logger.Warn("webhook exhausted",
		slog.String("batch_id", batchID.String()),
		slog.Int("attempts", d.maxAttempts),
	)
	return lastErr
}

// post performs one delivery attempt. Any non-2xx response is a failure.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return errors.New("dispatcher stopped")
	}
}
