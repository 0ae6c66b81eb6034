// Package hook defines lifecycle extension points for the processing
// engine. Extensions are notified of batch and item events and can react
// to them — audit logging, metrics, cache invalidation.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// BatchCreated is called after a batch and its items are persisted and
// enqueued.
type BatchCreated interface {
	OnBatchCreated(ctx context.Context, b *batch.Batch) error
}

// ItemStarted is called when a worker begins processing an item.
type ItemStarted interface {
	OnItemStarted(ctx context.Context, it *batch.Item) error
}

// ItemCompleted is called after an item finalizes with a success outcome.
type ItemCompleted interface {
	OnItemCompleted(ctx context.Context, it *batch.Item, elapsed time.Duration) error
}

// ItemFailed is called after an item finalizes with a failure outcome.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, it *batch.Item, err error) error
}

// BatchCompleted is called once per batch when the last item finalizes.
type BatchCompleted interface {
	OnBatchCompleted(ctx context.Context, b *batch.Batch, progress batch.Progress) error
}

// WebhookDelivered is called after a completion webhook is accepted by
// the receiver.
type WebhookDelivered interface {
	OnWebhookDelivered(ctx context.Context, b *batch.Batch, attempts int) error
}

// WebhookExhausted is called when webhook delivery gives up after its
// final attempt.
type WebhookExhausted interface {
	OnWebhookExhausted(ctx context.Context, b *batch.Batch, attempts int, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
