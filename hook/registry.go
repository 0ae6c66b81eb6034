package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type batchCreatedEntry struct {
	name string
	hook BatchCreated
}

type itemStartedEntry struct {
	name string
	hook ItemStarted
}

type itemCompletedEntry struct {
	name string
	hook ItemCompleted
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type batchCompletedEntry struct {
	name string
	hook BatchCompleted
}

type webhookDeliveredEntry struct {
	name string
	hook WebhookDelivered
}

type webhookExhaustedEntry struct {
	name string
	hook WebhookExhausted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Extensions are type-cached at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	batchCreated     []batchCreatedEntry
	itemStarted      []itemStartedEntry
	itemCompleted    []itemCompletedEntry
	itemFailed       []itemFailedEntry
	batchCompleted   []batchCompletedEntry
	webhookDelivered []webhookDeliveredEntry
	webhookExhausted []webhookExhaustedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable hook
// caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(BatchCreated); ok {
		r.batchCreated = append(r.batchCreated, batchCreatedEntry{name, h})
	}
	if h, ok := e.(ItemStarted); ok {
		r.itemStarted = append(r.itemStarted, itemStartedEntry{name, h})
	}
	if h, ok := e.(ItemCompleted); ok {
		r.itemCompleted = append(r.itemCompleted, itemCompletedEntry{name, h})
	}
	if h, ok := e.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, h})
	}
	if h, ok := e.(BatchCompleted); ok {
		r.batchCompleted = append(r.batchCompleted, batchCompletedEntry{name, h})
	}
	if h, ok := e.(WebhookDelivered); ok {
		r.webhookDelivered = append(r.webhookDelivered, webhookDeliveredEntry{name, h})
	}
	if h, ok := e.(WebhookExhausted); ok {
		r.webhookExhausted = append(r.webhookExhausted, webhookExhaustedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitBatchCreated notifies all extensions that implement BatchCreated.
func (r *Registry) EmitBatchCreated(ctx context.Context, b *batch.Batch) {
	for _, e := range r.batchCreated {
		if err := e.hook.OnBatchCreated(ctx, b); err != nil {
			r.logHookError("OnBatchCreated", e.name, err)
		}
	}
}

// EmitItemStarted notifies all extensions that implement ItemStarted.
func (r *Registry) EmitItemStarted(ctx context.Context, it *batch.Item) {
	for _, e := range r.itemStarted {
		if err := e.hook.OnItemStarted(ctx, it); err != nil {
			r.logHookError("OnItemStarted", e.name, err)
		}
	}
}

// EmitItemCompleted notifies all extensions that implement ItemCompleted.
func (r *Registry) EmitItemCompleted(ctx context.Context, it *batch.Item, elapsed time.Duration) {
	for _, e := range r.itemCompleted {
		if err := e.hook.OnItemCompleted(ctx, it, elapsed); err != nil {
			r.logHookError("OnItemCompleted", e.name, err)
		}
	}
}

// EmitItemFailed notifies all extensions that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, it *batch.Item, itemErr error) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, it, itemErr); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// EmitBatchCompleted notifies all extensions that implement BatchCompleted.
func (r *Registry) EmitBatchCompleted(ctx context.Context, b *batch.Batch, progress batch.Progress) {
	for _, e := range r.batchCompleted {
		if err := e.hook.OnBatchCompleted(ctx, b, progress); err != nil {
			r.logHookError("OnBatchCompleted", e.name, err)
		}
	}
}

// EmitWebhookDelivered notifies all extensions that implement WebhookDelivered.
func (r *Registry) EmitWebhookDelivered(ctx context.Context, b *batch.Batch, attempts int) {
	for _, e := range r.webhookDelivered {
		if err := e.hook.OnWebhookDelivered(ctx, b, attempts); err != nil {
			r.logHookError("OnWebhookDelivered", e.name, err)
		}
	}
}

// EmitWebhookExhausted notifies all extensions that implement WebhookExhausted.
func (r *Registry) EmitWebhookExhausted(ctx context.Context, b *batch.Batch, attempts int, dErr error) {
	for _, e := range r.webhookExhausted {
		if err := e.hook.OnWebhookExhausted(ctx, b, attempts, dErr); err != nil {
			r.logHookError("OnWebhookExhausted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
