package batch

import (
	"context"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/id"
)

// ListOpts controls pagination for batch list queries.
type ListOpts struct {
	// Limit is the maximum number of batches to return. Zero means no limit.
	Limit int
	// Offset is the number of batches to skip.
	Offset int
	// Status filters by batch status. Empty means all statuses.
	Status Status
	// WebhookState filters by webhook state. Empty means all states.
	WebhookState WebhookState
}

// FinalizeResult is returned by Store.FinalizeItem. All fields come from
// the same atomic operation that persisted the item and bumped the counters.
type FinalizeResult struct {
	// Progress is the post-increment counter snapshot.
	Progress Progress

	// BatchStatus is the batch status after the call (terminal once
	// Progress.Done).
	BatchStatus Status

	// WebhookClaimed is true for exactly one FinalizeItem call per batch:
	// the one that crossed the terminal boundary while a webhook URL was
	// set and the webhook state was still "none". The caller that sees
	// true owns the dispatch.
	WebhookClaimed bool

	// AlreadyFinal is true when the item had already been finalized by an
	// earlier delivery of the same token. The counters were not touched.
	AlreadyFinal bool
}

// Store defines the persistence contract for batches and items.
//
// Batch counters and status may only be written by CreateBatch,
// MarkProcessing, MarkBatchFailed, and FinalizeItem. Item rows are mutated
// only by the worker currently holding the item's work token.
type Store interface {
	// CreateBatch atomically persists a pending batch together with all of
	// its pending items. Returns ErrBatchAlreadyExists on ID collision.
	CreateBatch(ctx context.Context, b *Batch, items []*Item) error

	// GetBatch retrieves a batch by ID.
	GetBatch(ctx context.Context, batchID id.BatchID) (*Batch, error)

	// ListBatches returns batches matching the given options, ordered by
	// creation time.
	ListBatches(ctx context.Context, opts ListOpts) ([]*Batch, error)

	// MarkProcessing transitions a batch pending → processing. Returns
	// ErrInvalidTransition if the batch is not pending.
	MarkProcessing(ctx context.Context, batchID id.BatchID) error

	// MarkBatchFailed terminally fails a batch with a descriptive cause.
	// Used by intake when it cannot enqueue all work tokens. No-op on a
	// batch that is already terminal.
	MarkBatchFailed(ctx context.Context, batchID id.BatchID, cause string) error

	// RequestCancel sets the cooperative cancellation flag. No-op on a
	// terminal batch.
	RequestCancel(ctx context.Context, batchID id.BatchID) error

	// GetItem retrieves an item by ID.
	GetItem(ctx context.Context, itemID id.ItemID) (*Item, error)

	// ListItems returns all items of a batch ordered by sequence number.
	ListItems(ctx context.Context, batchID id.BatchID) ([]*Item, error)

	// MarkItemRunning transitions an item to running and persists the
	// timestamp. Re-marking a running item is allowed (token redelivery);
	// marking a terminal item returns ErrInvalidTransition.
	MarkItemRunning(ctx context.Context, itemID id.ItemID) (*Item, error)

	// FinalizeItem atomically persists the item's terminal status,
	// OutputRefs and Error, increments the owning batch's counter for the
	// given outcome, performs the batch terminal transition when the
	// boundary is crossed, and claims the webhook (none → pending) at most
	// once per batch. When the item is already terminal the call is a
	// no-op that reports AlreadyFinal.
	FinalizeItem(ctx context.Context, item *Item, outcome Outcome) (FinalizeResult, error)

	// SetWebhookState performs the conditional webhook transition
	// from → to. Returns ErrInvalidTransition when the current state does
	// not match from.
	SetWebhookState(ctx context.Context, batchID id.BatchID, from, to WebhookState) error

	// PurgeTerminalBefore deletes terminal batches (and their items) whose
	// terminal transition happened before the given time. Returns the
	// number of batches removed.
	PurgeTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}
