// Package memory provides a fully in-memory batch.Store. Safe for
// concurrent access. Intended for unit testing and single-binary
// development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/id"
)

var _ batch.Store = (*Store)(nil)

// Store is an in-memory implementation of batch.Store.
type Store struct {
	mu      sync.RWMutex
	batches map[string]*batch.Batch
	items   map[string]*batch.Item
	// byBatch holds item IDs per batch in sequence order.
	byBatch map[string][]string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		batches: make(map[string]*batch.Batch),
		items:   make(map[string]*batch.Item),
		byBatch: make(map[string][]string),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateBatch persists a pending batch and its items atomically.
func (m *Store) CreateBatch(_ context.Context, b *batch.Batch, items []*batch.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.ID.String()
	if _, exists := m.batches[key]; exists {
		return imgproc.ErrBatchAlreadyExists
	}

	m.batches[key] = cloneBatch(b)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		m.items[it.ID.String()] = cloneItem(it)
		ids = append(ids, it.ID.String())
	}
	m.byBatch[key] = ids
	return nil
}

// GetBatch retrieves a batch by ID.
func (m *Store) GetBatch(_ context.Context, batchID id.BatchID) (*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return nil, imgproc.ErrBatchNotFound
	}
	return cloneBatch(b), nil
}

// ListBatches returns batches matching opts ordered by creation time.
func (m *Store) ListBatches(_ context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*batch.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		if opts.Status != "" && b.Status != opts.Status {
			continue
		}
		if opts.WebhookState != "" && b.WebhookState != opts.WebhookState {
			continue
		}
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// MarkProcessing transitions a batch pending → processing.
func (m *Store) MarkProcessing(_ context.Context, batchID id.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return imgproc.ErrBatchNotFound
	}
	if b.Status != batch.StatusPending {
		return imgproc.ErrInvalidTransition
	}
	b.Status = batch.StatusProcessing
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkBatchFailed terminally fails a batch. No-op when already terminal.
func (m *Store) MarkBatchFailed(_ context.Context, batchID id.BatchID, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return imgproc.ErrBatchNotFound
	}
	if b.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	b.Status = batch.StatusFailed
	b.Cause = cause
	b.CompletedAt = &now
	b.UpdatedAt = now
	return nil
}

// RequestCancel sets the cooperative cancellation flag. No-op when the
// batch is already terminal.
func (m *Store) RequestCancel(_ context.Context, batchID id.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return imgproc.ErrBatchNotFound
	}
	if b.Status.Terminal() {
		return nil
	}
	b.CancelRequested = true
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// GetItem retrieves an item by ID.
func (m *Store) GetItem(_ context.Context, itemID id.ItemID) (*batch.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[itemID.String()]
	if !ok {
		return nil, imgproc.ErrItemNotFound
	}
	return cloneItem(it), nil
}

// ListItems returns a batch's items in sequence order.
func (m *Store) ListItems(_ context.Context, batchID id.BatchID) ([]*batch.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, ok := m.byBatch[batchID.String()]
	if !ok {
		return nil, imgproc.ErrBatchNotFound
	}
	out := make([]*batch.Item, 0, len(ids))
	for _, itemID := range ids {
		if it, found := m.items[itemID]; found {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// MarkItemRunning transitions an item to running. Re-marking a running
// item is allowed so token redelivery can resume work.
func (m *Store) MarkItemRunning(_ context.Context, itemID id.ItemID) (*batch.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID.String()]
	if !ok {
		return nil, imgproc.ErrItemNotFound
	}
	if it.Status.Terminal() {
		return nil, imgproc.ErrInvalidTransition
	}
	it.Status = batch.ItemRunning
	it.UpdatedAt = time.Now().UTC()
	return cloneItem(it), nil
}

// FinalizeItem persists the item's terminal state, bumps the batch
// counters, performs the batch terminal transition at the boundary, and
// claims the webhook at most once per batch. Everything happens under one
// lock so concurrent finalizers of the last items cannot both claim.
func (m *Store) FinalizeItem(_ context.Context, item *batch.Item, outcome batch.Outcome) (batch.FinalizeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.items[item.ID.String()]
	if !ok {
		return batch.FinalizeResult{}, imgproc.ErrItemNotFound
	}
	b, ok := m.batches[item.BatchID.String()]
	if !ok {
		return batch.FinalizeResult{}, imgproc.ErrBatchNotFound
	}

	progress := func() batch.Progress {
		return batch.Progress{
			Completed: b.CompletedCount,
			Failed:    b.FailedCount,
			Total:     b.ItemCount,
		}
	}

	// Redelivered token racing an earlier finalize: report state, touch
	// nothing.
	if stored.Status.Terminal() {
		return batch.FinalizeResult{
			Progress:     progress(),
			BatchStatus:  b.Status,
			AlreadyFinal: true,
		}, nil
	}

	now := time.Now().UTC()
	stored.OutputRefs = append([]string(nil), item.OutputRefs...)
	stored.Error = cloneItemError(item.Error)
	stored.UpdatedAt = now
	if outcome == batch.OutcomeSucceeded {
		stored.Status = batch.ItemSucceeded
		b.CompletedCount++
	} else {
		stored.Status = batch.ItemFailed
		b.FailedCount++
	}
	b.UpdatedAt = now

	res := batch.FinalizeResult{Progress: progress()}
	if res.Progress.Done() && !b.Status.Terminal() {
		b.Status = res.Progress.TerminalStatus()
		b.CompletedAt = &now
		if b.WebhookURL != "" && b.WebhookState == batch.WebhookNone {
			b.WebhookState = batch.WebhookPending
			res.WebhookClaimed = true
		}
	}
	res.BatchStatus = b.Status
	return res, nil
}

// SetWebhookState performs the conditional webhook transition from → to.
func (m *Store) SetWebhookState(_ context.Context, batchID id.BatchID, from, to batch.WebhookState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID.String()]
	if !ok {
		return imgproc.ErrBatchNotFound
	}
	if b.WebhookState != from {
		return imgproc.ErrInvalidTransition
	}
	b.WebhookState = to
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// PurgeTerminalBefore deletes terminal batches and their items whose
// terminal transition happened before the given time.
func (m *Store) PurgeTerminalBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for key, b := range m.batches {
		if !b.Status.Terminal() || b.CompletedAt == nil || !b.CompletedAt.Before(before) {
			continue
		}
		for _, itemID := range m.byBatch[key] {
			delete(m.items, itemID)
		}
		delete(m.byBatch, key)
		delete(m.batches, key)
		purged++
	}
	return purged, nil
}

// Stored values are never handed out directly; every read and write goes
// through a copy so callers cannot mutate store state.

func cloneBatch(b *batch.Batch) *batch.Batch {
	cp := *b
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneItem(it *batch.Item) *batch.Item {
	cp := *it
	cp.InputRefs = append([]string(nil), it.InputRefs...)
	cp.OutputRefs = append([]string(nil), it.OutputRefs...)
	cp.Error = cloneItemError(it.Error)
	return &cp
}

func cloneItemError(e *batch.ItemError) *batch.ItemError {
	if e == nil {
		return nil
	}
	cp := &batch.ItemError{Failures: append([]batch.RefFailure(nil), e.Failures...)}
	return cp
}
