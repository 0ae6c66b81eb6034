//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/id"
	pgstore "github.com/Rohithcheryala/Image-Processing-API/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *pgstore.Store {
	t.Helper()

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("imgproc_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := pgstore.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

func newTestBatch(t *testing.T, s *pgstore.Store, n int, webhookURL string) (*batch.Batch, []*batch.Item) {
	t.Helper()

	b := &batch.Batch{
		Entity:       imgproc.NewEntity(),
		ID:           id.NewBatchID(),
		Status:       batch.StatusPending,
		SourceName:   "products.csv",
		ItemCount:    n,
		WebhookURL:   webhookURL,
		WebhookState: batch.WebhookNone,
	}
	items := make([]*batch.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &batch.Item{
			Entity:    imgproc.NewEntity(),
			ID:        id.NewItemID(),
			BatchID:   b.ID,
			Sequence:  i + 1,
			Name:      fmt.Sprintf("SKU%d", i+1),
			InputRefs: []string{fmt.Sprintf("https://img.example.com/%d.jpg", i+1)},
			Status:    batch.ItemPending,
		})
	}
	if err := s.CreateBatch(context.Background(), b, items); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return b, items
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestStore_BatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	b, items := newTestBatch(t, s, 2, "https://hooks.example.com/done")

	got, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.SourceName != "products.csv" || got.ItemCount != 2 || got.WebhookState != batch.WebhookNone {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	list, err := s.ListItems(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(list) != 2 || list[0].Sequence != 1 || list[1].Sequence != 2 {
		t.Fatalf("items out of order: %+v", list)
	}
	if len(list[0].InputRefs) != 1 || list[0].InputRefs[0] != items[0].InputRefs[0] {
		t.Fatalf("input refs mismatch: %+v", list[0].InputRefs)
	}
}

func TestStore_DuplicateBatch(t *testing.T) {
	s := setupTestStore(t)
	b, _ := newTestBatch(t, s, 1, "")
	err := s.CreateBatch(context.Background(), b, nil)
	if !errors.Is(err, imgproc.ErrBatchAlreadyExists) {
		t.Fatalf("duplicate CreateBatch = %v, want ErrBatchAlreadyExists", err)
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if _, err := s.GetBatch(ctx, id.NewBatchID()); !errors.Is(err, imgproc.ErrBatchNotFound) {
		t.Fatalf("GetBatch = %v, want ErrBatchNotFound", err)
	}
	if _, err := s.GetItem(ctx, id.NewItemID()); !errors.Is(err, imgproc.ErrItemNotFound) {
		t.Fatalf("GetItem = %v, want ErrItemNotFound", err)
	}
}

func TestStore_MarkProcessing(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	b, _ := newTestBatch(t, s, 1, "")

	if err := s.MarkProcessing(ctx, b.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := s.MarkProcessing(ctx, b.ID); !errors.Is(err, imgproc.ErrInvalidTransition) {
		t.Fatalf("second MarkProcessing = %v, want ErrInvalidTransition", err)
	}
}

func TestStore_FinalizeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	b, items := newTestBatch(t, s, 2, "")

	if _, err := s.MarkItemRunning(ctx, items[0].ID); err != nil {
		t.Fatalf("MarkItemRunning: %v", err)
	}
	items[0].OutputRefs = []string{"out/a.jpg"}
	res, err := s.FinalizeItem(ctx, items[0], batch.OutcomeSucceeded)
	if err != nil {
		t.Fatalf("FinalizeItem: %v", err)
	}
	if res.Progress.Completed != 1 || res.Progress.Done() {
		t.Fatalf("unexpected progress %+v", res.Progress)
	}

	// Redelivered finalize: no double count.
	res, err = s.FinalizeItem(ctx, items[0], batch.OutcomeSucceeded)
	if err != nil {
		t.Fatalf("redelivered FinalizeItem: %v", err)
	}
	if !res.AlreadyFinal || res.Progress.Completed != 1 {
		t.Fatalf("redelivery counted twice: %+v", res)
	}

	items[1].Error = &batch.ItemError{Failures: []batch.RefFailure{
		{Index: 0, Ref: items[1].InputRefs[0], Cause: "fetch: timeout"},
	}}
	res, err = s.FinalizeItem(ctx, items[1], batch.OutcomeFailed)
	if err != nil {
		t.Fatalf("FinalizeItem: %v", err)
	}
	if !res.Progress.Done() || res.BatchStatus != batch.StatusCompleted {
		t.Fatalf("expected completed batch, got %+v", res)
	}

	got, _ := s.GetBatch(ctx, b.ID)
	if got.CompletedCount != 1 || got.FailedCount != 1 || got.CompletedAt == nil {
		t.Fatalf("persisted batch %+v", got)
	}

	it, _ := s.GetItem(ctx, items[1].ID)
	if it.Error == nil || len(it.Error.Failures) != 1 || it.Error.Failures[0].Cause != "fetch: timeout" {
		t.Fatalf("item error not persisted: %+v", it.Error)
	}
}

func TestStore_ListBatchesFilters(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	newTestBatch(t, s, 1, "")
	wb, items := newTestBatch(t, s, 1, "https://hooks.example.com/done")
	if _, err := s.FinalizeItem(ctx, items[0], batch.OutcomeSucceeded); err != nil {
		t.Fatalf("FinalizeItem: %v", err)
	}

	pending, err := s.ListBatches(ctx, batch.ListOpts{WebhookState: batch.WebhookPending})
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(pending) != 1 || pending[0].ID.String() != wb.ID.String() {
		t.Fatalf("webhook state filter returned %d batches", len(pending))
	}

	both, err := s.ListBatches(ctx, batch.ListOpts{
		Status:       batch.StatusCompleted,
		WebhookState: batch.WebhookPending,
	})
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(both) != 1 {
		t.Fatalf("combined filter returned %d batches, want 1", len(both))
	}

	none, err := s.ListBatches(ctx, batch.ListOpts{WebhookState: batch.WebhookDelivered})
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("delivered filter returned %d batches, want 0", len(none))
	}
}

// TestStore_WebhookClaimRace finalizes all items of one batch from
// concurrent goroutines and asserts exactly one claim.
func TestStore_WebhookClaimRace(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	const n = 16
	_, items := newTestBatch(t, s, n, "https://hooks.example.com/done")

	var wg sync.WaitGroup
	claims := make(chan bool, n)
	for _, it := range items {
		wg.Add(1)
		go func(it *batch.Item) {
			defer wg.Done()
			res, err := s.FinalizeItem(ctx, it, batch.OutcomeSucceeded)
			if err != nil {
				t.Errorf("FinalizeItem: %v", err)
				return
			}
			claims <- res.WebhookClaimed
		}(it)
	}
	wg.Wait()
	close(claims)

	var claimed int
	for c := range claims {
		if c {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("webhook claimed %d times, want exactly 1", claimed)
	}
}

func TestStore_SetWebhookState(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	b, items := newTestBatch(t, s, 1, "https://hooks.example.com/done")

	res, err := s.FinalizeItem(ctx, items[0], batch.OutcomeSucceeded)
	if err != nil || !res.WebhookClaimed {
		t.Fatalf("FinalizeItem: %+v %v", res, err)
	}
	if err := s.SetWebhookState(ctx, b.ID, batch.WebhookPending, batch.WebhookDelivered); err != nil {
		t.Fatalf("SetWebhookState: %v", err)
	}
	err = s.SetWebhookState(ctx, b.ID, batch.WebhookPending, batch.WebhookDelivered)
	if !errors.Is(err, imgproc.ErrInvalidTransition) {
		t.Fatalf("stale transition = %v, want ErrInvalidTransition", err)
	}
}

func TestStore_PurgeTerminalBefore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	done, doneItems := newTestBatch(t, s, 1, "")
	if _, err := s.FinalizeItem(ctx, doneItems[0], batch.OutcomeFailed); err != nil {
		t.Fatalf("FinalizeItem: %v", err)
	}
	live, _ := newTestBatch(t, s, 1, "")

	n, err := s.PurgeTerminalBefore(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeTerminalBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, err := s.GetBatch(ctx, done.ID); !errors.Is(err, imgproc.ErrBatchNotFound) {
		t.Fatalf("purged batch still present: %v", err)
	}
	// Cascade removed the item too.
	if _, err := s.GetItem(ctx, doneItems[0].ID); !errors.Is(err, imgproc.ErrItemNotFound) {
		t.Fatalf("purged item still present: %v", err)
	}
	if _, err := s.GetBatch(ctx, live.ID); err != nil {
		t.Fatalf("live batch purged: %v", err)
	}
}
