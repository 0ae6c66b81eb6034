package client_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/api"
	"github.com/Rohithcheryala/Image-Processing-API/backoff"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/blob"
	"github.com/Rohithcheryala/Image-Processing-API/client"
	"github.com/Rohithcheryala/Image-Processing-API/hook"
	"github.com/Rohithcheryala/Image-Processing-API/id"
	"github.com/Rohithcheryala/Image-Processing-API/intake"
	"github.com/Rohithcheryala/Image-Processing-API/queue/memqueue"
	"github.com/Rohithcheryala/Image-Processing-API/store/memory"
)

type testEnv struct {
	store  *memory.Store
	blobs  *blob.Memory
	client *client.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s := memory.New()
	blobs := blob.NewMemory()
	svc := intake.NewService(s, memqueue.New(), hook.NewRegistry(slog.Default()), slog.Default())
	srv := httptest.NewServer(api.NewServer(svc, blobs, slog.Default()).Handler())
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL,
		client.WithHTTPClient(srv.Client()),
		client.WithPollBackoff(backoff.NewConstant(time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{store: s, blobs: blobs, client: c}
}

func sampleSubmit() api.SubmitRequest {
	return api.SubmitRequest{
		SourceName: "products.csv",
		Items: []api.SubmitItemRequest{
			{Sequence: 1, Name: "Widget", InputRefs: []string{"https://img.example.com/a.jpg"}},
			{Sequence: 2, Name: "Gadget", InputRefs: []string{"https://img.example.com/b.jpg"}},
		},
	}
}

// finalizeAll drives every item of a batch to succeeded directly
// through the store, standing in for a running worker pool.
func (e *testEnv) finalizeAll(t *testing.T, batchID string) {
	t.Helper()

	ctx := context.Background()
	bid, err := id.ParseBatchID(batchID)
	if err != nil {
		t.Fatalf("ParseBatchID: %v", err)
	}
	items, err := e.store.ListItems(ctx, bid)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	for _, it := range items {
		if _, err := e.store.MarkItemRunning(ctx, it.ID); err != nil {
			t.Fatalf("MarkItemRunning: %v", err)
		}
		it.OutputRefs = []string{blob.Key(it.ID, 0)}
		if _, err := e.store.FinalizeItem(ctx, it, batch.OutcomeSucceeded); err != nil {
			t.Fatalf("FinalizeItem: %v", err)
		}
	}
}

func TestClient_SubmitAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.client.Submit(ctx, sampleSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.ItemCount != 2 {
		t.Fatalf("ItemCount = %d, want 2", sub.ItemCount)
	}

	st, err := env.client.Status(ctx, sub.BatchID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != string(batch.StatusProcessing) {
		t.Errorf("Status = %q, want processing", st.Status)
	}
	if st.CompletedCount != 0 || st.FailedCount != 0 {
		t.Errorf("fresh batch has progress: %+v", st)
	}
}

func TestClient_Upload(t *testing.T) {
	env := newTestEnv(t)

	csv := "sno,product name,Input Image Urls\n1,Widget,https://img.example.com/a.jpg\n"
	sub, err := env.client.Upload(context.Background(), "products.csv", strings.NewReader(csv), "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if sub.ItemCount != 1 {
		t.Fatalf("ItemCount = %d, want 1", sub.ItemCount)
	}
}

func TestClient_Upload_BadCSV(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.Upload(context.Background(), "bad.csv", strings.NewReader("not,a,header\n"), "")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 400 {
		t.Fatalf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
}

func TestClient_Status_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.Status(context.Background(), id.NewBatchID().String())
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_Download(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.client.Submit(ctx, sampleSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := env.client.Download(ctx, sub.BatchID); !errors.Is(err, client.ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal while processing, got %v", err)
	}

	env.finalizeAll(t, sub.BatchID)

	data, err := env.client.Download(ctx, sub.BatchID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv has %d lines, want header + 2 rows", len(lines))
	}
}

func TestClient_DetailsAndImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.client.Submit(ctx, sampleSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.finalizeAll(t, sub.BatchID)

	det, err := env.client.Details(ctx, sub.BatchID)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if len(det.Items) != 2 {
		t.Fatalf("Details returned %d items, want 2", len(det.Items))
	}

	// Details publishes image URLs; the blob key is the final path
	// segment.
	ref := det.Items[0].OutputRefs[0]
	if !strings.Contains(ref, "/api/image/") {
		t.Fatalf("output ref %q is not a published image URL", ref)
	}
	key := path.Base(ref)
	if err := env.blobs.Put(ctx, key, []byte("jpeg-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	img, err := env.client.Image(ctx, key)
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if string(img) != "jpeg-bytes" {
		t.Fatalf("Image returned %q", img)
	}

	if _, err := env.client.Image(ctx, blob.Key(id.NewItemID(), 0)); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing image, got %v", err)
	}
}

func TestClient_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.client.Submit(ctx, sampleSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := env.client.Cancel(ctx, sub.BatchID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	bid, _ := id.ParseBatchID(sub.BatchID)
	b, err := env.store.GetBatch(ctx, bid)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if !b.CancelRequested {
		t.Fatal("CancelRequested not set after Cancel")
	}
}

func TestClient_Wait(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := env.client.Submit(ctx, sampleSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Settle the batch from another goroutine while Wait polls. Errors
	// surface through the Wait assertions below.
	go func() {
		time.Sleep(20 * time.Millisecond)
		bid, _ := id.ParseBatchID(sub.BatchID)
		items, _ := env.store.ListItems(ctx, bid)
		for _, it := range items {
			_, _ = env.store.MarkItemRunning(ctx, it.ID)
			it.OutputRefs = []string{blob.Key(it.ID, 0)}
			_, _ = env.store.FinalizeItem(ctx, it, batch.OutcomeSucceeded)
		}
	}()

	st, err := env.client.Wait(ctx, sub.BatchID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st.Status != string(batch.StatusCompleted) {
		t.Fatalf("Wait returned status %q, want completed", st.Status)
	}
	if st.CompletedCount != 2 {
		t.Fatalf("CompletedCount = %d, want 2", st.CompletedCount)
	}
}

func TestClient_Health(t *testing.T) {
	env := newTestEnv(t)
	if err := env.client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := client.New("ftp://example.com"); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}
