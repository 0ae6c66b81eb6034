package worker

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/blob"
	"github.com/Rohithcheryala/Image-Processing-API/queue"
	"github.com/Rohithcheryala/Image-Processing-API/queue/memqueue"
	"github.com/Rohithcheryala/Image-Processing-API/store/memory"
)

func waitForBatchTerminal(t *testing.T, s *memory.Store, b *batch.Batch, timeout time.Duration) *batch.Batch {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		got, err := s.GetBatch(context.Background(), b.ID)
		if err != nil {
			t.Fatalf("GetBatch: %v", err)
		}
		if got.Status.Terminal() {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s did not reach a terminal status within %v", b.ID, timeout)
	return nil
}

func TestPool_DrainsQueue(t *testing.T) {
	s := memory.New()
	blobs := blob.NewMemory()
	responses := make(map[string][]byte)
	refs := make([][]string, 3)
	for i := range refs {
		url := fmt.Sprintf("https://cdn.example.com/img-%d.jpg", i)
		responses[url] = []byte("data")
		refs[i] = []string{url}
	}
	f := &stubFetcher{responses: responses}
	e := newTestExecutor(s, f, blobs)

	b, items := seedBatch(t, s, refs, "")

	q := memqueue.New()
	tokens := make([]queue.Token, len(items))
	for i, it := range items {
		tokens[i] = queue.Token{BatchID: b.ID, ItemID: it.ID, Attempt: 1}
	}
	if err := q.Enqueue(context.Background(), tokens...); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	p := NewPool(q, e, slog.Default(),
		WithConcurrency(3),
		WithDequeueWait(50*time.Millisecond),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	}()

	got := waitForBatchTerminal(t, s, b, 5*time.Second)
	if got.Status != batch.StatusCompleted {
		t.Fatalf("batch status = %s, want completed", got.Status)
	}
	if got.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", got.CompletedCount)
	}
	if blobs.Len() != 3 {
		t.Errorf("blob count = %d, want 3", blobs.Len())
	}
}

func TestPool_StopIsIdempotentAndPrompt(t *testing.T) {
	q := memqueue.New()
	e := newTestExecutor(memory.New(), &stubFetcher{}, blob.NewMemory())
	p := NewPool(q, e, slog.Default(),
		WithConcurrency(2),
		WithDequeueWait(20*time.Millisecond),
	)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v with an idle pool", elapsed)
	}

	// Second Stop is a no-op.
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPool_ClosedQueueStopsWorkers(t *testing.T) {
	q := memqueue.New()
	e := newTestExecutor(memory.New(), &stubFetcher{}, blob.NewMemory())
	p := NewPool(q, e, slog.Default(),
		WithConcurrency(2),
		WithDequeueWait(time.Second),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
