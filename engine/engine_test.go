package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/intake"
	"github.com/Rohithcheryala/Image-Processing-API/transform"
	"github.com/Rohithcheryala/Image-Processing-API/webhook"
)

type mapFetcher struct {
	responses map[string][]byte
}

func (f *mapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, ok := f.responses[ref]
	if !ok {
		return nil, fmt.Errorf("fetch %q: not found", ref)
	}
	return data, nil
}

type rawTransformer struct{}

func (rawTransformer) Transform(_ context.Context, src []byte, _ transform.Params) ([]byte, error) {
	return src, nil
}

func fastConfig() imgproc.Config {
	cfg := imgproc.DefaultConfig()
	cfg.Concurrency = 4
	cfg.DequeueTimeout = 20 * time.Millisecond
	cfg.ItemTimeout = 5 * time.Second
	return cfg
}

func TestEngine_EndToEnd(t *testing.T) {
	delivered := make(chan webhook.Payload, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		delivered <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer hookSrv.Close()

	responses := make(map[string][]byte)
	items := make([]intake.ItemSpec, 3)
	for i := range items {
		url := fmt.Sprintf("https://cdn.example.com/img-%d.jpg", i)
		responses[url] = []byte("image-bytes")
		items[i] = intake.ItemSpec{Sequence: i + 1, Name: fmt.Sprintf("SKU-%d", i+1), Refs: []string{url}}
	}

	eng, err := Build(
		WithConfig(fastConfig()),
		WithFetcher(&mapFetcher{responses: responses}),
		WithTransformer(rawTransformer{}),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	}()

	b, err := eng.Submit(ctx, intake.Submission{
		SourceName: "products.csv",
		WebhookURL: hookSrv.URL,
		Items:      items,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Wait for the whole batch to settle.
	deadline := time.Now().Add(5 * time.Second)
	var got *batch.Batch
	for time.Now().Before(deadline) {
		got, err = eng.Status(ctx, b.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if got.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got == nil || !got.Status.Terminal() {
		t.Fatal("batch never settled")
	}
	if got.Status != batch.StatusCompleted {
		t.Fatalf("batch status = %s, want completed", got.Status)
	}
	if got.CompletedCount != 3 || got.FailedCount != 0 {
		t.Errorf("counters = %d/%d, want 3/0", got.CompletedCount, got.FailedCount)
	}

	// The claimed webhook fires exactly once.
	select {
	case p := <-delivered:
		if p.BatchID != b.ID.String() {
			t.Errorf("webhook batch_id = %q, want %q", p.BatchID, b.ID)
		}
		if p.Status != string(batch.StatusCompleted) || p.CompletedCount != 3 {
			t.Errorf("webhook payload = %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never delivered")
	}
	select {
	case p := <-delivered:
		t.Fatalf("webhook delivered twice: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}

	// Every output blob landed.
	_, storedItems, err := eng.Details(ctx, b.ID)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	for _, it := range storedItems {
		if it.Status != batch.ItemSucceeded {
			t.Errorf("item %s status = %s", it.Name, it.Status)
		}
		for _, key := range it.OutputRefs {
			if _, err := eng.Blobs().Get(ctx, key); err != nil {
				t.Errorf("blob %q missing: %v", key, err)
			}
		}
	}

	// Terminal export renders one row per item.
	var sb strings.Builder
	if err := eng.Export(ctx, b.ID, &sb, nil); err != nil {
		t.Fatalf("Export: %v", err)
	}
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Errorf("export lines = %d, want header + 3 rows", len(lines))
	}
}

func TestEngine_DefaultsBuildAndStop(t *testing.T) {
	eng, err := Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEngine_CancelSettlesBatch(t *testing.T) {
	responses := map[string][]byte{"https://cdn.example.com/a.jpg": []byte("x")}
	eng, err := Build(
		WithConfig(fastConfig()),
		WithFetcher(&mapFetcher{responses: responses}),
		WithTransformer(rawTransformer{}),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()

	// Submit before starting workers so cancellation lands while every
	// item is still pending.
	b, err := eng.Submit(ctx, intake.Submission{
		Items: []intake.ItemSpec{
			{Sequence: 1, Name: "SKU-1", Refs: []string{"https://cdn.example.com/a.jpg"}},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Cancel(ctx, b.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := eng.Status(ctx, b.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if got.Status.Terminal() {
			if got.Status != batch.StatusFailed {
				t.Fatalf("canceled batch status = %s, want failed", got.Status)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("canceled batch never settled")
}
