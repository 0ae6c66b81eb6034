// Package intake accepts batch submissions and turns them into stored
// state plus queued work. It also hosts the read-side operations the
// API exposes: status, details, export, and cancellation.
package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/csvio"
	"github.com/Rohithcheryala/Image-Processing-API/hook"
	"github.com/Rohithcheryala/Image-Processing-API/id"
	"github.com/Rohithcheryala/Image-Processing-API/queue"
)

// ItemSpec is one requested item of a submission.
type ItemSpec struct {
	Sequence int
	Name     string
	Refs     []string
}

// Submission is a request to create and start a batch.
type Submission struct {
	SourceName string
	WebhookURL string
	Items      []ItemSpec
}

// ValidationError rejects a submission before anything is stored.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "intake: invalid submission: " + e.Reason
}

// Service implements batch intake and the batch read operations.
type Service struct {
	store  batch.Store
	queue  queue.Queue
	hooks  *hook.Registry
	logger *slog.Logger
}

// NewService creates an intake service.
func NewService(store batch.Store, q queue.Queue, hooks *hook.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		queue:  q,
		hooks:  hooks,
		logger: logger,
	}
}

// Submit validates the submission, creates the batch with its items,
// enqueues one token per item, and flips the batch to processing.
// Creation and item rows are atomic; if enqueueing fails afterwards the
// batch is marked failed with the cause rather than left dangling.
func (s *Service) Submit(ctx context.Context, sub Submission) (*batch.Batch, error) {
	if err := validate(sub); err != nil {
		return nil, err
	}

	b := &batch.Batch{
		Entity:       imgproc.NewEntity(),
		ID:           id.NewBatchID(),
		Status:       batch.StatusPending,
		SourceName:   sub.SourceName,
		ItemCount:    len(sub.Items),
		WebhookURL:   sub.WebhookURL,
		WebhookState: batch.WebhookNone,
	}

	items := make([]*batch.Item, len(sub.Items))
	tokens := make([]queue.Token, len(sub.Items))
	for i, spec := range sub.Items {
		it := &batch.Item{
			Entity:    imgproc.NewEntity(),
			ID:        id.NewItemID(),
			BatchID:   b.ID,
			Sequence:  spec.Sequence,
			Name:      spec.Name,
			InputRefs: spec.Refs,
			Status:    batch.ItemPending,
		}
		items[i] = it
		tokens[i] = queue.Token{BatchID: b.ID, ItemID: it.ID, Attempt: 1}
	}

	if err := s.store.CreateBatch(ctx, b, items); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	s.hooks.EmitBatchCreated(ctx, b)

	if err := s.queue.Enqueue(ctx, tokens...); err != nil {
		cause := fmt.Sprintf("enqueue failed: %v", err)
		if markErr := s.store.MarkBatchFailed(ctx, b.ID, cause); markErr != nil {
			s.logger.Error("mark batch failed after enqueue error",
				slog.String("batch_id", b.ID.String()),
				slog.String("error", markErr.Error()),
			)
		}
		return nil, fmt.Errorf("enqueue tokens: %w", err)
	}

	if err := s.store.MarkProcessing(ctx, b.ID); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	b.Status = batch.StatusProcessing

	s.logger.Info("batch submitted",
		slog.String("batch_id", b.ID.String()),
		slog.String("source", b.SourceName),
		slog.Int("items", b.ItemCount),
	)
	return b, nil
}

// Status returns the batch with its live counters.
func (s *Service) Status(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	return s.store.GetBatch(ctx, batchID)
}

// Details returns the batch and its items in sequence order.
func (s *Service) Details(ctx context.Context, batchID id.BatchID) (*batch.Batch, []*batch.Item, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListItems(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return b, items, nil
}

// Export writes the terminal CSV export. It fails with
// ErrBatchNotTerminal while the batch is still processing, because the
// output column is only complete once every item settles.
func (s *Service) Export(ctx context.Context, batchID id.BatchID, w io.Writer, outputURL func(key string) string) error {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !b.Status.Terminal() {
		return imgproc.ErrBatchNotTerminal
	}

	items, err := s.store.ListItems(ctx, batchID)
	if err != nil {
		return err
	}
	return csvio.Render(w, items, outputURL)
}

// Cancel requests cooperative cancellation of a batch. Items already
// running finish their current reference; items not yet claimed settle
// as failed with a cancellation cause. Terminal batches are unaffected.
func (s *Service) Cancel(ctx context.Context, batchID id.BatchID) error {
	if err := s.store.RequestCancel(ctx, batchID); err != nil {
		return err
	}
	s.logger.Info("batch cancellation requested", slog.String("batch_id", batchID.String()))
	return nil
}

func validate(sub Submission) error {
	if len(sub.Items) == 0 {
		return &ValidationError{Reason: "no items"}
	}
	if sub.WebhookURL != "" {
		if err := validateURL(sub.WebhookURL); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("webhook url: %v", err)}
		}
	}
	for i, it := range sub.Items {
		if it.Name == "" {
			return &ValidationError{Reason: fmt.Sprintf("item %d: empty name", i)}
		}
		if len(it.Refs) == 0 {
			return &ValidationError{Reason: fmt.Sprintf("item %d (%s): no input urls", i, it.Name)}
		}
		for _, ref := range it.Refs {
			if err := validateURL(ref); err != nil {
				return &ValidationError{Reason: fmt.Sprintf("item %d (%s): %v", i, it.Name, err)}
			}
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%q is not a url", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
