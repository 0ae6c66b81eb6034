// Package worker drains the token queue and runs the per-item pipeline:
// fetch each input reference, transform it, persist the output, then
// finalize the item against the store. An Executor processes a single
// token; a Pool manages the concurrent goroutines feeding executors.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/backoff"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/blob"
	"github.com/Rohithcheryala/Image-Processing-API/fetch"
	"github.com/Rohithcheryala/Image-Processing-API/hook"
	"github.com/Rohithcheryala/Image-Processing-API/id"
	"github.com/Rohithcheryala/Image-Processing-API/middleware"
	"github.com/Rohithcheryala/Image-Processing-API/queue"
	"github.com/Rohithcheryala/Image-Processing-API/transform"
)

// errBatchCanceled aborts the reference loop when the batch's
// cancellation flag flips mid-item.
var errBatchCanceled = errors.New("batch canceled")

// CompletionNotifier is told when an item finalization closed its batch
// and won the webhook claim. The webhook dispatcher implements this.
type CompletionNotifier interface {
	Notify(batchID id.BatchID)
}

// Executor runs one queued token end to end. Process is safe for
// concurrent use from multiple workers; all cross-worker coordination
// happens in the store.
type Executor struct {
	store       batch.Store
	fetcher     fetch.Fetcher
	transformer transform.Transformer
	blobs       blob.Store
	policy      batch.SuccessPolicy
	quality     int
	putRetry    backoff.Strategy
	putAttempts int
	hooks       *hook.Registry
	notifier    CompletionNotifier
	mw          middleware.Middleware
	logger      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSuccessPolicy sets how per-reference results roll up into the
// item outcome.
func WithSuccessPolicy(p batch.SuccessPolicy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithQuality sets the JPEG output quality passed to the transformer.
func WithQuality(q int) ExecutorOption {
	return func(e *Executor) { e.quality = q }
}

// WithNotifier sets the completion notifier invoked when a finalization
// wins the webhook claim.
func WithNotifier(n CompletionNotifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

// WithMiddleware sets the middleware chain wrapped around the per-item
// pipeline.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithBlobRetry sets the retry schedule for blob writes. A transient
// object-store hiccup should not fail a reference that fetched and
// transformed cleanly.
func WithBlobRetry(s backoff.Strategy, attempts int) ExecutorOption {
	return func(e *Executor) {
		e.putRetry = s
		e.putAttempts = attempts
	}
}

// NewExecutor creates an Executor.
func NewExecutor(
	store batch.Store,
	fetcher fetch.Fetcher,
	transformer transform.Transformer,
	blobs blob.Store,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		store:       store,
		fetcher:     fetcher,
		transformer: transformer,
		blobs:       blobs,
		policy:      batch.PolicyPartialSuccess,
		quality:     transform.DefaultQuality,
		putRetry:    backoff.NewExponential(100*time.Millisecond, 2*time.Second),
		putAttempts: 3,
		hooks:       hooks,
		mw:          middleware.Chain(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs the pipeline for one token. A nil return means the token
// is settled and must be acked, including the cases where the referenced
// item no longer exists or already finished. A non-nil return means a
// store or pipeline-infrastructure failure where redelivery can help,
// and the caller should nack.
func (e *Executor) Process(ctx context.Context, tok queue.Token) error {
	it, err := e.store.GetItem(ctx, tok.ItemID)
	if err != nil {
		if errors.Is(err, imgproc.ErrItemNotFound) {
			e.logger.Warn("dropping token for unknown item",
				slog.String("item_id", tok.ItemID.String()),
				slog.Int("attempt", tok.Attempt),
			)
			return nil
		}
		return err
	}

	// Redelivery of already-settled work. The first delivery finalized
	// the item, so the counters are correct and this token just needs to
	// go away.
	if it.Status.Terminal() {
		e.logger.Debug("dropping token for finalized item",
			slog.String("item_id", it.ID.String()),
			slog.String("status", string(it.Status)),
		)
		return nil
	}

	b, err := e.store.GetBatch(ctx, tok.BatchID)
	if err != nil {
		if errors.Is(err, imgproc.ErrBatchNotFound) {
			e.logger.Warn("dropping token for unknown batch",
				slog.String("batch_id", tok.BatchID.String()),
			)
			return nil
		}
		return err
	}

	// A token for a batch that already settled, e.g. one intake marked
	// failed after a partial enqueue. Its counters are final; drop the
	// work.
	if b.Status.Terminal() {
		e.logger.Warn("dropping token for terminal batch",
			slog.String("batch_id", b.ID.String()),
			slog.String("status", string(b.Status)),
		)
		return nil
	}

	if b.CancelRequested {
		return e.finalizeCanceled(ctx, it)
	}

	it, err = e.store.MarkItemRunning(ctx, tok.ItemID)
	if err != nil {
		if errors.Is(err, imgproc.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	e.hooks.EmitItemStarted(ctx, it)
	start := time.Now()

	outputs, failures := e.runPipeline(ctx, it)

	outcome := e.policy.Evaluate(len(outputs), len(failures))
	it.OutputRefs = outputs
	if len(failures) > 0 {
		it.Error = &batch.ItemError{Failures: failures}
	} else {
		it.Error = nil
	}

	res, err := e.store.FinalizeItem(ctx, it, outcome)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if res.AlreadyFinal {
		return nil
	}

	if outcome == batch.OutcomeSucceeded {
		e.hooks.EmitItemCompleted(ctx, it, elapsed)
	} else {
		e.hooks.EmitItemFailed(ctx, it, it.Error)
	}

	e.logger.Info("item finalized",
		slog.String("item_id", it.ID.String()),
		slog.String("batch_id", it.BatchID.String()),
		slog.String("outcome", string(outcome)),
		slog.Int("outputs", len(outputs)),
		slog.Int("failures", len(failures)),
		slog.Duration("elapsed", elapsed),
	)

	e.handleBatchBoundary(ctx, it.BatchID, res)
	return nil
}

// runPipeline fetches, transforms, and stores every input reference,
// collecting outputs and per-reference failures in submission order. The
// middleware chain wraps the whole loop; if it aborts (timeout, panic),
// the references that never produced a result are recorded as failed
// with the abort cause.
func (e *Executor) runPipeline(ctx context.Context, it *batch.Item) ([]string, []batch.RefFailure) {
	outputs := make([]string, 0, len(it.InputRefs))
	var failures []batch.RefFailure

	handler := func(ctx context.Context) error {
		for i, ref := range it.InputRefs {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Cooperative cancellation between references. In-flight
			// I/O for the current reference is never preempted.
			if i > 0 && e.batchCanceled(ctx, it.BatchID) {
				return errBatchCanceled
			}
			key, refErr := e.processRef(ctx, it, i, ref)
			if refErr != nil {
				failures = append(failures, batch.RefFailure{
					Index: i,
					Ref:   ref,
					Cause: refErr.Error(),
				})
				continue
			}
			outputs = append(outputs, key)
		}
		return nil
	}

	if err := e.mw(ctx, it, handler); err != nil {
		for i := len(outputs) + len(failures); i < len(it.InputRefs); i++ {
			failures = append(failures, batch.RefFailure{
				Index: i,
				Ref:   it.InputRefs[i],
				Cause: err.Error(),
			})
		}
	}
	return outputs, failures
}

// processRef runs fetch -> transform -> put for one reference and returns
// the stored output key.
func (e *Executor) processRef(ctx context.Context, it *batch.Item, index int, ref string) (string, error) {
	src, err := e.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}

	out, err := e.transformer.Transform(ctx, src, transform.Params{Quality: e.quality})
	if err != nil {
		return "", err
	}

	key := blob.Key(it.ID, index)
	if err := e.putWithRetry(ctx, key, out); err != nil {
		return "", err
	}
	return key, nil
}

// putWithRetry writes a blob, retrying transient failures on the
// configured schedule.
func (e *Executor) putWithRetry(ctx context.Context, key string, data []byte) error {
	var err error
	for attempt := 1; attempt <= e.putAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(e.putRetry.Delay(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		if err = e.blobs.Put(ctx, key, data); err == nil {
			return nil
		}
	}
	return err
}

// batchCanceled re-reads the cancellation flag. Lookup failures are
// treated as not-canceled; the item pipeline surfaces real store
// problems on finalize.
func (e *Executor) batchCanceled(ctx context.Context, batchID id.BatchID) bool {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return false
	}
	return b.CancelRequested
}

// finalizeCanceled fails an unstarted item of a canceled batch without
// running its pipeline.
func (e *Executor) finalizeCanceled(ctx context.Context, it *batch.Item) error {
	failures := make([]batch.RefFailure, len(it.InputRefs))
	for i, ref := range it.InputRefs {
		failures[i] = batch.RefFailure{Index: i, Ref: ref, Cause: "batch canceled"}
	}
	it.OutputRefs = nil
	it.Error = &batch.ItemError{Failures: failures}

	res, err := e.store.FinalizeItem(ctx, it, batch.OutcomeFailed)
	if err != nil {
		return err
	}
	if res.AlreadyFinal {
		return nil
	}

	e.hooks.EmitItemFailed(ctx, it, it.Error)
	e.logger.Info("item canceled",
		slog.String("item_id", it.ID.String()),
		slog.String("batch_id", it.BatchID.String()),
	)

	e.handleBatchBoundary(ctx, it.BatchID, res)
	return nil
}

// handleBatchBoundary fires the batch-level effects of the finalization
// that closed the batch. Only one finalizer observes the boundary, so
// the completion hook and webhook notification fire exactly once per
// batch.
func (e *Executor) handleBatchBoundary(ctx context.Context, batchID id.BatchID, res batch.FinalizeResult) {
	if !res.BatchStatus.Terminal() {
		return
	}
	if !res.Progress.Done() {
		return
	}

	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		e.logger.Error("load batch after completion",
			slog.String("batch_id", batchID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.hooks.EmitBatchCompleted(ctx, b, res.Progress)
	e.logger.Info("batch finished",
		slog.String("batch_id", batchID.String()),
		slog.String("status", string(res.BatchStatus)),
		slog.Int("completed", res.Progress.Completed),
		slog.Int("failed", res.Progress.Failed),
	)

	if res.WebhookClaimed && e.notifier != nil {
		e.notifier.Notify(batchID)
	}
}
