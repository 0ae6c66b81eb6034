// Package engine wires the processing subsystems together: store,
// queue, blob store, fetcher, transformer, hook registry, middleware
// chain, worker pool, webhook dispatcher, and retention sweeper. It
// sits above the subsystem packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/blob"
	"github.com/Rohithcheryala/Image-Processing-API/fetch"
	"github.com/Rohithcheryala/Image-Processing-API/hook"
	"github.com/Rohithcheryala/Image-Processing-API/id"
	"github.com/Rohithcheryala/Image-Processing-API/intake"
	mw "github.com/Rohithcheryala/Image-Processing-API/middleware"
	"github.com/Rohithcheryala/Image-Processing-API/observability"
	"github.com/Rohithcheryala/Image-Processing-API/queue"
	"github.com/Rohithcheryala/Image-Processing-API/queue/memqueue"
	"github.com/Rohithcheryala/Image-Processing-API/retention"
	"github.com/Rohithcheryala/Image-Processing-API/store/memory"
	"github.com/Rohithcheryala/Image-Processing-API/transform"
	"github.com/Rohithcheryala/Image-Processing-API/webhook"
	"github.com/Rohithcheryala/Image-Processing-API/worker"
)

// Engine owns the assembled processing system.
type Engine struct {
	config      imgproc.Config
	store       batch.Store
	queue       queue.Queue
	blobs       blob.Store
	fetcher     fetch.Fetcher
	transformer transform.Transformer
	hooks       *hook.Registry
	policy      batch.SuccessPolicy
	logger      *slog.Logger

	intake     *intake.Service
	pool       *worker.Pool
	dispatcher *webhook.Dispatcher
	sweeper    *retention.Sweeper

	mws []mw.Middleware

	retentionSchedule string

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the runtime configuration.
func WithConfig(cfg imgproc.Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithStore sets the batch store. Defaults to the in-memory store.
func WithStore(s batch.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithQueue sets the work queue. Defaults to the in-memory queue.
func WithQueue(q queue.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithBlobStore sets the output blob store. Defaults to in-memory.
func WithBlobStore(b blob.Store) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithFetcher overrides the source fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithTransformer overrides the image transformer.
func WithTransformer(t transform.Transformer) Option {
	return func(e *Engine) { e.transformer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(ext hook.Extension) Option {
	return func(e *Engine) { e.hooks.Register(ext) }
}

// WithMiddleware appends middleware to the per-item chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithSuccessPolicy sets how reference results roll up into item
// outcomes.
func WithSuccessPolicy(p batch.SuccessPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRetentionSchedule overrides the sweep schedule used when the
// config enables a retention TTL.
func WithRetentionSchedule(expr string) Option {
	return func(e *Engine) { e.retentionSchedule = expr }
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global provider is used (noop unless installed).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// instrumentationName identifies this module to OTel providers.
const instrumentationName = "github.com/Rohithcheryala/Image-Processing-API"

// Build assembles an Engine. Components not overridden get in-memory
// defaults, which makes a zero-option Build a fully working
// single-process system.
func Build(opts ...Option) (*Engine, error) {
	e := &Engine{
		config:            imgproc.DefaultConfig(),
		policy:            batch.PolicyPartialSuccess,
		logger:            slog.Default(),
		retentionSchedule: retention.DefaultSchedule,
	}
	e.hooks = hook.NewRegistry(e.logger)

	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		e.store = memory.New()
	}
	if e.queue == nil {
		e.queue = memqueue.New(memqueue.WithVisibilityTimeout(e.config.VisibilityTimeout))
	}
	if e.blobs == nil {
		e.blobs = blob.NewMemory()
	}
	if e.fetcher == nil {
		e.fetcher = fetch.NewHTTP(fetch.WithTimeout(e.config.FetchTimeout))
	}
	if e.transformer == nil {
		e.transformer = transform.NewJPEG()
	}

	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
		e.hooks.Register(observability.NewMetricsExtensionWithMeter(e.meterProvider.Meter(instrumentationName)))
	} else {
		metricsMw = mw.Metrics()
		e.hooks.Register(observability.NewMetricsExtension())
	}

	allMws := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.config.ItemTimeout),
	}
	allMws = append(allMws, e.mws...)

	e.dispatcher = webhook.NewDispatcher(e.store, e.hooks, e.logger,
		webhook.WithMaxAttempts(e.config.WebhookMaxAttempts),
	)

	executor := worker.NewExecutor(
		e.store,
		e.fetcher,
		e.transformer,
		e.blobs,
		e.hooks,
		e.logger,
		worker.WithSuccessPolicy(e.policy),
		worker.WithQuality(e.config.Quality),
		worker.WithNotifier(e.dispatcher),
		worker.WithMiddleware(allMws...),
	)

	e.pool = worker.NewPool(e.queue, executor, e.logger,
		worker.WithConcurrency(e.config.Concurrency),
		worker.WithDequeueWait(e.config.DequeueTimeout),
	)

	e.intake = intake.NewService(e.store, e.queue, e.hooks, e.logger)

	if e.config.RetentionTTL > 0 {
		sweeper, err := retention.New(e.store, e.config.RetentionTTL, e.retentionSchedule, e.logger)
		if err != nil {
			return nil, fmt.Errorf("engine: build retention sweeper: %w", err)
		}
		e.sweeper = sweeper
	}

	return e, nil
}

// Start launches the webhook dispatcher, the worker pool, and the
// retention sweeper if configured.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.dispatcher.Start(ctx); err != nil {
		return err
	}
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	if e.sweeper != nil {
		if err := e.sweeper.Start(ctx); err != nil {
			return err
		}
	}
	e.logger.Info("engine started",
		slog.Int("concurrency", e.config.Concurrency),
		slog.String("worker_id", e.pool.WorkerID().String()),
	)
	return nil
}

// Stop shuts the system down in dependency order: workers first so no
// new finalizations arrive, then the webhook dispatcher, then the
// sweeper, then the queue.
func (e *Engine) Stop(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(e.pool.Stop(ctx))
	keep(e.dispatcher.Stop(ctx))
	if e.sweeper != nil {
		keep(e.sweeper.Stop(ctx))
	}
	e.hooks.EmitShutdown(ctx)
	keep(e.queue.Close(ctx))

	e.logger.Info("engine stopped")
	return firstErr
}

// Submit validates and starts a batch.
func (e *Engine) Submit(ctx context.Context, sub intake.Submission) (*batch.Batch, error) {
	return e.intake.Submit(ctx, sub)
}

// Status returns a batch with its live counters.
func (e *Engine) Status(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	return e.intake.Status(ctx, batchID)
}

// Details returns a batch and its items in sequence order.
func (e *Engine) Details(ctx context.Context, batchID id.BatchID) (*batch.Batch, []*batch.Item, error) {
	return e.intake.Details(ctx, batchID)
}

// Export writes the terminal CSV export.
func (e *Engine) Export(ctx context.Context, batchID id.BatchID, w io.Writer, outputURL func(string) string) error {
	return e.intake.Export(ctx, batchID, w, outputURL)
}

// Cancel requests cooperative cancellation.
func (e *Engine) Cancel(ctx context.Context, batchID id.BatchID) error {
	return e.intake.Cancel(ctx, batchID)
}

// Intake returns the intake service, for mounting the HTTP API.
func (e *Engine) Intake() *intake.Service { return e.intake }

// Store returns the batch store.
func (e *Engine) Store() batch.Store { return e.store }

// Blobs returns the output blob store.
func (e *Engine) Blobs() blob.Store { return e.blobs }

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }
