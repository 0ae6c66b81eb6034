// Package observability provides an OpenTelemetry metrics extension
// recording system-wide lifecycle counters: batches created and
// finished, items settled by outcome, and webhook delivery results.
//
// For per-item latency and spans, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/hook"
)

// Compile-time interface checks.
var (
	_ hook.Extension        = (*MetricsExtension)(nil)
	_ hook.BatchCreated     = (*MetricsExtension)(nil)
	_ hook.ItemCompleted    = (*MetricsExtension)(nil)
	_ hook.ItemFailed       = (*MetricsExtension)(nil)
	_ hook.BatchCompleted   = (*MetricsExtension)(nil)
	_ hook.WebhookDelivered = (*MetricsExtension)(nil)
	_ hook.WebhookExhausted = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters. Register it with the
// hook registry to track batch throughput, item outcomes, and webhook
// delivery health.
type MetricsExtension struct {
	batchesCreated  metric.Int64Counter
	batchesFinished metric.Int64Counter
	itemsSettled    metric.Int64Counter
	webhookOutcomes metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider. Counters are noops until a provider is installed.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter("imgproc/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	batchesCreated, _ := meter.Int64Counter("imgproc.batch.created",
		metric.WithDescription("Batches accepted by intake"))
	batchesFinished, _ := meter.Int64Counter("imgproc.batch.finished",
		metric.WithDescription("Batches reaching a terminal status"))
	itemsSettled, _ := meter.Int64Counter("imgproc.item.settled",
		metric.WithDescription("Items finalized, by outcome"))
	webhookOutcomes, _ := meter.Int64Counter("imgproc.webhook.outcome",
		metric.WithDescription("Webhook deliveries, by result"))

	return &MetricsExtension{
		batchesCreated:  batchesCreated,
		batchesFinished: batchesFinished,
		itemsSettled:    itemsSettled,
		webhookOutcomes: webhookOutcomes,
	}
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnBatchCreated implements hook.BatchCreated.
func (m *MetricsExtension) OnBatchCreated(ctx context.Context, _ *batch.Batch) error {
	m.batchesCreated.Add(ctx, 1)
	return nil
}

// OnItemCompleted implements hook.ItemCompleted.
func (m *MetricsExtension) OnItemCompleted(ctx context.Context, _ *batch.Item, _ time.Duration) error {
	m.itemsSettled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "succeeded")))
	return nil
}

// OnItemFailed implements hook.ItemFailed.
func (m *MetricsExtension) OnItemFailed(ctx context.Context, _ *batch.Item, _ error) error {
	m.itemsSettled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	return nil
}

// OnBatchCompleted implements hook.BatchCompleted.
func (m *MetricsExtension) OnBatchCompleted(ctx context.Context, b *batch.Batch, _ batch.Progress) error {
	m.batchesFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(b.Status))))
	return nil
}

// OnWebhookDelivered implements hook.WebhookDelivered.
func (m *MetricsExtension) OnWebhookDelivered(ctx context.Context, _ *batch.Batch, _ int) error {
	m.webhookOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "delivered")))
	return nil
}

// OnWebhookExhausted implements hook.WebhookExhausted.
func (m *MetricsExtension) OnWebhookExhausted(ctx context.Context, _ *batch.Batch, _ int, _ error) error {
	m.webhookOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "exhausted")))
	return nil
}
