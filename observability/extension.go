package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steadyq/steadyq/hook"
	"github.com/steadyq/steadyq/msg"
)

const meterName = "github.com/steadyq/steadyq/observability"

// Compile-time interface checks.
var (
	_ hook.Extension           = (*MetricsExtension)(nil)
	_ hook.MessageEnqueued     = (*MetricsExtension)(nil)
	_ hook.MessageCompleted    = (*MetricsExtension)(nil)
	_ hook.MessageRetrying     = (*MetricsExtension)(nil)
	_ hook.MessageFailed       = (*MetricsExtension)(nil)
	_ hook.MessageDeadLettered = (*MetricsExtension)(nil)
	_ hook.RateLimited         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via
// OpenTelemetry. Register it on the hook registry to track enqueue
// rates, completions, retries, dead letters, and rate limit denials.
// Per-execution latency histograms live in middleware.Metrics.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	retried      metric.Int64Counter
	failed       metric.Int64Counter
	deadLettered metric.Int64Counter
	rateLimited  metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider. Without a configured SDK this is a safe no-op.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.GetMeterProvider().Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the given
// meter. Use an sdkmetric meter in tests or when wiring a specific
// provider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	enqueued, _ := meter.Int64Counter("steadyq.messages.enqueued",
		metric.WithDescription("Messages accepted into the queue"))
	completed, _ := meter.Int64Counter("steadyq.messages.completed",
		metric.WithDescription("Messages handled successfully"))
	retried, _ := meter.Int64Counter("steadyq.messages.retried",
		metric.WithDescription("Messages rescheduled after a failed attempt"))
	failed, _ := meter.Int64Counter("steadyq.messages.failed",
		metric.WithDescription("Messages that failed terminally"))
	deadLettered, _ := meter.Int64Counter("steadyq.messages.dead_lettered",
		metric.WithDescription("Messages moved to the dead letter queue"))
	rateLimited, _ := meter.Int64Counter("steadyq.ratelimit.denied",
		metric.WithDescription("Requests denied by the rate limiter"))

	return &MetricsExtension{
		enqueued:     enqueued,
		completed:    completed,
		retried:      retried,
		failed:       failed,
		deadLettered: deadLettered,
		rateLimited:  rateLimited,
	}
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func kindAttr(message *msg.Message) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", message.Kind))
}

// ── Message lifecycle hooks ─────────────────────────

// OnMessageEnqueued implements hook.MessageEnqueued.
func (m *MetricsExtension) OnMessageEnqueued(ctx context.Context, message *msg.Message) error {
	m.enqueued.Add(ctx, 1, kindAttr(message))
	return nil
}

// OnMessageCompleted implements hook.MessageCompleted.
func (m *MetricsExtension) OnMessageCompleted(ctx context.Context, message *msg.Message, _ time.Duration) error {
	m.completed.Add(ctx, 1, kindAttr(message))
	return nil
}

// OnMessageRetrying implements hook.MessageRetrying.
func (m *MetricsExtension) OnMessageRetrying(ctx context.Context, message *msg.Message, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, kindAttr(message))
	return nil
}

// OnMessageFailed implements hook.MessageFailed.
func (m *MetricsExtension) OnMessageFailed(ctx context.Context, message *msg.Message, _ error) error {
	m.failed.Add(ctx, 1, kindAttr(message))
	return nil
}

// OnMessageDeadLettered implements hook.MessageDeadLettered.
func (m *MetricsExtension) OnMessageDeadLettered(ctx context.Context, message *msg.Message, _ error) error {
	m.deadLettered.Add(ctx, 1, kindAttr(message))
	return nil
}

// ── Rate limit hooks ────────────────────────────────

// OnRateLimited implements hook.RateLimited.
func (m *MetricsExtension) OnRateLimited(ctx context.Context, _ string, operation string, _ string) error {
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	return nil
}
