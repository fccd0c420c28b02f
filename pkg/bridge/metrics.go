package bridge

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String("reason", reason)
}

// Metrics are the counters the dispatcher updates as it runs. They are
// backed by the global OpenTelemetry MeterProvider; when the host
// process never configures one, the instruments are no-ops and the
// counters simply have no effect. pkg/telemetry installs only a tracer
// provider, not a MeterProvider.
type Metrics struct {
	received   metric.Int64Counter
	dispatched metric.Int64Counter
	dropped    metric.Int64Counter
	published  metric.Int64Counter
	queueFull  metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	received, err := meter.Int64Counter("zmqbridge.messages.received",
		metric.WithDescription("frames read off the subscriber socket"))
	if err != nil {
		return nil, err
	}
	dispatched, err := meter.Int64Counter("zmqbridge.messages.dispatched",
		metric.WithDescription("frames offered to a subscription's callback queue, including ones the queue rejected"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("zmqbridge.messages.dropped",
		metric.WithDescription("frames discarded: malformed, unroutable, or failed to publish; queue-full rejections are counted separately"))
	if err != nil {
		return nil, err
	}
	published, err := meter.Int64Counter("zmqbridge.messages.published",
		metric.WithDescription("frames written to the publisher socket"))
	if err != nil {
		return nil, err
	}
	queueFull, err := meter.Int64Counter("zmqbridge.queue.full",
		metric.WithDescription("enqueue attempts rejected because the target event queue was at capacity"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		received:   received,
		dispatched: dispatched,
		dropped:    dropped,
		published:  published,
		queueFull:  queueFull,
	}, nil
}

func (m *Metrics) incReceived(ctx context.Context)   { m.received.Add(ctx, 1) }
func (m *Metrics) incDispatched(ctx context.Context) { m.dispatched.Add(ctx, 1) }
func (m *Metrics) incDropped(ctx context.Context, reason string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(reasonAttr(reason)))
}
func (m *Metrics) incPublished(ctx context.Context) { m.published.Add(ctx, 1) }
func (m *Metrics) incQueueFull(ctx context.Context)  { m.queueFull.Add(ctx, 1) }
