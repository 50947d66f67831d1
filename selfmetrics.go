package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/ygrebnov/telemetry"

// selfMetrics reports the engine's own health through OpenTelemetry.
// Without a MeterProvider every instrument is a no-op.
type selfMetrics struct {
	tasks    metric.Int64Counter
	dropped  metric.Int64Counter
	panics   metric.Int64Counter
	errors   metric.Int64Counter
	storage  metric.Int64Counter
	meter    metric.Meter
	registry metric.Registration
}

func newSelfMetrics(mp metric.MeterProvider) *selfMetrics {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	return &selfMetrics{
		meter: meter,
		tasks: counter(meter, "telemetry.dispatcher.tasks",
			"Tasks executed by the dispatcher."),
		dropped: counter(meter, "telemetry.dispatcher.dropped",
			"Tasks rejected because the engine was closed."),
		panics: counter(meter, "telemetry.dispatcher.panics",
			"Tasks that panicked."),
		errors: counter(meter, "telemetry.recording.errors",
			"Data-quality errors recorded against metrics."),
		storage: counter(meter, "telemetry.storage.unavailable",
			"Times durable storage was abandoned."),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// observeQueue registers an asynchronous gauge of the dispatcher backlog.
func (m *selfMetrics) observeQueue(d *dispatcher) {
	gauge, err := m.meter.Int64ObservableGauge("telemetry.dispatcher.queue_depth",
		metric.WithDescription("Tasks waiting in the dispatcher queue."))
	if err != nil {
		return
	}
	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(d.pending()))
		return nil
	}, gauge)
	if err != nil {
		return
	}
	m.registry = reg
}

func (m *selfMetrics) stop() {
	if m.registry != nil {
		_ = m.registry.Unregister()
	}
}

func (m *selfMetrics) taskProcessed() { m.tasks.Add(context.Background(), 1) }
func (m *selfMetrics) taskDropped()   { m.dropped.Add(context.Background(), 1) }
func (m *selfMetrics) taskPanicked()  { m.panics.Add(context.Background(), 1) }
func (m *selfMetrics) storageLost()   { m.storage.Add(context.Background(), 1) }

func (m *selfMetrics) errorRecorded(et ErrorType) {
	m.errors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("error_type", string(et))))
}
