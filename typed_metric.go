package telemetry

import "context"

// baseMetric is the part shared by all typed metrics.
type baseMetric struct {
	e     *Engine
	entry *metricEntry
}

// Handle returns the handle behind the metric. It is the zero Handle when the
// registration was rejected.
func (m baseMetric) Handle() Handle { return m.entry.handle }

// Identifier returns "category.name".
func (m baseMetric) Identifier() string { return m.entry.id }

// TestHasValue reports whether a value is stored for ping (first destination
// ping when empty), after all pending recordings are applied.
func (m baseMetric) TestHasValue(ctx context.Context, ping string) (bool, error) {
	return m.e.TestHasValue(ctx, m.entry.handle, ping)
}

// TestGetNumRecordedErrors returns how many errors of type et were recorded
// against the metric in ping.
func (m baseMetric) TestGetNumRecordedErrors(ctx context.Context, et ErrorType, ping string) (int, error) {
	return m.e.TestGetNumRecordedErrors(ctx, m.entry.handle, et, ping)
}

// StringMetric records a single string, truncated to the engine's length limit.
type StringMetric struct {
	baseMetric
}

// String registers (or returns the existing registration of) a string metric.
func (e *Engine) String(meta CommonMetricData) *StringMetric {
	return &StringMetric{baseMetric{e: e, entry: e.typedEntry(meta, MetricTypeString)}}
}

// Set records v, replacing any stored value.
func (m *StringMetric) Set(v string) { m.e.record(m.entry, v, mergeReplace) }

// TestGetValue returns the stored string. Test only.
func (m *StringMetric) TestGetValue(ctx context.Context, ping string) (string, error) {
	v, err := m.e.TestGetValue(ctx, m.entry.handle, ping)
	if err != nil {
		return "", err
	}
	return string(v.(StringValue)), nil
}

// StringListMetric records a list of strings.
type StringListMetric struct {
	baseMetric
}

// StringList registers (or returns the existing registration of) a string list metric.
func (e *Engine) StringList(meta CommonMetricData) *StringListMetric {
	return &StringListMetric{baseMetric{e: e, entry: e.typedEntry(meta, MetricTypeStringList)}}
}

// Add appends v. Items past the list limit are dropped with an invalid_value error.
func (m *StringListMetric) Add(v string) { m.e.record(m.entry, v, mergeAppend) }

// Set replaces the stored list.
func (m *StringListMetric) Set(v []string) {
	m.e.record(m.entry, append([]string(nil), v...), mergeReplace)
}

// TestGetValue returns a copy of the stored list. Test only.
func (m *StringListMetric) TestGetValue(ctx context.Context, ping string) ([]string, error) {
	v, err := m.e.TestGetValue(ctx, m.entry.handle, ping)
	if err != nil {
		return nil, err
	}
	return []string(v.(StringListValue)), nil
}

// CounterMetric records a monotonically increasing count.
type CounterMetric struct {
	baseMetric
}

// Counter registers (or returns the existing registration of) a counter metric.
func (e *Engine) Counter(meta CommonMetricData) *CounterMetric {
	return &CounterMetric{baseMetric{e: e, entry: e.typedEntry(meta, MetricTypeCounter)}}
}

// Add increases the counter by amount. Non-positive amounts are rejected with
// an invalid_value error.
func (m *CounterMetric) Add(amount int) { m.e.record(m.entry, amount, mergeAdd) }

// TestGetValue returns the stored count. Test only.
func (m *CounterMetric) TestGetValue(ctx context.Context, ping string) (int64, error) {
	v, err := m.e.TestGetValue(ctx, m.entry.handle, ping)
	if err != nil {
		return 0, err
	}
	return int64(v.(CounterValue)), nil
}

// BooleanMetric records a flag.
type BooleanMetric struct {
	baseMetric
}

// Boolean registers (or returns the existing registration of) a boolean metric.
func (e *Engine) Boolean(meta CommonMetricData) *BooleanMetric {
	return &BooleanMetric{baseMetric{e: e, entry: e.typedEntry(meta, MetricTypeBoolean)}}
}

// Set records v.
func (m *BooleanMetric) Set(v bool) { m.e.record(m.entry, v, mergeReplace) }

// TestGetValue returns the stored flag. Test only.
func (m *BooleanMetric) TestGetValue(ctx context.Context, ping string) (bool, error) {
	v, err := m.e.TestGetValue(ctx, m.entry.handle, ping)
	if err != nil {
		return false, err
	}
	return bool(v.(BooleanValue)), nil
}
