package telemetry

import "sort"

// MetricEntry describes a registered metric. Meta is a defensive copy.
type MetricEntry struct {
	Handle   Handle
	Type     MetricType
	Meta     CommonMetricData
	TimeUnit TimeUnit // timespan metrics only
}

func (e *metricEntry) describe() MetricEntry {
	out := MetricEntry{Handle: e.handle, Type: e.typ, Meta: e.meta.clone()}
	if e.typ == MetricTypeTimespan {
		out.TimeUnit = e.cfg.timeUnit
	}
	return out
}

// Lookup returns the registration for an identifier ("category.name").
// A first registration of the identifier that is in flight is waited for.
func (e *Engine) Lookup(identifier string) (MetricEntry, bool) {
	e.registry.awaitInit(identifier)

	v, ok := e.registry.byID.Load(identifier)
	if !ok {
		return MetricEntry{}, false
	}
	entry, ok := v.(*metricEntry)
	if !ok {
		e.registry.reportInvariantViolation("entry_type", identifier)
		return MetricEntry{}, false
	}
	return entry.describe(), true
}

// ListMetadata returns a best-effort snapshot of all registrations, sorted by
// identifier. It may race with concurrent registrations.
func (e *Engine) ListMetadata() []MetricEntry {
	out := make([]MetricEntry, 0)
	e.registry.byID.Range(func(_, v any) bool {
		entry, ok := v.(*metricEntry)
		if !ok {
			return true // skip invalid entries
		}
		out = append(out, entry.describe())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.Identifier() < out[j].Meta.Identifier() })
	return out
}
