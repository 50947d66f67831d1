package telemetry

import "time"

// Value is a stored metric value. The set of implementations is closed and
// matches MetricType one to one.
type Value interface {
	Type() MetricType
	isValue()
}

// StringValue is the value of a string metric.
type StringValue string

// StringListValue is the value of a string list metric.
type StringListValue []string

// CounterValue is the value of a counter metric.
type CounterValue int64

// BooleanValue is the value of a boolean metric.
type BooleanValue bool

// TimespanValue is the value of a timespan metric: the elapsed time and the
// unit it is reported in.
type TimespanValue struct {
	Duration time.Duration
	Unit     TimeUnit
}

func (StringValue) Type() MetricType     { return MetricTypeString }
func (StringListValue) Type() MetricType { return MetricTypeStringList }
func (CounterValue) Type() MetricType    { return MetricTypeCounter }
func (BooleanValue) Type() MetricType    { return MetricTypeBoolean }
func (TimespanValue) Type() MetricType   { return MetricTypeTimespan }

func (StringValue) isValue()     {}
func (StringListValue) isValue() {}
func (CounterValue) isValue()    {}
func (BooleanValue) isValue()    {}
func (TimespanValue) isValue()   {}

// Reported returns the elapsed time converted to the metric's unit.
func (v TimespanValue) Reported() int64 { return v.Unit.Convert(v.Duration) }

// cloneValue returns a copy that shares no memory with v.
func cloneValue(v Value) Value {
	if l, ok := v.(StringListValue); ok {
		return append(StringListValue(make([]string, 0, len(l))), l...)
	}
	return v
}
