package telemetry

import "errors"

var (
	// ErrInvalidIdentity is returned when a category, metric name or ping name
	// does not follow the naming convention, or when an identifier is
	// re-registered with a different kind or lifetime.
	ErrInvalidIdentity = errors.New("telemetry: invalid metric identity")

	// ErrNoValueStored is returned by test getters when nothing is stored
	// for the metric in the requested ping.
	ErrNoValueStored = errors.New("telemetry: no value stored")

	// ErrStorageUnavailable reports that durable storage could not be used.
	// The engine keeps running memory-only.
	ErrStorageUnavailable = errors.New("telemetry: durable storage unavailable")

	// ErrEngineClosed is returned by blocking calls on a closed engine.
	ErrEngineClosed = errors.New("telemetry: engine closed")

	// ErrNotTestingMode is returned by test APIs when the engine was not opened
	// with WithTestingMode.
	ErrNotTestingMode = errors.New("telemetry: engine is not in testing mode")
)

// ErrorType classifies data-quality problems found while recording. They are
// never returned to callers; each occurrence increments an internal counter
// stored alongside the offending metric.
type ErrorType string

const (
	// ErrorTypeInvalidValue: the value was rejected and the write dropped.
	ErrorTypeInvalidValue ErrorType = "invalid_value"
	// ErrorTypeInvalidOverflow: the value exceeded a size limit and was truncated.
	ErrorTypeInvalidOverflow ErrorType = "invalid_overflow"
	// ErrorTypeInvalidType: the Go type of the value does not match the metric kind.
	ErrorTypeInvalidType ErrorType = "invalid_type"
)
