package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimeUnit is the resolution a timespan is reported in.
type TimeUnit uint8

const (
	TimeUnitNanosecond TimeUnit = iota
	TimeUnitMicrosecond
	TimeUnitMillisecond
	TimeUnitSecond
	TimeUnitMinute
	TimeUnitHour
	TimeUnitDay

	timeUnitCount = 7
)

var timeUnits = [timeUnitCount]struct {
	name string
	size time.Duration
}{
	{"nanosecond", time.Nanosecond},
	{"microsecond", time.Microsecond},
	{"millisecond", time.Millisecond},
	{"second", time.Second},
	{"minute", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
}

func (u TimeUnit) valid() bool { return u < timeUnitCount }

func (u TimeUnit) String() string {
	if u.valid() {
		return timeUnits[u].name
	}
	return fmt.Sprintf("time_unit(%d)", uint8(u))
}

// Convert returns d in units of u, truncating.
func (u TimeUnit) Convert(d time.Duration) int64 {
	if !u.valid() {
		return int64(d)
	}
	return int64(d / timeUnits[u].size)
}

// ParseTimeUnit parses a unit name such as "millisecond".
func ParseTimeUnit(s string) (TimeUnit, error) {
	for i, tu := range timeUnits {
		if strings.EqualFold(s, tu.name) {
			return TimeUnit(i), nil
		}
	}
	return 0, fmt.Errorf("telemetry: unknown time unit %q", s)
}

// TimespanMetric measures how long a task takes. Only one measurement can run
// at a time.
type TimespanMetric struct {
	baseMetric

	mu      sync.Mutex
	start   time.Time
	running bool
}

// Timespan registers (or returns the existing registration of) a timespan metric
// reported in unit. Each call returns an independent timer; prefer keeping one.
func (e *Engine) Timespan(meta CommonMetricData, unit TimeUnit) *TimespanMetric {
	return &TimespanMetric{baseMetric: baseMetric{e: e, entry: e.typedEntry(meta, MetricTypeTimespan, WithTimeUnit(unit))}}
}

// Start begins a measurement. Starting a running timespan records an
// invalid_value error and keeps the original start time.
func (m *TimespanMetric) Start() {
	if m.entry.meta.Disabled {
		return
	}
	now := m.e.cfg.now()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.e.recordError(m.entry, ErrorTypeInvalidValue)
		return
	}
	m.start, m.running = now, true
	m.mu.Unlock()
}

// Stop ends the measurement and records the elapsed time unless a value is
// already stored for the ping. Stopping a timespan that is not running records
// an invalid_value error.
func (m *TimespanMetric) Stop() {
	if m.entry.meta.Disabled {
		return
	}
	now := m.e.cfg.now()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.e.recordError(m.entry, ErrorTypeInvalidValue)
		return
	}
	elapsed := now.Sub(m.start)
	m.running = false
	m.mu.Unlock()

	m.e.record(m.entry, elapsed, mergeKeep)
}

// Cancel aborts a running measurement. Nothing is recorded.
func (m *TimespanMetric) Cancel() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// SetRaw records an externally measured duration. Without overwrite an already
// stored value wins. Calling it while a measurement runs records an
// invalid_value error and stores nothing.
func (m *TimespanMetric) SetRaw(elapsed time.Duration, overwrite bool) {
	if m.entry.meta.Disabled {
		return
	}
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		m.e.recordError(m.entry, ErrorTypeInvalidValue)
		return
	}
	op := mergeKeep
	if overwrite {
		op = mergeReplace
	}
	m.e.record(m.entry, elapsed, op)
}

// TestGetValue returns the stored duration converted to the metric's unit. Test only.
func (m *TimespanMetric) TestGetValue(ctx context.Context, ping string) (int64, error) {
	v, err := m.e.TestGetValue(ctx, m.entry.handle, ping)
	if err != nil {
		return 0, err
	}
	return v.(TimespanValue).Reported(), nil
}
