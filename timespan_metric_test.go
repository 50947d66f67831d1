package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func startupMeta() CommonMetricData {
	return CommonMetricData{Category: "core", Name: "startup"}
}

func TestTimespan_StartStop(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(t, WithClock(clock.Now))
	m := e.Timespan(startupMeta(), TimeUnitMillisecond)

	m.Start()
	clock.Advance(1500 * time.Millisecond)
	m.Stop()

	got, err := m.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got)

	v, err := e.TestGetValue(ctx, m.Handle(), "")
	require.NoError(t, err)
	assert.Equal(t, TimespanValue{Duration: 1500 * time.Millisecond, Unit: TimeUnitMillisecond}, v)
}

func TestTimespan_Units(t *testing.T) {
	cases := []struct {
		unit TimeUnit
		want int64
	}{
		{TimeUnitNanosecond, int64(90 * time.Minute)},
		{TimeUnitMicrosecond, int64(90*time.Minute) / 1000},
		{TimeUnitMillisecond, 90 * 60 * 1000},
		{TimeUnitSecond, 90 * 60},
		{TimeUnitMinute, 90},
		{TimeUnitHour, 1},
		{TimeUnitDay, 0},
	}
	for _, tc := range cases {
		t.Run(tc.unit.String(), func(t *testing.T) {
			clock := newFakeClock()
			e := newTestEngine(t, WithClock(clock.Now))
			m := e.Timespan(startupMeta(), tc.unit)
			m.Start()
			clock.Advance(90 * time.Minute)
			m.Stop()

			got, err := m.TestGetValue(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTimespan_DoubleStartKeepsFirstStart(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(t, WithClock(clock.Now))
	m := e.Timespan(startupMeta(), TimeUnitSecond)

	m.Start()
	clock.Advance(2 * time.Second)
	m.Start()
	clock.Advance(3 * time.Second)
	m.Stop()

	got, err := m.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidValue, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTimespan_StopWithoutStart(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	m := e.Timespan(startupMeta(), TimeUnitSecond)

	m.Stop()
	has, err := m.TestHasValue(ctx, "")
	require.NoError(t, err)
	assert.False(t, has)
	n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidValue, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTimespan_SecondMeasurementDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(t, WithClock(clock.Now))
	m := e.Timespan(startupMeta(), TimeUnitSecond)

	m.Start()
	clock.Advance(4 * time.Second)
	m.Stop()
	m.Start()
	clock.Advance(10 * time.Second)
	m.Stop()

	got, err := m.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)

	// once the ping is collected a new measurement is stored
	_, err = e.Collect(DefaultPing)
	require.NoError(t, err)
	m.Start()
	clock.Advance(7 * time.Second)
	m.Stop()
	got, err = m.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestTimespan_Cancel(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(t, WithClock(clock.Now))
	m := e.Timespan(startupMeta(), TimeUnitSecond)

	m.Start()
	clock.Advance(time.Second)
	m.Cancel()
	m.Stop()

	has, err := m.TestHasValue(ctx, "")
	require.NoError(t, err)
	assert.False(t, has)
	n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidValue, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "stop after cancel is not running")
}

func TestTimespan_SetRaw(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps existing without overwrite", func(t *testing.T) {
		e := newTestEngine(t)
		m := e.Timespan(startupMeta(), TimeUnitMillisecond)
		m.SetRaw(20*time.Millisecond, false)
		m.SetRaw(30*time.Millisecond, false)
		got, err := m.TestGetValue(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(20), got)
	})
	t.Run("overwrite replaces", func(t *testing.T) {
		e := newTestEngine(t)
		m := e.Timespan(startupMeta(), TimeUnitMillisecond)
		m.SetRaw(20*time.Millisecond, false)
		m.SetRaw(30*time.Millisecond, true)
		got, err := m.TestGetValue(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(30), got)
	})
	t.Run("rejected while running", func(t *testing.T) {
		e := newTestEngine(t)
		m := e.Timespan(startupMeta(), TimeUnitMillisecond)
		m.Start()
		m.SetRaw(20*time.Millisecond, true)
		has, err := m.TestHasValue(ctx, "")
		require.NoError(t, err)
		assert.False(t, has)
		n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidValue, "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
	t.Run("negative is invalid", func(t *testing.T) {
		e := newTestEngine(t)
		m := e.Timespan(startupMeta(), TimeUnitMillisecond)
		m.SetRaw(-time.Second, true)
		n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidValue, "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestTimespan_GenericRecordUsesRegisteredUnit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	h, err := e.Register(startupMeta(), MetricTypeTimespan, WithTimeUnit(TimeUnitSecond))
	require.NoError(t, err)

	e.Record(h, 3*time.Second)
	v, err := e.TestGetValue(ctx, h, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.(TimespanValue).Reported())
}

func TestTimespan_InvalidUnitRejected(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Register(startupMeta(), MetricTypeTimespan, WithTimeUnit(TimeUnit(42)))
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestParseTimeUnit(t *testing.T) {
	u, err := ParseTimeUnit("Second")
	require.NoError(t, err)
	assert.Equal(t, TimeUnitSecond, u)

	_, err = ParseTimeUnit("fortnight")
	require.Error(t, err)

	assert.Equal(t, "time_unit(9)", TimeUnit(9).String())
	assert.Equal(t, int64(5), TimeUnit(9).Convert(5))
}
