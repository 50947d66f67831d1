package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString_RecordThenGet(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"ascii":    "Android 29",
		"empty":    "",
		"unicode":  "日本語のテキスト",
		"at_limit": strings.Repeat("x", DefaultMaxStringLength),
		"emoji":    "👍🏽 ok",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t)
			m := e.String(osVersionMeta())
			m.Set(in)
			got, err := m.TestGetValue(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, in, got)

			n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidOverflow, "")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestString_TruncatesLongValues(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	m := e.String(osVersionMeta())

	m.Set(strings.Repeat("é", DefaultMaxStringLength+10))
	got, err := m.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", DefaultMaxStringLength), got)

	n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidOverflow, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestString_InvalidUTF8KeepsPriorValue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	m := e.String(osVersionMeta())

	m.Set("good")
	m.Set("bad\xff")

	got, err := m.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "good", got)

	n, err := m.TestGetNumRecordedErrors(ctx, ErrorTypeInvalidValue, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDisabledMetric_NeverStores(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	meta := osVersionMeta()
	meta.Disabled = true
	m := e.String(meta)

	m.Set("a")
	m.Set(strings.Repeat("z", 100))
	e.Record(m.Handle(), "b")

	has, err := m.TestHasValue(ctx, "")
	require.NoError(t, err)
	assert.False(t, has)
	_, err = m.TestGetValue(ctx, "")
	require.ErrorIs(t, err, ErrNoValueStored)

	p, err := e.Collect("metrics")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRecord_FIFOFromOneGoroutine(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	h, err := e.Register(osVersionMeta(), MetricTypeString)
	require.NoError(t, err)

	e.Record(h, "a")
	e.Record(h, "b")
	v, err := e.TestGetValue(ctx, h, "metrics")
	require.NoError(t, err)
	assert.Equal(t, StringValue("b"), v)

	for i := 0; i < 1000; i++ {
		e.Record(h, strings.Repeat("x", i%7))
	}
	e.Record(h, "last")
	v, err = e.TestGetValue(ctx, h, "")
	require.NoError(t, err)
	assert.Equal(t, StringValue("last"), v)
}

func TestRecord_WrongGoType(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	h, err := e.Register(osVersionMeta(), MetricTypeString)
	require.NoError(t, err)

	e.Record(h, 42)
	has, err := e.TestHasValue(ctx, h, "")
	require.NoError(t, err)
	assert.False(t, has)
	n, err := e.TestGetNumRecordedErrors(ctx, h, ErrorTypeInvalidType, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecord_UnknownHandle(t *testing.T) {
	e := newTestEngine(t)
	if isDebugBuild() {
		assert.Panics(t, func() { e.Record(Handle{id: 999}, "x") })
		return
	}
	assert.NotPanics(t, func() { e.Record(Handle{id: 999}, "x") })
	_, err := e.TestGetValue(context.Background(), Handle{id: 999}, "")
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestCollect_EmptyPingIsAbsent(t *testing.T) {
	e := newTestEngine(t)
	e.String(osVersionMeta()) // registered, nothing recorded

	p, err := e.Collect("metrics")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = e.Collect("never-declared")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCollect_ClearsPingLifetimeOnly(t *testing.T) {
	e := newTestEngine(t)
	pingScoped := e.Counter(CommonMetricData{Category: "core", Name: "launches", Lifetime: LifetimePing})
	userScoped := e.String(CommonMetricData{Category: "core", Name: "channel", Lifetime: LifetimeUser})

	pingScoped.Add(2)
	userScoped.Set("beta")

	p, err := e.Collect(DefaultPing)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, CounterValue(2), p.Metrics["core.launches"])
	assert.Equal(t, StringValue("beta"), p.Metrics["core.channel"])

	p, err = e.Collect(DefaultPing)
	require.NoError(t, err)
	require.NotNil(t, p)
	_, ok := p.Value("core.launches")
	assert.False(t, ok, "ping lifetime value must be cleared by the first collect")
	assert.Equal(t, StringValue("beta"), p.Metrics["core.channel"])

	pingScoped.Add(1)
	p, err = e.Collect(DefaultPing)
	require.NoError(t, err)
	assert.Equal(t, CounterValue(1), p.Metrics["core.launches"])
}

func TestCollect_PingsAreIndependent(t *testing.T) {
	e := newTestEngine(t)
	c := e.Counter(CommonMetricData{
		Category:    "core",
		Name:        "clicks",
		SendInPings: []string{"metrics", "baseline", "metrics"},
	})
	c.Add(3)

	p, err := e.Collect("baseline")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, CounterValue(3), p.Metrics["core.clicks"])

	got, err := c.TestGetValue(context.Background(), "metrics")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	p, err = e.Collect("baseline")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCollect_IncludesErrorCounters(t *testing.T) {
	e := newTestEngine(t)
	m := e.String(CommonMetricData{Category: "core", Name: "locale"})
	m.Set(strings.Repeat("a", 60))
	m.Set(strings.Repeat("b", 70))

	p, err := e.Collect(DefaultPing)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []string{"core.locale", "telemetry.error.invalid_overflow/core.locale"}, p.Identifiers())
	assert.Equal(t, CounterValue(2), p.Metrics["telemetry.error.invalid_overflow/core.locale"])
	assert.NotEqual(t, uuid.Nil, p.DocumentID)
}

func TestOSVersionScenario_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// first session
	e, err := Open(WithTestingMode(), WithDataDir(dir))
	require.NoError(t, err)
	persistent, err := e.Persistent(ctx)
	require.NoError(t, err)
	require.True(t, persistent)

	e.String(osVersionMeta()).Set("Android 29")
	require.NoError(t, e.TestAwaitIdle(ctx))
	for i := 0; i < 2; i++ {
		p, err := e.Collect("metrics")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, StringValue("Android 29"), p.Metrics["core.os_version"])
	}
	require.NoError(t, e.Close())

	// second session keeps application lifetime values
	var restored Value
	e, err = Open(WithTestingMode(), WithDataDir(dir), WithApplicationLifetimeKept(),
		WithStartupHook(func(r RestoredData) {
			restored, _ = r.Value(LifetimeApplication, "metrics", "core.os_version")
		}))
	require.NoError(t, err)
	assert.Equal(t, StringValue("Android 29"), restored)
	got, err := e.String(osVersionMeta()).TestGetValue(ctx, "metrics")
	require.NoError(t, err)
	assert.Equal(t, "Android 29", got)
	require.NoError(t, e.Close())

	// third session: the hook still sees the value, then the restart clears it
	var snapshot map[string]Value
	e, err = Open(WithTestingMode(), WithDataDir(dir),
		WithStartupHook(func(r RestoredData) { snapshot = r.Snapshot("metrics") }))
	require.NoError(t, err)
	assert.Equal(t, StringValue("Android 29"), snapshot["core.os_version"])
	has, err := e.String(osVersionMeta()).TestHasValue(ctx, "metrics")
	require.NoError(t, err)
	assert.False(t, has)
	require.NoError(t, e.Close())

	// fourth session: nothing left on disk
	e, err = Open(WithTestingMode(), WithDataDir(dir),
		WithStartupHook(func(r RestoredData) { snapshot = r.Snapshot("metrics") }))
	require.NoError(t, err)
	assert.Empty(t, snapshot)
	require.NoError(t, e.Close())
}

func TestUserLifetime_SurvivesRestartClearing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	meta := CommonMetricData{Category: "core", Name: "first_run", Lifetime: LifetimeUser}

	e, err := Open(WithTestingMode(), WithDurableStore(store))
	require.NoError(t, err)
	e.Boolean(meta).Set(true)
	require.NoError(t, e.Close())
	assert.True(t, store.closed)

	e = newTestEngine(t, WithDurableStore(store))
	got, err := e.Boolean(meta).TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRestoredData_UnaffectedByLaterRecording(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(t, LifetimeUser, "metrics", "core.client_id", StringValue("first"))
	store.put(t, LifetimeApplication, "metrics", "core.os_version", StringValue("Android 28"))

	var kept RestoredData
	e := newTestEngine(t, WithDurableStore(store), WithApplicationLifetimeKept(),
		WithStartupHook(func(r RestoredData) { kept = r }))

	var wg conc.WaitGroup
	wg.Go(func() {
		for i := 0; i < 100; i++ {
			_ = kept.Snapshot("metrics")
			_, _ = kept.Value(LifetimeUser, "metrics", "core.client_id")
		}
	})
	user := e.String(CommonMetricData{Category: "core", Name: "client_id", Lifetime: LifetimeUser})
	app := e.String(osVersionMeta())
	for i := 0; i < 100; i++ {
		user.Set("second")
		app.Set("Android 29")
		e.Counter(CommonMetricData{Category: "core", Name: "events"}).Add(1)
	}
	wg.Wait()
	require.NoError(t, e.TestAwaitIdle(ctx))

	got, err := user.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	assert.Equal(t, map[string]Value{
		"core.client_id":  StringValue("first"),
		"core.os_version": StringValue("Android 28"),
	}, kept.Snapshot("metrics"))
	v, ok := kept.Value(LifetimeApplication, "metrics", "core.os_version")
	require.True(t, ok)
	assert.Equal(t, StringValue("Android 28"), v)
	_, ok = kept.Value(LifetimePing, "metrics", "core.events")
	assert.False(t, ok)
}

func TestConcurrentProducers(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	meta := CommonMetricData{Category: "load", Name: "events"}

	const producers, perProducer = 50, 40
	var wg conc.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Go(func() {
			c := e.Counter(meta)
			for j := 0; j < perProducer; j++ {
				c.Add(1)
			}
		})
	}
	wg.Wait()

	got, err := e.Counter(meta).TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(producers*perProducer), got)
}

func TestSetUploadEnabled(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	m := e.String(osVersionMeta())

	m.Set("before")
	e.SetUploadEnabled(false)
	m.Set("while disabled")

	has, err := m.TestHasValue(ctx, "")
	require.NoError(t, err)
	assert.False(t, has)
	p, err := e.Collect("metrics")
	require.NoError(t, err)
	assert.Nil(t, p)

	e.SetUploadEnabled(true)
	m.Set("after")
	got, err := m.TestGetValue(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "after", got)
}

func TestOpen_UploadDisabledClearsStoredData(t *testing.T) {
	store := newMemStore()
	store.put(t, LifetimeUser, "metrics", "core.channel", StringValue("beta"))

	e := newTestEngine(t, WithDurableStore(store), WithUploadDisabled())
	p, err := e.Collect("metrics")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Zero(t, store.len())
}

func TestClearLifetime(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	user := e.String(CommonMetricData{Category: "core", Name: "channel", Lifetime: LifetimeUser})
	app := e.String(osVersionMeta())
	user.Set("beta")
	app.Set("Android 29")

	e.ClearLifetime(LifetimeUser)
	has, err := user.TestHasValue(ctx, "")
	require.NoError(t, err)
	assert.False(t, has)
	has, err = app.TestHasValue(ctx, "")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestClosedEngine(t *testing.T) {
	e, err := Open(WithTestingMode())
	require.NoError(t, err)
	m := e.String(osVersionMeta())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.NotPanics(t, func() {
		m.Set("late")
		e.SetUploadEnabled(false)
	})
	_, err = e.Collect("metrics")
	require.ErrorIs(t, err, ErrEngineClosed)
	require.ErrorIs(t, e.TestAwaitIdle(context.Background()), ErrEngineClosed)
}

func TestClose_AppliesPendingWrites(t *testing.T) {
	store := newMemStore()
	e, err := Open(WithDurableStore(store))
	require.NoError(t, err)
	c := e.Counter(CommonMetricData{Category: "core", Name: "total", Lifetime: LifetimeUser})
	for i := 0; i < 100; i++ {
		c.Add(1)
	}
	require.NoError(t, e.Close())

	store.mu.Lock()
	rec := store.records[memKey(LifetimeUser, "metrics", "core.total")]
	store.mu.Unlock()
	v, err := decodeValue(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, CounterValue(100), v)
}

func TestOpen_InvalidDefaultPings(t *testing.T) {
	_, err := Open(WithDefaultPings())
	require.ErrorIs(t, err, ErrInvalidIdentity)
	_, err = Open(WithDefaultPings("Bad Ping"))
	require.ErrorIs(t, err, ErrInvalidIdentity)
}
