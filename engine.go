package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

const (
	errorCategory = "telemetry.error"
	// storageUnavailableID counts sessions that lost durable storage.
	storageUnavailableID = "telemetry.internal.storage_unavailable"
)

// errorIdentifier is the storage key of the error counter for (error type, metric).
func errorIdentifier(et ErrorType, id string) string {
	return errorCategory + "." + string(et) + "/" + id
}

// Engine records, stores and extracts metric values. It is safe for concurrent
// use. Recording calls return immediately; storage is mutated only by the
// engine's dispatcher goroutine.
type Engine struct {
	cfg        *engineConfig
	logger     *slog.Logger
	stats      *selfMetrics
	registry   *registry
	dispatcher *dispatcher

	// owned by the dispatcher goroutine once Open returns
	db            *database
	uploadEnabled bool

	closed atomic.Bool
}

// Open creates an engine. Durable values are restored and, unless
// WithApplicationLifetimeKept is set, Application lifetime values are cleared
// before Open returns, so no recording can race the restart handling.
// Storage failures never fail Open: the engine runs memory-only instead.
func Open(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, o := range opts {
		if o != nil {
			o(cfg)
		}
	}
	logger := cfg.logger
	if logger == nil {
		logger = newDiscardLogger()
	}

	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		stats:         newSelfMetrics(cfg.meterProvider),
		registry:      newRegistry(cfg, logger),
		uploadEnabled: !cfg.uploadDisabled,
	}

	if len(cfg.defaultPings) == 0 {
		return nil, fmt.Errorf("%w: no default pings", ErrInvalidIdentity)
	}
	for _, p := range cfg.defaultPings {
		if !pingPattern.MatchString(p) {
			return nil, fmt.Errorf("%w: default ping %q", ErrInvalidIdentity, p)
		}
	}

	durable := cfg.durable
	var storageErr error
	if durable == nil && cfg.dataDir != "" {
		s, err := openSQLiteDurable(cfg.dataDir, logger)
		if err != nil {
			storageErr = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
			logger.Warn("durable metric storage unavailable, continuing in memory",
				"data_dir", cfg.dataDir,
				"error", storageErr,
			)
		} else {
			durable = s
		}
	}

	e.db = newDatabase(durable, logger, e.storageUnavailable)
	if err := e.db.restore(context.Background()); err != nil {
		logger.Warn("restoring stored metrics failed", "error", err)
	}
	if storageErr != nil {
		e.storageUnavailable(storageErr)
	}

	e.startup()

	e.dispatcher = newDispatcher(logger, e.stats)
	e.stats.observeQueue(e.dispatcher)

	logger.Info("telemetry engine opened",
		"persistent", e.db.persistent(),
		"testing_mode", cfg.testingMode,
		"upload_enabled", e.uploadEnabled,
	)
	return e, nil
}

// startup runs the restart handling. It is called before the dispatcher exists.
func (e *Engine) startup() {
	if e.cfg.startupHook != nil {
		e.cfg.startupHook(newRestoredData(e.db))
	}
	if !e.cfg.keepApplicationLifetime {
		e.db.clearAll(LifetimeApplication)
	}
	if !e.uploadEnabled {
		e.db.clearEverything()
	}
}

// storageUnavailable records that durable storage was abandoned. It runs on the
// dispatcher goroutine, or inside Open before the dispatcher starts.
func (e *Engine) storageUnavailable(err error) {
	e.stats.storageLost()
	e.logger.Debug("storage unavailable recorded", "error", err)
	for _, ping := range e.cfg.defaultPings {
		e.db.recordWith(LifetimePing, ping, storageUnavailableID, func(old Value, exists bool) (Value, bool) {
			v, _ := merge(old, exists, CounterValue(1), mergeAdd, e.cfg.limits())
			return v, true
		})
	}
}

// Register resolves a metric identity into a handle. Registering the same
// identifier again with the same kind and lifetime returns the same handle.
// It does not create a stored value.
func (e *Engine) Register(meta CommonMetricData, typ MetricType, opts ...MetricOption) (Handle, error) {
	entry, err := e.registry.register(meta, typ, opts)
	if err != nil {
		return Handle{}, err
	}
	return entry.handle, nil
}

// Record validates raw and enqueues it for the metric behind h. It never blocks
// on storage and never reports errors: invalid values become error counters
// stored with the metric. Accepted Go types per kind:
//
//	string:      string
//	string list: string (append) or []string (replace)
//	counter:     int, int32, int64 (added)
//	boolean:     bool
//	timespan:    time.Duration (replace)
func (e *Engine) Record(h Handle, raw any) {
	entry, ok := e.registry.lookup(h)
	if !ok {
		e.registry.reportInvariantViolation("unknown_handle", h.String())
		return
	}
	e.record(entry, raw, defaultOp(entry.typ, raw))
}

func (e *Engine) record(entry *metricEntry, raw any, op mergeOp) {
	if entry.meta.Disabled || e.closed.Load() {
		return
	}
	v, errs, ok := validate(entry.typ, raw, e.cfg.limits())
	if tv, isTimespan := v.(TimespanValue); isTimespan {
		tv.Unit = entry.cfg.timeUnit
		v = tv
	}
	e.dispatcher.launch(func() {
		if !e.uploadEnabled {
			return
		}
		for _, et := range errs {
			e.applyError(entry, et)
		}
		if !ok {
			return
		}
		e.apply(entry, v, op)
	})
}

// apply stores v in every destination ping. Dispatcher only.
func (e *Engine) apply(entry *metricEntry, v Value, op mergeOp) {
	var mergeErrs []ErrorType
	for _, ping := range entry.meta.SendInPings {
		e.db.recordWith(entry.meta.Lifetime, ping, entry.id, func(old Value, exists bool) (Value, bool) {
			nv, errs := merge(old, exists, v, op, e.cfg.limits())
			if len(errs) > 0 && mergeErrs == nil {
				mergeErrs = errs
			}
			return nv, true
		})
	}
	for _, et := range mergeErrs {
		e.applyError(entry, et)
	}
}

// recordError enqueues one error of type et against the metric.
func (e *Engine) recordError(entry *metricEntry, et ErrorType) {
	if entry.meta.Disabled || e.closed.Load() {
		return
	}
	e.dispatcher.launch(func() {
		if e.uploadEnabled {
			e.applyError(entry, et)
		}
	})
}

// applyError increments the error counter for the metric in each of its pings.
// Error counters always have ping lifetime. Dispatcher only.
func (e *Engine) applyError(entry *metricEntry, et ErrorType) {
	id := errorIdentifier(et, entry.id)
	for _, ping := range entry.meta.SendInPings {
		e.db.recordWith(LifetimePing, ping, id, func(old Value, exists bool) (Value, bool) {
			v, _ := merge(old, exists, CounterValue(1), mergeAdd, e.cfg.limits())
			return v, true
		})
	}
	e.stats.errorRecorded(et)
	e.logger.Debug("metric error recorded", "identifier", entry.id, "error_type", et)
}

// SetUploadEnabled switches recording on or off. Switching off clears every
// stored value and drops recordings until switched on again. The change is
// ordered with recordings: values recorded before the call are cleared, values
// recorded after it are dropped.
func (e *Engine) SetUploadEnabled(enabled bool) {
	e.dispatcher.launch(func() {
		if e.uploadEnabled == enabled {
			return
		}
		e.uploadEnabled = enabled
		if !enabled {
			e.db.clearEverything()
		}
		e.logger.Info("upload enabled changed", "enabled", enabled)
	})
}

// ClearLifetime drops every value of lifetime l.
func (e *Engine) ClearLifetime(l Lifetime) {
	if l >= lifetimeCount {
		return
	}
	e.dispatcher.launch(func() { e.db.clearAll(l) })
}

// Close applies every pending recording, then releases storage. Handles become
// invalid; later recordings are dropped and blocking calls return ErrEngineClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.dispatcher.close()
	e.stats.stop()
	if err := e.db.close(); err != nil {
		return fmt.Errorf("telemetry: closing storage: %w", err)
	}
	e.logger.Info("telemetry engine closed")
	return nil
}

// Persistent reports whether durable storage is in use. It waits for pending
// recordings, since a failing write can switch the engine to memory-only.
func (e *Engine) Persistent(ctx context.Context) (bool, error) {
	var ok bool
	if err := e.dispatcher.sync(ctx, func() { ok = e.db.persistent() }); err != nil {
		return false, err
	}
	return ok, nil
}

// typedEntry registers a metric for a typed constructor. An invalid identity is a
// programmer error: it panics in debug builds and otherwise yields a disabled
// metric that records nothing.
func (e *Engine) typedEntry(meta CommonMetricData, typ MetricType, opts ...MetricOption) *metricEntry {
	entry, err := e.registry.register(meta, typ, opts)
	if err == nil {
		return entry
	}
	e.registry.reportInvariantViolation("invalid_identity", err.Error())
	disabled := meta.clone()
	disabled.Disabled = true
	return &metricEntry{typ: typ, meta: disabled, cfg: applyMetricOptions(opts), id: meta.Identifier()}
}

// RestoredData holds a copy of the values restored at Open, taken before
// Application lifetime values are cleared. It is handed to the startup hook and
// stays unchanged when the engine records new values, so a hook may keep it.
type RestoredData struct {
	parts [lifetimeCount]map[string]bucket
}

func newRestoredData(db *database) RestoredData {
	var r RestoredData
	for l, pings := range db.partitions {
		r.parts[l] = make(map[string]bucket, len(pings))
		for ping, b := range pings {
			cp := make(bucket, len(b))
			for id, v := range b {
				cp[id] = cloneValue(v)
			}
			r.parts[l][ping] = cp
		}
	}
	return r
}

// Value returns the restored value of a metric in a ping.
func (r RestoredData) Value(l Lifetime, ping, identifier string) (Value, bool) {
	if l >= lifetimeCount {
		return nil, false
	}
	v, ok := r.parts[l][ping][identifier]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Snapshot returns the merged restored values for ping.
func (r RestoredData) Snapshot(ping string) map[string]Value {
	out := make(map[string]Value)
	for _, l := range []Lifetime{LifetimeUser, LifetimeApplication, LifetimePing} {
		for id, v := range r.parts[l][ping] {
			out[id] = cloneValue(v)
		}
	}
	return out
}
