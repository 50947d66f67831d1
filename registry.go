package telemetry

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
)

var (
	// lowercase segments joined by dots, e.g. "core" or "browser.engine".
	categoryPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)
	namePattern     = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	pingPattern     = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
)

// metricEntry is the immutable registration record a Handle resolves to.
type metricEntry struct {
	handle Handle
	typ    MetricType
	meta   CommonMetricData
	cfg    metricConfig
	id     string
}

// registry maps identifiers and handles to registrations.
// It stores entries in sync.Maps keyed by identifier and handle and uses a
// separate sync.Map of per-identifier mutexes to serialize first-time registration.
type registry struct {
	cfg    *engineConfig
	logger *slog.Logger

	byID     sync.Map // map[string]*metricEntry
	byHandle sync.Map // map[Handle]*metricEntry
	// per-identifier init mutexes: protect concurrent registration of the same identifier
	inits sync.Map // map[string]*sync.Mutex

	next       atomic.Uint64
	violations atomic.Int32
}

func newRegistry(cfg *engineConfig, logger *slog.Logger) *registry {
	return &registry{cfg: cfg, logger: logger}
}

// keyMu returns a per-identifier mutex, creating one if necessary.
func (r *registry) keyMu(id string) *sync.Mutex {
	m, _ := r.inits.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// awaitInit waits for an in-flight first registration of id. It never creates
// a mutex, so lookups leave the inits map untouched.
func (r *registry) awaitInit(id string) {
	m, ok := r.inits.Load(id)
	if !ok {
		return
	}
	km := m.(*sync.Mutex)
	km.Lock()
	km.Unlock() //nolint:staticcheck // empty critical section is the wait
}

// normalize validates the identity and resolves the ping destination set.
func (r *registry) normalize(meta CommonMetricData) (CommonMetricData, error) {
	if meta.Category == "" || !categoryPattern.MatchString(meta.Category) {
		return meta, fmt.Errorf("%w: category %q", ErrInvalidIdentity, meta.Category)
	}
	if !namePattern.MatchString(meta.Name) {
		return meta, fmt.Errorf("%w: name %q", ErrInvalidIdentity, meta.Name)
	}
	if meta.Lifetime >= lifetimeCount {
		return meta, fmt.Errorf("%w: %s", ErrInvalidIdentity, meta.Lifetime)
	}
	pings := meta.SendInPings
	if len(pings) == 0 {
		pings = r.cfg.defaultPings
	}
	out := meta.clone()
	out.SendInPings = dedupePings(pings)
	for _, p := range out.SendInPings {
		if !pingPattern.MatchString(p) {
			return meta, fmt.Errorf("%w: ping %q", ErrInvalidIdentity, p)
		}
	}
	return out, nil
}

// dedupePings collapses duplicates and keeps first-seen order.
func dedupePings(pings []string) []string {
	seen := make(map[string]struct{}, len(pings))
	out := make([]string, 0, len(pings))
	for _, p := range pings {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// register returns the entry for meta, creating it once. A repeated registration
// with the same kind and lifetime yields the original entry; anything else is an
// ErrInvalidIdentity.
func (r *registry) register(meta CommonMetricData, typ MetricType, opts []MetricOption) (*metricEntry, error) {
	if !typ.valid() {
		return nil, fmt.Errorf("%w: unknown metric type %q", ErrInvalidIdentity, typ)
	}
	id := meta.Identifier()

	// fast read path
	if v, ok := r.byID.Load(id); ok {
		return r.compatible(v.(*metricEntry), meta, typ)
	}

	// validate and apply options off-lock
	norm, err := r.normalize(meta)
	if err != nil {
		return nil, err
	}
	cfg := applyMetricOptions(opts)
	if typ == MetricTypeTimespan && !cfg.timeUnit.valid() {
		return nil, fmt.Errorf("%w: %s has unknown time unit", ErrInvalidIdentity, id)
	}

	km := r.keyMu(id)
	km.Lock()
	defer km.Unlock()

	// re-check after acquiring per-identifier mutex
	if v, ok := r.byID.Load(id); ok {
		return r.compatible(v.(*metricEntry), meta, typ)
	}
	entry := &metricEntry{
		handle: Handle{id: r.next.Add(1)},
		typ:    typ,
		meta:   norm,
		cfg:    cfg,
		id:     id,
	}
	r.byHandle.Store(entry.handle, entry)
	r.byID.Store(id, entry)
	// It's safe to delete while holding the mutex; goroutines that already
	// hold the pointer keep using it and new callers hit the fast path.
	if !r.cfg.doNotCleanupInits {
		r.inits.Delete(id)
	}
	r.logger.Debug("metric registered",
		"identifier", id,
		"type", typ,
		"lifetime", norm.Lifetime,
		"pings", norm.SendInPings,
	)
	return entry, nil
}

func (r *registry) compatible(e *metricEntry, meta CommonMetricData, typ MetricType) (*metricEntry, error) {
	if e.typ != typ || e.meta.Lifetime != meta.Lifetime {
		return nil, fmt.Errorf("%w: %s already registered as %s/%s",
			ErrInvalidIdentity, e.id, e.typ, e.meta.Lifetime)
	}
	return e, nil
}

func (r *registry) lookup(h Handle) (*metricEntry, bool) {
	v, ok := r.byHandle.Load(h)
	if !ok {
		return nil, false
	}
	e, ok := v.(*metricEntry)
	return e, ok
}

// reportInvariantViolation reports unexpected states such as an unknown handle or
// an invalid registration from a typed constructor. In release builds it logs up to
// 10 times per registry; in debug builds (or under race detector) it panics.
func (r *registry) reportInvariantViolation(kind, subject string) {
	const maxReports = 10

	msg := "telemetry: invariant violation: " + kind + " for " + subject

	if isDebugBuild() {
		panic(msg)
	}
	if r.violations.Add(1) > maxReports {
		return
	}
	r.logger.Warn(msg)
}

// isDebugBuild reports whether we're in a "debug" or "race" build.
func isDebugBuild() bool {
	return raceBuild || debugBuild
}
