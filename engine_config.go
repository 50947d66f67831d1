package telemetry

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DefaultPing is the ping metrics are sent in when neither the metric nor the
// engine configuration names one.
const DefaultPing = "metrics"

type engineConfig struct {
	// when false, remove per-identifier mutex entries from the registry after
	// registration. Default: false.
	doNotCleanupInits bool
	logger            *slog.Logger
	meterProvider     metric.MeterProvider

	dataDir string
	durable DurableStore

	defaultPings        []string
	maxStringLength     int
	maxStringListLength int

	testingMode             bool
	keepApplicationLifetime bool
	uploadDisabled          bool
	startupHook             func(RestoredData)
	now                     func() time.Time
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		defaultPings:        []string{DefaultPing},
		maxStringLength:     DefaultMaxStringLength,
		maxStringListLength: DefaultMaxStringListLength,
		now:                 time.Now,
	}
}

func (c *engineConfig) limits() limits {
	return limits{maxStringLength: c.maxStringLength, maxStringListLength: c.maxStringListLength}
}

// Option configures an Engine constructed by Open.
type Option func(*engineConfig)

// WithInitCleanupDisabled keeps per-identifier registration mutexes after use.
// Cleanup is enabled by default; this option disables it.
func WithInitCleanupDisabled() Option {
	return func(cfg *engineConfig) { cfg.doNotCleanupInits = true }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) { cfg.logger = l }
}

// WithMeterProvider reports the engine's own health (queue depth, processed
// tasks, recorded errors) through OpenTelemetry.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *engineConfig) { cfg.meterProvider = mp }
}

// WithDataDir persists Application and User lifetime values in a SQLite
// database inside dir. The directory is locked for the life of the engine.
func WithDataDir(dir string) Option {
	return func(cfg *engineConfig) { cfg.dataDir = dir }
}

// WithDurableStore persists Application and User lifetime values in s. It takes
// precedence over WithDataDir. The engine closes s on Close.
func WithDurableStore(s DurableStore) Option {
	return func(cfg *engineConfig) { cfg.durable = s }
}

// WithDefaultPings sets the pings used by metrics that do not name any.
func WithDefaultPings(pings ...string) Option {
	return func(cfg *engineConfig) { cfg.defaultPings = append([]string(nil), pings...) }
}

// WithMaxStringLength sets the code point limit for string values.
func WithMaxStringLength(n int) Option {
	return func(cfg *engineConfig) { cfg.maxStringLength = n }
}

// WithMaxStringListLength sets the item limit for string lists.
func WithMaxStringListLength(n int) Option {
	return func(cfg *engineConfig) { cfg.maxStringListLength = n }
}

// WithTestingMode enables the Test* APIs.
func WithTestingMode() Option {
	return func(cfg *engineConfig) { cfg.testingMode = true }
}

// WithApplicationLifetimeKept skips clearing Application lifetime values at Open.
func WithApplicationLifetimeKept() Option {
	return func(cfg *engineConfig) { cfg.keepApplicationLifetime = true }
}

// WithUploadDisabled opens the engine with recording switched off.
func WithUploadDisabled() Option {
	return func(cfg *engineConfig) { cfg.uploadDisabled = true }
}

// WithStartupHook calls fn during Open with the values restored from the previous
// session, before Application lifetime values are cleared and before any
// recording is possible.
func WithStartupHook(fn func(RestoredData)) Option {
	return func(cfg *engineConfig) { cfg.startupHook = fn }
}

// WithClock replaces time.Now, used by timespans and ping timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) { cfg.now = now }
}
