package telemetry

import (
	"fmt"
	"strings"
)

// MetricType identifies the kind of a registered metric. The set is closed:
// every kind has exactly one validation and storage strategy.
type MetricType string

const (
	MetricTypeString     MetricType = "string"
	MetricTypeStringList MetricType = "string_list"
	MetricTypeCounter    MetricType = "counter"
	MetricTypeBoolean    MetricType = "boolean"
	MetricTypeTimespan   MetricType = "timespan"
)

func (t MetricType) String() string { return string(t) }

func (t MetricType) valid() bool {
	switch t {
	case MetricTypeString, MetricTypeStringList, MetricTypeCounter, MetricTypeBoolean, MetricTypeTimespan:
		return true
	}
	return false
}

// Lifetime is the clearing and persistence policy of a metric.
type Lifetime uint8

const (
	// LifetimePing values live in memory and are cleared each time the ping is collected.
	LifetimePing Lifetime = iota
	// LifetimeApplication values are persisted and cleared when the application restarts.
	LifetimeApplication
	// LifetimeUser values are persisted until explicitly reset.
	LifetimeUser

	lifetimeCount = 3
)

var lifetimeNames = [lifetimeCount]string{"ping", "application", "user"}

func (l Lifetime) String() string {
	if l < lifetimeCount {
		return lifetimeNames[l]
	}
	return fmt.Sprintf("lifetime(%d)", uint8(l))
}

// durable reports whether values of this lifetime survive process restarts.
func (l Lifetime) durable() bool { return l == LifetimeApplication || l == LifetimeUser }

// MarshalText implements encoding.TextMarshaler.
func (l Lifetime) MarshalText() ([]byte, error) {
	if l >= lifetimeCount {
		return nil, fmt.Errorf("telemetry: unknown lifetime %d", uint8(l))
	}
	return []byte(lifetimeNames[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Lifetime) UnmarshalText(b []byte) error {
	v, err := ParseLifetime(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLifetime parses the text form of a lifetime ("ping", "application" or "user").
func ParseLifetime(s string) (Lifetime, error) {
	for i, name := range lifetimeNames {
		if strings.EqualFold(s, name) {
			return Lifetime(i), nil
		}
	}
	return 0, fmt.Errorf("telemetry: unknown lifetime %q", s)
}

// CommonMetricData is the identity and routing information shared by every
// metric kind. It is supplied by the manifest collaborator and is immutable
// once registered.
type CommonMetricData struct {
	Category string
	Name     string
	// SendInPings lists the pings the value is stored for. When empty the
	// engine's default pings are used.
	SendInPings []string
	Lifetime    Lifetime
	// Disabled turns recording into a no-op. Registration and test reads still work.
	Disabled bool
}

// Identifier returns the storage key of the metric: "category.name".
func (m CommonMetricData) Identifier() string {
	if m.Category == "" {
		return m.Name
	}
	return m.Category + "." + m.Name
}

// clone makes a defensive copy (copies SendInPings).
func (m CommonMetricData) clone() CommonMetricData {
	out := m
	if m.SendInPings != nil {
		out.SendInPings = append([]string(nil), m.SendInPings...)
	}
	return out
}

// Handle is an opaque reference to a registered metric. The zero Handle is invalid.
// A Handle always resolves to the same identity and lifetime for the life of the
// engine that issued it.
type Handle struct {
	id uint64
}

// Valid reports whether h was issued by a registration.
func (h Handle) Valid() bool { return h.id != 0 }

func (h Handle) String() string { return fmt.Sprintf("handle#%d", h.id) }

// metricConfig carries kind-specific registration settings.
type metricConfig struct {
	timeUnit TimeUnit
}

// MetricOption mutates kind-specific registration settings.
type MetricOption func(*metricConfig)

// WithTimeUnit sets the unit a timespan metric reports in. Ignored by other kinds.
func WithTimeUnit(u TimeUnit) MetricOption {
	return func(c *metricConfig) { c.timeUnit = u }
}

func applyMetricOptions(opts []MetricOption) metricConfig {
	cfg := metricConfig{timeUnit: TimeUnitMillisecond}
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	return cfg
}
