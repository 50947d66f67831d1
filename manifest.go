package telemetry

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MetricDefinition is one metric declared in a manifest.
type MetricDefinition struct {
	Type     MetricType
	Meta     CommonMetricData
	TimeUnit TimeUnit
}

type manifestMetric struct {
	Type        string   `yaml:"type"`
	Lifetime    string   `yaml:"lifetime"`
	SendInPings []string `yaml:"send_in_pings"`
	Disabled    bool     `yaml:"disabled"`
	TimeUnit    string   `yaml:"time_unit"`
}

// LoadManifest parses a metrics manifest:
//
//	core:
//	  os_version:
//	    type: string
//	    lifetime: application
//	    send_in_pings: [metrics]
//	  startup:
//	    type: timespan
//	    time_unit: millisecond
//
// Top-level keys starting with "$" (such as $schema) are ignored. Lifetime
// defaults to ping. Definitions are returned sorted by identifier. Names are
// not validated here; Register does that.
func LoadManifest(r io.Reader) ([]MetricDefinition, error) {
	var raw map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("telemetry: parsing manifest: %w", err)
	}

	var defs []MetricDefinition
	for category, node := range raw {
		if strings.HasPrefix(category, "$") {
			continue
		}
		var metrics map[string]manifestMetric
		if err := node.Decode(&metrics); err != nil {
			return nil, fmt.Errorf("telemetry: parsing manifest category %q: %w", category, err)
		}
		for name, m := range metrics {
			def, err := m.definition(category, name)
			if err != nil {
				return nil, fmt.Errorf("telemetry: manifest metric %s.%s: %w", category, name, err)
			}
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Meta.Identifier() < defs[j].Meta.Identifier() })
	return defs, nil
}

func (m manifestMetric) definition(category, name string) (MetricDefinition, error) {
	typ := MetricType(m.Type)
	if !typ.valid() {
		return MetricDefinition{}, fmt.Errorf("unknown type %q", m.Type)
	}
	lifetime := LifetimePing
	if m.Lifetime != "" {
		l, err := ParseLifetime(m.Lifetime)
		if err != nil {
			return MetricDefinition{}, err
		}
		lifetime = l
	}
	unit := TimeUnitMillisecond
	if m.TimeUnit != "" {
		u, err := ParseTimeUnit(m.TimeUnit)
		if err != nil {
			return MetricDefinition{}, err
		}
		unit = u
	}
	return MetricDefinition{
		Type: typ,
		Meta: CommonMetricData{
			Category:    category,
			Name:        name,
			SendInPings: m.SendInPings,
			Lifetime:    lifetime,
			Disabled:    m.Disabled,
		},
		TimeUnit: unit,
	}, nil
}

// RegisterManifest registers every definition and returns the handles keyed by
// identifier. It stops at the first rejected definition.
func (e *Engine) RegisterManifest(defs []MetricDefinition) (map[string]Handle, error) {
	out := make(map[string]Handle, len(defs))
	for _, d := range defs {
		h, err := e.Register(d.Meta, d.Type, WithTimeUnit(d.TimeUnit))
		if err != nil {
			return out, err
		}
		out[d.Meta.Identifier()] = h
	}
	return out, nil
}
