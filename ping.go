package telemetry

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PingPayload is an immutable snapshot of everything stored for one ping.
// Serializing and uploading it is up to the caller.
type PingPayload struct {
	Ping       string
	DocumentID uuid.UUID
	CreatedAt  time.Time
	// Metrics maps identifiers to values. Error counters appear under
	// "telemetry.error.<error_type>/<identifier>".
	Metrics map[string]Value
}

// Collect extracts the payload of ping. It returns nil when nothing is stored
// for the ping, so empty pings are never produced. Ping lifetime values are
// cleared as part of the same step; Application and User values are left in
// place. Collect waits for every recording submitted before it.
func (e *Engine) Collect(ping string) (*PingPayload, error) {
	var snap map[string]Value
	err := e.dispatcher.sync(context.Background(), func() {
		snap = e.db.snapshot(ping, true)
	})
	if err != nil {
		return nil, err
	}
	if len(snap) == 0 {
		e.logger.Debug("ping is empty, nothing collected", "ping", ping)
		return nil, nil
	}
	p := &PingPayload{
		Ping:       ping,
		DocumentID: uuid.New(),
		CreatedAt:  e.cfg.now(),
		Metrics:    snap,
	}
	e.logger.Debug("ping collected", "ping", ping, "document_id", p.DocumentID, "metrics", len(snap))
	return p, nil
}

// Value returns the value stored under identifier.
func (p *PingPayload) Value(identifier string) (Value, bool) {
	v, ok := p.Metrics[identifier]
	return v, ok
}

// Identifiers returns the identifiers in the payload, sorted.
func (p *PingPayload) Identifiers() []string {
	out := make([]string, 0, len(p.Metrics))
	for id := range p.Metrics {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ByType groups the values by metric kind, the layout most ping formats use.
func (p *PingPayload) ByType() map[MetricType]map[string]Value {
	out := make(map[MetricType]map[string]Value)
	for id, v := range p.Metrics {
		group, ok := out[v.Type()]
		if !ok {
			group = make(map[string]Value)
			out[v.Type()] = group
		}
		group[id] = v
	}
	return out
}
