package telemetry

import (
	"context"
	"fmt"
)

// The Test* methods are for tests of code that records metrics. They need an
// engine opened WithTestingMode and never clear ping data.

func (e *Engine) checkTesting() error {
	if !e.cfg.testingMode {
		return ErrNotTestingMode
	}
	return nil
}

// TestAwaitIdle blocks until every recording submitted before the call has
// been applied. ctx bounds the wait only; queued work still runs.
func (e *Engine) TestAwaitIdle(ctx context.Context) error {
	if err := e.checkTesting(); err != nil {
		return err
	}
	return e.dispatcher.sync(ctx, func() {})
}

// resolve finds the metric and its ping; an empty ping means the first destination.
func (e *Engine) resolve(h Handle, ping string) (*metricEntry, string, error) {
	if err := e.checkTesting(); err != nil {
		return nil, "", err
	}
	entry, ok := e.registry.lookup(h)
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown %s", ErrInvalidIdentity, h)
	}
	if ping == "" {
		ping = entry.meta.SendInPings[0]
	}
	return entry, ping, nil
}

// TestGetValue waits for pending recordings and returns the value stored for the
// metric in ping, or ErrNoValueStored.
func (e *Engine) TestGetValue(ctx context.Context, h Handle, ping string) (Value, error) {
	entry, ping, err := e.resolve(h, ping)
	if err != nil {
		return nil, err
	}
	var (
		v     Value
		found bool
	)
	err = e.dispatcher.sync(ctx, func() {
		v, found = e.db.get(entry.meta.Lifetime, ping, entry.id)
		if found {
			v = cloneValue(v)
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s in ping %q", ErrNoValueStored, entry.id, ping)
	}
	if v.Type() != entry.typ {
		e.registry.reportInvariantViolation("stored_type_mismatch", entry.id)
		return nil, fmt.Errorf("%w: %s holds a %s", ErrNoValueStored, entry.id, v.Type())
	}
	return v, nil
}

// TestHasValue waits for pending recordings and reports whether a value is
// stored for the metric in ping.
func (e *Engine) TestHasValue(ctx context.Context, h Handle, ping string) (bool, error) {
	entry, ping, err := e.resolve(h, ping)
	if err != nil {
		return false, err
	}
	var found bool
	err = e.dispatcher.sync(ctx, func() {
		_, found = e.db.get(entry.meta.Lifetime, ping, entry.id)
	})
	return found, err
}

// TestGetNumRecordedErrors returns how many errors of type et were recorded
// against the metric in ping.
func (e *Engine) TestGetNumRecordedErrors(ctx context.Context, h Handle, et ErrorType, ping string) (int, error) {
	entry, ping, err := e.resolve(h, ping)
	if err != nil {
		return 0, err
	}
	var n int
	err = e.dispatcher.sync(ctx, func() {
		if v, ok := e.db.get(LifetimePing, ping, errorIdentifier(et, entry.id)); ok {
			if c, ok := v.(CounterValue); ok {
				n = int(c)
			}
		}
	})
	return n, err
}

// TestReset clears every partition, durable ones included, and re-enables
// recording. Registrations are kept.
func (e *Engine) TestReset(ctx context.Context) error {
	if err := e.checkTesting(); err != nil {
		return err
	}
	return e.dispatcher.sync(ctx, func() {
		e.db.clearEverything()
		e.uploadEnabled = true
	})
}
