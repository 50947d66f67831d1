package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ygrebnov/telemetry/internal/sqlitestore"
)

// DurableRecord is one persisted value of an Application or User lifetime metric.
type DurableRecord struct {
	Lifetime   Lifetime
	Ping       string
	Identifier string
	Value      []byte
}

// DurableStore persists the Application and User partitions across restarts.
// The engine calls it from a single goroutine at a time.
type DurableStore interface {
	Load(ctx context.Context, fn func(DurableRecord) error) error
	Put(ctx context.Context, rec DurableRecord) error
	Delete(ctx context.Context, lifetime Lifetime, ping, identifier string) error
	Clear(ctx context.Context, lifetime Lifetime) error
	Close() error
}

// sqliteDurable adapts sqlitestore.Store to DurableStore.
type sqliteDurable struct {
	store *sqlitestore.Store
}

func openSQLiteDurable(dir string, logger *slog.Logger) (DurableStore, error) {
	s, err := sqlitestore.Open(dir, logger)
	if err != nil {
		return nil, err
	}
	return sqliteDurable{store: s}, nil
}

func (s sqliteDurable) Load(ctx context.Context, fn func(DurableRecord) error) error {
	return s.store.Load(ctx, func(r sqlitestore.Record) error {
		return fn(DurableRecord{
			Lifetime:   Lifetime(r.Lifetime),
			Ping:       r.Ping,
			Identifier: r.Identifier,
			Value:      r.Value,
		})
	})
}

func (s sqliteDurable) Put(ctx context.Context, rec DurableRecord) error {
	return s.store.Put(ctx, sqlitestore.Record{
		Lifetime:   uint8(rec.Lifetime),
		Ping:       rec.Ping,
		Identifier: rec.Identifier,
		Value:      rec.Value,
	})
}

func (s sqliteDurable) Delete(ctx context.Context, lifetime Lifetime, ping, identifier string) error {
	return s.store.Delete(ctx, uint8(lifetime), ping, identifier)
}

func (s sqliteDurable) Clear(ctx context.Context, lifetime Lifetime) error {
	return s.store.Clear(ctx, uint8(lifetime))
}

func (s sqliteDurable) Close() error { return s.store.Close() }

// bucket maps identifiers to values for one ping.
type bucket map[string]Value

// database holds the lifetime partitions: lifetime → ping → identifier → value.
// It is owned by the dispatcher goroutine and does no locking of its own.
// Writes to durable lifetimes go through to the DurableStore; the first
// failure drops the store and the session continues memory-only.
type database struct {
	partitions [lifetimeCount]map[string]bucket
	durable    DurableStore
	logger     *slog.Logger
	// onUnavailable is called once when durable storage is abandoned.
	onUnavailable func(err error)
}

func newDatabase(durable DurableStore, logger *slog.Logger, onUnavailable func(error)) *database {
	db := &database{durable: durable, logger: logger, onUnavailable: onUnavailable}
	for i := range db.partitions {
		db.partitions[i] = make(map[string]bucket)
	}
	return db
}

// persistent reports whether durable storage is still in use.
func (db *database) persistent() bool { return db.durable != nil }

// abandon switches the session to memory-only after a durable failure and
// returns err wrapped in ErrStorageUnavailable.
func (db *database) abandon(op string, err error) error {
	if db.durable == nil {
		return err
	}
	err = fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
	db.logger.Warn("durable metric storage unavailable, continuing in memory",
		"operation", op,
		"error", err,
	)
	_ = db.durable.Close()
	db.durable = nil
	if db.onUnavailable != nil {
		db.onUnavailable(err)
	}
	return err
}

// restore loads durable partitions into memory. Rows that cannot be decoded
// or name a non-durable lifetime are skipped. A failing store is abandoned and
// its error returned wrapped in ErrStorageUnavailable. Rows read before the
// failure are kept.
func (db *database) restore(ctx context.Context) error {
	if db.durable == nil {
		return nil
	}
	skipped := 0
	err := db.durable.Load(ctx, func(rec DurableRecord) error {
		if !rec.Lifetime.durable() {
			skipped++
			return nil
		}
		v, err := decodeValue(rec.Value)
		if err != nil {
			skipped++
			return nil
		}
		db.bucket(rec.Lifetime, rec.Ping, true)[rec.Identifier] = v
		return nil
	})
	if skipped > 0 {
		db.logger.Warn("skipped unreadable stored metrics", "count", skipped)
	}
	if err != nil {
		return db.abandon("load", err)
	}
	return nil
}

func (db *database) bucket(l Lifetime, ping string, create bool) bucket {
	b, ok := db.partitions[l][ping]
	if !ok && create {
		b = make(bucket)
		db.partitions[l][ping] = b
	}
	return b
}

func (db *database) get(l Lifetime, ping, id string) (Value, bool) {
	v, ok := db.bucket(l, ping, false)[id]
	return v, ok
}

// put overwrites the stored value.
func (db *database) put(l Lifetime, ping, id string, v Value) {
	db.bucket(l, ping, true)[id] = v
	db.persist(l, ping, id, v)
}

// recordWith replaces the stored value with fn(old). When fn reports false
// nothing is written.
func (db *database) recordWith(l Lifetime, ping, id string, fn func(old Value, exists bool) (Value, bool)) {
	old, exists := db.get(l, ping, id)
	v, ok := fn(old, exists)
	if !ok {
		return
	}
	db.put(l, ping, id, v)
}

func (db *database) persist(l Lifetime, ping, id string, v Value) {
	if !l.durable() || db.durable == nil {
		return
	}
	data, err := encodeValue(v)
	if err != nil {
		db.logger.Error("encoding metric value", "identifier", id, "error", err)
		return
	}
	rec := DurableRecord{Lifetime: l, Ping: ping, Identifier: id, Value: data}
	if err := db.durable.Put(context.Background(), rec); err != nil {
		_ = db.abandon("put", err)
	}
}

func (db *database) remove(l Lifetime, ping, id string) {
	b := db.bucket(l, ping, false)
	if _, ok := b[id]; !ok {
		return
	}
	delete(b, id)
	if len(b) == 0 {
		delete(db.partitions[l], ping)
	}
	if l.durable() && db.durable != nil {
		if err := db.durable.Delete(context.Background(), l, ping, id); err != nil {
			_ = db.abandon("delete", err)
		}
	}
}

// snapshot returns a merged copy of every lifetime's values for ping. With
// clearPing set, the ping-lifetime bucket is dropped in the same step; callers
// run it as one dispatcher task so no put can interleave.
func (db *database) snapshot(ping string, clearPing bool) map[string]Value {
	out := make(map[string]Value)
	for _, l := range []Lifetime{LifetimeUser, LifetimeApplication, LifetimePing} {
		for id, v := range db.bucket(l, ping, false) {
			out[id] = cloneValue(v)
		}
	}
	if clearPing {
		delete(db.partitions[LifetimePing], ping)
	}
	return out
}

// clearAll drops every value of one lifetime.
func (db *database) clearAll(l Lifetime) {
	db.partitions[l] = make(map[string]bucket)
	if l.durable() && db.durable != nil {
		if err := db.durable.Clear(context.Background(), l); err != nil {
			_ = db.abandon("clear", err)
		}
	}
}

// clearEverything drops all partitions.
func (db *database) clearEverything() {
	for _, l := range []Lifetime{LifetimePing, LifetimeApplication, LifetimeUser} {
		db.clearAll(l)
	}
}

// close releases durable storage.
func (db *database) close() error {
	if db.durable == nil {
		return nil
	}
	err := db.durable.Close()
	db.durable = nil
	return err
}
