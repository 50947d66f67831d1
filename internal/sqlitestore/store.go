// Package sqlitestore persists durable metric partitions in a SQLite
// database inside a data directory owned by a single process.
//
// A Store is not safe for concurrent use. The engine calls it only from its
// dispatcher goroutine (and from Open before the dispatcher starts).
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	databaseFileName = "telemetry.db"
	lockFileName     = "telemetry.lock"
)

// ErrLocked is returned by Open when another process owns the data directory.
var ErrLocked = errors.New("sqlitestore: data directory is locked by another process")

// Record is one persisted metric value.
type Record struct {
	Lifetime   uint8
	Ping       string
	Identifier string
	Value      []byte
}

// Store is a SQLite-backed record store.
type Store struct {
	conn   *sqlite.Conn
	lock   *flock.Flock
	logger *slog.Logger
	path   string
}

const schema = `
CREATE TABLE IF NOT EXISTS metrics (
	lifetime   INTEGER NOT NULL,
	ping       TEXT    NOT NULL,
	identifier TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	PRIMARY KEY (lifetime, ping, identifier)
) WITHOUT ROWID;
`

// Open locks dir, creating it if needed, and opens the database inside it.
// If logger is nil, a discarding logger is used.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlitestore: data directory is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("sqlitestore: creating %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: locking %s: %w", dir, err)
	}
	if !locked {
		_ = lock.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	path := filepath.Join(dir, databaseFileName)
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", path, err)
	}
	if err := prepare(conn); err != nil {
		_ = conn.Close()
		_ = lock.Close()
		return nil, err
	}

	logger.Info("metric store opened", "path", path)
	return &Store{conn: conn, lock: lock, logger: logger, path: path}, nil
}

// prepare applies pragmas and creates the schema.
func prepare(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: creating schema: %w", err)
	}
	return nil
}

// interruptOn makes long statements abort when ctx ends. The returned func
// restores the previous state.
func (s *Store) interruptOn(ctx context.Context) func() {
	s.conn.SetInterrupt(ctx.Done())
	return func() { s.conn.SetInterrupt(nil) }
}

// Load calls fn for every stored record, ordered by key. An error from fn
// stops the iteration and is returned.
func (s *Store) Load(ctx context.Context, fn func(Record) error) error {
	defer s.interruptOn(ctx)()

	err := sqlitex.Execute(s.conn,
		`SELECT lifetime, ping, identifier, value FROM metrics ORDER BY lifetime, ping, identifier`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, value)
				return fn(Record{
					Lifetime:   uint8(stmt.ColumnInt(0)),
					Ping:       stmt.ColumnText(1),
					Identifier: stmt.ColumnText(2),
					Value:      value,
				})
			},
		})
	if err != nil {
		return fmt.Errorf("sqlitestore: load: %w", err)
	}
	return nil
}

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, rec Record) error {
	defer s.interruptOn(ctx)()

	err := sqlitex.Execute(s.conn,
		`INSERT INTO metrics (lifetime, ping, identifier, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (lifetime, ping, identifier) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{
			Args: []any{int64(rec.Lifetime), rec.Ping, rec.Identifier, rec.Value},
		})
	if err != nil {
		return fmt.Errorf("sqlitestore: put %s: %w", rec.Identifier, err)
	}
	return nil
}

// Delete removes a single record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, lifetime uint8, ping, identifier string) error {
	defer s.interruptOn(ctx)()

	err := sqlitex.Execute(s.conn,
		`DELETE FROM metrics WHERE lifetime = ? AND ping = ? AND identifier = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(lifetime), ping, identifier}})
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", identifier, err)
	}
	return nil
}

// Clear removes every record of a lifetime in one transaction.
func (s *Store) Clear(ctx context.Context, lifetime uint8) (err error) {
	defer s.interruptOn(ctx)()

	endTransaction, err := sqlitex.ImmediateTransaction(s.conn)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(s.conn,
		`DELETE FROM metrics WHERE lifetime = ?`,
		&sqlitex.ExecOptions{Args: []any{int64(lifetime)}})
	if err != nil {
		return fmt.Errorf("sqlitestore: clear lifetime %d: %w", lifetime, err)
	}
	return nil
}

// Close closes the database and releases the directory lock.
func (s *Store) Close() error {
	err := s.conn.Close()
	if unlockErr := s.lock.Close(); err == nil {
		err = unlockErr
	}
	if err != nil {
		s.logger.Error("metric store close error", "path", s.path, "error", err)
		return fmt.Errorf("sqlitestore: closing %s: %w", s.path, err)
	}
	s.logger.Info("metric store closed", "path", s.path)
	return nil
}
