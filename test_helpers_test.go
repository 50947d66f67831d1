package telemetry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestEngine opens an engine in testing mode that is closed with the test.
func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(append([]Option{WithTestingMode()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func osVersionMeta() CommonMetricData {
	return CommonMetricData{
		Category:    "core",
		Name:        "os_version",
		Lifetime:    LifetimeApplication,
		SendInPings: []string{"metrics"},
	}
}

// memStore is an in-memory DurableStore with switchable failures.
type memStore struct {
	mu      sync.Mutex
	records map[[3]string]DurableRecord
	failPut bool
	loadErr error
	closed  bool
	puts    int
}

var errStoreBroken = errors.New("store broken")

func newMemStore() *memStore {
	return &memStore{records: make(map[[3]string]DurableRecord)}
}

func memKey(l Lifetime, ping, id string) [3]string { return [3]string{l.String(), ping, id} }

func (m *memStore) Load(_ context.Context, fn func(DurableRecord) error) error {
	m.mu.Lock()
	recs := make([]DurableRecord, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	loadErr := m.loadErr
	m.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].Identifier < recs[j].Identifier })
	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return loadErr
}

func (m *memStore) Put(_ context.Context, rec DurableRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errStoreBroken
	}
	m.puts++
	m.records[memKey(rec.Lifetime, rec.Ping, rec.Identifier)] = rec
	return nil
}

func (m *memStore) Delete(_ context.Context, l Lifetime, ping, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, memKey(l, ping, id))
	return nil
}

func (m *memStore) Clear(_ context.Context, l Lifetime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.records {
		if r.Lifetime == l {
			delete(m.records, k)
		}
	}
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// put seeds a record directly.
func (m *memStore) put(t *testing.T, l Lifetime, ping, id string, v Value) {
	t.Helper()
	data, err := encodeValue(v)
	require.NoError(t, err)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[memKey(l, ping, id)] = DurableRecord{Lifetime: l, Ping: ping, Identifier: id, Value: data}
}
