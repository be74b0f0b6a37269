package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store. Used by tests and when the driver is unset.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]Record // collection -> key -> record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]Record)}
}

func (m *Memory) Find(_ context.Context, collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.data[collection]
	out := make([]Record, 0, len(coll))
	for _, rec := range coll {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) FindOne(_ context.Context, collection, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[collection][key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) BulkUpsert(_ context.Context, collection string, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.data[collection]
	if coll == nil {
		coll = make(map[string]Record, len(recs))
		m.data[collection] = coll
	}
	for _, rec := range recs {
		coll[rec.Key] = rec
	}
	return nil
}

func (m *Memory) Create(ctx context.Context, collection string, rec Record) error {
	return m.BulkUpsert(ctx, collection, []Record{rec})
}

func (m *Memory) Close() error { return nil }
