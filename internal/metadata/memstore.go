package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-process Store.
type MemStore struct {
	mu      sync.RWMutex
	data    map[string]KV
	nextVer Version
	closed  bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data:    make(map[string]KV),
		nextVer: 1,
	}
}

func (m *MemStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return GetResult{}, ErrStoreClosed
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MemStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	if expected := ExtractExpectedVersion(opts); expected != nil {
		if m.data[key].Version != *expected {
			return 0, ErrVersionMismatch
		}
	}

	ver := m.nextVer
	m.nextVer++
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = KV{Key: key, Value: stored, Version: ver}
	return ver, nil
}

func (m *MemStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	existing, ok := m.data[key]
	if expected := ExtractDeleteExpectedVersion(opts); expected != nil {
		if !ok || existing.Version != *expected {
			return ErrVersionMismatch
		}
	}
	delete(m.data, key)
	return nil
}

func (m *MemStore) List(_ context.Context, prefix string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []KV
	for k, kv := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, kv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
