// ABOUTME: Mock HitStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory HitStore implementation for testing.
type MockStore struct {
	mu   sync.RWMutex
	hits map[hitKey]*Hit

	// Err, when set, is returned by every call.
	Err error
}

type hitKey struct {
	path    string
	keyName string
}

var _ HitStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		hits: make(map[hitKey]*Hit),
	}
}

// IncrementHit bumps the in-memory counter.
func (m *MockStore) IncrementHit(ctx context.Context, path, keyName string) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	if path == "" || keyName == "" {
		return 0, ErrInvalidHit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := hitKey{path: path, keyName: keyName}
	h, ok := m.hits[k]
	if !ok {
		h = &Hit{Path: path, KeyName: keyName}
		m.hits[k] = h
	}
	h.Count++
	h.LastSeen = time.Now().UTC().Truncate(time.Second)
	return h.Count, nil
}

// ListHits returns copies of the counters for keyName ordered by path.
func (m *MockStore) ListHits(ctx context.Context, keyName string) ([]Hit, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Hit
	for k, h := range m.hits {
		if k.keyName == keyName {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }
