// Package relation provides the key/value store that persists integrator
// state per relation id. Some fields are secret and kept apart from the
// plain relation data.
package relation

import (
	"context"
	"sort"
	"sync"
)

// Store is the relation data store.
type Store interface {
	// Get returns a field of a relation; ok is false when the field is unset.
	Get(ctx context.Context, relationID int, field string) (value string, ok bool, err error)
	// All returns every field of a relation, secrets included.
	All(ctx context.Context, relationID int) (map[string]string, error)
	// Set writes fields, leaving the others untouched.
	Set(ctx context.Context, relationID int, fields map[string]string) error
	// Delete removes fields; unknown fields are ignored.
	Delete(ctx context.Context, relationID int, fields ...string) error
}

// compile-time checks
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[int]map[string]string
	secrets map[string]bool
}

// NewMemoryStore creates an empty store. Secret fields are only tracked so
// IsSecret answers like the file store.
func NewMemoryStore(secretFields ...string) *MemoryStore {
	return &MemoryStore{
		data:    make(map[int]map[string]string),
		secrets: toSet(secretFields),
	}
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, relationID int, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[relationID][field]
	return v, ok, nil
}

// All implements Store
func (m *MemoryStore) All(_ context.Context, relationID int) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyFields(m.data[relationID]), nil
}

// Set implements Store
func (m *MemoryStore) Set(_ context.Context, relationID int, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.data[relationID]
	if !ok {
		rel = make(map[string]string, len(fields))
		m.data[relationID] = rel
	}
	for k, v := range fields {
		rel[k] = v
	}
	return nil
}

// Delete implements Store
func (m *MemoryStore) Delete(_ context.Context, relationID int, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		delete(m.data[relationID], f)
	}
	return nil
}

// IsSecret reports whether field is stored as a secret
func (m *MemoryStore) IsSecret(field string) bool {
	return m.secrets[field]
}

// Relations returns the ids holding data, sorted
func (m *MemoryStore) Relations() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, 0, len(m.data))
	for id, fields := range m.data {
		if len(fields) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func toSet(fields []string) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
