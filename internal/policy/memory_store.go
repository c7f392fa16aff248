package policy

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory config store for demo/development mode.
type MemoryStore struct {
	values map[string]string
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory config store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) GetLimit(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[name]
	if !ok {
		return "", ErrLimitNotSet
	}
	return v, nil
}

func (m *MemoryStore) SetLimit(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[name] = value
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
