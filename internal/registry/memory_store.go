package registry

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory vendor store for demo/development mode.
type MemoryStore struct {
	vendors map[string]*Vendor // normalized name -> vendor
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory vendor store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vendors: make(map[string]*Vendor)}
}

func (m *MemoryStore) Create(ctx context.Context, v *Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeName(v.Name)
	if _, ok := m.vendors[key]; ok {
		return ErrVendorExists
	}
	cp := *v
	m.vendors[key] = &cp
	return nil
}

func (m *MemoryStore) GetByName(ctx context.Context, name string) (*Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vendors[normalizeName(name)]
	if !ok {
		return nil, ErrVendorNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Vendor
	for _, v := range m.vendors {
		cp := *v
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeName(name)
	if _, ok := m.vendors[key]; !ok {
		return ErrVendorNotFound
	}
	delete(m.vendors, key)
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
