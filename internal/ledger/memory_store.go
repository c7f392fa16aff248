package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory reservation store for demo/development mode.
type MemoryStore struct {
	byRequestID map[string]*Reservation
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory reservation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRequestID: make(map[string]*Reservation)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byRequestID[r.RequestID]; ok {
		return ErrDuplicateRequest
	}
	cp := *r
	m.byRequestID[r.RequestID] = &cp
	return nil
}

func (m *MemoryStore) GetByRequestID(ctx context.Context, requestID string) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.byRequestID[requestID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	// Return a copy to prevent races on the shared pointer.
	cp := *r
	return &cp, nil
}

// Update writes a state transition. Only an open (RESERVED) record can be
// transitioned; a write that lost a race with a finalizing write is rejected.
func (m *MemoryStore) Update(ctx context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byRequestID[r.RequestID]
	if !ok {
		return ErrReservationNotFound
	}
	if existing.IsTerminal() {
		return fmt.Errorf("%w: reservation %s is %s", ErrInvalidTransition, existing.ID, existing.State)
	}
	cp := *r
	m.byRequestID[r.RequestID] = &cp
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
