package approvals

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/treasurer/internal/pagination"
)

// MemoryStore is an in-memory ticket store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket // keyed by ticket ID
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]*Ticket)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tickets {
		if existing.RequestID == t.RequestID && existing.Status == StatusPending {
			return ErrDuplicateTicket
		}
	}

	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetPendingByRequestID(ctx context.Context, requestID string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tickets {
		if t.RequestID == requestID && t.Status == StatusPending {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTicketNotFound
}

func (m *MemoryStore) ListPending(ctx context.Context, after *pagination.Cursor, limit int) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []*Ticket
	for _, t := range m.tickets {
		if t.Status != StatusPending {
			continue
		}
		if after != nil {
			// Resume strictly after the cursor position in (createdAt, id) order.
			if t.CreatedAt.Before(after.CreatedAt) {
				continue
			}
			if t.CreatedAt.Equal(after.CreatedAt) && t.ID <= after.ID {
				continue
			}
		}
		cp := *t
		pending = append(pending, &cp)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[t.ID]; !ok {
		return ErrTicketNotFound
	}
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MemoryStore) CountPending(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.tickets {
		if t.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
