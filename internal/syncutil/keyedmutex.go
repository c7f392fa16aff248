// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex provides one channel-based mutex per string key, supporting
// context cancellation while waiting to acquire. Keys never share a lock:
// operations on distinct keys (e.g. distinct signing addresses) proceed in
// parallel, while operations on the same key serialize.
//
// Lock entries are retained for the life of the process. The expected key
// population (signing identities) is small and fixed.
type KeyedMutex struct {
	locks sync.Map // key -> chan struct{} with capacity 1
}

func (m *KeyedMutex) ch(key string) chan struct{} {
	if v, ok := m.locks.Load(key); ok {
		return v.(chan struct{})
	}
	ch := make(chan struct{}, 1)
	ch <- struct{}{} // start unlocked
	if v, loaded := m.locks.LoadOrStore(key, ch); loaded {
		return v.(chan struct{})
	}
	return ch
}

// Lock acquires the mutex for key, respecting context cancellation.
// On success it returns an unlock function that MUST be called when done.
// On cancellation it returns nil and the context error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.ch(key)
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
