package infra

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Memo is a process-lifetime memoization table keyed by string. Concurrent
// loads of the same key share a single call; failed loads are not stored,
// so a later caller retries. Entries are never invalidated.
type Memo[V any] struct {
	mu     sync.Mutex
	values map[string]V
	group  singleflight.Group
}

// NewMemo creates an empty memo.
func NewMemo[V any]() *Memo[V] {
	return &Memo[V]{values: make(map[string]V)}
}

// Get returns the stored value for key, calling load to produce it on the
// first request. The shared load runs on a context detached from any one
// caller's cancellation; each caller stops waiting when its own ctx is
// done, and the load still completes for the others.
func (m *Memo[V]) Get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := m.lookup(key); ok {
		return v, nil
	}

	ch := m.group.DoChan(key, func() (any, error) {
		if v, ok := m.lookup(key); ok {
			return v, nil
		}
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		m.mu.Lock()
		m.values[key] = v
		m.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (m *Memo[V]) lookup(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of stored entries.
func (m *Memo[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
