package state

import (
	"context"
	"errors"
	"sync"
)

type memoryStore struct {
	mu      sync.Mutex
	items   map[string]string
	failSet error
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	return m.SetMany(ctx, map[string]string{key: value})
}

func (m *memoryStore) SetMany(ctx context.Context, values map[string]string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	if m.items == nil {
		m.items = make(map[string]string)
	}
	for k, v := range values {
		m.items[k] = v
	}
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

var errWriteFailed = errors.New("write failed")
