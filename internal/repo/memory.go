package repo

import (
	"context"
	"sync"
)

// Memory is an in-process KV. A positive Capacity limits the total bytes of
// stored values, and writes past it fail with ErrQuotaExceeded.
type Memory struct {
	Capacity int

	mu     sync.Mutex
	values map[string]string
}

func NewMemory(capacity int) *Memory {
	return &Memory{Capacity: capacity, values: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	if m.Capacity > 0 {
		used := len(value)
		for k, v := range m.values {
			if k != key {
				used += len(v)
			}
		}
		if used > m.Capacity {
			return ErrQuotaExceeded
		}
	}
	m.values[key] = value
	return nil
}
