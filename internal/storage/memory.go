package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store. Tests use it; the "memory" driver
// selects it for dry runs.
type Memory struct {
	mu       sync.Mutex
	docs     map[string][]byte
	closed   bool
	failSave error
}

func NewMemory() *Memory { return &Memory{docs: map[string][]byte{}} }

func (m *Memory) Load(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Save(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.failSave != nil {
		return m.failSave
	}
	m.docs[name] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// SetFailSave makes every later Save return err; nil restores normal saves.
func (m *Memory) SetFailSave(err error) {
	m.mu.Lock()
	m.failSave = err
	m.mu.Unlock()
}
