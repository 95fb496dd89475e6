package store

import (
	"context"
	"sync"
)

// Memory is an in-process Backend for tests and ephemeral sessions.
type Memory struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	readErr  error
	writeErr error
	writes   int
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// SetReadError makes subsequent reads fail with err. Pass nil to clear.
func (m *Memory) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteError makes subsequent writes fail with err. Pass nil to clear.
func (m *Memory) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Writes returns the number of successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Read returns a copy of the blob stored under key.
func (m *Memory) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readErr != nil {
		return nil, unavailable("read", key, m.readErr)
	}
	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// Write stores a copy of blob under key.
func (m *Memory) Write(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable("write", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return unavailable("write", key, m.writeErr)
	}
	m.blobs[key] = append([]byte(nil), blob...)
	m.writes++
	return nil
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error {
	return nil
}
