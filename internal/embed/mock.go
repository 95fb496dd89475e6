package embed

import (
	"context"
	"sync"
)

// MockSource is a test implementation of the Source interface.
// It allows tests to control the returned vectors.
type MockSource struct {
	mu      sync.Mutex
	vectors map[string][]float32
	def     []float32
	err     error
	calls   int
}

// NewMockSource creates a MockSource that returns def for unknown images.
func NewMockSource(def []float32) *MockSource {
	return &MockSource{
		vectors: make(map[string][]float32),
		def:     def,
	}
}

// SetVector sets the vector returned for a specific image.
func (m *MockSource) SetVector(image []byte, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[string(image)] = vector
}

// SetError sets the error that will be returned by Embed.
func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Embed has been called.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Embed returns the configured vector or error.
func (m *MockSource) Embed(ctx context.Context, image []byte) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable("%v", err)
	}
	if v, ok := m.vectors[string(image)]; ok {
		return append([]float32(nil), v...), nil
	}
	if m.def == nil {
		return nil, unavailable("no vector for image")
	}
	return append([]float32(nil), m.def...), nil
}

// Dimension returns the length of the default vector.
func (m *MockSource) Dimension() int {
	return len(m.def)
}

// Close is a no-op for the mock source.
func (m *MockSource) Close() error {
	return nil
}
