// Package knn provides the example store, nearest-neighbor classifier and
// dataset codec used to recognize trained gestures from embedding vectors.
package knn

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the
	// dimensionality established by the store.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEmptyModel is returned when predicting against a store with no examples.
	ErrEmptyModel = errors.New("model has no examples")

	// ErrCorruptDataset is returned when a dataset cannot be decoded or is
	// internally inconsistent.
	ErrCorruptDataset = errors.New("corrupt dataset")
)

// Example is a single labeled embedding held by the store.
type Example struct {
	Label  string
	Vector []float32
	seq    uint64
}

// Store holds embedding examples grouped by label.
// It is safe for concurrent use; every mutation is atomic per call.
type Store struct {
	mu       sync.RWMutex
	dim      int
	examples map[string][]Example
	nextSeq  uint64
}

// NewStore creates an empty Store. The dimensionality is adopted from the
// first example added.
func NewStore() *Store {
	return &Store{
		examples: make(map[string][]Example),
	}
}

// Register adds a label with zero examples. It is a no-op if the label exists.
func (s *Store) Register(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.examples[label]; !ok {
		s.examples[label] = nil
	}
}

// AddExample appends a copy of vector to the examples of label, registering
// the label if needed.
func (s *Store) AddExample(label string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}

	cp := make([]float32, len(vector))
	copy(cp, vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = len(cp)
	} else if len(cp) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(cp), s.dim)
	}

	s.examples[label] = append(s.examples[label], Example{Label: label, Vector: cp, seq: s.nextSeq})
	s.nextSeq++
	return nil
}

// ClearLabel removes every example of label. The label stays registered.
func (s *Store) ClearLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.examples[label]; ok {
		s.examples[label] = nil
	}
}

// RemoveLabel removes the label and all of its examples.
func (s *Store) RemoveLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.examples, label)
}

// Has reports whether label is registered.
func (s *Store) Has(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.examples[label]
	return ok
}

// CountFor returns the number of examples for label, or 0 if unknown.
func (s *Store) CountFor(label string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.examples[label])
}

// Counts returns the example count of every registered label.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(s.examples))
	for label, ex := range s.examples {
		counts[label] = len(ex)
	}
	return counts
}

// Labels returns the registered labels in sorted order.
func (s *Store) Labels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLabels()
}

func (s *Store) sortedLabels() []string {
	labels := make([]string, 0, len(s.examples))
	for label := range s.examples {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Total returns the number of examples across all labels.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ex := range s.examples {
		n += len(ex)
	}
	return n
}

// Dimension returns the established dimensionality, or 0 before the first example.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Reset removes all labels and examples and forgets the dimensionality.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.examples = make(map[string][]Example)
	s.dim = 0
	s.nextSeq = 0
}

// Export returns a deep copy of the store contents as a Dataset.
func (s *Store) Export() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds := &Dataset{
		Version:        DatasetVersion,
		Dimensionality: s.dim,
		Labels:         make(map[string][][]float32, len(s.examples)),
	}
	for label, examples := range s.examples {
		vectors := make([][]float32, len(examples))
		for i, ex := range examples {
			vectors[i] = append([]float32(nil), ex.Vector...)
		}
		ds.Labels[label] = vectors
	}
	return ds
}

// Import replaces the store contents with ds. The dataset is validated first;
// on error the store is left unchanged.
func (s *Store) Import(ds *Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	labels := make([]string, 0, len(ds.Labels))
	for label := range ds.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	examples := make(map[string][]Example, len(labels))
	var seq uint64
	for _, label := range labels {
		vectors := ds.Labels[label]
		list := make([]Example, 0, len(vectors))
		for _, v := range vectors {
			list = append(list, Example{Label: label, Vector: append([]float32(nil), v...), seq: seq})
			seq++
		}
		if len(list) == 0 {
			list = nil
		}
		examples[label] = list
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.examples = examples
	s.dim = ds.Dimensionality
	s.nextSeq = seq
	return nil
}

// snapshot returns every example ordered by insertion sequence. Vectors are
// shared with the store and must not be modified.
func (s *Store) snapshot() ([]Example, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Example
	for _, ex := range s.examples {
		all = append(all, ex...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all, s.dim
}
