package knn

import (
	"fmt"
	"math"
	"sort"
)

// DefaultK is the number of neighbors consulted when no k is given.
const DefaultK = 5

// Neighbor is one of the k closest examples to a query.
type Neighbor struct {
	Label    string
	Distance float64
}

// Prediction is the result of classifying a vector.
type Prediction struct {
	Label      string         // Winning label
	Confidence float64        // Winning votes divided by the number of neighbors consulted
	Votes      map[string]int // Votes received per label
	Neighbors  []Neighbor     // Neighbors in ascending distance order
}

// Classifier performs k-nearest-neighbor classification over a Store.
type Classifier struct {
	store *Store
	k     int
}

// NewClassifier creates a Classifier over store. A k of zero or less selects DefaultK.
func NewClassifier(store *Store, k int) *Classifier {
	if k <= 0 {
		k = DefaultK
	}
	return &Classifier{store: store, k: k}
}

// K returns the configured neighbor count.
func (c *Classifier) K() int {
	return c.k
}

// Store returns the underlying example store.
func (c *Classifier) Store() *Store {
	return c.store
}

// Predict classifies vector using the configured k.
func (c *Classifier) Predict(vector []float32) (*Prediction, error) {
	return c.PredictK(vector, c.k)
}

// PredictK classifies vector against the k nearest stored examples.
//
// Neighbors at equal distance are ordered by insertion (earliest wins). The
// label with the most votes wins; ties go to the smallest summed distance and
// then to the lexicographically smallest label. If fewer than k examples are
// stored, every example votes and confidence is relative to that count.
func (c *Classifier) PredictK(vector []float32, k int) (*Prediction, error) {
	if k <= 0 {
		k = c.k
	}

	examples, dim := c.store.snapshot()
	if len(examples) == 0 {
		return nil, ErrEmptyModel
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), dim)
	}

	neighbors := make([]Neighbor, len(examples))
	for i, ex := range examples {
		neighbors[i] = Neighbor{Label: ex.Label, Distance: euclideanDistance(vector, ex.Vector)}
	}

	// examples are in insertion order, so a stable sort keeps the earliest
	// example first among equal distances.
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})

	if k > len(neighbors) {
		k = len(neighbors)
	}
	neighbors = neighbors[:k]

	votes := make(map[string]int)
	sums := make(map[string]float64)
	for _, n := range neighbors {
		votes[n.Label]++
		sums[n.Label] += n.Distance
	}

	best := ""
	for label := range votes {
		if best == "" || beats(label, best, votes, sums) {
			best = label
		}
	}

	return &Prediction{
		Label:      best,
		Confidence: float64(votes[best]) / float64(k),
		Votes:      votes,
		Neighbors:  neighbors,
	}, nil
}

// beats reports whether label a wins the vote over label b.
func beats(a, b string, votes map[string]int, sums map[string]float64) bool {
	if votes[a] != votes[b] {
		return votes[a] > votes[b]
	}
	if sums[a] != sums[b] {
		return sums[a] < sums[b]
	}
	return a < b
}

// euclideanDistance returns the L2 distance between two vectors of equal length,
// accumulated in float64.
func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
