// Package vector provides nearest-neighbor indexes over chunk embeddings.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector's length differs from the index dimensionality.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// VectorIndex stores embeddings keyed by chunk id and answers k-nearest-neighbor queries.
// Distances are cosine distances in [0, 2]; results are ordered by distance ascending.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []int64) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       int64
	Distance float64
}
