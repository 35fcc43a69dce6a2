package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an exact in-memory vector index using brute-force cosine distance.
// Suitable for the few thousand chunks a personal memory holds.
type MemoryIndex struct {
	dimensions int
	ids        []int64
	vectors    [][]float32
	pos        map[int64]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		ids:        make([]int64, 0),
		vectors:    make([][]float32, 0),
		pos:        make(map[int64]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the fixed vector length.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add inserts vectors with the given IDs, replacing any existing vector for an ID.
func (m *MemoryIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := normalized(vectors[i])
		if p, ok := m.pos[id]; ok {
			m.vectors[p] = vec
			continue
		}
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the k nearest vectors by cosine distance, closest first.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	q := normalized(query)
	results := make([]*VectorResult, len(m.ids))
	for i, vec := range m.vectors {
		d := 1 - InnerProduct(q, vec)
		results[i] = &VectorResult{ID: m.ids[i], Distance: math.Max(0, math.Min(2, d))}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Remove deletes vectors by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []int64) error {
	removeSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newIDs := make([]int64, 0, len(m.ids))
	newVectors := make([][]float32, 0, len(m.vectors))
	for i, id := range m.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, m.vectors[i])
		}
	}
	m.ids = newIDs
	m.vectors = newVectors
	m.pos = make(map[int64]int, len(newIDs))
	for i, id := range newIDs {
		m.pos[id] = i
	}
	return nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
