package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses exact brute-force search. Good for small datasets (<50k vectors).
	IndexTypeMemory IndexType = "memory"
	// IndexTypeHNSW uses an approximate HNSW graph for larger datasets.
	IndexTypeHNSW IndexType = "hnsw"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "hnsw".
func NewVectorIndex(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeHNSW:
		return NewHNSWIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, hnsw)", indexType)
	}
}
