package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// compactMinOrphans is the orphan count below which the graph is never rebuilt.
const compactMinOrphans = 64

// HNSWIndex is an approximate vector index backed by coder/hnsw.
// Removal is lazy: removed nodes stay in the graph but are unmapped and filtered from results.
// Once orphans outnumber live nodes the graph is rebuilt from the live ones.
type HNSWIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int
	idMap      map[int64]uint64
	keyMap     map[uint64]int64
	nextKey    uint64
	closed     bool
}

// NewHNSWIndex creates an HNSW index using cosine distance.
func NewHNSWIndex(dimensions int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &HNSWIndex{
		graph:      newGraph(),
		dimensions: dimensions,
		idMap:      make(map[int64]uint64),
		keyMap:     make(map[uint64]int64),
	}, nil
}

func newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return graph
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() string {
	return string(IndexTypeHNSW)
}

// Dimensions returns the fixed vector length.
func (h *HNSWIndex) Dimensions() int {
	return h.dimensions
}

// Add inserts vectors; an existing ID is orphaned and re-added under a fresh graph key.
func (h *HNSWIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("index is closed")
	}
	for _, v := range vectors {
		if len(v) != h.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), h.dimensions)
		}
	}
	for i, id := range ids {
		if old, ok := h.idMap[id]; ok {
			delete(h.keyMap, old)
		}
		key := h.nextKey
		h.nextKey++
		h.graph.Add(hnsw.MakeNode(key, normalized(vectors[i])))
		h.idMap[id] = key
		h.keyMap[key] = id
	}
	h.compactLocked()
	return nil
}

// Search returns up to k live neighbors, closest first.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != h.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), h.dimensions)
	}
	if k <= 0 || len(h.idMap) == 0 {
		return nil, nil
	}
	// Ask for enough extra nodes to cover orphans left by lazy removal.
	want := k + (h.graph.Len() - len(h.idMap))
	if want > h.graph.Len() {
		want = h.graph.Len()
	}
	q := normalized(query)
	nodes := h.graph.Search(q, want)
	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue
		}
		results = append(results, &VectorResult{ID: id, Distance: float64(h.graph.Distance(q, node.Value))})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove unmaps IDs; their graph nodes become orphans.
func (h *HNSWIndex) Remove(ctx context.Context, ids []int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("index is closed")
	}
	for _, id := range ids {
		if key, ok := h.idMap[id]; ok {
			delete(h.keyMap, key)
			delete(h.idMap, id)
		}
	}
	h.compactLocked()
	return nil
}

// Stats reports live vectors and total graph nodes, orphans included.
func (h *HNSWIndex) Stats() (live, graphNodes int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0, 0
	}
	return len(h.idMap), h.graph.Len()
}

// compactLocked rebuilds the graph from live nodes once orphans outnumber them.
// Caller holds h.mu for writing.
func (h *HNSWIndex) compactLocked() {
	orphans := h.graph.Len() - len(h.idMap)
	if orphans < compactMinOrphans || orphans <= len(h.idMap) {
		return
	}
	graph := newGraph()
	idMap := make(map[int64]uint64, len(h.idMap))
	keyMap := make(map[uint64]int64, len(h.idMap))
	var next uint64
	for id, old := range h.idMap {
		v, ok := h.graph.Lookup(old)
		if !ok {
			continue
		}
		graph.Add(hnsw.MakeNode(next, v))
		idMap[id] = next
		keyMap[next] = id
		next++
	}
	h.graph, h.idMap, h.keyMap, h.nextKey = graph, idMap, keyMap, next
}

// Size returns the number of live vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	h.idMap = nil
	h.keyMap = nil
	return nil
}
