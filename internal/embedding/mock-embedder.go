package embedding

import (
	"context"
	"sync/atomic"

	"github.com/hyperjump/kioku/internal/vector"
)

// MockEmbedder is a deterministic offline embedder. Each word is hashed into one
// bucket of a bag-of-words vector, so texts sharing words are close in cosine distance
// and identical texts embed identically.
type MockEmbedder struct {
	dimensions int
	model      string
	calls      atomic.Int64
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &MockEmbedder{dimensions: dimensions, model: "mock"}
}

// Embed returns the normalized bag-of-words vector of text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return e.vector(text), nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	emb := make([]float32, e.dimensions)
	words := SplitWords(text)
	if len(words) == 0 {
		emb[0] = 1
		return emb
	}
	for _, w := range words {
		emb[HashString(w)%uint64(e.dimensions)]++
	}
	vector.Normalize(emb)
	return emb
}

// EmbedBatch embeds every text; it counts as one call.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.vector(text)
	}
	return embeddings, nil
}

// Calls returns how many Embed/EmbedBatch calls were made.
func (e *MockEmbedder) Calls() int64 {
	return e.calls.Load()
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns "mock".
func (e *MockEmbedder) Model() string {
	return e.model
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
