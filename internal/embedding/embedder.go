// Package embedding provides text embedding through an OpenAI-compatible service, plus caching.
package embedding

import "context"

// Embedder produces vector embeddings for text.
// EmbedBatch returns one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 before the first successful call.
	Dimensions() int
	Model() string
	Close() error
}
