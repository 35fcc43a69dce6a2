package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of query embeddings kept when no size is configured.
const DefaultCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text and model.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache holding up to size entries.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.Model()))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text, embedding and caching it on a miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if vec, ok := c.cache.Get(k); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, vec)
	return vec, nil
}

// EmbedBatch serves cached texts from the cache and embeds the rest in one call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = vecs[j]
		c.cache.Add(c.key(texts[i]), vecs[j])
	}
	return results, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Purge drops every cached vector.
func (c *CachedEmbedder) Purge() {
	c.cache.Purge()
}

// Dimensions delegates to the wrapped embedder.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Model delegates to the wrapped embedder.
func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// Close closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}
