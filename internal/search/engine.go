// Package search answers semantic queries against the index.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// Syncer brings the index up to date before a query and reacts to a changed embedding model.
type Syncer interface {
	Sync(ctx context.Context) (*models.SyncReport, error)
	EnsureDimensions(ctx context.Context, dims int) (int, error)
}

// Engine runs semantic search over stored chunks.
type Engine struct {
	store    storage.Storage
	embedder embedding.Embedder
	syncer   Syncer
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine. syncer may be nil, in which case queries run against
// the index as it is.
func NewEngine(store storage.Storage, embedder embedding.Embedder, syncer Syncer, opts ...EngineOption) *Engine {
	e := &Engine{store: store, embedder: embedder, syncer: syncer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search syncs, embeds the query, and returns the nearest chunks by descending score.
// A failed sync is logged and the query runs against what is already indexed.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query); err != nil {
		return nil, err
	}

	if e.syncer != nil {
		if _, err := e.syncer.Sync(ctx); err != nil {
			e.logger.Warn("sync before search failed", zap.Error(err))
		}
	}

	queryEmbedding, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if dims := e.store.Dimensions(); e.syncer != nil && dims != 0 && dims != len(queryEmbedding) {
		if _, err := e.syncer.EnsureDimensions(ctx, len(queryEmbedding)); err != nil {
			return nil, err
		}
	}

	hits, err := e.store.SearchVectors(ctx, queryEmbedding, candidateCount(query))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	results := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		chunk, ok := chunks[h.ID]
		if !ok {
			continue
		}
		score := ScoreFromDistance(h.Distance)
		if score < query.MinScoreValue() {
			continue
		}
		if query.HasDateFilter() && !InDateRange(chunk.ChunkDate, query.DateFrom, query.DateTo) {
			continue
		}
		results = append(results, &models.SearchResult{
			Path:      chunk.Path,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
			Snippet:   Snippet(chunk.Text),
			Score:     score,
			Kind:      chunk.Kind,
			ChunkDate: chunk.ChunkDate,
		})
	}
	// Hits arrive in distance order; a stable sort keeps it on equal scores.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	total := len(results)
	if len(results) > query.MaxResults {
		results = results[:query.MaxResults]
	}
	response := &models.SearchResponse{
		Results:   results,
		Total:     total,
		QueryTime: time.Since(startTime).Milliseconds(),
		Query:     query.Query,
	}
	e.logger.Debug("search",
		zap.String("query", query.Query),
		zap.Int("candidates", len(hits)),
		zap.Int("results", len(results)),
		zap.Int64("took_ms", response.QueryTime))
	return response, nil
}
