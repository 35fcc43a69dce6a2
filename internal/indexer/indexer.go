// Package indexer writes sources into the index: incremental sync of notes and transcripts,
// live transcript appends, and full filesystem reindexing.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/storage"
)

// Indexer is the single writer of the index. Its operations are serialized.
type Indexer struct {
	store     storage.Storage
	embedder  embedding.Embedder
	sources   *Sources
	chunkOpts chunker.Options
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	ready bool
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithChunkOptions overrides the note chunking parameters.
func WithChunkOptions(opts chunker.Options) IndexerOption {
	return func(idx *Indexer) { idx.chunkOpts = opts }
}

// WithClock sets the time source used to date live appends.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer writing sources into store.
func NewIndexer(store storage.Storage, embedder embedding.Embedder, sources *Sources, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:     store,
		embedder:  embedder,
		sources:   sources,
		chunkOpts: chunker.Options{MaxChars: chunker.DefaultMaxChars, OverlapLines: chunker.DefaultOverlapLines},
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Sources returns the source layout the indexer reads from.
func (idx *Indexer) Sources() *Sources {
	return idx.sources
}

// embedBatch adapts the embedder to storage.EmbedFunc for vector rebuilds.
func (idx *Indexer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return idx.embedder.EmbedBatch(ctx, texts)
}

// ensureReady checks the vector table once per process, rebuilding it when the check fails,
// then backfills missing chunk dates. Callers hold idx.mu.
func (idx *Indexer) ensureReady(ctx context.Context, log *zap.Logger) (int, error) {
	if idx.ready {
		return 0, nil
	}
	ok, reason, err := idx.store.CheckVectorFormat(ctx)
	if err != nil {
		return 0, fmt.Errorf("check vector table: %w", err)
	}
	repaired := 0
	if !ok {
		log.Warn("vector table needs rebuild", zap.String("reason", reason))
		if repaired, err = idx.store.RebuildVectors(ctx, idx.embedBatch); err != nil {
			return 0, fmt.Errorf("rebuild vectors: %w", err)
		}
	}
	n, err := idx.store.BackfillDates(ctx, chunker.InferDate)
	if err != nil {
		return repaired, err
	}
	if n > 0 {
		log.Info("backfilled chunk dates", zap.Int("chunks", n))
	}
	idx.ready = true
	return repaired, nil
}

// write runs fn and, when it fails because the vector table is keyed with the wrong type or
// sized for another model, rebuilds the table and runs fn once more.
func (idx *Indexer) write(ctx context.Context, log *zap.Logger, fn func() error) (int, error) {
	err := fn()
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, storage.ErrVectorKeyMismatch) && !errors.Is(err, storage.ErrDimensionMismatch) {
		return 0, err
	}
	log.Warn("rebuilding vector table", zap.Error(err))
	n, rerr := idx.store.RebuildVectors(ctx, idx.embedBatch)
	if rerr != nil {
		return 0, fmt.Errorf("rebuild vectors: %w", rerr)
	}
	return n, fn()
}

// EnsureDimensions rebuilds the vector table when dims, the length of a fresh embedding,
// differs from what the index holds. Returns the number of vectors rebuilt.
func (idx *Indexer) EnsureDimensions(ctx context.Context, dims int) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	current := idx.store.Dimensions()
	if current == 0 || current == dims {
		return 0, nil
	}
	idx.logger.Warn("embedding dimensions changed",
		zap.Int("stored", current), zap.Int("current", dims), zap.String("model", idx.embedder.Model()))
	n, err := idx.store.RebuildVectors(ctx, idx.embedBatch)
	if err != nil {
		return 0, fmt.Errorf("rebuild vectors: %w", err)
	}
	return n, nil
}
