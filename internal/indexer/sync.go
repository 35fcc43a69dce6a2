package indexer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// Sync brings the index in line with the sources on disk. Paths gone from disk are deleted
// first. Paths whose mtime matches the stored row are left alone; changed or new paths are
// re-chunked and re-embedded one chunk at a time and replaced in a single transaction.
// An unreadable source is skipped with its mtime unchanged. An embedding failure stops the
// run; paths already written stay committed.
func (idx *Indexer) Sync(ctx context.Context) (*models.SyncReport, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	report := &models.SyncReport{RunID: uuid.NewString()}
	log := idx.logger.With(zap.String("run_id", report.RunID))

	repaired, err := idx.ensureReady(ctx, log)
	report.Repaired += repaired
	if err != nil {
		return report, err
	}

	current, err := idx.sources.Enumerate()
	if err != nil {
		return report, fmt.Errorf("enumerate sources: %w", err)
	}
	stored, err := idx.store.ListFiles(ctx)
	if err != nil {
		return report, fmt.Errorf("list indexed files: %w", err)
	}

	seen := make(map[string]bool, len(current))
	for _, src := range current {
		seen[src.Path] = true
	}
	for path, f := range stored {
		if seen[path] || (f.Kind != models.KindNote && f.Kind != models.KindChatLog) {
			continue
		}
		repaired, err := idx.write(ctx, log, func() error { return idx.store.DeletePath(ctx, path) })
		report.Repaired += repaired
		if err != nil {
			return report, err
		}
		report.Deleted++
		log.Debug("removed source", zap.String("path", path))
	}

	for _, src := range current {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		prev, tracked := stored[src.Path]
		if tracked && prev.MTime == src.MTime {
			report.Unchanged++
			continue
		}

		text, err := idx.sources.readSource(src.Path)
		if err != nil {
			log.Warn("skipping unreadable source", zap.String("path", src.Path), zap.Error(err))
			report.Skipped++
			continue
		}
		n, repaired, err := idx.upsert(ctx, log, src, text)
		report.Repaired += repaired
		if err != nil {
			return report, err
		}
		report.ChunksWritten += n
		if tracked {
			report.Updated++
		} else {
			report.Added++
		}
		log.Debug("indexed source", zap.String("path", src.Path), zap.Int("chunks", n))
	}

	log.Info("sync complete",
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("deleted", report.Deleted),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("chunks", report.ChunksWritten))
	return report, nil
}

// upsert chunks and embeds one source and replaces its stored chunks.
// A source with no chunks still records its mtime.
func (idx *Indexer) upsert(ctx context.Context, log *zap.Logger, src models.SourceDescriptor, text string) (int, int, error) {
	strategy, err := chunker.For(src.Kind, idx.chunkOpts)
	if err != nil {
		return 0, 0, err
	}
	chunks := strategy.Chunk(src.Path, text)
	embeddings := make([][]float32, len(chunks))
	for i, ch := range chunks {
		vec, err := idx.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return 0, 0, fmt.Errorf("embed %s:%d: %w", src.Path, ch.StartLine, err)
		}
		embeddings[i] = vec
	}
	file := storage.FileState{Path: src.Path, Kind: src.Kind, MTime: src.MTime}
	repaired, err := idx.write(ctx, log, func() error {
		_, err := idx.store.ReplacePath(ctx, file, chunks, embeddings)
		return err
	})
	if err != nil {
		return 0, repaired, err
	}
	return len(chunks), repaired, nil
}
