package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// IndexFilesystem replaces every filesystem chunk with a fresh walk of root. Batches are
// embedded and committed as the walk produces them, so early directories are searchable
// before the walk ends. A failed batch stops the run; committed batches stay.
func (idx *Indexer) IndexFilesystem(ctx context.Context, root string, opts models.FilesystemOptions) (*models.FilesystemReport, error) {
	walker, err := chunker.Walk(root, opts)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	report := &models.FilesystemReport{RunID: uuid.NewString(), Root: abs}
	log := idx.logger.With(zap.String("run_id", report.RunID), zap.String("root", abs))

	if _, err := idx.ensureReady(ctx, log); err != nil {
		return report, err
	}
	var removed int
	if _, err := idx.write(ctx, log, func() error {
		var err error
		removed, err = idx.store.DeleteKind(ctx, models.KindFilesystemTree)
		return err
	}); err != nil {
		return report, fmt.Errorf("clear filesystem index: %w", err)
	}
	log.Debug("cleared filesystem chunks", zap.Int("chunks", removed))

	for {
		batch, err := walker.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, err
		}
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return report, fmt.Errorf("embed directory batch: %w", err)
		}
		if _, err := idx.write(ctx, log, func() error {
			_, err := idx.store.InsertChunks(ctx, batch, vecs, nil)
			return err
		}); err != nil {
			return report, err
		}
		report.Batches++
		report.Directories += len(batch)
		log.Debug("indexed directory batch", zap.Int("batch", report.Batches), zap.Int("directories", len(batch)))
	}
	report.Truncated = walker.Truncated()

	run := &storage.FileState{Path: fileid.FilesystemKey(abs), Kind: models.KindFilesystemTree, MTime: idx.now().UnixNano()}
	if _, err := idx.store.InsertChunks(ctx, nil, nil, run); err != nil {
		return report, fmt.Errorf("record filesystem run: %w", err)
	}

	log.Info("filesystem index complete",
		zap.Int("directories", report.Directories),
		zap.Int("batches", report.Batches),
		zap.Bool("truncated", report.Truncated))
	return report, nil
}
