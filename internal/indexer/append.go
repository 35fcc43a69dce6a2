package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// ErrEmptyExchange is returned when an exchange has neither side.
var ErrEmptyExchange = errors.New("exchange has no user or assistant text")

// AppendExchange appends ex as one line to its transcript, embeds it, and inserts the
// chunk directly without a sync. The daily transcript is used unless ex.SessionID names a
// private one. When the transcript was untouched since the last sync, or is new, its
// post-append mtime is recorded in the same transaction.
func (idx *Indexer) AppendExchange(ctx context.Context, ex *models.Exchange) (*models.AppendResult, error) {
	if ex == nil || (ex.User == "" && ex.Assistant == "") {
		return nil, ErrEmptyExchange
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, err := idx.ensureReady(ctx, idx.logger); err != nil {
		return nil, err
	}

	line := *ex
	if line.Timestamp == "" {
		line.Timestamp = idx.now().Format(time.RFC3339)
	}
	rel, err := idx.transcriptFor(line)
	if err != nil {
		return nil, err
	}
	line.SessionID = ""
	abs := idx.sources.Abs(rel)

	prev, err := idx.store.GetFile(ctx, rel)
	if err != nil {
		return nil, err
	}
	before, err := os.Stat(abs)
	isNew := errors.Is(err, fs.ErrNotExist)
	if err != nil && !isNew {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}

	lineNo, err := appendLine(abs, line)
	if err != nil {
		return nil, err
	}
	after, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}

	var file *storage.FileState
	// A stored row for a missing file still owns stale chunks; leave it for the next sync.
	if (isNew && prev == nil) || (!isNew && prev != nil && prev.MTime == before.ModTime().UnixNano()) {
		file = &storage.FileState{Path: rel, Kind: models.KindChatLog, MTime: after.ModTime().UnixNano()}
	}

	chunk := chunker.ExchangeChunk(rel, lineNo, line)
	vec, err := idx.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return nil, fmt.Errorf("embed exchange: %w", err)
	}
	var ids []int64
	if _, err := idx.write(ctx, idx.logger, func() error {
		var err error
		ids, err = idx.store.InsertChunks(ctx, []models.Chunk{chunk}, [][]float32{vec}, file)
		return err
	}); err != nil {
		return nil, err
	}

	idx.logger.Debug("appended exchange", zap.String("path", rel), zap.Int("line", lineNo))
	return &models.AppendResult{Path: rel, Line: lineNo, ChunkID: ids[0]}, nil
}

func (idx *Indexer) transcriptFor(ex models.Exchange) (string, error) {
	if ex.SessionID != "" {
		return idx.sources.PrivateTranscript(ex.SessionID)
	}
	date := chunker.DateFromTimestamp(ex.Timestamp)
	if date == "" {
		date = idx.now().Format(models.DateLayout)
	}
	return idx.sources.DailyTranscript(date), nil
}

// appendLine writes ex as a JSON line at the end of path, creating it and its directory,
// and returns the 1-based line number written.
func appendLine(path string, ex models.Exchange) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create transcript directory: %w", err)
	}
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("read transcript: %w", err)
	}
	encoded, err := json.Marshal(ex)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	lines := bytes.Count(existing, []byte("\n"))
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
		lines++
	}
	buf.Write(encoded)
	buf.WriteByte('\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return 0, fmt.Errorf("append transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return lines + 1, nil
}
