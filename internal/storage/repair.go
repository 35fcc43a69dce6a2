package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const rebuildBatchSize = 64

// CheckVectorFormat samples the persisted vector table. It reports false with a reason when the
// table is missing, declared with a non-integer key, written by an older format, left mid-rebuild,
// or when a lookup of a known chunk id misses.
func (s *SQLiteStorage) CheckVectorFormat(ctx context.Context) (bool, string, error) {
	colType, pk, found, err := s.vectorKeyColumn(ctx)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "chunk_vectors has no chunk_id column", nil
	}
	if !strings.EqualFold(colType, "INTEGER") || pk != 1 {
		return false, fmt.Sprintf("chunk_id declared as %q, pk=%d", colType, pk), nil
	}
	format, err := getMeta(ctx, s.db, metaVectorFormat)
	if err != nil {
		return false, "", err
	}
	if format != vectorFormat {
		return false, fmt.Sprintf("vector format %q, want %q", format, vectorFormat), nil
	}
	pending, err := getMeta(ctx, s.db, metaRebuildPending)
	if err != nil {
		return false, "", err
	}
	if pending != "" {
		return false, "previous vector rebuild did not finish", nil
	}

	var sampleID int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM chunks ORDER BY id LIMIT 1`).Scan(&sampleID)
	if errors.Is(err, sql.ErrNoRows) {
		return true, "", nil
	}
	if err != nil {
		return false, "", err
	}
	var hits int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_vectors WHERE chunk_id = ?`, sampleID).Scan(&hits); err != nil {
		return false, "", err
	}
	if hits > 0 {
		return true, "", nil
	}
	var storedType string
	err = s.db.QueryRowContext(ctx,
		`SELECT typeof(chunk_id) FROM chunk_vectors WHERE CAST(chunk_id AS INTEGER) = ? LIMIT 1`, sampleID).Scan(&storedType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Sprintf("chunk %d has no vector", sampleID), nil
	}
	if err != nil {
		return false, "", err
	}
	return false, fmt.Sprintf("vector key for chunk %d stored as %s", sampleID, storedType), nil
}

func (s *SQLiteStorage) vectorKeyColumn(ctx context.Context) (colType string, pk int, found bool, err error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(chunk_vectors)`)
	if err != nil {
		return "", 0, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notNull, isPK int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &isPK); err != nil {
			return "", 0, false, err
		}
		if name == "chunk_id" {
			colType, pk, found = ctype, isPK, true
		}
	}
	return colType, pk, found, rows.Err()
}

// RebuildVectors drops the vector table, re-embeds every stored chunk's text, and reinserts
// the vectors with integer keys. Chunks and files are untouched. The dimensionality is taken
// from the new embeddings. Returns the number of vectors written.
func (s *SQLiteStorage) RebuildVectors(ctx context.Context, embed EmbedFunc) (int, error) {
	if err := setMeta(ctx, s.db, metaRebuildPending, "1"); err != nil {
		return 0, fmt.Errorf("mark rebuild: %w", err)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS chunk_vectors`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, createVectorTable); err != nil {
			return err
		}
		return deleteMeta(ctx, tx, metaVectorDims)
	})
	if err != nil {
		return 0, fmt.Errorf("recreate vector table: %w", err)
	}
	s.mu.Lock()
	if s.vectors != nil {
		_ = s.vectors.Close()
	}
	s.vectors = nil
	s.dims = 0
	s.mu.Unlock()

	type pending struct {
		id   int64
		text string
	}
	var all []pending
	rows, err := s.db.QueryContext(ctx, `SELECT id, text FROM chunks ORDER BY id`)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	written := 0
	for start := 0; start < len(all); start += rebuildBatchSize {
		end := min(start+rebuildBatchSize, len(all))
		batch := all[start:end]
		texts := make([]string, len(batch))
		ids := make([]int64, len(batch))
		for i, p := range batch {
			texts[i] = p.text
			ids[i] = p.id
		}
		vecs, err := embed(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("re-embed chunks: %w", err)
		}
		if len(vecs) != len(batch) {
			return written, fmt.Errorf("re-embed returned %d vectors for %d chunks", len(vecs), len(batch))
		}
		dims, err := s.checkDims(vecs)
		if err != nil {
			return written, err
		}
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			for i, id := range ids {
				if _, err := tx.ExecContext(ctx, `INSERT INTO chunk_vectors (chunk_id, embedding) VALUES (?, ?)`, id, encodeVector(vecs[i])); err != nil {
					return err
				}
			}
			return s.recordDims(ctx, tx, dims)
		})
		if err != nil {
			return written, fmt.Errorf("insert rebuilt vectors: %w", err)
		}
		if err := s.mirror(ctx, nil, ids, vecs, dims); err != nil {
			return written, err
		}
		written += len(batch)
	}

	if err := setMeta(ctx, s.db, metaVectorFormat, vectorFormat); err != nil {
		return written, err
	}
	if err := deleteMeta(ctx, s.db, metaRebuildPending); err != nil {
		return written, err
	}
	s.logger.Info("rebuilt vector index", zap.Int("vectors", written), zap.Int("dims", s.Dimensions()))
	return written, nil
}
