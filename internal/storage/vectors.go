package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/vector"
)

// Dimensions returns the vector dimensionality of the index, or 0 before the first vector is stored.
func (s *SQLiteStorage) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// SearchVectors returns the k nearest chunk ids to query, closest first.
func (s *SQLiteStorage) SearchVectors(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.vectors == nil || k <= 0 {
		return nil, nil
	}
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), s.dims)
	}
	return s.vectors.Search(ctx, query, k)
}

// checkDims verifies embeddings share one length matching the stored dimensionality.
func (s *SQLiteStorage) checkDims(embeddings [][]float32) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}
	d := len(embeddings[0])
	if d == 0 {
		return 0, fmt.Errorf("empty embedding")
	}
	for _, e := range embeddings {
		if len(e) != d {
			return 0, fmt.Errorf("%w: batch mixes %d and %d", ErrDimensionMismatch, d, len(e))
		}
	}
	if current := s.Dimensions(); current != 0 && current != d {
		return 0, fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, d, current)
	}
	return d, nil
}

// recordDims persists the dimensionality the first time vectors are written.
func (s *SQLiteStorage) recordDims(ctx context.Context, tx *sql.Tx, dims int) error {
	if dims == 0 || s.Dimensions() != 0 {
		return nil
	}
	return setMeta(ctx, tx, metaVectorDims, strconv.Itoa(dims))
}

// mirror applies a committed change to the in-memory index, creating it on first use.
func (s *SQLiteStorage) mirror(ctx context.Context, removed, added []int64, embeddings [][]float32, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(removed) > 0 && s.vectors != nil {
		if err := s.vectors.Remove(ctx, removed); err != nil {
			return fmt.Errorf("remove vectors from index: %w", err)
		}
	}
	if len(added) == 0 {
		return nil
	}
	if s.vectors == nil {
		idx, err := vector.NewVectorIndex(s.indexType, dims)
		if err != nil {
			return err
		}
		s.vectors = idx
		s.dims = dims
	}
	if err := s.vectors.Add(ctx, added, embeddings); err != nil {
		return fmt.Errorf("add vectors to index: %w", err)
	}
	return nil
}

// loadVectors fills the in-memory index from chunk_vectors. Keys are read through a cast so
// legacy rows still load; CheckVectorFormat decides whether they need rebuilding.
func (s *SQLiteStorage) loadVectors(ctx context.Context) error {
	dimsValue, err := getMeta(ctx, s.db, metaVectorDims)
	if err != nil {
		return err
	}
	dims := parseDims(dimsValue)

	rows, err := s.db.QueryContext(ctx, `SELECT CAST(chunk_id AS INTEGER), embedding FROM chunk_vectors`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var ids []int64
	var vecs [][]float32
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", id, err)
		}
		if dims == 0 {
			dims = len(vec)
		}
		if len(vec) != dims {
			s.logger.Warn("skipping stored vector with unexpected dimensions",
				zap.Int64("chunk_id", id), zap.Int("dims", len(vec)), zap.Int("want", dims))
			continue
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dims = dims
	if dims == 0 {
		return nil
	}
	idx, err := vector.NewVectorIndex(s.indexType, dims)
	if err != nil {
		return err
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return err
	}
	s.vectors = idx
	s.logger.Debug("loaded vectors", zap.Int("count", len(ids)), zap.Int("dims", dims), zap.String("index", s.indexType))
	return nil
}
