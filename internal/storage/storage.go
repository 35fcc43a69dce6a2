// Package storage defines the persistence interface for indexed sources, chunks, and vectors.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

var (
	// ErrVectorKeyMismatch means vector rows exist for a chunk but are keyed with a non-integer type,
	// so lookups and deletes by chunk id silently miss. RebuildVectors repairs it.
	ErrVectorKeyMismatch = errors.New("vector key type mismatch")
	// ErrDimensionMismatch means an embedding's length differs from the stored vector dimensionality.
	ErrDimensionMismatch = vector.ErrDimensionMismatch
	// ErrIndexLocked means another process holds the index writer lock.
	ErrIndexLocked = errors.New("index is locked by another process")
)

// EmbedFunc embeds texts, one vector per text in order.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// FileState is one row of the change-tracking table.
type FileState struct {
	Path  string
	Kind  models.SourceKind
	MTime int64
}

// Counts are row counts for status reporting.
type Counts struct {
	Files   int64
	Chunks  int64
	Vectors int64
}

// Storage is the index store: change-tracking rows, chunks, and their vectors.
// Chunks and vectors are always written and deleted together.
type Storage interface {
	// Change tracking
	ListFiles(ctx context.Context) (map[string]FileState, error)
	GetFile(ctx context.Context, path string) (*FileState, error)

	// Writes; each call is one transaction
	ReplacePath(ctx context.Context, file FileState, chunks []models.Chunk, embeddings [][]float32) ([]int64, error)
	DeletePath(ctx context.Context, path string) error
	InsertChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float32, file *FileState) ([]int64, error)
	DeleteKind(ctx context.Context, kind models.SourceKind) (int, error)

	// Reads
	GetChunks(ctx context.Context, ids []int64) (map[int64]models.Chunk, error)
	ChunksByPath(ctx context.Context, path string) ([]models.Chunk, error)
	SearchVectors(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error)

	// Maintenance
	CheckVectorFormat(ctx context.Context) (ok bool, reason string, err error)
	RebuildVectors(ctx context.Context, embed EmbedFunc) (int, error)
	BackfillDates(ctx context.Context, infer func(path, text string) string) (int, error)

	Dimensions() int
	IndexType() string
	Counts(ctx context.Context) (Counts, error)
	Close() error
}
