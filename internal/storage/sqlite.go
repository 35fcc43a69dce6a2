// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

const (
	// vectorFormat is bumped whenever the persisted vector layout changes; an older
	// value triggers a full vector rebuild.
	vectorFormat = "2"

	metaVectorDims     = "vector_dims"
	metaVectorFormat   = "vector_format"
	metaRebuildPending = "vector_rebuild_pending"
)

// SQLiteStorage implements Storage using SQLite for durable rows and an in-memory
// vector index mirroring the chunk_vectors table.
type SQLiteStorage struct {
	db        *sql.DB
	path      string
	lock      *writerLock
	logger    *zap.Logger
	indexType string

	mu      sync.RWMutex
	dims    int
	vectors vector.VectorIndex
}

// Option configures SQLiteStorage.
type Option func(*SQLiteStorage)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLiteStorage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIndexType selects the in-memory vector index ("memory" or "hnsw").
func WithIndexType(indexType string) Option {
	return func(s *SQLiteStorage) {
		s.indexType = indexType
	}
}

// NewSQLiteStorage opens or creates the index at dbPath, takes the writer lock,
// initializes the schema, and loads stored vectors into memory.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{path: dbPath, logger: zap.NewNop(), indexType: string(vector.IndexTypeMemory)}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := vector.NewVectorIndex(s.indexType, 1); err != nil {
		return nil, err
	}

	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		lock, err := acquireWriterLock(dbPath)
		if err != nil {
			return nil, err
		}
		s.lock = lock
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		_ = s.lock.release()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)
	s.db = db

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.loadVectors(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		mtime INTEGER NOT NULL,
		source_kind TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		text TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		chunk_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
	CREATE INDEX IF NOT EXISTS idx_chunks_source_kind ON chunks(source_kind);
	CREATE INDEX IF NOT EXISTS idx_chunks_chunk_date ON chunks(chunk_date);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	var exists int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'chunk_vectors'`).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	if _, err := db.Exec(createVectorTable); err != nil {
		return err
	}
	return setMeta(context.Background(), db, metaVectorFormat, vectorFormat)
}

const createVectorTable = `CREATE TABLE chunk_vectors (
		chunk_id INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL
	)`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getMeta(ctx context.Context, q queryer, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func setMeta(ctx context.Context, q queryer, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func deleteMeta(ctx context.Context, q queryer, key string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key)
	return err
}

func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListFiles returns every change-tracking row keyed by path.
func (s *SQLiteStorage) ListFiles(ctx context.Context) (map[string]FileState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, mtime, source_kind FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := make(map[string]FileState)
	for rows.Next() {
		var f FileState
		var kind string
		if err := rows.Scan(&f.Path, &f.MTime, &kind); err != nil {
			return nil, err
		}
		if f.Kind, err = models.ParseSourceKind(kind); err != nil {
			return nil, err
		}
		files[f.Path] = f
	}
	return files, rows.Err()
}

// GetFile returns the change-tracking row for path, or nil when the path is not tracked.
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*FileState, error) {
	f := FileState{Path: path}
	var kind string
	err := s.db.QueryRowContext(ctx, `SELECT mtime, source_kind FROM files WHERE path = ?`, path).Scan(&f.MTime, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.Kind, err = models.ParseSourceKind(kind); err != nil {
		return nil, err
	}
	return &f, nil
}

func upsertFile(ctx context.Context, tx *sql.Tx, f FileState) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO files (path, mtime, source_kind) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET mtime = excluded.mtime, source_kind = excluded.source_kind`,
		f.Path, f.MTime, f.Kind.String())
	return err
}

// ReplacePath swaps all chunks and vectors of file.Path for the given ones and records
// file's mtime, in one transaction. An empty chunk list only records the mtime.
func (s *SQLiteStorage) ReplacePath(ctx context.Context, file FileState, chunks []models.Chunk, embeddings [][]float32) ([]int64, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	dims, err := s.checkDims(embeddings)
	if err != nil {
		return nil, err
	}
	var oldIDs, newIDs []int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if oldIDs, err = chunkIDsWhere(ctx, tx, `path = ?`, file.Path); err != nil {
			return err
		}
		if err := deleteChunksWhere(ctx, tx, oldIDs, `path = ?`, file.Path); err != nil {
			return err
		}
		if newIDs, err = insertChunks(ctx, tx, chunks, embeddings); err != nil {
			return err
		}
		if err := s.recordDims(ctx, tx, dims); err != nil {
			return err
		}
		return upsertFile(ctx, tx, file)
	})
	if err != nil {
		return nil, fmt.Errorf("replace %s: %w", file.Path, err)
	}
	if err := s.mirror(ctx, oldIDs, newIDs, embeddings, dims); err != nil {
		return nil, err
	}
	return newIDs, nil
}

// DeletePath removes vectors, then chunks, then the file row for path, in one transaction.
func (s *SQLiteStorage) DeletePath(ctx context.Context, path string) error {
	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if ids, err = chunkIDsWhere(ctx, tx, `path = ?`, path); err != nil {
			return err
		}
		if err := deleteChunksWhere(ctx, tx, ids, `path = ?`, path); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return s.mirror(ctx, ids, nil, nil, 0)
}

// InsertChunks adds chunks and vectors without touching existing rows. When file is
// non-nil its change-tracking row is upserted in the same transaction.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []models.Chunk, embeddings [][]float32, file *FileState) ([]int64, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	dims, err := s.checkDims(embeddings)
	if err != nil {
		return nil, err
	}
	var ids []int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if ids, err = insertChunks(ctx, tx, chunks, embeddings); err != nil {
			return err
		}
		if err := s.recordDims(ctx, tx, dims); err != nil {
			return err
		}
		if file != nil {
			return upsertFile(ctx, tx, *file)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}
	if err := s.mirror(ctx, nil, ids, embeddings, dims); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteKind removes every chunk, vector, and file row of kind. Returns the number of chunks removed.
func (s *SQLiteStorage) DeleteKind(ctx context.Context, kind models.SourceKind) (int, error) {
	var ids []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if ids, err = chunkIDsWhere(ctx, tx, `source_kind = ?`, kind.String()); err != nil {
			return err
		}
		if err := deleteChunksWhere(ctx, tx, ids, `source_kind = ?`, kind.String()); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM files WHERE source_kind = ?`, kind.String())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s chunks: %w", kind, err)
	}
	if err := s.mirror(ctx, ids, nil, nil, 0); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func chunkIDsWhere(ctx context.Context, q queryer, where string, arg any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM chunks WHERE `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteChunksWhere deletes the vectors of ids by key, then the chunks matching where.
// Vectors that survive the delete while still matching by value are keyed with the wrong type.
func deleteChunksWhere(ctx context.Context, tx *sql.Tx, ids []int64, where string, arg any) error {
	if len(ids) > 0 {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunk_vectors WHERE chunk_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return err
			}
		}
		var stale int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chunk_vectors WHERE CAST(chunk_id AS INTEGER) IN (SELECT id FROM chunks WHERE `+where+`)`, arg).Scan(&stale); err != nil {
			return err
		}
		if stale > 0 {
			return fmt.Errorf("%w: %d vector rows not removable by chunk id", ErrVectorKeyMismatch, stale)
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE `+where, arg)
	return err
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []models.Chunk, embeddings [][]float32) ([]int64, error) {
	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (path, start_line, end_line, text, source_kind, chunk_date) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer chunkStmt.Close()
	vecStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_vectors (chunk_id, embedding) VALUES (?, ?)`)
	if err != nil {
		return nil, err
	}
	defer vecStmt.Close()

	ids := make([]int64, len(chunks))
	for i, ch := range chunks {
		res, err := chunkStmt.ExecContext(ctx, ch.Path, ch.StartLine, ch.EndLine, ch.Text, ch.Kind.String(), nullableDate(ch.ChunkDate))
		if err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		if _, err := vecStmt.ExecContext(ctx, id, encodeVector(embeddings[i])); err != nil {
			return nil, fmt.Errorf("insert vector: %w", err)
		}
		ids[i] = id
	}
	return ids, nil
}

func nullableDate(d string) any {
	if d == "" {
		return nil
	}
	return d
}

// GetChunks loads chunks by id. Missing ids are absent from the map.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []int64) (map[int64]models.Chunk, error) {
	out := make(map[int64]models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, start_line, end_line, text, source_kind, chunk_date FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[ch.ID] = ch
	}
	return out, rows.Err()
}

// ChunksByPath returns the chunks of path ordered by start line.
func (s *SQLiteStorage) ChunksByPath(ctx context.Context, path string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, start_line, end_line, text, source_kind, chunk_date FROM chunks WHERE path = ? ORDER BY start_line, id`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func scanChunk(rows *sql.Rows) (models.Chunk, error) {
	var ch models.Chunk
	var kind string
	var date sql.NullString
	if err := rows.Scan(&ch.ID, &ch.Path, &ch.StartLine, &ch.EndLine, &ch.Text, &kind, &date); err != nil {
		return ch, err
	}
	k, err := models.ParseSourceKind(kind)
	if err != nil {
		return ch, err
	}
	ch.Kind = k
	ch.ChunkDate = date.String
	return ch, nil
}

// Counts returns row counts of files, chunks, and vectors.
func (s *SQLiteStorage) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		table string
		dst   *int64
	}{{"files", &c.Files}, {"chunks", &c.Chunks}, {"chunk_vectors", &c.Vectors}} {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+q.table).Scan(q.dst); err != nil {
			return c, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return c, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// IndexType returns the in-memory vector index type.
func (s *SQLiteStorage) IndexType() string {
	return s.indexType
}

// Close closes the vector index and the database, then releases the writer lock.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.vectors != nil {
		_ = s.vectors.Close()
		s.vectors = nil
	}
	s.mu.Unlock()
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}
	return err
}

func parseDims(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
