// Package memory is the consumer-facing handle over the index: sync, search, reads,
// live transcript appends, and filesystem indexing share one store and one writer.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/reader"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Manager owns the index handle. Create it with Open and release it with Close.
type Manager struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	embedder embedding.Embedder
	indexer  *indexer.Indexer
	engine   *search.Engine
	reader   *reader.Reader
	logger   *zap.Logger

	syncs     singleflight.Group
	closeOnce sync.Once
	closeErr  error
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	embedder embedding.Embedder
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEmbedder replaces the embedder built from configuration.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// Open builds every component from cfg and opens the index, taking the writer lock.
func Open(cfg *config.Config, opts ...Option) (*Manager, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = utils.OrNop(o.logger)

	embedder := o.embedder
	if embedder == nil {
		var err error
		if embedder, err = NewEmbedder(cfg.Embedding, o.logger); err != nil {
			return nil, err
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath,
		storage.WithLogger(o.logger.Named("storage")),
		storage.WithIndexType(cfg.Storage.VectorIndex))
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}

	sources, err := indexer.NewSources(cfg.Workspace.Root, cfg.Workspace.NotesDir, cfg.Workspace.TranscriptsDir)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, err
	}
	rd, err := reader.New(sources.Root)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		reader:   rd,
		logger:   o.logger,
	}
	m.indexer = indexer.NewIndexer(store, embedder, sources,
		indexer.WithLogger(o.logger.Named("indexer")),
		indexer.WithChunkOptions(chunker.Options{MaxChars: cfg.Chunking.MaxChars, OverlapLines: cfg.Chunking.OverlapLines}))
	m.engine = search.NewEngine(store, embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize), m,
		search.WithLogger(o.logger.Named("search")))
	return m, nil
}

// NewEmbedder builds the configured embedder.
func NewEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	logger = utils.OrNop(logger)
	switch cfg.Provider {
	case config.ProviderMock:
		return embedding.NewMockEmbedder(cfg.Dimensions), nil
	case config.ProviderOpenAI, "":
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Timeout:           cfg.Timeout,
			MaxInputChars:     cfg.MaxInputChars,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}, embedding.WithLogger(logger.Named("embedding")))
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Sync brings the index up to date. Concurrent calls share one run.
func (m *Manager) Sync(ctx context.Context) (*models.SyncReport, error) {
	v, err, shared := m.syncs.Do("sync", func() (any, error) {
		return m.indexer.Sync(ctx)
	})
	if shared {
		m.logger.Debug("joined in-flight sync")
	}
	report, _ := v.(*models.SyncReport)
	return report, err
}

// EnsureDimensions rebuilds the vectors when the embedding model's dimensionality changed.
func (m *Manager) EnsureDimensions(ctx context.Context, dims int) (int, error) {
	return m.indexer.EnsureDimensions(ctx, dims)
}

// Search syncs and runs a semantic query. Unset limits take the configured defaults;
// the caller's query is left untouched.
func (m *Manager) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	q := *query
	if q.MaxResults == 0 {
		q.MaxResults = m.cfg.Search.MaxResults
	}
	if q.MinScore == nil {
		q.MinScore = models.Score(m.cfg.Search.MinScore)
	}
	return m.engine.Search(ctx, &q)
}

// ReadFile returns source text by workspace-relative path and optional line range.
func (m *Manager) ReadFile(ctx context.Context, relPath string, from, lines int) (*models.ReadResult, error) {
	return m.reader.ReadFile(ctx, relPath, from, lines)
}

// IndexChatExchange appends an exchange to its transcript and indexes it immediately.
func (m *Manager) IndexChatExchange(ctx context.Context, ex *models.Exchange) (*models.AppendResult, error) {
	return m.indexer.AppendExchange(ctx, ex)
}

// IndexFilesystem fully reindexes the directory tree under root. Zero options take the
// configured defaults.
func (m *Manager) IndexFilesystem(ctx context.Context, root string, opts models.FilesystemOptions) (*models.FilesystemReport, error) {
	d := m.cfg.Filesystem
	if opts.MaxDepth == 0 {
		opts.MaxDepth = d.MaxDepth
	}
	if opts.MaxChunks == 0 {
		opts.MaxChunks = d.MaxChunks
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = d.BatchSize
	}
	if len(opts.Exclude) == 0 {
		opts.Exclude = d.Exclude
	}
	if len(opts.Hidden) == 0 {
		opts.Hidden = d.Hidden
	}
	opts.IncludeHidden = opts.IncludeHidden || d.IncludeHidden
	return m.indexer.IndexFilesystem(ctx, root, opts)
}

// Status reports index size and configuration.
func (m *Manager) Status(ctx context.Context) (*models.Status, error) {
	counts, err := m.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	disk, err := m.store.DiskUsage()
	if err != nil {
		return nil, err
	}
	return &models.Status{
		Files:      counts.Files,
		Chunks:     counts.Chunks,
		Vectors:    counts.Vectors,
		Dimensions: m.store.Dimensions(),
		Model:      m.embedder.Model(),
		IndexType:  m.store.IndexType(),
		DiskBytes:  disk,
	}, nil
}

// WatchDirs returns the directories holding indexable sources. Only the notes
// directory is scanned recursively; the others hold sources directly.
func (m *Manager) WatchDirs() []watcher.Dir {
	dirs := m.indexer.Sources().Dirs()
	out := make([]watcher.Dir, len(dirs))
	for i, d := range dirs {
		out[i] = watcher.Dir{Path: d, Recursive: i == 1}
	}
	return out
}

// Close releases the index and the embedder. Safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.store.Close()
		if err := m.embedder.Close(); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
	})
	return m.closeErr
}
