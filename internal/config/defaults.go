package config

import (
	"time"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "~/.kioku/workspace"
	}
	if cfg.Workspace.NotesDir == "" {
		cfg.Workspace.NotesDir = indexer.DefaultNotesDir
	}
	if cfg.Workspace.TranscriptsDir == "" {
		cfg.Workspace.TranscriptsDir = indexer.DefaultTranscriptsDir
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "~/.kioku/index.db"
	}
	if cfg.Storage.VectorIndex == "" {
		cfg.Storage.VectorIndex = string(vector.IndexTypeMemory)
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Embedding.MaxInputChars == 0 {
		cfg.Embedding.MaxInputChars = 8000
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 256
	}
	if cfg.Chunking.MaxChars == 0 {
		cfg.Chunking.MaxChars = chunker.DefaultMaxChars
	}
	if cfg.Chunking.OverlapLines == 0 {
		cfg.Chunking.OverlapLines = chunker.DefaultOverlapLines
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = models.DefaultMaxResults
	}
	if cfg.Filesystem.MaxDepth == 0 {
		cfg.Filesystem.MaxDepth = chunker.DefaultMaxDepth
	}
	if cfg.Filesystem.BatchSize == 0 {
		cfg.Filesystem.BatchSize = chunker.DefaultBatchSize
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}
