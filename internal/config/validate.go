package config

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Workspace,
		validation.Field(&c.Workspace.Root, validation.Required),
		validation.Field(&c.Workspace.NotesDir, validation.Required),
		validation.Field(&c.Workspace.TranscriptsDir, validation.Required),
	); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Host, validation.Required),
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Server.AllowedOrigins, validation.Each(validation.Required, is.URL)),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.DatabasePath, validation.Required),
		validation.Field(&c.Storage.VectorIndex, validation.In(string(vector.IndexTypeMemory), string(vector.IndexTypeHNSW))),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := validation.ValidateStruct(&c.Chunking,
		validation.Field(&c.Chunking.MaxChars, validation.Min(50)),
		validation.Field(&c.Chunking.OverlapLines, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := validation.ValidateStruct(&c.Search,
		validation.Field(&c.Search.MaxResults, validation.Min(1), validation.Max(models.MaxResultsLimit)),
		validation.Field(&c.Search.MinScore, validation.Min(0.0), validation.Max(1.0)),
	); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := validation.ValidateStruct(&c.Filesystem,
		validation.Field(&c.Filesystem.MaxDepth, validation.Min(1)),
		validation.Field(&c.Filesystem.MaxChunks, validation.Min(0)),
		validation.Field(&c.Filesystem.BatchSize, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("filesystem: %w", err)
	}
	return nil
}

// Validate validates the embedding configuration. The mock provider needs no service.
func (c *EmbeddingConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderOpenAI, ProviderMock)),
		validation.Field(&c.MaxInputChars, validation.Min(1)),
		validation.Field(&c.RequestsPerMinute, validation.Min(0)),
		validation.Field(&c.CacheSize, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Provider == ProviderMock {
		return validation.ValidateStruct(c, validation.Field(&c.Dimensions, validation.Required, validation.Min(1)))
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
	)
}
