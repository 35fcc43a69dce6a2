// Package config provides configuration loading and structs for kioku.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Search     SearchConfig     `yaml:"search"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Watch      WatchConfig      `yaml:"watch"`
}

// WorkspaceConfig locates the sources. NotesDir and TranscriptsDir are relative to Root.
type WorkspaceConfig struct {
	Root           string `yaml:"root"`
	NotesDir       string `yaml:"notes_dir"`
	TranscriptsDir string `yaml:"transcripts_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AllowedOrigins lists browser origins granted cross-origin access. Empty means none.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the index location and the in-memory vector index type.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	VectorIndex  string `yaml:"vector_index"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	CacheSize         int           `yaml:"cache_size"`
	Dimensions        int           `yaml:"dimensions"`
}

// ChunkingConfig tunes note chunking.
type ChunkingConfig struct {
	MaxChars     int `yaml:"max_chars"`
	OverlapLines int `yaml:"overlap_lines"`
}

// SearchConfig holds defaults applied to queries that leave them unset.
type SearchConfig struct {
	MaxResults int     `yaml:"max_results"`
	MinScore   float64 `yaml:"min_score"`
}

// FilesystemConfig holds defaults for filesystem indexing runs.
type FilesystemConfig struct {
	MaxDepth      int      `yaml:"max_depth"`
	MaxChunks     int      `yaml:"max_chunks"`
	BatchSize     int      `yaml:"batch_size"`
	Exclude       []string `yaml:"exclude"`
	Hidden        []string `yaml:"hidden"`
	IncludeHidden bool     `yaml:"include_hidden"`
}

// WatchConfig controls automatic sync on source changes.
type WatchConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// EnabledOrDefault returns whether to watch sources; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Load reads the config file at path, loads a .env file next to it when present,
// expands ${VAR} references, applies defaults, expands paths, and validates.
func Load(path string) (*Config, error) {
	configDir := filepath.Dir(path)
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	expandPaths(&cfg, configDir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given, with paths resolved.
// KIOKU_API_KEY, when set, supplies the embedding API key.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Embedding.APIKey = os.Getenv("KIOKU_API_KEY")
	expandPaths(cfg, ".")
	return cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Workspace.Root = expandPath(cfg.Workspace.Root, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
