package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./index.db"
  vector_index: hnsw
embedding:
  timeout: 15s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address() != "127.0.0.1:9000" {
		t.Errorf("unexpected address: %s", cfg.Server.Address())
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "index.db") {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	if cfg.Storage.VectorIndex != "hnsw" {
		t.Errorf("vector_index = %s", cfg.Storage.VectorIndex)
	}
	if cfg.Embedding.Timeout != 15*time.Second {
		t.Errorf("timeout = %s", cfg.Embedding.Timeout)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_envExpansionAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KIOKU_TEST_KEY=sk-from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("KIOKU_TEST_KEY") })
	path := writeConfig(t, dir, `
workspace:
  root: "./ws"
embedding:
  api_key: "${KIOKU_TEST_KEY}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "sk-from-dotenv" {
		t.Errorf("api_key = %q", cfg.Embedding.APIKey)
	}
	if cfg.Workspace.Root != filepath.Join(dir, "ws") {
		t.Errorf("workspace root = %s", cfg.Workspace.Root)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := map[string]string{
		"port":         "server:\n  port: 70000\n",
		"vector_index": "storage:\n  vector_index: faiss\n",
		"provider":     "embedding:\n  provider: onnx\n",
		"base_url":     "embedding:\n  base_url: \"not a url\"\n",
		"max_results":  "search:\n  max_results: 500\n",
		"min_score":    "search:\n  min_score: 1.5\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "invalid config") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Workspace.NotesDir != "memory" || cfg.Workspace.TranscriptsDir != "chats" {
		t.Errorf("default workspace: %+v", cfg.Workspace)
	}
	if cfg.Embedding.Provider != ProviderOpenAI || cfg.Embedding.MaxInputChars != 8000 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if cfg.Chunking.MaxChars != 600 || cfg.Chunking.OverlapLines != 2 {
		t.Errorf("default chunking: %+v", cfg.Chunking)
	}
	if cfg.Search.MaxResults != 6 {
		t.Errorf("default max results: %d", cfg.Search.MaxResults)
	}
	if cfg.Watch.Debounce != 2*time.Second {
		t.Errorf("default debounce: %s", cfg.Watch.Debounce)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmbeddingConfig_mockNeedsNoService(t *testing.T) {
	c := EmbeddingConfig{Provider: ProviderMock, MaxInputChars: 1, Dimensions: 16}
	if err := c.Validate(); err != nil {
		t.Errorf("mock provider: %v", err)
	}
}

func TestWatchConfig_EnabledOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if !w.EnabledOrDefault() {
			t.Error("EnabledOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Enabled: &f}
		if w.EnabledOrDefault() {
			t.Error("EnabledOrDefault() = true, want false")
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Storage.DatabasePath = filepath.Join(dir, "index.db")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Storage.DatabasePath != cfg.Storage.DatabasePath {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Embedding.Timeout != 60*time.Second {
		t.Errorf("timeout round trip = %s", loaded.Embedding.Timeout)
	}
}
