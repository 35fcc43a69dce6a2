package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/reader"
)

type stubService struct {
	searchErr   error
	readErr     error
	exchangeErr error
	lastRead    [3]string
	lastQuery   *models.SearchQuery
	lastFSRoot  string
	lastFSOpts  models.FilesystemOptions
}

func (s *stubService) Sync(context.Context) (*models.SyncReport, error) {
	return &models.SyncReport{RunID: "run-1", Added: 2}, nil
}

func (s *stubService) Search(_ context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	s.lastQuery = q
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return &models.SearchResponse{
		Query:   q.Query,
		Total:   1,
		Results: []*models.SearchResult{{Path: "MEMORY.md", StartLine: 1, EndLine: 2, Snippet: "hi", Score: 0.9, Kind: models.KindNote}},
	}, nil
}

func (s *stubService) ReadFile(_ context.Context, rel string, from, lines int) (*models.ReadResult, error) {
	s.lastRead = [3]string{rel, fmt.Sprint(from), fmt.Sprint(lines)}
	if s.readErr != nil {
		return nil, s.readErr
	}
	return &models.ReadResult{Path: rel, Text: "line"}, nil
}

func (s *stubService) IndexChatExchange(_ context.Context, ex *models.Exchange) (*models.AppendResult, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &models.AppendResult{Path: "chats/2024-05-02.jsonl", Line: 1, ChunkID: 7}, nil
}

func (s *stubService) IndexFilesystem(_ context.Context, root string, opts models.FilesystemOptions) (*models.FilesystemReport, error) {
	s.lastFSRoot, s.lastFSOpts = root, opts
	return &models.FilesystemReport{Root: root, Directories: 3, Batches: 1}, nil
}

func (s *stubService) Status(context.Context) (*models.Status, error) {
	return &models.Status{Files: 1, Chunks: 2, Vectors: 2, Dimensions: 4, Model: "mock", IndexType: "memory"}, nil
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func newStubServer(svc *stubService) *Server {
	return NewServer(svc, &config.ServerConfig{Port: 8080}, nil)
}

func TestHandleHealth(t *testing.T) {
	w := do(t, newStubServer(&stubService{}).Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("CORS header set without configured origins")
	}
}

func request(t *testing.T, h http.Handler, method, target, origin string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("Origin", origin)
	if method == http.MethodOptions {
		r.Header.Set("Access-Control-Request-Method", http.MethodGet)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestCORS_noOriginsByDefault(t *testing.T) {
	h := newStubServer(&stubService{}).Handler()
	for _, method := range []string{http.MethodOptions, http.MethodGet} {
		w := request(t, h, method, "/api/v1/read?path=MEMORY.md", "https://evil.example")
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("%s: Access-Control-Allow-Origin = %q, want none", method, got)
		}
		if method == http.MethodOptions && w.Code == http.StatusNoContent {
			t.Errorf("preflight from a foreign origin answered 204")
		}
	}
}

func TestCORS_configuredOrigin(t *testing.T) {
	cfg := &config.ServerConfig{Port: 8080, AllowedOrigins: []string{"http://localhost:3000/"}}
	h := NewServer(&stubService{}, cfg, nil).Handler()

	w := request(t, h, http.MethodOptions, "/api/v1/search", "http://localhost:3000")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status: got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	w = request(t, h, http.MethodGet, "/health", "http://localhost:3000")
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("get: %d %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	w = request(t, h, http.MethodGet, "/health", "https://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin got %q", got)
	}
}

func TestHandleSearch(t *testing.T) {
	svc := &stubService{}
	w := do(t, newStubServer(svc).Handler(), http.MethodPost, "/api/v1/search",
		models.SearchQuery{Query: "keys", MaxResults: 3, DateFrom: "2024-01-01"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Kind != models.KindNote {
		t.Errorf("response: %+v", resp)
	}
	if svc.lastQuery.MaxResults != 3 || svc.lastQuery.DateFrom != "2024-01-01" {
		t.Errorf("query not passed through: %+v", svc.lastQuery)
	}
}

func TestHandleSearch_errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid query", fmt.Errorf("%w: empty", models.ErrInvalidQuery), http.StatusBadRequest},
		{"internal", errors.New("embedding service down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newStubServer(&stubService{searchErr: tt.err}).Handler(), http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "x"})
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	newStubServer(&stubService{}).Handler().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d", w.Code)
	}
}

func TestHandleRead(t *testing.T) {
	svc := &stubService{}
	h := newStubServer(svc).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/read?path=memory/a.md&from=3&lines=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if svc.lastRead != [3]string{"memory/a.md", "3", "2"} {
		t.Errorf("read args: %v", svc.lastRead)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/read", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing path: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/read?path=a.md&from=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad from: got %d", w.Code)
	}

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: ../x", reader.ErrPathTraversal), http.StatusBadRequest},
		{fmt.Errorf("%w: a.txt", reader.ErrUnsupportedSource), http.StatusBadRequest},
		{fmt.Errorf("read a.md: %w", os.ErrNotExist), http.StatusNotFound},
	}
	for _, tt := range tests {
		w := do(t, newStubServer(&stubService{readErr: tt.err}).Handler(), http.MethodGet, "/api/v1/read?path=a.md", nil)
		if w.Code != tt.want {
			t.Errorf("%v: got %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestHandleExchange(t *testing.T) {
	w := do(t, newStubServer(&stubService{}).Handler(), http.MethodPost, "/api/v1/exchanges",
		models.Exchange{User: "hi", Assistant: "hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d", w.Code)
	}
	var out exchangeResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Result == nil || out.Result.ChunkID != 7 {
		t.Errorf("response: %+v", out)
	}
}

func TestHandleExchange_failureIsAccepted(t *testing.T) {
	svc := &stubService{exchangeErr: errors.New("embedding service down")}
	w := do(t, newStubServer(svc).Handler(), http.MethodPost, "/api/v1/exchanges", models.Exchange{User: "hi"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d", w.Code)
	}
	var out exchangeResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Warning == "" {
		t.Errorf("expected a warning, got %+v", out)
	}

	svc.exchangeErr = fmt.Errorf("%w: %q", indexer.ErrInvalidSession, "../x")
	if w := do(t, newStubServer(svc).Handler(), http.MethodPost, "/api/v1/exchanges", models.Exchange{User: "hi"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid session: got %d", w.Code)
	}
}

func TestHandleFilesystem(t *testing.T) {
	svc := &stubService{}
	h := newStubServer(svc).Handler()
	w := do(t, h, http.MethodPost, "/api/v1/filesystem", map[string]any{
		"root":    "/srv/projects",
		"options": map[string]any{"max_depth": 2, "include_hidden": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if svc.lastFSRoot != "/srv/projects" || svc.lastFSOpts.MaxDepth != 2 || !svc.lastFSOpts.IncludeHidden {
		t.Errorf("args: %q %+v", svc.lastFSRoot, svc.lastFSOpts)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/filesystem", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing root: got %d", w.Code)
	}
}

func TestHandleStatusAndSync(t *testing.T) {
	h := newStubServer(&stubService{}).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	var status models.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || status.Chunks != 2 || status.IndexType != "memory" {
		t.Errorf("status: %d %+v", w.Code, status)
	}
	w = do(t, h, http.MethodPost, "/api/v1/sync", nil)
	var report models.SyncReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || report.Added != 2 {
		t.Errorf("sync: %d %+v", w.Code, report)
	}
}

func TestServer_withManager(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Workspace.Root = filepath.Join(dir, "ws")
	cfg.Storage.DatabasePath = filepath.Join(dir, "index.db")
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.Dimensions = 16
	config.ApplyDefaults(cfg)
	if err := os.MkdirAll(cfg.Workspace.Root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Workspace.Root, "MEMORY.md"), []byte("the wifi password is hunter2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := memory.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	h := NewServer(m, &cfg.Server, nil).Handler()
	w := do(t, h, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "the wifi password is hunter2"})
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Path != "MEMORY.md" {
		t.Fatalf("results: %+v", resp.Results)
	}

	w = do(t, h, http.MethodGet, "/api/v1/read?path=MEMORY.md", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "hunter2") {
		t.Errorf("read: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/v1/read?path=../index.db", nil); w.Code != http.StatusBadRequest {
		t.Errorf("traversal: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/read?path=missing.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d", w.Code)
	}
}
