package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeService is an OpenAI-compatible embeddings endpoint backed by MockEmbedder.
type fakeService struct {
	mu       sync.Mutex
	requests []any
	reject   func(inputs []string) (int, string)
	reverse  bool
	mock     *MockEmbedder
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	f := &fakeService{mock: NewMockEmbedder(16)}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/embeddings" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Model string          `json:"model"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var inputs []string
	var single string
	if err := json.Unmarshal(req.Input, &single); err == nil {
		inputs = []string{single}
		f.record(single)
	} else {
		_ = json.Unmarshal(req.Input, &inputs)
		f.record(inputs)
	}
	if f.reject != nil {
		if code, msg := f.reject(inputs); code != 0 {
			http.Error(w, msg, code)
			return
		}
	}
	type item struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, len(inputs))
	for i, in := range inputs {
		vec, _ := f.mock.Embed(r.Context(), in)
		data[i] = item{Embedding: vec, Index: i}
	}
	if f.reverse {
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeService) record(input any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, input)
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestClient(t *testing.T, url string, cfg OpenAIConfig) *OpenAIEmbedder {
	t.Helper()
	cfg.BaseURL = url
	if cfg.Model == "" {
		cfg.Model = "test-embed"
	}
	e, err := NewOpenAIEmbedder(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestOpenAIEmbedder_SingleInputUnwrapped(t *testing.T) {
	f, srv := newFakeService(t)
	e := newTestClient(t, srv.URL, OpenAIConfig{})

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 16 || e.Dimensions() != 16 {
		t.Errorf("len=%d dims=%d", len(vec), e.Dimensions())
	}
	if _, ok := f.requests[0].(string); !ok {
		t.Errorf("single text should be sent as a bare string, got %T", f.requests[0])
	}
}

func TestOpenAIEmbedder_BatchSentAsArray(t *testing.T) {
	f, srv := newFakeService(t)
	e := newTestClient(t, srv.URL, OpenAIConfig{})

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || f.count() != 1 {
		t.Fatalf("vectors=%d requests=%d", len(vecs), f.count())
	}
	if arr, ok := f.requests[0].([]string); !ok || len(arr) != 3 {
		t.Errorf("batch should be sent as an array, got %#v", f.requests[0])
	}
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	f, srv := newFakeService(t)
	f.reverse = true
	e := newTestClient(t, srv.URL, OpenAIConfig{})
	texts := []string{"apple", "banana", "cherry"}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	for i, text := range texts {
		want, _ := NewMockEmbedder(16).Embed(context.Background(), text)
		for j := range want {
			if vecs[i][j] != want[j] {
				t.Fatalf("vector %d is not the embedding of %q", i, text)
			}
		}
	}
}

func TestOpenAIEmbedder_SplitsOnContextLength(t *testing.T) {
	f, srv := newFakeService(t)
	f.reject = func(inputs []string) (int, string) {
		if len(inputs) > 2 {
			return http.StatusBadRequest, `{"error":{"message":"This model's maximum context length is 8192 tokens"}}`
		}
		return 0, ""
	}
	e := newTestClient(t, srv.URL, OpenAIConfig{})
	texts := []string{"one", "two", "three", "four", "five"}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, text := range texts {
		want, _ := NewMockEmbedder(16).Embed(context.Background(), text)
		if vecs[i][0] != want[0] || vecs[i][len(want)-1] != want[len(want)-1] {
			t.Errorf("vector %d out of order", i)
		}
	}
	// 5 rejected -> [2] ok, [3] rejected -> [1] ok, [2] ok
	if f.count() != 5 {
		t.Errorf("expected 5 requests, got %d", f.count())
	}
}

func TestOpenAIEmbedder_TruncatesSingleOversizedInput(t *testing.T) {
	f, srv := newFakeService(t)
	f.reject = func(inputs []string) (int, string) {
		for _, in := range inputs {
			if len(in) > 60 {
				return http.StatusBadRequest, "input is too long for this model"
			}
		}
		return 0, ""
	}
	e := newTestClient(t, srv.URL, OpenAIConfig{MaxInputChars: 40})

	vec, err := e.Embed(context.Background(), strings.Repeat("word ", 50))
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) == 0 {
		t.Fatal("expected a vector")
	}
	if f.count() != 2 {
		t.Fatalf("expected original + one retry, got %d requests", f.count())
	}
	retried, _ := f.requests[1].(string)
	if !strings.HasSuffix(retried, TruncationMarker) {
		t.Errorf("retry should carry the truncation marker, got %q", retried)
	}
}

func TestOpenAIEmbedder_OtherErrorsPropagate(t *testing.T) {
	f, srv := newFakeService(t)
	f.reject = func([]string) (int, string) { return http.StatusInternalServerError, "boom" }
	e := newTestClient(t, srv.URL, OpenAIConfig{})

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
	if f.count() != 1 {
		t.Errorf("non context-length errors must not split, got %d requests", f.count())
	}
}

func TestOpenAIEmbedder_SendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,0],"index":0}]}`))
	}))
	defer srv.Close()
	e := newTestClient(t, srv.URL+"/", OpenAIConfig{APIKey: "sk-test"})

	if _, err := e.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestOpenAIEmbedder_RateLimited(t *testing.T) {
	_, srv := newFakeService(t)
	e := newTestClient(t, srv.URL, OpenAIConfig{RequestsPerMinute: 1})

	if _, err := e.Embed(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.Embed(ctx, "second"); err == nil {
		t.Error("expected the limiter to refuse a second request within the deadline")
	}
}

func TestNewOpenAIEmbedder_RequiresURLAndModel(t *testing.T) {
	if _, err := NewOpenAIEmbedder(OpenAIConfig{Model: "m"}); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Error("expected error without model")
	}
}

func TestIsContextLengthError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{StatusCode: 400, Body: "maximum context length exceeded"}, true},
		{&APIError{StatusCode: 413, Body: "Too many tokens in input"}, true},
		{&APIError{StatusCode: 500, Body: "internal error"}, false},
		{errors.New("input length exceeds limit"), true},
	}
	for _, tt := range tests {
		if got := IsContextLengthError(tt.err); got != tt.want {
			t.Errorf("IsContextLengthError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestTruncateInput(t *testing.T) {
	got := truncateInput(strings.Repeat("é", 100), 10)
	if got != strings.Repeat("é", 10)+TruncationMarker {
		t.Errorf("got %q", got)
	}
	short := truncateInput("abcdef", 10)
	if short != "abc"+TruncationMarker {
		t.Errorf("text under the cap should be halved, got %q", short)
	}
}
