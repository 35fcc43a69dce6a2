package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxInputChars caps a single input after a context-length rejection.
	DefaultMaxInputChars = 8000
	// TruncationMarker is appended to inputs cut down to fit the model.
	TruncationMarker = " [truncated]"
	defaultTimeout   = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible embeddings client.
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	MaxInputChars     int
	RequestsPerMinute int
}

// OpenAIEmbedder calls POST {BaseURL}/embeddings. Oversized batches are split in half
// recursively; a single oversized input is truncated and retried once.
type OpenAIEmbedder struct {
	cfg        OpenAIConfig
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	dimensions atomic.Int64
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithLogger sets the logger for split and truncation events.
func WithLogger(logger *zap.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if client != nil {
			e.client = client
		}
	}
}

// NewOpenAIEmbedder creates a client for the given service.
func NewOpenAIEmbedder(cfg OpenAIConfig, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	e := &OpenAIEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, splitting on context-length rejections.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := e.request(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if !IsContextLengthError(err) {
		return nil, err
	}
	if len(texts) > 1 {
		mid := len(texts) / 2
		e.logger.Debug("splitting embedding batch after context length error",
			zap.Int("size", len(texts)), zap.Int("left", mid))
		left, err := e.EmbedBatch(ctx, texts[:mid])
		if err != nil {
			return nil, err
		}
		right, err := e.EmbedBatch(ctx, texts[mid:])
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}
	truncated := truncateInput(texts[0], e.cfg.MaxInputChars)
	e.logger.Debug("truncating oversized embedding input",
		zap.Int("chars", utf8.RuneCountInString(texts[0])),
		zap.Int("truncated_chars", utf8.RuneCountInString(truncated)))
	return e.request(ctx, []string{truncated})
}

// truncateInput cuts text to maxChars runes plus the marker. Text already under the
// cap is halved instead, since the service rejected it at its current size.
func truncateInput(text string, maxChars int) string {
	n := utf8.RuneCountInString(text)
	limit := maxChars
	if n <= limit {
		limit = n / 2
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i] + TruncationMarker
		}
		count++
	}
	return text + TruncationMarker
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
	}
	req := embeddingRequest{Model: e.cfg.Model, Input: texts}
	if len(texts) == 1 {
		req.Input = texts[0]
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(parsed.Data), len(texts))
	}
	out := orderByIndex(parsed.Data)
	for _, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding response contains an empty vector")
		}
	}
	e.dimensions.Store(int64(len(out[0])))
	return out, nil
}

// orderByIndex places vectors by their reported index when the indexes form a permutation,
// otherwise keeps response order.
func orderByIndex(data []embeddingData) [][]float32 {
	out := make([][]float32, len(data))
	for _, d := range data {
		if d.Index < 0 || d.Index >= len(data) || out[d.Index] != nil {
			out = make([][]float32, len(data))
			for i, d := range data {
				out[i] = d.Embedding
			}
			return out
		}
		out[d.Index] = d.Embedding
	}
	return out
}

// Dimensions returns the length of the last vectors returned, or 0 before any call.
func (e *OpenAIEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Model returns the configured model name.
func (e *OpenAIEmbedder) Model() string {
	return e.cfg.Model
}

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
