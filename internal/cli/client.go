package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// Client calls a running server's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL (e.g. "http://localhost:7337").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Search runs a query on the server.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches index status from the server.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync asks the server to sync its index.
func (c *Client) Sync(ctx context.Context) (*models.SyncReport, error) {
	var out models.SyncReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
