package models

// SearchResult represents a single search hit. Derived at query time, never persisted.
type SearchResult struct {
	Path      string     `json:"path"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Snippet   string     `json:"snippet"`
	Score     float64    `json:"score"`
	Kind      SourceKind `json:"kind"`
	ChunkDate string     `json:"chunk_date,omitempty"`
}

// SearchResponse is the response for a search request, ordered by descending score.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}
