package models

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	DefaultMaxResults = 6
	MaxResultsLimit   = 50
	DateLayout        = "2006-01-02"
)

// ErrInvalidQuery wraps every SearchQuery validation failure.
var ErrInvalidQuery = errors.New("invalid search query")

// SearchQuery represents a semantic search request with an optional date window.
// DateFrom and DateTo are inclusive "YYYY-MM-DD" bounds; either may be empty.
// A nil MinScore is unset; a pointer to zero asks for every result.
type SearchQuery struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
	DateFrom   string   `json:"date_from,omitempty"`
	DateTo     string   `json:"date_to,omitempty"`
}

// Score returns a pointer to v, for setting SearchQuery.MinScore.
func Score(v float64) *float64 {
	return &v
}

// MinScoreValue returns the score floor, zero when unset.
func (q *SearchQuery) MinScoreValue() float64 {
	if q.MinScore == nil {
		return 0
	}
	return *q.MinScore
}

// HasDateFilter reports whether either date bound is set.
func (q *SearchQuery) HasDateFilter() bool {
	return q.DateFrom != "" || q.DateTo != ""
}

// Validate ensures the search query has valid fields and sets defaults.
// A zero MaxResults becomes DefaultMaxResults and larger values are capped at MaxResultsLimit.
func (q *SearchQuery) Validate() error {
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	if q.MaxResults > MaxResultsLimit {
		q.MaxResults = MaxResultsLimit
	}
	err := validation.ValidateStruct(q,
		validation.Field(&q.Query, validation.Required),
		validation.Field(&q.MinScore, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&q.DateFrom, validation.Date(DateLayout)),
		validation.Field(&q.DateTo, validation.Date(DateLayout)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.DateFrom != "" && q.DateTo != "" && q.DateFrom > q.DateTo {
		return fmt.Errorf("%w: date_from %s is after date_to %s", ErrInvalidQuery, q.DateFrom, q.DateTo)
	}
	return nil
}
