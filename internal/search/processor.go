package search

import "github.com/hyperjump/kioku/internal/models"

// dateFilterHeadroom multiplies the neighbours fetched when a date filter will discard some.
const dateFilterHeadroom = 5

// ProcessQuery validates and applies defaults to the search query.
func ProcessQuery(query *models.SearchQuery) error {
	return query.Validate()
}

func candidateCount(query *models.SearchQuery) int {
	if query.HasDateFilter() {
		return query.MaxResults * dateFilterHeadroom
	}
	return query.MaxResults
}
