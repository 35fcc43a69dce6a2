package embedding

import (
	"errors"
	"fmt"
	"regexp"
)

// APIError is a non-2xx response from the embedding service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embedding service returned %d: %s", e.StatusCode, e.Body)
}

var contextLengthPattern = regexp.MustCompile(`(?i)(context length|context window|maximum context|too many tokens|token limit|too long|input length|reduce the length|exceeds the max)`)

// IsContextLengthError reports whether err signals that an input was too large for the model.
func IsContextLengthError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return contextLengthPattern.MatchString(apiErr.Body)
	}
	return contextLengthPattern.MatchString(err.Error())
}
