package search

import "github.com/hyperjump/kioku/pkg/utils"

// SnippetMaxChars bounds the snippet attached to each result.
const SnippetMaxChars = 700

// Snippet returns text cut to SnippetMaxChars characters with a trailing ellipsis when cut.
func Snippet(text string) string {
	return utils.Truncate(text, SnippetMaxChars)
}
