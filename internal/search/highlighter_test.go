package search

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSnippet(t *testing.T) {
	if Snippet("short") != "short" {
		t.Error("short text should be unchanged")
	}
	long := strings.Repeat("word ", 400)
	got := Snippet(long)
	if n := utf8.RuneCountInString(got); n > SnippetMaxChars {
		t.Errorf("snippet has %d chars, max %d", n, SnippetMaxChars)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("cut snippet should end with an ellipsis: %q", got[len(got)-10:])
	}
	exact := strings.Repeat("a", SnippetMaxChars)
	if Snippet(exact) != exact {
		t.Error("text at the limit should be unchanged")
	}
}
