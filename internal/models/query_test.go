package models

import (
	"errors"
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr bool
	}{
		{"empty query", &SearchQuery{Query: ""}, true},
		{"valid query", &SearchQuery{Query: "hello"}, false},
		{"sets default max results", &SearchQuery{Query: "x", MaxResults: 0}, false},
		{"caps max results", &SearchQuery{Query: "x", MaxResults: 500}, false},
		{"min score above one", &SearchQuery{Query: "x", MinScore: Score(1.5)}, true},
		{"negative min score", &SearchQuery{Query: "x", MinScore: Score(-0.1)}, true},
		{"valid date window", &SearchQuery{Query: "x", DateFrom: "2025-02-10", DateTo: "2025-02-11"}, false},
		{"open ended date window", &SearchQuery{Query: "x", DateFrom: "2025-02-10"}, false},
		{"malformed date", &SearchQuery{Query: "x", DateFrom: "10/02/2025"}, true},
		{"inverted window", &SearchQuery{Query: "x", DateFrom: "2025-02-12", DateTo: "2025-02-11"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
			if !tt.wantErr {
				if tt.query.MaxResults == 0 {
					t.Error("expected default max results to be set")
				}
				if tt.query.MaxResults > MaxResultsLimit {
					t.Errorf("expected max results capped at %d, got %d", MaxResultsLimit, tt.query.MaxResults)
				}
			}
		})
	}
}

func TestSearchQuery_HasDateFilter(t *testing.T) {
	if (&SearchQuery{Query: "x"}).HasDateFilter() {
		t.Error("no bounds should mean no date filter")
	}
	if !(&SearchQuery{Query: "x", DateTo: "2025-01-01"}).HasDateFilter() {
		t.Error("upper bound alone should count as a date filter")
	}
}

func TestKindForPath(t *testing.T) {
	tests := []struct {
		path string
		want SourceKind
	}{
		{"MEMORY.md", KindNote},
		{"memory/2025-02-10.md", KindNote},
		{"chats/2025-02-10.jsonl", KindChatLog},
		{"chats/private/abc.jsonl", KindChatLog},
		{"notes.txt", KindUnknown},
		{"archive.JSONL", KindChatLog},
	}
	for _, tt := range tests {
		if got := KindForPath(tt.path); got != tt.want {
			t.Errorf("KindForPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSourceKind_RoundTrip(t *testing.T) {
	for _, k := range []SourceKind{KindNote, KindChatLog, KindFilesystemTree} {
		got, err := ParseSourceKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseSourceKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseSourceKind("pdf"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestExchange_Render(t *testing.T) {
	got := Exchange{User: "hi", Assistant: "hello"}.Render()
	if got != "User: hi\nAssistant: hello" {
		t.Errorf("Render() = %q", got)
	}
}
