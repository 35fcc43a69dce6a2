// Package chunker splits source text into bounded, line-range-tagged chunks.
// Each SourceKind has its own strategy.
package chunker

import (
	"fmt"

	"github.com/hyperjump/kioku/internal/models"
)

const (
	DefaultMaxChars     = 600
	DefaultOverlapLines = 2
)

// Strategy turns the text of one source file into chunks. IDs are left zero; the store assigns them.
type Strategy interface {
	Chunk(path, text string) []models.Chunk
}

// Options tunes the note strategy.
type Options struct {
	MaxChars     int
	OverlapLines int
}

// For returns the strategy for a file-backed source kind.
func For(kind models.SourceKind, opts Options) (Strategy, error) {
	switch kind {
	case models.KindNote:
		return NewNoteChunker(opts.MaxChars, opts.OverlapLines), nil
	case models.KindChatLog:
		return &ChatLogChunker{}, nil
	case models.KindFilesystemTree:
		return nil, fmt.Errorf("filesystem chunks come from Walk, not from file text")
	default:
		return nil, fmt.Errorf("no chunking strategy for source kind %s", kind)
	}
}
