package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// NoteChunker splits markdown into line windows of roughly maxChars characters.
// Adjacent windows share overlapLines lines, except at a dated entry, which always starts a fresh chunk.
type NoteChunker struct {
	maxChars     int
	overlapLines int
}

// NewNoteChunker creates a note chunker; non-positive values fall back to defaults.
func NewNoteChunker(maxChars, overlapLines int) *NoteChunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlapLines < 0 {
		overlapLines = DefaultOverlapLines
	}
	return &NoteChunker{maxChars: maxChars, overlapLines: overlapLines}
}

// Chunk splits text into windows. Every non-blank line lands in at least one chunk.
func (c *NoteChunker) Chunk(path, text string) []models.Chunk {
	lines := utils.SplitLines(text)
	var chunks []models.Chunk
	start := 0
	for start < len(lines) {
		end, size := start, 0
		for end < len(lines) {
			if end > start && IsDatedLine(lines[end]) {
				break
			}
			size += utf8.RuneCountInString(lines[end]) + 1
			end++
			if size >= c.maxChars {
				break
			}
		}
		if ch, ok := window(path, lines, start, end); ok {
			chunks = append(chunks, ch)
		}
		if end >= len(lines) {
			break
		}
		next := end
		if !IsDatedLine(lines[end]) {
			next = end - c.overlapLines
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// window builds a chunk from lines[start:end], trimming blank edge lines.
func window(path string, lines []string, start, end int) (models.Chunk, bool) {
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start >= end {
		return models.Chunk{}, false
	}
	text := strings.Join(lines[start:end], "\n")
	return models.Chunk{
		Path:      path,
		StartLine: start + 1,
		EndLine:   end,
		Text:      text,
		Kind:      models.KindNote,
		ChunkDate: InferDate(path, text),
	}, true
}
