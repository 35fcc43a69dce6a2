package chunker

import (
	"encoding/json"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// ChatLogChunker emits one chunk per transcript line.
type ChatLogChunker struct{}

// Chunk renders each well-formed exchange line; malformed lines are skipped.
func (c *ChatLogChunker) Chunk(path, text string) []models.Chunk {
	var chunks []models.Chunk
	for i, line := range utils.SplitLines(text) {
		ex, ok := ParseExchangeLine(line)
		if !ok {
			continue
		}
		chunks = append(chunks, ExchangeChunk(path, i+1, ex))
	}
	return chunks
}

// ExchangeChunk builds the single chunk for the exchange stored at line of path.
func ExchangeChunk(path string, line int, ex models.Exchange) models.Chunk {
	date := DateFromTimestamp(ex.Timestamp)
	if date == "" {
		date = InferDate(path, "")
	}
	return models.Chunk{
		Path:      path,
		StartLine: line,
		EndLine:   line,
		Text:      ex.Render(),
		Kind:      models.KindChatLog,
		ChunkDate: date,
	}
}

// ParseExchangeLine decodes one transcript line. Blank, malformed, or empty pairs report false.
func ParseExchangeLine(line string) (models.Exchange, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return models.Exchange{}, false
	}
	var ex models.Exchange
	if err := json.Unmarshal([]byte(line), &ex); err != nil {
		return models.Exchange{}, false
	}
	if ex.User == "" && ex.Assistant == "" {
		return models.Exchange{}, false
	}
	return ex, true
}
