package chunker

import (
	"regexp"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

var (
	pathDatePattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	datedLinePattern = regexp.MustCompile(`^\s*(?:[-*+]\s+|#{1,6}\s+)?\[?(\d{4}-\d{2}-\d{2})\b`)
)

// InferDate returns the "YYYY-MM-DD" date a chunk belongs to, or "".
// A date in the path (daily notes and transcripts) wins over the first dated line of text.
func InferDate(path, text string) string {
	matches := pathDatePattern.FindAllString(path, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if validDate(matches[i]) {
			return matches[i]
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if d := lineDate(line); d != "" {
			return d
		}
	}
	return ""
}

// IsDatedLine reports whether line opens a dated entry such as "- 2025-02-10: ..." or "## 2025-02-10".
func IsDatedLine(line string) bool {
	return lineDate(line) != ""
}

func lineDate(line string) string {
	m := datedLinePattern.FindStringSubmatch(line)
	if m == nil || !validDate(m[1]) {
		return ""
	}
	return m[1]
}

func validDate(s string) bool {
	_, err := time.Parse(models.DateLayout, s)
	return err == nil
}

// DateFromTimestamp extracts the date from an RFC 3339 timestamp or a "YYYY-MM-DD..." prefix.
func DateFromTimestamp(ts string) string {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Format(models.DateLayout)
	}
	if len(ts) >= 10 && validDate(ts[:10]) {
		return ts[:10]
	}
	return ""
}
