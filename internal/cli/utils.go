// Package cli formats command output and talks to a running server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetPreview = 200

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for i, result := range response.Results {
		writeOneResult(w, i+1, result)
	}
	if len(response.Results) < response.Total {
		fmt.Fprintf(w, "(%d more below the result limit)\n", response.Total-len(response.Results))
	}
	return nil
}

func writeOneResult(w io.Writer, rank int, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%d. %s:%d-%d | Score: %.4f | %s", rank, result.Path, result.StartLine, result.EndLine, result.Score, result.Kind)
	if result.ChunkDate != "" {
		fmt.Fprintf(w, " | %s", result.ChunkDate)
	}
	fmt.Fprintf(w, "\n\n%s\n\n", utils.Truncate(result.Snippet, snippetPreview))
}

// WriteStatus writes index status.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, status)
	}
	fmt.Fprintf(w, "Files:       %d\n", status.Files)
	fmt.Fprintf(w, "Chunks:      %d\n", status.Chunks)
	fmt.Fprintf(w, "Vectors:     %d\n", status.Vectors)
	fmt.Fprintf(w, "Dimensions:  %d\n", status.Dimensions)
	fmt.Fprintf(w, "Model:       %s\n", status.Model)
	fmt.Fprintf(w, "Index type:  %s\n", status.IndexType)
	fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(status.DiskBytes))
	return nil
}

// WriteSyncReport writes the outcome of a sync run.
func WriteSyncReport(w io.Writer, report *models.SyncReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	fmt.Fprintf(w, "Sync %s: %d added, %d updated, %d deleted, %d unchanged, %d skipped (%d chunks written)\n",
		report.RunID, report.Added, report.Updated, report.Deleted, report.Unchanged, report.Skipped, report.ChunksWritten)
	if report.Repaired > 0 {
		fmt.Fprintf(w, "Rebuilt %d vectors\n", report.Repaired)
	}
	return nil
}

// WriteFilesystemReport writes the outcome of a filesystem indexing run.
func WriteFilesystemReport(w io.Writer, report *models.FilesystemReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	fmt.Fprintf(w, "Indexed %s: %d directories in %d batches\n", report.Root, report.Directories, report.Batches)
	if report.Truncated {
		fmt.Fprintln(w, "Stopped early at the chunk limit")
	}
	return nil
}

// WriteAppendResult writes where an exchange was stored.
func WriteAppendResult(w io.Writer, result *models.AppendResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, result)
	}
	fmt.Fprintf(w, "Appended %s:%d (chunk %d)\n", result.Path, result.Line, result.ChunkID)
	return nil
}

// WriteReadResult writes file text. Text output is the bare content.
func WriteReadResult(w io.Writer, result *models.ReadResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, result)
	}
	_, err := fmt.Fprintln(w, result.Text)
	return err
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
