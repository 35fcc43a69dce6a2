// Package reader returns indexed source text by workspace-relative path and line range.
package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

var (
	// ErrPathTraversal is returned for empty or absolute paths and paths that leave the root.
	ErrPathTraversal = errors.New("path escapes workspace root")
	// ErrUnsupportedSource is returned for files that are neither notes nor transcripts.
	ErrUnsupportedSource = errors.New("unsupported source type")
)

// Reader reads sources under a fixed root.
type Reader struct {
	root string
}

// New returns a Reader rooted at root.
func New(root string) (*Reader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Reader{root: abs}, nil
}

// CleanPath normalizes a workspace-relative path, rejecting empty, absolute, and
// parent-relative forms before anything touches the filesystem.
func CleanPath(rel string) (string, error) {
	rel = strings.TrimSpace(strings.ReplaceAll(rel, "\\", "/"))
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathTraversal)
	}
	if path.IsAbs(rel) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" || (len(rel) >= 2 && rel[1] == ':') {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, rel)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
		}
	}
	cleaned := path.Clean(rel)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q names the root", ErrPathTraversal, rel)
	}
	return cleaned, nil
}

// ReadFile returns the text of relPath. from is the 1-based first line and lines the count;
// zero values select from the first line and to the end. Transcript lines are rendered as
// exchanges separated by blank lines; note lines are returned verbatim.
func (r *Reader) ReadFile(ctx context.Context, relPath string, from, lines int) (*models.ReadResult, error) {
	rel, err := CleanPath(relPath)
	if err != nil {
		return nil, err
	}
	kind := models.KindForPath(rel)
	if kind != models.KindNote && kind != models.KindChatLog {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, rel)
	}
	abs, err := r.resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	selected := selectLines(utils.SplitLines(string(data)), from, lines)
	var text string
	switch kind {
	case models.KindChatLog:
		text = formatExchanges(selected)
	default:
		text = strings.Join(selected, "\n")
	}
	return &models.ReadResult{Path: rel, Text: text}, nil
}

// resolve joins rel to the root and rejects results that escape it through symlinks.
func (r *Reader) resolve(rel string) (string, error) {
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	root := r.root
	if resolvedRoot, err := filepath.EvalSymlinks(root); err == nil {
		root = resolvedRoot
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Missing files surface from the read itself.
		return abs, nil
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s resolves outside the root", ErrPathTraversal, rel)
	}
	return resolved, nil
}

func selectLines(all []string, from, count int) []string {
	if from <= 0 {
		from = 1
	}
	start := from - 1
	if start >= len(all) {
		return nil
	}
	end := len(all)
	if count > 0 && start+count < end {
		end = start + count
	}
	return all[start:end]
}

func formatExchanges(lines []string) string {
	blocks := make([]string, 0, len(lines))
	for _, line := range lines {
		if ex, ok := chunker.ParseExchangeLine(line); ok {
			blocks = append(blocks, ex.Render())
		}
	}
	return strings.Join(blocks, "\n\n")
}
