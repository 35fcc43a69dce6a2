package chunker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

const (
	DefaultMaxDepth     = 5
	DefaultBatchSize    = 32
	maxContentsListed   = 200
	contentsEmptyMarker = "(empty)"
)

// DefaultExclude lists build, dependency, and VCS directories skipped by every walk.
var DefaultExclude = []string{
	".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build", "target",
	"__pycache__", ".venv", "venv", ".cache", ".idea", ".next", ".gradle",
}

type dirFrame struct {
	path  string
	depth int
}

// DirWalker is a pull-based, depth-bounded directory traversal over an explicit stack.
// Each NextBatch call resumes the walk until a batch of directory chunks is full.
type DirWalker struct {
	opts      models.FilesystemOptions
	exclude   map[string]bool
	stack     []dirFrame
	emitted   int
	truncated bool
}

// Walk prepares a traversal of root. Zero-valued options fall back to defaults;
// MaxDepth counts directory levels, with 1 meaning only root.
func Walk(root string, opts models.FilesystemOptions) (*DirWalker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	exclude := make(map[string]bool, len(DefaultExclude)+len(opts.Exclude))
	for _, name := range DefaultExclude {
		exclude[name] = true
	}
	for _, name := range opts.Exclude {
		exclude[name] = true
	}
	return &DirWalker{
		opts:    opts,
		exclude: exclude,
		stack:   []dirFrame{{path: abs, depth: 0}},
	}, nil
}

// NextBatch returns the next batch of directory chunks, or io.EOF when the walk is done.
// Unreadable subdirectories are skipped; an unreadable root is an error.
func (w *DirWalker) NextBatch(ctx context.Context) ([]models.Chunk, error) {
	batch := make([]models.Chunk, 0, w.opts.BatchSize)
	for len(batch) < w.opts.BatchSize && len(w.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if w.opts.MaxChunks > 0 && w.emitted >= w.opts.MaxChunks {
			w.truncated = true
			w.stack = nil
			break
		}
		frame := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		entries, err := os.ReadDir(frame.path)
		if err != nil {
			if frame.depth == 0 {
				return nil, fmt.Errorf("read root: %w", err)
			}
			continue
		}
		var dirs, files []string
		for _, e := range entries {
			name := e.Name()
			if w.skip(name) {
				continue
			}
			if e.IsDir() {
				dirs = append(dirs, name)
			} else {
				files = append(files, name)
			}
		}
		sort.Strings(dirs)
		sort.Strings(files)

		if frame.depth+1 < w.opts.MaxDepth {
			for i := len(dirs) - 1; i >= 0; i-- {
				w.stack = append(w.stack, dirFrame{path: filepath.Join(frame.path, dirs[i]), depth: frame.depth + 1})
			}
		}
		batch = append(batch, directoryChunk(frame.path, dirs, files))
		w.emitted++
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Truncated reports whether MaxChunks stopped the walk before it finished.
func (w *DirWalker) Truncated() bool {
	return w.truncated
}

// Emitted returns how many directory chunks have been produced so far.
func (w *DirWalker) Emitted() int {
	return w.emitted
}

func (w *DirWalker) skip(name string) bool {
	if w.exclude[name] {
		return true
	}
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	for _, pattern := range w.opts.Hidden {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func directoryChunk(dir string, dirs, files []string) models.Chunk {
	names := make([]string, 0, len(dirs)+len(files))
	for _, d := range dirs {
		names = append(names, d+"/")
	}
	names = append(names, files...)
	contents := contentsEmptyMarker
	if len(names) > 0 {
		more := 0
		if len(names) > maxContentsListed {
			more = len(names) - maxContentsListed
			names = names[:maxContentsListed]
		}
		contents = strings.Join(names, ", ")
		if more > 0 {
			contents += fmt.Sprintf(" (+%d more)", more)
		}
	}
	return models.Chunk{
		Path:      dir,
		StartLine: 1,
		EndLine:   1,
		Text:      "Directory: " + dir + "\nContents: " + contents,
		Kind:      models.KindFilesystemTree,
		ChunkDate: InferDate(dir, ""),
	}
}
