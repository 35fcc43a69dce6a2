package indexer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
)

const (
	DefaultNotesDir       = "memory"
	DefaultTranscriptsDir = "chats"
	privateDir            = "private"
)

// ErrInvalidSession is returned for session ids that cannot name a transcript file.
var ErrInvalidSession = errors.New("invalid session id")

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Sources describes where notes and transcripts live inside the workspace root.
type Sources struct {
	Root           string
	NotesDir       string
	TranscriptsDir string

	readFile func(name string) ([]byte, error) // nil means os.ReadFile
}

// NewSources returns the layout rooted at root. Empty directory names use the defaults.
func NewSources(root, notesDir, transcriptsDir string) (*Sources, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if notesDir == "" {
		notesDir = DefaultNotesDir
	}
	if transcriptsDir == "" {
		transcriptsDir = DefaultTranscriptsDir
	}
	return &Sources{Root: abs, NotesDir: notesDir, TranscriptsDir: transcriptsDir}, nil
}

// Abs resolves a workspace-relative key to an absolute path.
func (s *Sources) Abs(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Dirs returns the absolute directories holding sources, root first.
func (s *Sources) Dirs() []string {
	transcripts := filepath.Join(s.Root, s.TranscriptsDir)
	return []string{
		s.Root,
		filepath.Join(s.Root, s.NotesDir),
		transcripts,
		filepath.Join(transcripts, privateDir),
	}
}

// DailyTranscript returns the key of the transcript for date ("YYYY-MM-DD").
func (s *Sources) DailyTranscript(date string) string {
	return filepath.ToSlash(filepath.Join(s.TranscriptsDir, date+".jsonl"))
}

// PrivateTranscript returns the key of the transcript for a session.
func (s *Sources) PrivateTranscript(session string) (string, error) {
	if !sessionPattern.MatchString(session) || strings.Contains(session, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, session)
	}
	return filepath.ToSlash(filepath.Join(s.TranscriptsDir, privateDir, session+".jsonl")), nil
}

// Enumerate lists every indexable source with its current mtime, sorted by path:
// root-level markdown, markdown anywhere under the notes directory, and transcripts
// directly under the transcripts directory and its private subdirectory.
// Missing directories contribute nothing.
func (s *Sources) Enumerate() ([]models.SourceDescriptor, error) {
	var out []models.SourceDescriptor
	dirs := s.Dirs()

	for _, flat := range []struct {
		dir string
		ext string
	}{{dirs[0], ".md"}, {dirs[2], ".jsonl"}, {dirs[3], ".jsonl"}} {
		found, err := s.listFlat(flat.dir, flat.ext)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	err := filepath.WalkDir(dirs[1], func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		desc, ok, err := s.describe(path)
		if err != nil || !ok {
			return err
		}
		out = append(out, desc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk notes: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Sources) listFlat(dir, ext string) ([]models.SourceDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []models.SourceDescriptor
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		desc, ok, err := s.describe(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, desc)
		}
	}
	return out, nil
}

// describe stats a candidate file. Files that vanished or are not regular are skipped.
func (s *Sources) describe(path string) (models.SourceDescriptor, bool, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return models.SourceDescriptor{}, false, nil
	}
	rel, err := fileid.Rel(s.Root, path)
	if err != nil {
		return models.SourceDescriptor{}, false, err
	}
	return models.SourceDescriptor{
		Path:  rel,
		Kind:  models.KindForPath(rel),
		MTime: info.ModTime().UnixNano(),
	}, true, nil
}

// readSource returns the text of a source file.
func (s *Sources) readSource(rel string) (string, error) {
	read := s.readFile
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(s.Abs(rel))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}
