// Package models defines core data structures for sources, chunks, queries, and search results.
package models

import (
	"fmt"
	"path"
	"strings"
)

// SourceKind tags where a chunk came from. Each kind carries its own chunking
// and formatting strategy.
type SourceKind int

const (
	KindUnknown SourceKind = iota
	KindNote
	KindChatLog
	KindFilesystemTree
)

// String returns the persisted name of the kind.
func (k SourceKind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindChatLog:
		return "chatlog"
	case KindFilesystemTree:
		return "filesystem"
	default:
		return "unknown"
	}
}

// ParseSourceKind is the inverse of String.
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "note":
		return KindNote, nil
	case "chatlog":
		return KindChatLog, nil
	case "filesystem":
		return KindFilesystemTree, nil
	}
	return KindUnknown, fmt.Errorf("unknown source kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds render by name in JSON.
func (k SourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SourceKind) UnmarshalText(b []byte) error {
	parsed, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// KindForPath returns the kind of a workspace-relative source file by its extension.
// Filesystem chunks are never read back by path, so only notes and chat logs resolve.
func KindForPath(rel string) SourceKind {
	switch strings.ToLower(path.Ext(rel)) {
	case ".md":
		return KindNote
	case ".jsonl":
		return KindChatLog
	default:
		return KindUnknown
	}
}

// SourceDescriptor is one indexable file (notes, chat logs) or one filesystem run.
// MTime is in unix nanoseconds and is only used for change detection.
type SourceDescriptor struct {
	Path  string     `json:"path"`
	Kind  SourceKind `json:"kind"`
	MTime int64      `json:"mtime"`
}

// Exchange is one user/assistant turn appended to a transcript.
// SessionID routes the exchange to a private transcript instead of the daily one.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"ts,omitempty"`
}

// Render formats the exchange the way chat chunks and reads present it.
func (e Exchange) Render() string {
	return "User: " + e.User + "\nAssistant: " + e.Assistant
}

// AppendResult reports where a live-appended exchange landed.
type AppendResult struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	ChunkID int64  `json:"chunk_id"`
}

// ReadResult is the text returned for a path read.
type ReadResult struct {
	Path string `json:"path"`
	Text string `json:"text"`
}
