// Package fileid derives the canonical keys sources are tracked under.
package fileid

import (
	"fmt"
	"path/filepath"
	"strings"
)

const filesystemPrefix = "filesystem:"

// Rel returns the workspace-relative, slash-separated key for absolutePath under root.
// Same file always yields the same key regardless of how the path was spelled.
func Rel(root, absolutePath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(absolutePath))
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", absolutePath, root)
	}
	return rel, nil
}

// FilesystemKey returns the key recording a filesystem run over absRoot.
func FilesystemKey(absRoot string) string {
	return filesystemPrefix + filepath.Clean(absRoot)
}

// IsFilesystemKey reports whether key was produced by FilesystemKey.
func IsFilesystemKey(key string) bool {
	return strings.HasPrefix(key, filesystemPrefix)
}
