package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// writerLock is a cross-process exclusive lock next to the database file.
type writerLock struct {
	flock *flock.Flock
}

func acquireWriterLock(dbPath string) (*writerLock, error) {
	lockPath := dbPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(lockPath)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrIndexLocked, lockPath)
	}
	return &writerLock{flock: fl}, nil
}

func (l *writerLock) release() error {
	if l == nil {
		return nil
	}
	return l.flock.Unlock()
}
