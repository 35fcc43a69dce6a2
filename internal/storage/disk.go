package storage

import (
	"errors"
	"io/fs"
	"os"
)

// DiskUsage returns the bytes used by the database and its WAL side files.
// An in-memory database reports 0.
func (s *SQLiteStorage) DiskUsage() (int64, error) {
	if s.path == ":memory:" {
		return 0, nil
	}
	return fileSizes(s.path, s.path+"-wal", s.path+"-shm")
}

// fileSizes sums the sizes of paths. Missing files count as 0.
func fileSizes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}
