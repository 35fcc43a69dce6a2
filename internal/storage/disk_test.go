package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSizes(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "index.db")
	if err := os.WriteFile(db, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(db+"-wal", []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := fileSizes(db, db+"-wal", db+"-shm")
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("got %d bytes, want 8", got)
	}

	// Directories are not summed
	got, err = fileSizes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("dir: got %d bytes, want 0", got)
	}
}

func TestSQLiteStorage_DiskUsage(t *testing.T) {
	store := newTestStore(t)
	n, err := store.DiskUsage()
	if err != nil {
		t.Fatal(err)
	}
	if n <= 0 {
		t.Errorf("expected non-zero disk usage, got %d", n)
	}

	mem, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()
	if n, _ := mem.DiskUsage(); n != 0 {
		t.Errorf("in-memory usage = %d, want 0", n)
	}
}
