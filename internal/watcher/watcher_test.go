package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const testDebounce = 150 * time.Millisecond

func startWatcher(t *testing.T, dirs []Dir) (*Watcher, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	w := NewWatcher(dirs, []string{".md", ".jsonl"}, func() { calls.Add(1) }, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, &calls
}

func waitCalls(calls *atomic.Int32, want int32) int32 {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() >= want {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	// Let any extra callbacks land before reporting.
	time.Sleep(2 * testDebounce)
	return calls.Load()
}

func TestWatcher_DebouncesBurstIntoOneCall(t *testing.T) {
	dir := t.TempDir()
	_, calls := startWatcher(t, []Dir{{Path: dir}})

	for i := 0; i < 5; i++ {
		if err := writeFile(filepath.Join(dir, "note.md"), "v"+string(rune('0'+i))); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := waitCalls(calls, 1); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	_, calls := startWatcher(t, []Dir{{Path: dir}})

	if err := writeFile(filepath.Join(dir, "image.png"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(3 * testDebounce)
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestWatcher_RemoveTriggersChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-05-02.jsonl")
	if err := writeFile(path, "{}\n"); err != nil {
		t.Fatal(err)
	}
	_, calls := startWatcher(t, []Dir{{Path: dir}})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if got := waitCalls(calls, 1); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestWatcher_RecursiveNewDirectory(t *testing.T) {
	dir := t.TempDir()
	_, calls := startWatcher(t, []Dir{{Path: dir, Recursive: true}})

	nested := filepath.Join(dir, "projects", "2024")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := writeFile(filepath.Join(nested, "deep.md"), "deep content"); err != nil {
		t.Fatal(err)
	}
	if got := waitCalls(calls, 1); got < 1 {
		t.Errorf("calls = %d, want at least 1", got)
	}
}

func TestWatcher_FlatDirIgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	_, calls := startWatcher(t, []Dir{{Path: dir}})

	if err := writeFile(filepath.Join(sub, "nested.md"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(3 * testDebounce)
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestWatcher_StartCreatesMissingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "chats", "private")
	w, _ := startWatcher(t, []Dir{{Path: root}})

	if _, err := os.Stat(root); err != nil {
		t.Errorf("directory should exist after Start: %v", err)
	}
	if got := w.Directories(); len(got) != 1 || got[0].Path != root {
		t.Errorf("Directories() = %v", got)
	}
}

func TestWatcher_StopDropsPendingChange(t *testing.T) {
	dir := t.TempDir()
	w, calls := startWatcher(t, []Dir{{Path: dir}})

	if err := writeFile(filepath.Join(dir, "note.md"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(3 * testDebounce)
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d after Stop, want 0", got)
	}
}

func TestWatcher_Run_returnsOnCancel(t *testing.T) {
	w := NewWatcher([]Dir{{Path: t.TempDir()}}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOwner(t *testing.T) {
	w := NewWatcher([]Dir{
		{Path: "/ws"},
		{Path: "/ws/memory", Recursive: true},
		{Path: "/ws/chats"},
		{Path: "/ws/chats/private"},
	}, nil, nil)
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/ws/MEMORY.md", "/ws", true},
		{"/ws/memory/a/b/c.md", "/ws/memory", true},
		{"/ws/chats/2024-05-02.jsonl", "/ws/chats", true},
		{"/ws/chats/private/s1.jsonl", "/ws/chats/private", true},
		{"/ws/other/x.md", "", false},
		{"/elsewhere/x.md", "", false},
	}
	for _, tt := range tests {
		got, ok := w.owner(filepath.FromSlash(tt.path))
		if ok != tt.ok || (ok && got.Path != tt.want) {
			t.Errorf("owner(%q) = %q, %v; want %q, %v", tt.path, got.Path, ok, tt.want, tt.ok)
		}
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.md", []string{".md"}, true},
		{"/a/b.MD", []string{"md"}, true},
		{"/a/b.jsonl", []string{".md"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.md", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
