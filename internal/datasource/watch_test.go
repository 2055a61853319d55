package datasource

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newDBFile writes a placeholder database file and returns its path.
func newDBFile(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	if err := os.WriteFile(dbPath, []byte("db"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return dbPath
}

func TestNewWatcherSuccess(t *testing.T) {
	w, err := NewWatcher(newDBFile(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if w.Changes() == nil {
		t.Error("Changes() returned nil channel")
	}
	if w.Errors() == nil {
		t.Error("Errors() returned nil channel")
	}
}

func TestNewWatcherBadPath(t *testing.T) {
	if _, err := NewWatcher("/nonexistent/dir/chat.db"); err == nil {
		t.Error("NewWatcher should fail for nonexistent directory")
	}
}

func TestWatcherDetectsWrites(t *testing.T) {
	for _, suffix := range []string{"", "-wal"} {
		t.Run("db"+suffix, func(t *testing.T) {
			dbPath := newDBFile(t)
			w, err := NewWatcher(dbPath)
			if err != nil {
				t.Fatalf("NewWatcher: %v", err)
			}
			defer w.Close()

			// Give fsnotify time to start watching.
			time.Sleep(50 * time.Millisecond)

			if err := os.WriteFile(dbPath+suffix, []byte("modified"), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			select {
			case <-w.Changes():
			case <-time.After(2 * time.Second):
				t.Errorf("timed out waiting for change signal on %s write", filepath.Base(dbPath+suffix))
			}
		})
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dbPath := newDBFile(t)
	w, err := newWatcher(dbPath, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("newWatcher: %v", err)
	}
	defer w.Close()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(dbPath, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change signal")
	}
	select {
	case <-w.Changes():
		t.Error("burst of writes produced more than one signal")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dbPath := newDBFile(t)
	w, err := NewWatcher(dbPath)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(50 * time.Millisecond)

	unrelated := filepath.Join(filepath.Dir(dbPath), "other.txt")
	if err := os.WriteFile(unrelated, []byte("noise"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-w.Changes():
		t.Error("unexpected change signal from unrelated file write")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherClose(t *testing.T) {
	w, err := NewWatcher(newDBFile(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
