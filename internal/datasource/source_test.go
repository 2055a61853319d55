package datasource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/daviddao/chatview/internal/store"
)

// makeDB creates an empty chat database at path.
func makeDB(t *testing.T, path string) {
	t.Helper()
	s, err := store.New(path)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	s.Close()
}

// chdir switches to dir for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(origWd) })
}

func TestDiscoverFromEnvVar(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	makeDB(t, dbPath)
	t.Setenv(EnvDB, dbPath)

	path, err := Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if path != dbPath {
		t.Errorf("Discover() = %q, want %q", path, dbPath)
	}
}

func TestDiscoverEnvVarMissing(t *testing.T) {
	t.Setenv(EnvDB, "/nonexistent/path/chat.db")

	if _, err := Discover(); err == nil {
		t.Errorf("Discover should fail when %s points to nonexistent file", EnvDB)
	}
}

func TestDiscoverFromCWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, defaultDir), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	makeDB(t, filepath.Join(dir, defaultDB))
	t.Setenv(EnvDB, "")
	chdir(t, dir)

	path, err := Discover()
	if err != nil {
		t.Fatalf("Discover from CWD: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != defaultDir {
		t.Errorf("expected path in %s/, got %q", defaultDir, path)
	}
}

func TestDiscoverFromParentDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, defaultDir), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	dbPath := filepath.Join(dir, defaultDB)
	makeDB(t, dbPath)

	childDir := filepath.Join(dir, "sub", "deep")
	if err := os.MkdirAll(childDir, 0o755); err != nil {
		t.Fatalf("MkdirAll child: %v", err)
	}
	t.Setenv(EnvDB, "")
	chdir(t, childDir)

	path, err := Discover()
	if err != nil {
		t.Fatalf("Discover from parent: %v", err)
	}
	// Resolve symlinks for comparison (macOS /var -> /private/var).
	resolvedPath, _ := filepath.EvalSymlinks(path)
	resolvedExpect, _ := filepath.EvalSymlinks(dbPath)
	if resolvedPath != resolvedExpect {
		t.Errorf("Discover() = %q, want %q", path, dbPath)
	}
}

func TestDiscoverNoDB(t *testing.T) {
	t.Setenv(EnvDB, "")
	chdir(t, t.TempDir())

	if _, err := Discover(); err == nil {
		t.Error("Discover should fail when no database exists")
	}
}

func TestOpenSuccess(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	makeDB(t, dbPath)
	t.Setenv(EnvDB, dbPath)

	st, path, err := Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if path != dbPath {
		t.Errorf("Open path = %q, want %q", path, dbPath)
	}
}

func TestOpenFail(t *testing.T) {
	t.Setenv(EnvDB, "/nonexistent/path/chat.db")

	if _, _, err := Open(); err == nil {
		t.Error("Open should fail when no database exists")
	}
}

func TestOpenOrCreateDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDB, "")
	chdir(t, dir)

	st, path, err := OpenOrCreate()
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	st.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database not created at %q: %v", path, err)
	}
	if filepath.Base(filepath.Dir(path)) != defaultDir {
		t.Errorf("expected path in %s/, got %q", defaultDir, path)
	}
}

func TestOpenOrCreateFromEnvVar(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "chat.db")
	t.Setenv(EnvDB, dbPath)

	st, path, err := OpenOrCreate()
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	st.Close()
	if path != dbPath {
		t.Errorf("path = %q, want %q", path, dbPath)
	}
}
