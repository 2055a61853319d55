// Package datasource discovers the local chat database and exposes it as a
// live message log.
package datasource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daviddao/chatview/internal/store"
)

const (
	defaultDir = ".chatview"
	defaultDB  = ".chatview/chat.db"

	// EnvDB overrides discovery with an explicit database path.
	EnvDB = "CHATVIEW_DB"
)

// ErrNotFound is returned by Discover when no database exists yet.
var ErrNotFound = errors.New("no chat database found")

// Discover finds the chat database path.
// Priority: CHATVIEW_DB env var > .chatview/chat.db in CWD > walk up parents.
func Discover() (string, error) {
	if env := os.Getenv(EnvDB); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		return "", fmt.Errorf("%s=%q: %w", EnvDB, env, os.ErrNotExist)
	}

	// Check CWD first.
	if _, err := os.Stat(defaultDB); err == nil {
		abs, err := filepath.Abs(defaultDB)
		if err != nil {
			return "", fmt.Errorf("resolve absolute path for %s: %w", defaultDB, err)
		}
		return abs, nil
	}

	// Walk up parent directories.
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, defaultDB)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%w (looked for %s)", ErrNotFound, defaultDB)
}

// Open discovers and opens the chat store.
func Open() (*store.Store, string, error) {
	path, err := Discover()
	if err != nil {
		return nil, "", err
	}
	s, err := store.New(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	return s, path, nil
}

// Create makes a new database at path, or at .chatview/chat.db under the
// working directory when path is empty.
func Create(path string) (*store.Store, string, error) {
	if path == "" {
		abs, err := filepath.Abs(defaultDB)
		if err != nil {
			return nil, "", fmt.Errorf("resolve absolute path for %s: %w", defaultDB, err)
		}
		path = abs
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	s, err := store.New(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	return s, path, nil
}

// OpenOrCreate opens the discovered database, creating the default one in
// the working directory on first run. An explicit CHATVIEW_DB that does not
// exist is created rather than rejected.
func OpenOrCreate() (*store.Store, string, error) {
	s, path, err := Open()
	if err == nil {
		return s, path, nil
	}
	if env := os.Getenv(EnvDB); env != "" && errors.Is(err, os.ErrNotExist) {
		return Create(env)
	}
	if errors.Is(err, ErrNotFound) {
		return Create("")
	}
	return nil, "", err
}
