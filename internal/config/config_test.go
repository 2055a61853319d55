package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// inTempDir runs the test from an empty directory so no stray .env is read.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHATVIEW_BACKEND", "CHATVIEW_DB", "CHATVIEW_PG_DSN", "CHATVIEW_TAIL_LIMIT",
		"CHATVIEW_PAGE_SIZE", "CHATVIEW_REFRESH", "CHATVIEW_AUTH_KEY", "CHATVIEW_SESSION",
		"CHATVIEW_LOG_FILE", "CHATVIEW_LOG_LEVEL", "CHATVIEW_LOG_FORMAT", "CHATVIEW_METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendSQLite)
	}
	if cfg.TailLimit != 25 || cfg.PageSize != 25 {
		t.Errorf("limits = %d/%d, want 25/25", cfg.TailLimit, cfg.PageSize)
	}
	if cfg.Refresh != 2*time.Second {
		t.Errorf("Refresh = %s, want 2s", cfg.Refresh)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.AuthKey == "" || cfg.SessionPath == "" || cfg.LogFile == "" {
		t.Errorf("expected defaults for key, session and log file: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate defaults: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	inTempDir(t)
	clearEnv(t)
	t.Setenv("CHATVIEW_TAIL_LIMIT", "50")
	t.Setenv("CHATVIEW_PAGE_SIZE", "10")
	t.Setenv("CHATVIEW_REFRESH", "500ms")
	t.Setenv("CHATVIEW_LOG_LEVEL", "debug")
	t.Setenv("CHATVIEW_LOG_FORMAT", "JSON")
	t.Setenv("CHATVIEW_DB", "/tmp/chat.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TailLimit != 50 || cfg.PageSize != 10 {
		t.Errorf("limits = %d/%d, want 50/10", cfg.TailLimit, cfg.PageSize)
	}
	if cfg.Refresh != 500*time.Millisecond {
		t.Errorf("Refresh = %s, want 500ms", cfg.Refresh)
	}
	if cfg.LogLevel != slog.LevelDebug || !cfg.LogJSON {
		t.Errorf("log settings = %v/%v, want debug/json", cfg.LogLevel, cfg.LogJSON)
	}
	if cfg.DBPath != "/tmp/chat.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	clearEnv(t)
	os.Unsetenv("CHATVIEW_PAGE_SIZE")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CHATVIEW_PAGE_SIZE=7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PageSize != 7 {
		t.Errorf("PageSize = %d, want 7 from .env", cfg.PageSize)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct{ key, value string }{
		{"CHATVIEW_TAIL_LIMIT", "many"},
		{"CHATVIEW_PAGE_SIZE", "1.5"},
		{"CHATVIEW_REFRESH", "soon"},
		{"CHATVIEW_LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			inTempDir(t)
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Backend: BackendSQLite, TailLimit: 25, PageSize: 25, AuthKey: "k"}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "mysql" }, true},
		{"postgres without dsn", func(c *Config) { c.Backend = BackendPostgres }, true},
		{"postgres with dsn", func(c *Config) { c.Backend = BackendPostgres; c.PGDSN = "postgres://x" }, false},
		{"zero tail", func(c *Config) { c.TailLimit = 0 }, true},
		{"negative page", func(c *Config) { c.PageSize = -1 }, true},
		{"negative refresh", func(c *Config) { c.Refresh = -time.Second }, true},
		{"no auth key", func(c *Config) { c.AuthKey = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
