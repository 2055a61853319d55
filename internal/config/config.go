// Package config loads chatview settings from an optional .env file and the
// environment. Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/daviddao/chatview/internal/stream"
)

// Backends for the message log.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds the client settings.
type Config struct {
	Backend string
	DBPath  string // empty: discover .chatview/chat.db
	PGDSN   string

	TailLimit int
	PageSize  int
	Refresh   time.Duration

	AuthKey     string
	SessionPath string

	LogFile     string
	LogLevel    slog.Level
	LogJSON     bool
	MetricsAddr string
}

// Load reads .env (when present) and CHATVIEW_* variables, applying defaults
// for anything unset. Malformed numbers and durations are errors.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	home, _ := os.UserHomeDir()
	cfg := &Config{
		Backend:     getEnv("CHATVIEW_BACKEND", BackendSQLite),
		DBPath:      os.Getenv("CHATVIEW_DB"),
		PGDSN:       os.Getenv("CHATVIEW_PG_DSN"),
		AuthKey:     getEnv("CHATVIEW_AUTH_KEY", "chatview-local-session-key"),
		SessionPath: getEnv("CHATVIEW_SESSION", filepath.Join(home, ".chatview", "session")),
		LogFile:     getEnv("CHATVIEW_LOG_FILE", filepath.Join(os.TempDir(), "chatview.log")),
		LogJSON:     strings.EqualFold(os.Getenv("CHATVIEW_LOG_FORMAT"), "json"),
		MetricsAddr: os.Getenv("CHATVIEW_METRICS_ADDR"),
	}

	var err error
	if cfg.TailLimit, err = getInt("CHATVIEW_TAIL_LIMIT", stream.DefaultTailLimit); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = getInt("CHATVIEW_PAGE_SIZE", stream.DefaultPageSize); err != nil {
		return nil, err
	}
	if cfg.Refresh, err = getDuration("CHATVIEW_REFRESH", 2*time.Second); err != nil {
		return nil, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("CHATVIEW_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("CHATVIEW_LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that flags may have changed after Load.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if c.PGDSN == "" {
			return errors.New("postgres backend requires CHATVIEW_PG_DSN")
		}
	default:
		return fmt.Errorf("unknown backend %q (valid: %s, %s)", c.Backend, BackendSQLite, BackendPostgres)
	}
	if c.TailLimit <= 0 {
		return fmt.Errorf("tail limit must be positive, got %d", c.TailLimit)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.Refresh < 0 {
		return fmt.Errorf("refresh interval must not be negative, got %s", c.Refresh)
	}
	if c.AuthKey == "" {
		return errors.New("CHATVIEW_AUTH_KEY must not be empty")
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, v, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, v, err)
	}
	return d, nil
}
