// chv is a terminal chat client over an append-only message log.
//
// It subscribes to the newest messages, pages backwards through history as
// you scroll up, and appends what you type once you have signed in.
//
// Usage:
//
//	chv                          # Auto-discover or create .chatview/chat.db
//	chv --db <path>              # Use a specific SQLite database
//	chv --backend postgres       # Use CHATVIEW_PG_DSN with LISTEN/NOTIFY
//	chv --json [--pages N]       # Dump the view as JSON and exit
//	chv --sign-in <name>         # Start a session and exit
//	chv --sign-out               # End the session and exit
//	chv --version                # Print version and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/daviddao/chatview/internal/config"
	"github.com/daviddao/chatview/internal/datasource"
	"github.com/daviddao/chatview/internal/identity"
	"github.com/daviddao/chatview/internal/model"
	"github.com/daviddao/chatview/internal/pglog"
	"github.com/daviddao/chatview/internal/snapshot"
	"github.com/daviddao/chatview/internal/stream"
	"github.com/daviddao/chatview/internal/telemetry"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

// jsonOutput is the structure for --json mode.
type jsonOutput struct {
	Source   string                 `json:"source"`
	Snapshot *snapshot.DataSnapshot `json:"snapshot"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chv: config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to chat.db (default: auto-discover)")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "message log backend (sqlite|postgres)")
	flag.StringVar(&cfg.PGDSN, "pg-dsn", cfg.PGDSN, "postgres connection string")
	flag.DurationVar(&cfg.Refresh, "refresh", cfg.Refresh, "polling fallback interval for the sqlite backend")
	flag.IntVar(&cfg.TailLimit, "tail", cfg.TailLimit, "number of newest messages to follow")
	flag.IntVar(&cfg.PageSize, "page", cfg.PageSize, "messages per history page")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	jsonMode := flag.Bool("json", false, "dump the current view as JSON and exit (no TUI)")
	pages := flag.Int("pages", 0, "with --json, history pages to load before dumping")
	signIn := flag.String("sign-in", "", "sign in under this display name and exit")
	avatar := flag.String("avatar", "", "avatar URL for messages you send")
	signOut := flag.Bool("sign-out", false, "sign out and exit")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("chv %s\n", Version)
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "chv: %v\n", err)
		os.Exit(2)
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chv: log: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	sess, err := identity.New(cfg.SessionPath, []byte(cfg.AuthKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "chv: %v\n", err)
		os.Exit(1)
	}

	// Session commands: no log connection needed.
	switch {
	case *signOut:
		if err := sess.SignOut(); err != nil {
			fmt.Fprintf(os.Stderr, "chv: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("signed out")
		return
	case *signIn != "":
		p, err := sess.SignIn(*signIn, *avatar)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chv: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("signed in as %s (%s)\n", p.DisplayName, p.ID)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	remote, source, closeRemote, err := openLog(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chv: %v\n", err)
		os.Exit(1)
	}
	defer closeRemote()

	metrics := telemetry.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server", slog.Any("err", err))
			}
		}()
	}

	newSync := func() *stream.Synchronizer {
		return stream.New(remote, stream.Options{
			TailLimit: cfg.TailLimit,
			PageSize:  cfg.PageSize,
			Identity:  sess,
			Logger:    logger,
			Recorder:  metrics,
		})
	}

	// --json mode: follow the tail until the first snapshot, print, exit.
	if *jsonMode {
		me, _ := sess.CurrentPrincipal()
		jsonCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		snap, err := collectSnapshot(jsonCtx, newSync(), *pages, me)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "chv: %v\n", err)
			os.Exit(1)
		}
		if err := writeJSON(os.Stdout, source, snap); err != nil {
			fmt.Fprintf(os.Stderr, "chv: json: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("starting", slog.String("source", source), slog.String("version", Version))
	m := newModel(newSync, sess, source, *avatar)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	final, err := p.Run()
	if fm, ok := final.(uiModel); ok {
		fm.sync.Stop()
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "chv: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger sends structured logs to the configured file; the terminal
// belongs to the TUI.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler = slog.NewTextHandler(f, opts)
	if cfg.LogJSON {
		h = slog.NewJSONHandler(f, opts)
	}
	logger := slog.New(h).With(slog.String("component", "chv"))
	slog.SetDefault(logger)
	return logger, func() { f.Close() }, nil
}

// openLog connects the configured backend and describes it for the title bar.
func openLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stream.RemoteLog, string, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		l, err := pglog.Connect(ctx, cfg.PGDSN, logger)
		if err != nil {
			return nil, "", nil, fmt.Errorf("postgres: %w", err)
		}
		return l, "postgres", l.Close, nil
	default:
		if cfg.DBPath != "" {
			os.Setenv(datasource.EnvDB, cfg.DBPath)
		}
		s, path, err := datasource.OpenOrCreate()
		if err != nil {
			return nil, "", nil, err
		}
		logger.Info("opened sqlite log", slog.String("path", path))
		return datasource.NewLog(s, cfg.Refresh, logger), path, func() { s.Close() }, nil
	}
}

// collectSnapshot starts s, waits for the first tail snapshot, loads up to
// pages of history and returns the resulting view. s is stopped on return.
func collectSnapshot(ctx context.Context, s *stream.Synchronizer, pages int, me *model.Principal) (*snapshot.DataSnapshot, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	defer s.Stop()

	if err := waitLive(ctx, s); err != nil {
		return nil, err
	}
	for i := 0; i < pages && !s.Status().Exhausted; i++ {
		err := s.LoadOlder(ctx)
		if errors.Is(err, stream.ErrBusy) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return snapshot.Build(s.CurrentView(), s.Status(), me), nil
}

// waitLive blocks until s has merged its first tail snapshot.
func waitLive(ctx context.Context, s *stream.Synchronizer) error {
	for {
		st := s.Status()
		if st.Err != nil {
			return st.Err
		}
		if st.State == stream.StateLive {
			return nil
		}
		select {
		case _, ok := <-s.Changes():
			if !ok {
				return stream.ErrStopped
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for first snapshot: %w", ctx.Err())
		}
	}
}

func writeJSON(w io.Writer, source string, snap *snapshot.DataSnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonOutput{Source: source, Snapshot: snap})
}
