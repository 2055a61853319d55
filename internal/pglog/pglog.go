// Package pglog is a Postgres-backed message log. Inserts fire a NOTIFY on
// the chatview_messages channel; tail subscribers LISTEN on it and re-query
// the newest page on every notification.
package pglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daviddao/chatview/internal/model"
	"github.com/daviddao/chatview/internal/stream"
)

const notifyChannel = "chatview_messages"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS chatview_messages (
		id                UUID PRIMARY KEY,
		text              TEXT NOT NULL,
		author_id         TEXT NOT NULL,
		author_avatar_url TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS chatview_messages_order_idx
		ON chatview_messages (created_at DESC, id DESC)`,
	`CREATE OR REPLACE FUNCTION chatview_messages_notify() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + notifyChannel + `', NEW.id::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS chatview_messages_notify ON chatview_messages`,
	`CREATE TRIGGER chatview_messages_notify AFTER INSERT ON chatview_messages
		FOR EACH ROW EXECUTE FUNCTION chatview_messages_notify()`,
}

// Log implements stream.RemoteLog over a pgx pool.
type Log struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool for dsn, pings it and applies the schema.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	l := &Log{pool: pool, logger: logger}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres log connected", slog.Int("max_conns", int(cfg.MaxConns)))
	return l, nil
}

// Migrate creates the messages table and its notify trigger.
func (l *Log) Migrate(ctx context.Context) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer tx.Rollback(ctx)
	for _, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Close releases the pool.
func (l *Log) Close() { l.pool.Close() }

// Append inserts d; the database assigns created_at.
func (l *Log) Append(ctx context.Context, d model.Draft) (model.Message, error) {
	m := model.Message{
		ID:              uuid.NewString(),
		Text:            d.Text,
		AuthorID:        d.AuthorID,
		AuthorAvatarURL: d.AuthorAvatarURL,
	}
	var created time.Time
	err := l.pool.QueryRow(ctx,
		`INSERT INTO chatview_messages (id, text, author_id, author_avatar_url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		m.ID, m.Text, m.AuthorID, m.AuthorAvatarURL,
	).Scan(&created)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	created = created.UTC()
	m.CreatedAt = &created
	return m, nil
}

// FetchBefore returns up to limit messages older than cursor, newest first.
func (l *Log) FetchBefore(ctx context.Context, cursor model.Cursor, limit int) ([]model.Message, error) {
	return l.query(ctx,
		`SELECT id::text, text, author_id, author_avatar_url, created_at
		 FROM chatview_messages
		 WHERE (created_at, id) < ($1::timestamptz, $2::uuid)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		cursor.CreatedAt, cursor.ID, limit)
}

func (l *Log) latest(ctx context.Context, limit int) ([]model.Message, error) {
	return l.query(ctx,
		`SELECT id::text, text, author_id, author_avatar_url, created_at
		 FROM chatview_messages
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit)
}

func (l *Log) query(ctx context.Context, sql string, args ...any) ([]model.Message, error) {
	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var m model.Message
		var created time.Time
		if err := row.Scan(&m.ID, &m.Text, &m.AuthorID, &m.AuthorAvatarURL, &created); err != nil {
			return m, err
		}
		created = created.UTC()
		m.CreatedAt = &created
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return msgs, nil
}

// SubscribeTail LISTENs for inserts on a dedicated connection and delivers
// the newest limit messages initially and after every notification.
func (l *Log) SubscribeTail(ctx context.Context, limit int) (<-chan stream.TailEvent, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	first, err := l.latest(ctx, limit)
	if err != nil {
		closeHijacked(conn)
		return nil, err
	}

	out := make(chan stream.TailEvent, 1)
	go l.follow(ctx, conn, limit, first, out)
	return out, nil
}

func (l *Log) follow(ctx context.Context, conn *pgxpool.Conn, limit int, first []model.Message, out chan<- stream.TailEvent) {
	defer close(out)
	defer closeHijacked(conn)

	send := func(ev stream.TailEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(stream.TailEvent{Page: first}) {
		return
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("tail listener failed", slog.Any("err", err))
				send(stream.TailEvent{Err: fmt.Errorf("wait for notification: %w", err)})
			}
			return
		}
		l.logger.Debug("tail notification", slog.String("id", n.Payload))

		page, err := l.latest(ctx, limit)
		if err != nil {
			if ctx.Err() == nil {
				send(stream.TailEvent{Err: err})
			}
			return
		}
		if !send(stream.TailEvent{Page: page}) {
			return
		}
	}
}

// closeHijacked takes a LISTENing connection out of the pool and closes it,
// so no pooled connection carries a stale subscription.
func closeHijacked(conn *pgxpool.Conn) {
	c := conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Debug("close listener connection", slog.Any("err", err))
	}
}
