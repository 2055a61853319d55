// Package store persists chat messages in a local SQLite database.
//
// The database is the append-only message log: the store assigns ids and
// timestamps on insert and answers the two queries the synchronizer needs,
// the newest N messages and the N messages before a cursor.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/daviddao/chatview/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	text              TEXT NOT NULL,
	author_id         TEXT NOT NULL,
	author_avatar_url TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_created_at ON messages (created_at, id);
`

const selectColumns = `SELECT id, text, author_id, author_avatar_url, created_at FROM messages`

// Store is a SQLite-backed message log.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// New opens (creating if needed) the database at path and applies the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends a draft and returns the stored message with its assigned
// id and timestamp.
func (s *Store) Insert(ctx context.Context, d model.Draft) (model.Message, error) {
	created := s.now().UTC()
	m := model.Message{
		ID:              uuid.NewString(),
		Text:            d.Text,
		AuthorID:        d.AuthorID,
		AuthorAvatarURL: d.AuthorAvatarURL,
		CreatedAt:       &created,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, text, author_id, author_avatar_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Text, m.AuthorID, m.AuthorAvatarURL, created.UnixNano())
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// Latest returns the newest limit messages, newest first.
func (s *Store) Latest(ctx context.Context, limit int) ([]model.Message, error) {
	return s.query(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// Before returns up to limit messages strictly older than c, newest first.
func (s *Store) Before(ctx context.Context, c model.Cursor, limit int) ([]model.Message, error) {
	ts := c.CreatedAt.UnixNano()
	return s.query(ctx,
		selectColumns+` WHERE created_at < ? OR (created_at = ? AND id < ?)
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		ts, ts, c.ID, limit)
}

// Count returns the number of stored messages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			m  model.Message
			ns int64
		)
		if err := rows.Scan(&m.ID, &m.Text, &m.AuthorID, &m.AuthorAvatarURL, &ns); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		created := time.Unix(0, ns).UTC()
		m.CreatedAt = &created
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
