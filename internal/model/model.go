// Package model holds the chat types shared by the synchronizer, the message
// logs and the terminal renderer.
package model

import (
	"strings"
	"time"
)

// DefaultAvatarURL is shown for authors that never set an avatar.
const DefaultAvatarURL = "https://www.gravatar.com/avatar/?d=mp"

// Message is a single chat entry as stored by the log. It is never mutated
// once created; confirming a timestamp produces a new value.
type Message struct {
	ID              string     `json:"id"`
	Text            string     `json:"text"`
	AuthorID        string     `json:"author_id"`
	AuthorAvatarURL string     `json:"author_avatar_url,omitempty"`
	CreatedAt       *time.Time `json:"created_at"` // nil until the log confirms the write
}

// Pending reports whether the log has not yet assigned a timestamp.
func (m Message) Pending() bool { return m.CreatedAt == nil }

// Avatar returns the author's avatar or the default placeholder.
func (m Message) Avatar() string {
	if m.AuthorAvatarURL == "" {
		return DefaultAvatarURL
	}
	return m.AuthorAvatarURL
}

// Compare orders messages by (createdAt, id). Confirmed messages always sort
// before pending ones. Two pending messages compare equal; callers keep
// their arrival order with a stable sort.
func Compare(a, b Message) int {
	switch {
	case a.CreatedAt == nil && b.CreatedAt == nil:
		return 0
	case a.CreatedAt == nil:
		return 1
	case b.CreatedAt == nil:
		return -1
	}
	if c := a.CreatedAt.Compare(*b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Draft is an outgoing message before the log assigns its id and timestamp.
type Draft struct {
	Text            string
	AuthorID        string
	AuthorAvatarURL string
}

// Blank reports whether the draft has no visible text.
func (d Draft) Blank() bool { return strings.TrimSpace(d.Text) == "" }

// Cursor marks the oldest known position in the log. The zero Cursor means
// "no position" and is never sent to a log.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool { return c.ID == "" && c.CreatedAt.IsZero() }

// CursorOf returns the cursor for a confirmed message. ok is false for
// pending messages, which have no position in the log yet.
func CursorOf(m Message) (c Cursor, ok bool) {
	if m.CreatedAt == nil {
		return Cursor{}, false
	}
	return Cursor{CreatedAt: *m.CreatedAt, ID: m.ID}, true
}

// Principal is a signed-in user.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
