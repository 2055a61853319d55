// Package streamtest provides an in-memory stream.RemoteLog for tests.
package streamtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daviddao/chatview/internal/model"
	"github.com/daviddao/chatview/internal/stream"
)

// Msg returns a confirmed message created at unix second ts.
func Msg(id string, ts int64) model.Message {
	t := time.Unix(ts, 0).UTC()
	return model.Message{ID: id, Text: "msg " + id, AuthorID: "alice", CreatedAt: &t}
}

// PendingMsg returns a message the log has not confirmed yet.
func PendingMsg(id string) model.Message {
	return model.Message{ID: id, Text: "msg " + id, AuthorID: "alice"}
}

// IDs lists the message ids in order.
func IDs(msgs []model.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

type fetchResult struct {
	page []model.Message
	err  error
}

// Log is a scripted RemoteLog. Tail snapshots are pushed by the test with
// Push; FetchBefore answers come from Queue in order, optionally held back
// until Release is called.
type Log struct {
	SubscribeErr error
	AppendErr    error

	mu       sync.Mutex
	tail     chan stream.TailEvent
	subCtx   context.Context
	results  []fetchResult
	gate     chan struct{}
	fetches  []model.Cursor
	drafts   []model.Draft
	appended int
	now      int64
}

// New returns an empty Log whose appends are stamped from unix second now.
func New(now int64) *Log {
	return &Log{tail: make(chan stream.TailEvent, 16), now: now}
}

func (l *Log) SubscribeTail(ctx context.Context, limit int) (<-chan stream.TailEvent, error) {
	if l.SubscribeErr != nil {
		return nil, l.SubscribeErr
	}
	l.mu.Lock()
	l.subCtx = ctx
	l.mu.Unlock()
	return l.tail, nil
}

// Push delivers a tail snapshot.
func (l *Log) Push(page ...model.Message) {
	l.tail <- stream.TailEvent{Page: page}
}

// Fail delivers a terminal subscription error.
func (l *Log) Fail(err error) {
	l.tail <- stream.TailEvent{Err: err}
}

// Subscribed reports whether SubscribeTail was called with a live context.
func (l *Log) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subCtx != nil && l.subCtx.Err() == nil
}

// Queue scripts the next FetchBefore answer.
func (l *Log) Queue(page []model.Message, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, fetchResult{page: page, err: err})
}

// Hold makes FetchBefore block until Release.
func (l *Log) Hold() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gate = make(chan struct{})
}

// Release unblocks held fetches.
func (l *Log) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gate != nil {
		close(l.gate)
		l.gate = nil
	}
}

func (l *Log) FetchBefore(ctx context.Context, cursor model.Cursor, limit int) ([]model.Message, error) {
	l.mu.Lock()
	l.fetches = append(l.fetches, cursor)
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.results) == 0 {
		return nil, errors.New("streamtest: no fetch result queued")
	}
	r := l.results[0]
	l.results = l.results[1:]
	return r.page, r.err
}

// Fetches returns the cursors FetchBefore was called with.
func (l *Log) Fetches() []model.Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Cursor(nil), l.fetches...)
}

func (l *Log) Append(ctx context.Context, d model.Draft) (model.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drafts = append(l.drafts, d)
	if l.AppendErr != nil {
		return model.Message{}, l.AppendErr
	}
	l.appended++
	l.now++
	t := time.Unix(l.now, 0).UTC()
	return model.Message{
		ID:              fmt.Sprintf("sent-%d", l.appended),
		Text:            d.Text,
		AuthorID:        d.AuthorID,
		AuthorAvatarURL: d.AuthorAvatarURL,
		CreatedAt:       &t,
	}, nil
}

// Drafts returns every draft Append received, including failed ones.
func (l *Log) Drafts() []model.Draft {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Draft(nil), l.drafts...)
}

// StaticIdentity always returns the same principal.
type StaticIdentity struct {
	Principal *model.Principal
	Err       error
}

func (s StaticIdentity) CurrentPrincipal() (*model.Principal, error) {
	return s.Principal, s.Err
}
