package datasource

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/daviddao/chatview/internal/model"
	"github.com/daviddao/chatview/internal/store"
	"github.com/daviddao/chatview/internal/stream"
)

// Log serves a local store as a stream.RemoteLog. Tail snapshots are
// re-queried whenever the database files change, whenever this process
// appends, and every refresh interval as a fallback for missed file events.
type Log struct {
	store   *store.Store
	path    string
	refresh time.Duration
	logger  *slog.Logger
	local   chan struct{}
}

// NewLog wraps s. A refresh of zero disables polling.
func NewLog(s *store.Store, refresh time.Duration, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:   s,
		path:    s.Path(),
		refresh: refresh,
		logger:  logger,
		local:   make(chan struct{}, 1),
	}
}

func (l *Log) SubscribeTail(ctx context.Context, limit int) (<-chan stream.TailEvent, error) {
	w, err := NewWatcher(l.path)
	if err != nil {
		return nil, err
	}
	first, err := l.store.Latest(ctx, limit)
	if err != nil {
		w.Close()
		return nil, err
	}
	out := make(chan stream.TailEvent)
	go l.tail(ctx, w, limit, first, out)
	return out, nil
}

func (l *Log) tail(ctx context.Context, w *Watcher, limit int, page []model.Message, out chan<- stream.TailEvent) {
	defer close(out)
	defer w.Close()

	var tick <-chan time.Time
	if l.refresh > 0 {
		ticker := time.NewTicker(l.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	send := func(ev stream.TailEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(stream.TailEvent{Page: page}) {
		return
	}
	last := page
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.Errors():
			send(stream.TailEvent{Err: err})
			return
		case <-w.Changes():
		case <-l.local:
		case <-tick:
		}

		page, err := l.store.Latest(ctx, limit)
		if err != nil {
			if ctx.Err() == nil {
				send(stream.TailEvent{Err: err})
			}
			return
		}
		if slices.EqualFunc(page, last, sameMessage) {
			continue
		}
		last = page
		l.logger.Debug("tail changed", slog.Int("page", len(page)))
		if !send(stream.TailEvent{Page: page}) {
			return
		}
	}
}

func sameMessage(a, b model.Message) bool {
	return a.ID == b.ID && model.Compare(a, b) == 0
}

func (l *Log) FetchBefore(ctx context.Context, cursor model.Cursor, limit int) ([]model.Message, error) {
	return l.store.Before(ctx, cursor, limit)
}

// Append inserts the draft and wakes the tail subscription without waiting
// for the file watcher.
func (l *Log) Append(ctx context.Context, d model.Draft) (model.Message, error) {
	m, err := l.store.Insert(ctx, d)
	if err != nil {
		return model.Message{}, err
	}
	select {
	case l.local <- struct{}{}:
	default:
	}
	return m, nil
}
