// Package stream keeps a local, ordered view of a remote append-only message
// log.
//
// A Synchronizer combines one live tail subscription (the newest N messages,
// re-delivered on every change) with on-demand backward pagination. Pages from
// both channels are folded into the view with Merge, so they may arrive in any
// order without corrupting it. New messages are written through Append but
// only ever enter the view through the tail subscription.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daviddao/chatview/internal/model"
)

const (
	DefaultTailLimit = 25
	DefaultPageSize  = 25
)

// TailEvent is one delivery on a tail subscription: either a page of the
// newest messages (newest first) or a terminal error.
type TailEvent struct {
	Page []model.Message
	Err  error
}

// RemoteLog is the message store the synchronizer reads from and writes to.
type RemoteLog interface {
	// SubscribeTail delivers the newest limit messages on every change until
	// ctx is done, then closes the channel.
	SubscribeTail(ctx context.Context, limit int) (<-chan TailEvent, error)
	// FetchBefore returns up to limit messages strictly older than cursor,
	// newest first. An empty result means nothing older exists.
	FetchBefore(ctx context.Context, cursor model.Cursor, limit int) ([]model.Message, error)
	// Append persists a draft; the log assigns the id and timestamp.
	Append(ctx context.Context, d model.Draft) (model.Message, error)
}

// Identity supplies the author for outgoing messages.
type Identity interface {
	CurrentPrincipal() (*model.Principal, error)
}

// Recorder observes synchronizer activity. telemetry.Metrics implements it.
type Recorder interface {
	TailSnapshot(size int)
	Fetch(result string)
	Append(result string)
	ViewSize(n int)
}

// Fetch and append results passed to Recorder.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

// Options configures a Synchronizer. Zero values select the defaults.
type Options struct {
	TailLimit int
	PageSize  int
	Identity  Identity
	Logger    *slog.Logger
	Recorder  Recorder
}

// State is the synchronizer lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateTailSubscribing
	StateLive
	StatePaginatingBack
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateTailSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StatePaginatingBack:
		return "paginating"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Status is a point-in-time summary for renderers.
type Status struct {
	State     State
	Exhausted bool  // no older messages remain
	Err       error // wraps ErrSubscriptionLost once the tail has failed
}

// Loading reports whether a backward fetch is in flight.
func (s Status) Loading() bool { return s.State == StatePaginatingBack }

// Synchronizer maintains the merged view. It is safe for concurrent use.
type Synchronizer struct {
	log      RemoteLog
	identity Identity
	logger   *slog.Logger
	rec      Recorder
	tail     int
	page     int

	mu        sync.Mutex
	state     State
	exhausted bool
	view      []model.Message
	subErr    error
	cancel    context.CancelFunc
	done      chan struct{}
	changes   chan struct{}
}

// New returns an unstarted Synchronizer over log.
func New(log RemoteLog, opts Options) *Synchronizer {
	s := &Synchronizer{
		log:      log,
		identity: opts.Identity,
		logger:   opts.Logger,
		rec:      opts.Recorder,
		tail:     opts.TailLimit,
		page:     opts.PageSize,
		changes:  make(chan struct{}, 1),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.tail <= 0 {
		s.tail = DefaultTailLimit
	}
	if s.page <= 0 {
		s.page = DefaultPageSize
	}
	return s
}

// Changes returns a channel that receives a signal whenever the view or
// status changes. Signals coalesce; the channel is closed by Stop.
func (s *Synchronizer) Changes() <-chan struct{} {
	return s.changes
}

// Start opens the tail subscription. The view fills once the first snapshot
// arrives. The subscription lives until Stop or until ctx is done.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
	case StateStopped:
		s.mu.Unlock()
		return ErrStopped
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	subCtx, cancel := context.WithCancel(ctx)
	s.state = StateTailSubscribing
	s.cancel = cancel
	s.notifyLocked()
	s.mu.Unlock()

	events, err := s.log.SubscribeTail(subCtx, s.tail)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		cancel()
		return ErrStopped
	}
	if err != nil {
		cancel()
		s.subErr = fmt.Errorf("%w: %w", ErrSubscriptionLost, err)
		s.state = StateStopped
		s.view = nil
		close(s.changes)
		s.logger.Warn("tail subscribe failed", slog.Any("err", err))
		return s.subErr
	}
	s.done = make(chan struct{})
	go s.consume(subCtx, events, s.done)
	return nil
}

func (s *Synchronizer) consume(ctx context.Context, events <-chan TailEvent, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			s.lose(ctx.Err())
			return
		case ev, ok := <-events:
			if !ok {
				s.lose(errors.New("tail closed"))
				return
			}
			if ev.Err != nil {
				s.lose(ev.Err)
				return
			}
			s.applyTail(ev.Page)
		}
	}
}

func (s *Synchronizer) applyTail(page []model.Message) {
	s.rec.TailSnapshot(len(page))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.view = Merge(s.view, page)
	if s.state == StateTailSubscribing {
		s.state = StateLive
	}
	s.rec.ViewSize(len(s.view))
	s.notifyLocked()
	s.logger.Debug("tail snapshot merged", slog.Int("page", len(page)), slog.Int("view", len(s.view)))
}

func (s *Synchronizer) lose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.subErr = fmt.Errorf("%w: %w", ErrSubscriptionLost, err)
	s.notifyLocked()
	s.logger.Warn("tail subscription lost", slog.Any("err", err))
}

// LoadOlder fetches one page of messages older than the oldest confirmed
// message in the view and merges it. It returns ErrBusy without touching the
// log while another fetch is in flight, before the first snapshot, or once
// the log reported that nothing older exists.
func (s *Synchronizer) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return ErrStopped
	case StateUninitialized:
		s.mu.Unlock()
		return ErrNotStarted
	case StateTailSubscribing, StatePaginatingBack:
		s.mu.Unlock()
		return ErrBusy
	}
	if s.exhausted || len(s.view) == 0 {
		s.mu.Unlock()
		return ErrBusy
	}
	cursor, ok := model.CursorOf(s.view[0])
	if !ok {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StatePaginatingBack
	s.notifyLocked()
	s.mu.Unlock()

	page, err := s.log.FetchBefore(ctx, cursor, s.page)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		s.logger.Debug("discarding backfill after stop", slog.Int("page", len(page)))
		return ErrStopped
	}
	s.state = StateLive
	defer s.notifyLocked()
	if err != nil {
		s.rec.Fetch(ResultError)
		s.logger.Warn("backfill failed", slog.Any("err", err))
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if len(page) == 0 {
		s.rec.Fetch(ResultEmpty)
		s.exhausted = true
		s.logger.Debug("backfill exhausted", slog.Int("view", len(s.view)))
		return nil
	}
	s.rec.Fetch(ResultOK)
	s.view = Merge(s.view, page)
	s.rec.ViewSize(len(s.view))
	s.logger.Debug("backfill merged", slog.Int("page", len(page)), slog.Int("view", len(s.view)))
	return nil
}

// Append writes a new message to the log. The view is not touched: the
// message shows up once the tail subscription delivers it.
func (s *Synchronizer) Append(ctx context.Context, d model.Draft) (model.Message, error) {
	s.mu.Lock()
	stopped := s.state == StateStopped
	s.mu.Unlock()
	if stopped {
		return model.Message{}, ErrStopped
	}
	if d.Blank() {
		return model.Message{}, ErrEmptyMessage
	}

	if s.identity != nil {
		p, err := s.identity.CurrentPrincipal()
		if err != nil {
			return model.Message{}, fmt.Errorf("%w: %w", ErrNotSignedIn, err)
		}
		if p == nil {
			return model.Message{}, ErrNotSignedIn
		}
		d.AuthorID = p.ID
		if d.AuthorAvatarURL == "" {
			d.AuthorAvatarURL = p.AvatarURL
		}
	}

	msg, err := s.log.Append(ctx, d)
	if err != nil {
		s.rec.Append(ResultError)
		s.logger.Warn("append failed", slog.String("author", d.AuthorID), slog.Any("err", err))
		return model.Message{}, fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}
	s.rec.Append(ResultOK)
	return msg, nil
}

// CurrentView returns a copy of the merged view. It never waits on the log.
func (s *Synchronizer) CurrentView() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.view...)
}

// Status reports the current lifecycle state.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, Exhausted: s.exhausted, Err: s.subErr}
}

// Stop releases the subscription and discards the view. A fetch still in
// flight is abandoned; its result is dropped when it arrives.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.state = StateStopped
	s.view = nil
	cancel, done := s.cancel, s.done
	close(s.changes)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// notifyLocked signals Changes without blocking. s.mu must be held and the
// synchronizer must not be stopped.
func (s *Synchronizer) notifyLocked() {
	select {
	case s.changes <- struct{}{}:
	default: // already signaled, skip
	}
}

type nopRecorder struct{}

func (nopRecorder) TailSnapshot(int) {}
func (nopRecorder) Fetch(string)     {}
func (nopRecorder) Append(string)    {}
func (nopRecorder) ViewSize(int)     {}
