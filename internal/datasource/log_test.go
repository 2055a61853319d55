package datasource

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/daviddao/chatview/internal/model"
	"github.com/daviddao/chatview/internal/store"
	"github.com/daviddao/chatview/internal/stream"
)

func newTestLog(t *testing.T) (*Log, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewLog(s, 0, nil), s
}

func receive(t *testing.T, events <-chan stream.TailEvent) stream.TailEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("tail channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for tail event")
	}
	return stream.TailEvent{}
}

func TestSubscribeTailDeliversInitialPage(t *testing.T) {
	l, s := newTestLog(t)
	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.Insert(context.Background(), model.Draft{Text: text, AuthorID: "alice"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := l.SubscribeTail(ctx, 2)
	if err != nil {
		t.Fatalf("SubscribeTail: %v", err)
	}

	ev := receive(t, events)
	if ev.Err != nil {
		t.Fatalf("tail error: %v", ev.Err)
	}
	if len(ev.Page) != 2 || ev.Page[0].Text != "three" || ev.Page[1].Text != "two" {
		t.Errorf("initial page = %+v, want [three two]", ev.Page)
	}
}

func TestSubscribeTailFollowsAppends(t *testing.T) {
	l, _ := newTestLog(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := l.SubscribeTail(ctx, 10)
	if err != nil {
		t.Fatalf("SubscribeTail: %v", err)
	}
	if ev := receive(t, events); len(ev.Page) != 0 {
		t.Fatalf("expected empty initial page, got %d", len(ev.Page))
	}

	sent, err := l.Append(ctx, model.Draft{Text: "hi", AuthorID: "alice"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	ev := receive(t, events)
	if len(ev.Page) != 1 || ev.Page[0].ID != sent.ID {
		t.Errorf("page after append = %+v, want [%s]", ev.Page, sent.ID)
	}
}

func TestSubscribeTailClosesOnCancel(t *testing.T) {
	l, _ := newTestLog(t)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := l.SubscribeTail(ctx, 10)
	if err != nil {
		t.Fatalf("SubscribeTail: %v", err)
	}
	receive(t, events)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("unexpected event after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Error("tail channel not closed after cancel")
	}
}

func TestFetchBefore(t *testing.T) {
	l, s := newTestLog(t)
	var msgs []model.Message
	for _, text := range []string{"one", "two", "three"} {
		m, err := s.Insert(context.Background(), model.Draft{Text: text, AuthorID: "alice"})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		msgs = append(msgs, m)
		time.Sleep(time.Millisecond)
	}

	cursor, _ := model.CursorOf(msgs[2])
	page, err := l.FetchBefore(context.Background(), cursor, 10)
	if err != nil {
		t.Fatalf("FetchBefore: %v", err)
	}
	if len(page) != 2 || page[0].Text != "two" || page[1].Text != "one" {
		t.Errorf("FetchBefore = %+v, want [two one]", page)
	}
}

func TestLogDrivesSynchronizer(t *testing.T) {
	l, s := newTestLog(t)
	for i := 0; i < 5; i++ {
		if _, err := s.Insert(context.Background(), model.Draft{Text: "old", AuthorID: "bob"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	sync := stream.New(l, stream.Options{TailLimit: 2, PageSize: 2})
	if err := sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sync.Stop()

	waitView := func(n int) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for len(sync.CurrentView()) != n {
			if time.Now().After(deadline) {
				t.Fatalf("view has %d messages, want %d", len(sync.CurrentView()), n)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	waitView(2)

	for {
		err := sync.LoadOlder(context.Background())
		if errors.Is(err, stream.ErrBusy) {
			break
		}
		if err != nil {
			t.Fatalf("LoadOlder: %v", err)
		}
	}
	waitView(5)

	if _, err := sync.Append(context.Background(), model.Draft{Text: "new", AuthorID: "alice"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	waitView(6)

	view := sync.CurrentView()
	if !stream.Ordered(view) {
		t.Error("view violates ordering")
	}
	if view[len(view)-1].Text != "new" {
		t.Errorf("newest message = %q, want %q", view[len(view)-1].Text, "new")
	}
	if !sync.Status().Exhausted {
		t.Error("expected backfill to be exhausted")
	}
}
