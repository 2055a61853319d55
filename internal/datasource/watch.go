package datasource

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher monitors the chat database directory for changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dbPath   string
	debounce time.Duration
	onChange chan struct{}
	errs     chan error
	done     chan struct{}
}

// NewWatcher creates a watcher for the given database path.
// It watches the parent directory to catch WAL checkpoint writes.
func NewWatcher(dbPath string) (*Watcher, error) {
	return newWatcher(dbPath, defaultDebounce)
}

func newWatcher(dbPath string, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	watcher := &Watcher{
		watcher:  w,
		dbPath:   dbPath,
		debounce: debounce,
		onChange: make(chan struct{}, 1),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}

	go watcher.loop()
	return watcher, nil
}

// Changes returns a channel that receives a signal when the DB changes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.onChange
}

// Errors returns a channel that receives the first error reported by the
// underlying file watcher. The watcher stops after reporting it.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) signal() {
	select {
	case w.onChange <- struct{}{}:
	default: // already signaled, skip
	}
}

// relevant reports whether name is the database or one of its WAL files.
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	db := filepath.Base(w.dbPath)
	return base == db || base == db+"-wal" || base == db+"-shm"
}

func (w *Watcher) loop() {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.signal)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.errs <- err
			return
		}
	}
}
