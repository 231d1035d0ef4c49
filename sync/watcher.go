package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

const (
	defaultDebounce = 300 * time.Millisecond
	// maxWaitFactor caps a burst at this many debounce intervals.
	maxWaitFactor = 4
)

// Watch is a running filesystem watch. Events delivers WatchReady first,
// then live events in order; it is closed when the watch ends.
type Watch interface {
	Events() <-chan WatchEvent
	Close() error
}

// WatchFunc starts a watch on root. The watch ends when ctx is done or
// Close is called.
type WatchFunc func(ctx context.Context, root string, m *Matcher) (Watch, error)

// Watcher watches a binding root recursively with fsnotify and reports typed
// events. Writes are debounced: events are held until the tree has been
// quiet for the debounce interval, or for at most maxWaitFactor intervals
// while writes continue, and repeated writes to one file collapse.
type Watcher struct {
	root     string // with trailing separator
	base     string // without
	fs       afero.Fs
	matcher  *Matcher
	debounce time.Duration
	watcher  *fsnotify.Watcher
	events   chan WatchEvent
	dirs     *PathIndex
	files    *PathIndex
}

var _ Watch = (*Watcher)(nil)

// NewFSWatch returns a WatchFunc producing fsnotify watchers that stat
// through fsys.
func NewFSWatch(fsys afero.Fs, debounce time.Duration) WatchFunc {
	return func(ctx context.Context, root string, m *Matcher) (Watch, error) {
		w, err := NewWatcher(fsys, root, m, debounce)
		if err != nil {
			return nil, err
		}
		go w.Run(ctx)
		return w, nil
	}
}

// NewWatcher creates a watcher for root. root must be an existing directory.
func NewWatcher(fsys afero.Fs, root string, m *Matcher, debounce time.Duration) (*Watcher, error) {
	base := strings.TrimSuffix(root, string(filepath.Separator))
	info, err := fsys.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", base)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     base + string(filepath.Separator),
		base:     base,
		fs:       fsys,
		matcher:  m,
		debounce: debounce,
		watcher:  fw,
		events:   make(chan WatchEvent, 64),
		dirs:     NewPathIndex(),
		files:    NewPathIndex(),
	}, nil
}

// Events returns the event stream.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Close closes the underlying fsnotify watcher, which ends Run.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Run enumerates the tree, emits WatchReady and then forwards debounced
// events. Blocks until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	l := sub("watcher")
	defer close(w.events)
	defer w.watcher.Close() //nolint:errcheck

	// Each directory is watched before it is listed, so an entry created
	// during enumeration is either in the snapshot or reported live.
	var watchErrs []WatchEvent
	snap, _, err := Enumerate(w.fs, w.root, w.matcher, func(d string) {
		w.dirs.Add(d)
		if err := w.watcher.Add(d); err != nil {
			watchErrs = append(watchErrs, WatchEvent{Op: WatchError, Path: d, Err: err})
		}
	})
	if err != nil {
		w.emit(ctx, WatchEvent{Op: WatchError, Path: w.base, Err: err})
	}
	for _, ev := range watchErrs {
		w.emit(ctx, ev)
	}
	for dir, names := range snap {
		for _, name := range names {
			if p := filepath.Join(dir, name); !w.dirs.Has(p) {
				w.files.Add(p)
			}
		}
	}

	l.Info("watcher ready", "root", w.base, "dirs", w.dirs.Len(), "files", w.files.Len())
	if !w.emit(ctx, WatchEvent{Op: WatchReady, Path: w.base, Snapshot: snap}) {
		return
	}

	// Debounce timer and pending events. A burst is flushed no later than
	// maxWait after its first event, even if writes keep arriving.
	pending := newPendingEvents()
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	maxWait := w.debounce * maxWaitFactor
	var burstStart time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event, pending)
			now := time.Now()
			if burstStart.IsZero() {
				burstStart = now
			}
			wait := w.debounce
			if left := maxWait - now.Sub(burstStart); left < wait {
				wait = max(left, 0)
			}
			timer.Reset(wait)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			l.Warn("watch error", "root", w.base, "err", err)
			if !w.emit(ctx, WatchEvent{Op: WatchError, Path: w.base, Err: err}) {
				return
			}

		case <-timer.C:
			// Debounce timer fired, flush pending events in arrival order
			burstStart = time.Time{}
			flushed := pending.flush()
			for _, ev := range flushed {
				if !w.emit(ctx, ev) {
					return
				}
			}
			if len(flushed) > 0 {
				l.Debug("flushed events", "root", w.base, "count", len(flushed))
			}
		}
	}
}

func (w *Watcher) emit(ctx context.Context, ev WatchEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) handle(event fsnotify.Event, pending *pendingEvents) {
	p := filepath.Clean(event.Name)
	if !strings.HasPrefix(p, w.root) {
		return
	}
	rel := TargetPath(w.root, p)

	switch {
	case event.Has(fsnotify.Create):
		info, err := w.fs.Stat(p)
		if err != nil {
			return // already gone
		}
		if info.IsDir() {
			w.addTree(p, pending)
			return
		}
		w.touchFile(p, rel, pending)

	case event.Has(fsnotify.Write):
		if w.dirs.Has(p) {
			return
		}
		w.touchFile(p, rel, pending)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if w.dirs.Has(p) {
			for _, child := range w.files.RemoveUnder(p) {
				pending.add(WatchUnlink, child)
			}
			for _, child := range w.dirs.RemoveUnder(p) {
				w.watcher.Remove(child) //nolint:errcheck
				pending.add(WatchUnlinkDir, child)
			}
			w.dirs.Remove(p)
			w.watcher.Remove(p) //nolint:errcheck
			pending.add(WatchUnlinkDir, p)
			return
		}
		if w.files.Has(p) {
			w.files.Remove(p)
			pending.add(WatchUnlink, p)
		}
	}
}

func (w *Watcher) touchFile(p, rel string, pending *pendingEvents) {
	if !w.matcher.Wants(rel, false) {
		return
	}
	if w.files.Has(p) {
		pending.add(WatchChange, p)
		return
	}
	w.files.Add(p)
	pending.add(WatchAdd, p)
}

// addTree starts watching a newly created directory and reports it and any
// entries already inside it.
func (w *Watcher) addTree(dir string, pending *pendingEvents) {
	l := sub("watcher")
	err := afero.Walk(w.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip entries that vanished
		}
		rel := TargetPath(w.root, p)
		if !w.matcher.Wants(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if w.dirs.Has(p) {
				return nil
			}
			w.dirs.Add(p)
			if err := w.watcher.Add(p); err != nil {
				l.Warn("watch add failed", "path", p, "err", err)
			}
			pending.add(WatchAddDir, p)
			return nil
		}
		if !w.files.Has(p) {
			w.files.Add(p)
			pending.add(WatchAdd, p)
		}
		return nil
	})
	if err != nil {
		l.Warn("walk new directory failed", "path", dir, "err", err)
	}
}

// pendingEvents is an ordered buffer of events awaiting the debounce flush.
// File events for the same path collapse: change after add/change is dropped,
// and unlink cancels an unflushed add entirely.
type pendingEvents struct {
	order []*WatchEvent
	last  map[string]*WatchEvent // newest pending file event per path
}

func newPendingEvents() *pendingEvents {
	return &pendingEvents{last: make(map[string]*WatchEvent)}
}

func (q *pendingEvents) add(op WatchOp, p string) {
	prev := q.last[p]
	switch op {
	case WatchChange:
		if prev != nil && (prev.Op == WatchAdd || prev.Op == WatchChange) {
			return
		}
	case WatchAdd:
		if prev != nil && prev.Op == WatchAdd {
			return
		}
	case WatchUnlink:
		if prev != nil && prev.Op == WatchAdd {
			prev.Op = ""
			delete(q.last, p)
			return
		}
		if prev != nil && prev.Op == WatchChange {
			prev.Op = ""
		}
	}

	ev := &WatchEvent{Op: op, Path: p}
	q.order = append(q.order, ev)
	switch op {
	case WatchAdd, WatchChange, WatchUnlink:
		q.last[p] = ev
	}
}

func (q *pendingEvents) flush() []WatchEvent {
	out := make([]WatchEvent, 0, len(q.order))
	for _, ev := range q.order {
		if ev.Op != "" {
			out = append(out, *ev)
		}
	}
	q.order = nil
	q.last = make(map[string]*WatchEvent)
	return out
}
