package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/store"
)

// Refresher advances a reader to the newest commit.
type Refresher interface {
	Refresh() (bool, error)
}

// Watcher refreshes one index when its commit point changes.
type Watcher struct {
	index       string
	root        string
	commitPoint string
	refresher   Refresher
	opts        Options
	fsw         *fsnotify.Watcher

	refreshes atomic.Uint64

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a watcher for the store at root. root must exist.
func New(index, root string, refresher Refresher, opts Options) (*Watcher, error) {
	if refresher == nil {
		return nil, errors.InternalError("watcher needs a refresher", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("resolve index path %q", root), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("index %q: cannot watch %s", index, abs), err)
	}
	if !info.IsDir() {
		return nil, errors.ConfigError(fmt.Sprintf("index %q: %s is not a directory", index, abs), nil)
	}

	w := &Watcher{
		index:       index,
		root:        abs,
		commitPoint: store.CommitPointPath(abs),
		refresher:   refresher,
		opts:        opts.WithDefaults(),
	}
	if !w.opts.ForcePolling {
		w.fsw = newFsnotify(abs)
		if w.fsw == nil {
			slog.Warn("watch_fsnotify_unavailable",
				slog.String("index", index),
				slog.String("path", abs),
				slog.Duration("poll_interval", w.opts.PollInterval))
		}
	}
	return w, nil
}

func newFsnotify(dir string) *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil
	}
	return fsw
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Index returns the watched index name.
func (w *Watcher) Index() string { return w.index }

// Refreshes returns the number of successful refresh calls so far.
func (w *Watcher) Refreshes() uint64 { return w.refreshes.Load() }

// Run watches until ctx is cancelled. It always returns nil once ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	deb := newDebouncer(w.opts.Debounce, w.refresh)
	defer deb.Stop()

	slog.Info("watch_started",
		slog.String("index", w.index),
		slog.String("path", w.root),
		slog.String("mode", w.Mode()))
	defer slog.Debug("watch_stopped", slog.String("index", w.index))

	if w.fsw != nil {
		defer w.fsw.Close()
		return w.runFsnotify(ctx, deb)
	}
	return w.runPolling(ctx, deb)
}

func (w *Watcher) runFsnotify(ctx context.Context, deb *debouncer) error {
	name := filepath.Base(w.commitPoint)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			deb.Trigger()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error",
				slog.String("index", w.index),
				slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) refresh() {
	changed, err := w.refresher.Refresh()
	if err != nil {
		RefreshesTotal.WithLabelValues(w.index, ResultError).Inc()
		slog.Warn("watch_refresh_failed",
			slog.String("index", w.index),
			slog.String("error", err.Error()))
		return
	}
	w.refreshes.Add(1)

	result := ResultUnchanged
	if changed {
		result = ResultRefreshed
	}
	RefreshesTotal.WithLabelValues(w.index, result).Inc()
	slog.Debug("watch_refreshed",
		slog.String("index", w.index),
		slog.Bool("changed", changed))
}

// Start runs the watcher in a goroutine until Stop or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		w.mu.Lock()
		w.cancel = cancel
		w.done = done
		w.mu.Unlock()

		go func() {
			defer close(done)
			_ = w.Run(runCtx)
		}()
	})
}

// Stop ends the watch and waits for a running refresh.
// Safe to call without Start and more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		cancel, done := w.cancel, w.done
		w.mu.Unlock()

		if cancel == nil {
			if w.fsw != nil {
				_ = w.fsw.Close()
			}
			return
		}
		cancel()
		<-done
	})
}
