package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/store"
)

type writerSlot struct {
	w store.IndexWriter
}

// WriterRegistration provides the write handle of one index.
//
// A singleton writer is opened on first use and keeps the store's write
// lock until the registration is closed. If the lock is held elsewhere the
// open fails with errors.ErrWriteLockContention and the next call tries
// again.
type WriterRegistration struct {
	index    string
	lifetime Lifetime
	dir      store.Directory

	// writer is read without mu on the hot path.
	writer atomic.Pointer[writerSlot]
	mu     sync.Mutex
	closed bool
}

// NewWriterRegistration creates the writer registration of index over dir.
// The registration does not own dir.
func NewWriterRegistration(index string, dir store.Directory, lifetime Lifetime) *WriterRegistration {
	return &WriterRegistration{
		index:    index,
		lifetime: lifetime,
		dir:      dir,
	}
}

// Lifetime returns the configured lifetime.
func (r *WriterRegistration) Lifetime() Lifetime {
	return r.lifetime
}

// GetWriter returns a write handle according to the registration's
// lifetime. Singleton writers belong to the registration; scoped and
// transient writers are closed, and their lock released, with scope.
func (r *WriterRegistration) GetWriter(scope *Scope) (store.IndexWriter, error) {
	switch r.lifetime {
	case Singleton:
		if slot := r.writer.Load(); slot != nil {
			return slot.w, nil
		}
		return r.openSingleton()
	case Scoped, Transient:
		return provide(scope, scopeKey{RoleWriter, r.index}, r.lifetime, func() (store.IndexWriter, func() error, error) {
			w, err := r.open()
			if err != nil {
				return nil, nil, err
			}
			return w, w.Close, nil
		})
	default:
		return nil, errors.UnsupportedLifetime(RoleWriter, r.index, r.lifetime)
	}
}

// Close closes the singleton writer, committing pending changes if the
// store is configured to, and releases the write lock. Idempotent.
func (r *WriterRegistration) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	slot := r.writer.Swap(nil)
	if slot == nil {
		return nil
	}
	if err := slot.w.Close(); err != nil {
		return err
	}
	slog.Info("writer_closed",
		slog.String("index", r.index),
		slog.Uint64("generation", slot.w.Generation()))
	return nil
}

func (r *WriterRegistration) openSingleton() (store.IndexWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.ResourceClosed("writer registration " + r.index)
	}
	if slot := r.writer.Load(); slot != nil {
		return slot.w, nil
	}

	w, err := r.open()
	if err != nil {
		return nil, err
	}
	r.writer.Store(&writerSlot{w: w})
	return w, nil
}

func (r *WriterRegistration) open() (store.IndexWriter, error) {
	w, err := r.dir.OpenWriter()
	if err != nil {
		status := "error"
		if errors.Is(err, errors.ErrWriteLockContention) {
			status = "contention"
		}
		WriterOpensTotal.WithLabelValues(r.index, r.lifetime.String(), status).Inc()
		slog.Warn("writer_open_failed",
			slog.String("index", r.index),
			slog.String("lifetime", r.lifetime.String()),
			slog.String("error", err.Error()))
		return nil, err
	}
	WriterOpensTotal.WithLabelValues(r.index, r.lifetime.String(), "ok").Inc()
	slog.Info("writer_opened",
		slog.String("index", r.index),
		slog.String("lifetime", r.lifetime.String()),
		slog.Uint64("generation", w.Generation()))
	return w, nil
}
