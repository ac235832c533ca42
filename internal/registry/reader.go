package registry

import (
	"log/slog"
	"sync"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/store"
)

// ReaderRegistration owns the read snapshots of one index.
//
// With the singleton lifetime it caches one snapshot. When refresh is
// enabled every GetReader asks the store for a newer generation; a newer
// snapshot is fully opened before the cached one is released, so callers
// never see a gap or a half-swapped state.
type ReaderRegistration struct {
	index    string
	lifetime Lifetime
	refresh  bool
	dir      store.Directory

	mu      sync.Mutex
	current store.Snapshot
	closed  bool
}

// NewReaderRegistration creates the reader registration of index over dir.
// The registration does not own dir.
func NewReaderRegistration(index string, dir store.Directory, lifetime Lifetime, refresh bool) *ReaderRegistration {
	return &ReaderRegistration{
		index:    index,
		lifetime: lifetime,
		refresh:  refresh,
		dir:      dir,
	}
}

// Index returns the index name.
func (r *ReaderRegistration) Index() string {
	return r.index
}

// Lifetime returns the configured lifetime.
func (r *ReaderRegistration) Lifetime() Lifetime {
	return r.lifetime
}

// GetReader returns a snapshot according to the registration's lifetime.
//
// Singleton snapshots belong to the registration and must not be closed
// by the caller; use AcquireReader to hold one across a refresh. Scoped
// and transient snapshots belong to scope.
func (r *ReaderRegistration) GetReader(scope *Scope) (store.Snapshot, error) {
	switch r.lifetime {
	case Singleton:
		return r.singleton(false)
	case Scoped, Transient:
		return provide(scope, scopeKey{RoleReader, r.index}, r.lifetime, r.open)
	default:
		return nil, errors.UnsupportedLifetime(RoleReader, r.index, r.lifetime)
	}
}

// AcquireReader is GetReader plus an extra reference held until release is
// called. The snapshot stays usable even if a refresh supersedes it.
func (r *ReaderRegistration) AcquireReader(scope *Scope) (store.Snapshot, func(), error) {
	var (
		snap store.Snapshot
		err  error
	)
	switch r.lifetime {
	case Singleton:
		snap, err = r.singleton(true)
	case Scoped, Transient:
		snap, err = provide(scope, scopeKey{RoleReader, r.index}, r.lifetime, r.open)
		if err == nil && !snap.IncRef() {
			err = errors.ResourceClosed("snapshot")
		}
	default:
		err = errors.UnsupportedLifetime(RoleReader, r.index, r.lifetime)
	}
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { _ = snap.Close() })
	}
	return snap, release, nil
}

// Refresh swaps the cached singleton snapshot for a newer generation if one
// was committed, and reports whether it did. It runs whether or not
// on-access refresh is enabled. Non-singleton registrations and
// registrations that have not opened a snapshot yet have nothing to refresh.
func (r *ReaderRegistration) Refresh() (bool, error) {
	if r.lifetime != Singleton {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, errors.ResourceClosed("reader registration " + r.index)
	}
	if r.current == nil {
		return false, nil
	}
	return r.refreshLocked()
}

// Generation returns the generation of the cached singleton snapshot, or 0
// when none is cached.
func (r *ReaderRegistration) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return 0
	}
	return r.current.Generation()
}

// Close releases the cached snapshot. Idempotent.
func (r *ReaderRegistration) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

func (r *ReaderRegistration) open() (store.Snapshot, func() error, error) {
	snap, err := r.dir.OpenSnapshot()
	if err != nil {
		return nil, nil, err
	}
	return snap, snap.Close, nil
}

func (r *ReaderRegistration) singleton(acquire bool) (store.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.ResourceClosed("reader registration " + r.index)
	}

	if r.current == nil {
		snap, err := r.dir.OpenSnapshot()
		if err != nil {
			return nil, err
		}
		r.current = snap
		ReaderGeneration.WithLabelValues(r.index).Set(float64(snap.Generation()))
		slog.Debug("reader_opened",
			slog.String("index", r.index),
			slog.Uint64("generation", snap.Generation()))
	} else if r.refresh {
		if _, err := r.refreshLocked(); err != nil {
			return nil, err
		}
	}

	// current is open while r.mu is held, so IncRef cannot fail here.
	if acquire && !r.current.IncRef() {
		return nil, errors.ResourceClosed("snapshot")
	}
	return r.current, nil
}

// refreshLocked requires r.mu and a cached snapshot.
func (r *ReaderRegistration) refreshLocked() (bool, error) {
	next, err := r.dir.OpenIfChanged(r.current)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}

	old := r.current
	r.current = next
	if err := old.Close(); err != nil {
		slog.Warn("reader_close_failed",
			slog.String("index", r.index),
			slog.Uint64("generation", old.Generation()),
			slog.String("error", err.Error()))
	}

	ReaderRefreshesTotal.WithLabelValues(r.index).Inc()
	ReaderGeneration.WithLabelValues(r.index).Set(float64(next.Generation()))
	slog.Info("reader_refreshed",
		slog.String("index", r.index),
		slog.Uint64("from_generation", old.Generation()),
		slog.Uint64("to_generation", next.Generation()))
	return true, nil
}
