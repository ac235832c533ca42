package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/pkg/searcher"
)

// acquireAttempts bounds AcquireSearcher's retries when a refresh closes
// the reader between resolving the searcher and referencing its snapshot.
const acquireAttempts = 3

// SearcherRegistration provides query handles over the snapshots of a
// ReaderRegistration.
//
// A singleton searcher is rebuilt only when the reader registration hands
// out a different snapshot than the one the cached searcher wraps.
type SearcherRegistration struct {
	index    string
	lifetime Lifetime
	reader   *ReaderRegistration
	opts     []searcher.Option

	mu     sync.Mutex
	cached *searcher.Searcher
	closed bool
}

// NewSearcherRegistration pairs a searcher registration with reader.
//
// A singleton searcher needs a singleton reader: a scoped or transient
// snapshot is closed with its scope while the cached searcher would outlive
// it. That combination is rejected.
func NewSearcherRegistration(index string, reader *ReaderRegistration, lifetime Lifetime, opts ...searcher.Option) (*SearcherRegistration, error) {
	if reader == nil {
		return nil, errors.MissingRegistration(RoleReader, index)
	}
	if lifetime == Singleton && reader.Lifetime().Valid() && reader.Lifetime() != Singleton {
		return nil, errors.ConfigError(
			fmt.Sprintf("index %q: a singleton searcher cannot wrap a %s reader", index, reader.Lifetime()), nil).
			WithDetail("index", index).
			WithSuggestion("make the reader a singleton or the searcher scoped")
	}
	return &SearcherRegistration{
		index:    index,
		lifetime: lifetime,
		reader:   reader,
		opts:     opts,
	}, nil
}

// Lifetime returns the configured lifetime.
func (s *SearcherRegistration) Lifetime() Lifetime {
	return s.lifetime
}

// GetSearcher returns a searcher according to the registration's lifetime.
//
// Scoped and transient searchers hold a reference on their snapshot until
// scope is closed.
func (s *SearcherRegistration) GetSearcher(scope *Scope) (*searcher.Searcher, error) {
	switch s.lifetime {
	case Singleton:
		return s.singleton(scope)
	case Scoped, Transient:
		return provide(scope, scopeKey{RoleSearcher, s.index}, s.lifetime, func() (*searcher.Searcher, func() error, error) {
			snap, release, err := s.reader.AcquireReader(scope)
			if err != nil {
				return nil, nil, err
			}
			sr, err := searcher.New(snap, s.opts...)
			if err != nil {
				release()
				return nil, nil, err
			}
			return sr, func() error { release(); return nil }, nil
		})
	default:
		return nil, errors.UnsupportedLifetime(RoleSearcher, s.index, s.lifetime)
	}
}

// AcquireSearcher is GetSearcher plus a reference on the searcher's
// snapshot held until release is called, so a concurrent refresh cannot
// close it mid-query.
func (s *SearcherRegistration) AcquireSearcher(scope *Scope) (*searcher.Searcher, func(), error) {
	for range acquireAttempts {
		sr, err := s.GetSearcher(scope)
		if err != nil {
			return nil, nil, err
		}
		snap := sr.Reader()
		if snap.IncRef() {
			var once sync.Once
			return sr, func() { once.Do(func() { _ = snap.Close() }) }, nil
		}
	}
	return nil, nil, errors.ResourceClosed("snapshot")
}

// Close drops the cached searcher. Searchers own no resources, so this
// only prevents further use. Idempotent.
func (s *SearcherRegistration) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cached = nil
	return nil
}

func (s *SearcherRegistration) singleton(scope *Scope) (*searcher.Searcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.ResourceClosed("searcher registration " + s.index)
	}

	reader, err := s.reader.GetReader(scope)
	if err != nil {
		return nil, err
	}
	if s.cached != nil && s.cached.Reader() == reader {
		return s.cached, nil
	}

	sr, err := searcher.New(reader, s.opts...)
	if err != nil {
		return nil, err
	}
	s.cached = sr
	SearcherBuildsTotal.WithLabelValues(s.index).Inc()
	slog.Debug("searcher_built",
		slog.String("index", s.index),
		slog.Uint64("generation", reader.Generation()))
	return sr, nil
}
