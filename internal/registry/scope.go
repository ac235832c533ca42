package registry

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

// Roles of the handles a registration provides.
const (
	RoleReader   = "reader"
	RoleSearcher = "searcher"
	RoleWriter   = "writer"
)

type scopeKey struct {
	role  string
	index string
}

func (k scopeKey) String() string {
	return k.role + ":" + k.index
}

// Scope is the container for one operation, typically a request.
//
// Scoped handles are created at most once per (role, index) within a scope.
// Transient handles are created on every resolution. Both are closed, in
// reverse creation order, when the scope is closed.
type Scope struct {
	mu      sync.Mutex
	scoped  map[scopeKey]any
	closers []func() error
	closed  bool

	flight singleflight.Group
}

// NewScope returns an open, empty scope.
func NewScope() *Scope {
	return &Scope{scoped: make(map[scopeKey]any)}
}

// Len returns the number of handles the scope will close.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closers)
}

// Close closes every handle created through the scope and returns the
// first error. Idempotent.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.scoped = nil
	s.mu.Unlock()

	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// provide resolves a scoped or transient handle through scope. create
// returns the handle and the func that disposes of it. create runs without
// the scope lock held, so it may resolve other handles through the same
// scope. Concurrent scoped resolutions of one key share a single create.
func provide[T any](scope *Scope, key scopeKey, lifetime Lifetime, create func() (T, func() error, error)) (T, error) {
	var zero T
	if scope == nil {
		return zero, errors.ValidationError(
			fmt.Sprintf("a scope is required for %s %s handles of index %q", lifetime, key.role, key.index), nil)
	}
	if lifetime != Scoped {
		return resolve(scope, key, lifetime, create)
	}

	v, err, _ := scope.flight.Do(key.String(), func() (any, error) {
		h, err := resolve(scope, key, lifetime, create)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// resolve returns the cached scoped handle for key, or creates one and
// registers it with the scope.
func resolve[T any](scope *Scope, key scopeKey, lifetime Lifetime, create func() (T, func() error, error)) (T, error) {
	var zero T
	scope.mu.Lock()
	if scope.closed {
		scope.mu.Unlock()
		return zero, errors.ResourceClosed("scope")
	}
	if lifetime == Scoped {
		if v, ok := scope.scoped[key]; ok {
			scope.mu.Unlock()
			return v.(T), nil
		}
	}
	scope.mu.Unlock()

	v, closeFn, err := create()
	if err != nil {
		return zero, err
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.closed {
		_ = closeFn()
		return zero, errors.ResourceClosed("scope")
	}
	if lifetime == Scoped {
		scope.scoped[key] = v
	}
	scope.closers = append(scope.closers, closeFn)
	return v, nil
}
