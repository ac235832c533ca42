// Package registry hands out the reader, searcher and writer handles of
// every configured index according to their lifetimes.
//
// The Registry is an explicit map from index name to that index's three
// registrations, built once at startup from the configuration. Callers
// resolve handles by name through it, passing a Scope for scoped and
// transient lifetimes:
//
//	reg, err := registry.New(cfg)
//	scope := registry.NewScope()
//	defer scope.Close()
//	s, err := reg.Searcher(scope, "catalog")
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/store"
	"github.com/Aman-CERP/indexhost/pkg/searcher"
)

// StoreFactory opens the backing store of an index.
type StoreFactory func(name string, cfg config.IndexConfig) (store.Directory, error)

// DefaultStoreFactory opens an on-disk store at cfg.Path.
func DefaultStoreFactory(name string, cfg config.IndexConfig) (store.Directory, error) {
	opts := store.Options{
		Analyzer:          cfg.Analyzer,
		RetainGenerations: cfg.RetainGenerations,
		CommitOnClose:     true,
	}
	if cfg.Writer != nil {
		opts.MaxBufferedDocs = cfg.Writer.MaxBufferedDocs
		opts.CommitOnClose = cfg.Writer.CommitOnCloseEnabled()
	}
	dir, err := store.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open store of index %q: %w", name, err)
	}
	return dir, nil
}

// Index holds the registrations of one index. Writer is nil for indexes
// without a writer section.
type Index struct {
	Name     string
	Config   config.IndexConfig
	Dir      store.Directory
	Reader   *ReaderRegistration
	Searcher *SearcherRegistration
	Writer   *WriterRegistration
}

func (ix *Index) close() error {
	var errs []error
	if err := ix.Searcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if ix.Writer != nil {
		if err := ix.Writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer: %w", err))
		}
	}
	if err := ix.Reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := ix.Dir.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

type options struct {
	factory      StoreFactory
	searcherOpts []searcher.Option
}

// Option configures New.
type Option func(*options)

// WithStoreFactory replaces DefaultStoreFactory.
func WithStoreFactory(f StoreFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithSearcherOptions sets the options of every searcher built.
func WithSearcherOptions(opts ...searcher.Option) Option {
	return func(o *options) {
		o.searcherOpts = opts
	}
}

// Registry maps index names to their registrations.
type Registry struct {
	indexes map[string]*Index
	names   []string

	closeOnce sync.Once
	closeErr  error
}

// New builds the registrations of every index in cfg and opens their
// stores. Handles themselves are opened lazily on first request.
func New(cfg *config.Config, opts ...Option) (*Registry, error) {
	o := options{factory: DefaultStoreFactory}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{indexes: make(map[string]*Index, len(cfg.Indexes))}
	for _, name := range cfg.IndexNames() {
		ix, err := newIndex(name, cfg.Indexes[name], o)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.indexes[name] = ix
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

func newIndex(name string, cfg config.IndexConfig, o options) (*Index, error) {
	readerLifetime := parseLifetime(name, RoleReader, cfg.ReaderLifetime)
	searcherLifetime := parseLifetime(name, RoleSearcher, cfg.SearcherLifetime)

	dir, err := o.factory(name, cfg)
	if err != nil {
		return nil, err
	}

	ix := &Index{Name: name, Config: cfg, Dir: dir}
	ix.Reader = NewReaderRegistration(name, dir, readerLifetime, cfg.RefreshEnabled())
	ix.Searcher, err = NewSearcherRegistration(name, ix.Reader, searcherLifetime, o.searcherOpts...)
	if err != nil {
		_ = dir.Close()
		return nil, err
	}
	if cfg.Writer != nil {
		ix.Writer = NewWriterRegistration(name, dir, parseLifetime(name, RoleWriter, cfg.Writer.Lifetime))
	}

	slog.Debug("index_registered",
		slog.String("index", name),
		slog.String("path", dir.Path()),
		slog.String("reader", readerLifetime.String()),
		slog.String("searcher", searcherLifetime.String()),
		slog.Bool("writer", ix.Writer != nil))
	return ix, nil
}

// parseLifetime logs unrecognized values; the registration rejects them
// per request.
func parseLifetime(index, role, value string) Lifetime {
	l, ok := ParseLifetime(value)
	if !ok {
		slog.Warn("unsupported_lifetime",
			slog.String("index", index),
			slog.String("role", role),
			slog.String("value", value))
	}
	return l
}

// Names returns the registered index names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Index returns the registrations of name.
func (r *Registry) Index(name string) (*Index, error) {
	ix, ok := r.indexes[name]
	if !ok {
		return nil, errors.IndexNotFound(name)
	}
	return ix, nil
}

// Reader resolves the reader of index name.
func (r *Registry) Reader(scope *Scope, name string) (store.Snapshot, error) {
	ix, ok := r.indexes[name]
	if !ok {
		return nil, errors.MissingRegistration(RoleReader, name)
	}
	return ix.Reader.GetReader(scope)
}

// Searcher resolves the searcher of index name.
func (r *Registry) Searcher(scope *Scope, name string) (*searcher.Searcher, error) {
	ix, ok := r.indexes[name]
	if !ok {
		return nil, errors.MissingRegistration(RoleSearcher, name)
	}
	return ix.Searcher.GetSearcher(scope)
}

// Writer resolves the writer of index name. Indexes configured without a
// writer section fail with errors.ErrMissingRegistration.
func (r *Registry) Writer(scope *Scope, name string) (store.IndexWriter, error) {
	ix, ok := r.indexes[name]
	if !ok || ix.Writer == nil {
		return nil, errors.MissingRegistration(RoleWriter, name)
	}
	return ix.Writer.GetWriter(scope)
}

// Close closes every registration and store. Writers are closed before
// readers so their final commits land. Idempotent.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		for _, name := range r.names {
			if err := r.indexes[name].close(); err != nil {
				errs = append(errs, fmt.Errorf("index %q: %w", name, err))
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
