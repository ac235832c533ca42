// Package store implements the backing store for one named index: a
// directory of immutable, numbered bleve generations plus a commit point.
//
// Readers open a Snapshot of the committed generation and keep seeing it
// until they reopen. A single IndexWriter per store, guarded by an exclusive
// lock, buffers changes and publishes them as a new generation on Commit.
// Replicas receive generations from a primary through Install.
package store

import (
	"context"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
)

// Directory is a store as seen by the handle registrations.
type Directory interface {
	// Path returns the store root.
	Path() string

	// OpenSnapshot opens the committed generation. The caller owns one
	// reference and must Close it.
	OpenSnapshot() (Snapshot, error)

	// OpenIfChanged returns nil, nil when old is still the committed
	// generation, otherwise a newly opened snapshot. old is not closed.
	OpenIfChanged(old Snapshot) (Snapshot, error)

	// OpenWriter acquires the exclusive write lock and returns a writer.
	// Fails with errors.ErrWriteLockContention if another writer holds it.
	OpenWriter() (IndexWriter, error)

	// Close releases the directory. Snapshots and writers opened from it
	// must be closed first. Idempotent.
	Close() error
}

// Snapshot is an immutable point-in-time view of an index.
//
// Snapshots are reference counted: the opener holds one reference, IncRef
// adds one and Close drops one. The underlying index is closed when the
// count reaches zero; after that every method but Generation fails with
// errors.ErrResourceClosed.
type Snapshot interface {
	Generation() uint64
	DocCount() (uint64, error)
	Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)
	// Document returns the stored fields of id, or nil if it is absent.
	Document(ctx context.Context, id string) (map[string]any, error)
	// IncRef adds a reference. It returns false if the snapshot is
	// already released, in which case no reference was taken.
	IncRef() bool
	Close() error
}

// IndexWriter is the mutable handle of a store. It is safe for concurrent use.
type IndexWriter interface {
	// Index adds or replaces the document with the given id.
	Index(id string, doc any) error
	// Delete removes the document with the given id.
	Delete(id string) error
	// Commit publishes buffered changes as a new generation and returns it.
	// With nothing pending it returns the current generation unchanged.
	Commit() (uint64, error)
	// Rollback discards every change since the last commit.
	Rollback() error
	// Generation returns the last committed generation.
	Generation() uint64
	// Close commits pending changes when commit-on-close is enabled, then
	// releases the write lock. Idempotent.
	Close() error
}

// Options configure a store.
type Options struct {
	// Analyzer is the default bleve analyzer for new indexes, e.g.
	// "standard", "keyword", "en" or CodeAnalyzerName.
	Analyzer string
	// RetainGenerations is how many of the newest generations survive
	// pruning, in addition to any pinned ones. Minimum 1.
	RetainGenerations int
	// MaxBufferedDocs is the batch size at which buffered changes are
	// flushed into the working index.
	MaxBufferedDocs int
	// CommitOnClose makes IndexWriter.Close commit pending changes.
	CommitOnClose bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Analyzer:          "standard",
		RetainGenerations: 2,
		MaxBufferedDocs:   1000,
		CommitOnClose:     true,
	}
}

// Revision describes a committed generation.
type Revision struct {
	Generation  uint64    `json:"generation"`
	DocCount    uint64    `json:"doc_count"`
	CommittedAt time.Time `json:"committed_at"`
}

// FileInfo describes one file of a generation, by slash-separated path
// relative to the generation directory.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Source is the primary side of replication.
type Source interface {
	Revision() (Revision, error)
	Files(gen uint64) ([]FileInfo, error)
	OpenFile(gen uint64, name string) (*os.File, error)
	// Pin keeps gen from being pruned until a matching Unpin.
	Pin(gen uint64) error
	// PinCurrent pins the committed generation and returns its revision.
	// Generation 0 is returned without a pin.
	PinCurrent() (Revision, error)
	Unpin(gen uint64)
}

// Target is the replica side of replication.
type Target interface {
	Revision() (Revision, error)
	// Install validates the bleve index in stagedDir and publishes it as
	// generation gen. stagedDir is consumed.
	Install(ctx context.Context, gen uint64, stagedDir string) error
}
