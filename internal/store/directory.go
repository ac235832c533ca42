package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

// readOnlyConfig opens a bleve index without a persister or merger.
var readOnlyConfig = map[string]interface{}{"read_only": true}

// FSDirectory is a store rooted at a local directory:
//
//	<root>/CURRENT           commit point naming the live generation
//	<root>/write.lock        exclusive writer lock
//	<root>/gen-<N>/          bleve index of generation N, never modified
//	<root>/working/          the current writer's private index
//
// Generation 0 means nothing was committed yet and reads as an empty index.
type FSDirectory struct {
	root    string
	opts    Options
	mapping *mapping.IndexMappingImpl

	mu     sync.Mutex
	pins   map[uint64]int
	closed bool
}

// Open opens the store at path, creating the directory if needed.
// Zero-valued options take their defaults, except CommitOnClose.
func Open(path string, opts Options) (*FSDirectory, error) {
	defaults := DefaultOptions()
	if opts.Analyzer == "" {
		opts.Analyzer = defaults.Analyzer
	}
	if opts.RetainGenerations < 1 {
		opts.RetainGenerations = defaults.RetainGenerations
	}
	if opts.MaxBufferedDocs <= 0 {
		opts.MaxBufferedDocs = defaults.MaxBufferedDocs
	}

	m, err := newIndexMapping(opts.Analyzer)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("store %s", path), err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &FSDirectory{
		root:    path,
		opts:    opts,
		mapping: m,
		pins:    make(map[uint64]int),
	}, nil
}

// Path returns the store root.
func (d *FSDirectory) Path() string {
	return d.root
}

// Options returns the effective options.
func (d *FSDirectory) Options() Options {
	return d.opts
}

func (d *FSDirectory) genDir(gen uint64) string {
	return filepath.Join(d.root, genDirName(gen))
}

// OpenSnapshot opens the committed generation read-only.
func (d *FSDirectory) OpenSnapshot() (Snapshot, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.ResourceClosed("store " + d.root)
	}
	rev, err := readCommitPoint(d.root)
	if err != nil {
		d.mu.Unlock()
		return nil, errors.CorruptIndex(d.root, err)
	}
	if rev.Generation == 0 {
		d.mu.Unlock()
		idx, err := bleve.NewMemOnly(d.mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to open empty snapshot: %w", err)
		}
		return newSnapshot(0, idx, nil), nil
	}
	// Pinned under mu so a concurrent prune cannot remove it first.
	d.pins[rev.Generation]++
	d.mu.Unlock()

	gen := rev.Generation
	idx, err := bleve.OpenUsing(d.genDir(gen), readOnlyConfig)
	if err != nil {
		d.Unpin(gen)
		if verr := validateIndexDir(d.genDir(gen)); verr != nil {
			return nil, errors.CorruptIndex(d.genDir(gen), verr)
		}
		return nil, fmt.Errorf("failed to open generation %d: %w", gen, err)
	}

	slog.Debug("store_snapshot_opened",
		slog.String("path", d.root),
		slog.Uint64("generation", gen))
	return newSnapshot(gen, idx, func() { d.Unpin(gen) }), nil
}

// OpenIfChanged returns nil, nil when old still matches CURRENT.
func (d *FSDirectory) OpenIfChanged(old Snapshot) (Snapshot, error) {
	if old == nil {
		return d.OpenSnapshot()
	}
	rev, err := readCommitPoint(d.root)
	if err != nil {
		return nil, errors.CorruptIndex(d.root, err)
	}
	if rev.Generation == old.Generation() {
		return nil, nil
	}
	return d.OpenSnapshot()
}

// OpenWriter acquires the write lock and opens a writer on the committed
// generation. Uncommitted changes of an earlier writer are discarded.
func (d *FSDirectory) OpenWriter() (IndexWriter, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.ResourceClosed("store " + d.root)
	}

	lock := newWriteLock(d.root)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	w, err := newFSWriter(d, lock)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return w, nil
}

// Revision returns the committed generation.
func (d *FSDirectory) Revision() (Revision, error) {
	return readCommitPoint(d.root)
}

// Files lists the files of generation gen.
func (d *FSDirectory) Files(gen uint64) ([]FileInfo, error) {
	dir := d.genDir(gen)
	var files []FileInfo
	err := filepath.WalkDir(dir, func(path string, e os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list generation %d: %w", gen, err)
	}
	return files, nil
}

// OpenFile opens one file of generation gen. name must stay inside the
// generation directory.
func (d *FSDirectory) OpenFile(gen uint64, name string) (*os.File, error) {
	local := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(local) {
		return nil, errors.ValidationError(fmt.Sprintf("invalid file name %q", name), nil)
	}
	return os.Open(filepath.Join(d.genDir(gen), local))
}

// Pin keeps gen from being pruned until a matching Unpin.
func (d *FSDirectory) Pin(gen uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := os.Stat(d.genDir(gen)); err != nil {
		return fmt.Errorf("generation %d is not available: %w", gen, err)
	}
	d.pins[gen]++
	return nil
}

// PinCurrent reads CURRENT and pins the generation it names. Both happen
// under the lock prune takes, so a concurrent commit cannot prune the
// generation between the two.
func (d *FSDirectory) PinCurrent() (Revision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rev, err := readCommitPoint(d.root)
	if err != nil {
		return Revision{}, err
	}
	if rev.Generation == 0 {
		return rev, nil
	}
	if _, err := os.Stat(d.genDir(rev.Generation)); err != nil {
		return Revision{}, fmt.Errorf("generation %d is not available: %w", rev.Generation, err)
	}
	d.pins[rev.Generation]++
	return rev, nil
}

// Unpin releases one Pin of gen.
func (d *FSDirectory) Unpin(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pins[gen] <= 1 {
		delete(d.pins, gen)
		return
	}
	d.pins[gen]--
}

// Install publishes the bleve index in stagedDir as generation gen. The
// index is opened and counted before anything changes locally; the write
// lock is held only while it is moved into place.
func (d *FSDirectory) Install(ctx context.Context, gen uint64, stagedDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIndexDir(stagedDir); err != nil {
		return errors.CorruptIndex(stagedDir, err)
	}
	idx, err := bleve.OpenUsing(stagedDir, readOnlyConfig)
	if err != nil {
		return errors.CorruptIndex(stagedDir, err)
	}
	count, err := idx.DocCount()
	_ = idx.Close()
	if err != nil {
		return errors.CorruptIndex(stagedDir, err)
	}

	lock := newWriteLock(d.root)
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	current, err := readCommitPoint(d.root)
	if err != nil {
		return errors.CorruptIndex(d.root, err)
	}
	if gen <= current.Generation {
		return fmt.Errorf("generation %d is not newer than local generation %d", gen, current.Generation)
	}

	tmp := filepath.Join(d.root, fmt.Sprintf(".install-%d", gen))
	_ = os.RemoveAll(tmp)
	_ = os.RemoveAll(d.genDir(gen))
	if err := moveDir(stagedDir, tmp); err != nil {
		return fmt.Errorf("failed to move staged generation: %w", err)
	}
	if err := os.Rename(tmp, d.genDir(gen)); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to publish generation %d: %w", gen, err)
	}

	rev := Revision{Generation: gen, DocCount: count, CommittedAt: time.Now().UTC()}
	if err := writeCommitPoint(d.root, rev); err != nil {
		return err
	}
	d.prune(gen)

	slog.Info("store_generation_installed",
		slog.String("path", d.root),
		slog.Uint64("generation", gen),
		slog.Uint64("doc_count", count))
	return nil
}

// prune removes generation directories outside the newest RetainGenerations
// that no snapshot or replication session has pinned. Callers hold the
// write lock, so nothing else publishes generations meanwhile.
func (d *FSDirectory) prune(current uint64) {
	gens, err := listGenerations(d.root)
	if err != nil {
		slog.Warn("store_prune_failed", slog.String("path", d.root), slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	oldestKept := uint64(1)
	if current > uint64(d.opts.RetainGenerations) {
		oldestKept = current - uint64(d.opts.RetainGenerations) + 1
	}
	for _, gen := range gens {
		if gen >= oldestKept && gen <= current {
			continue
		}
		if d.pins[gen] > 0 {
			continue
		}
		if err := os.RemoveAll(d.genDir(gen)); err != nil {
			slog.Warn("store_prune_failed",
				slog.String("path", d.root),
				slog.Uint64("generation", gen),
				slog.String("error", err.Error()))
			continue
		}
		slog.Debug("store_generation_pruned", slog.String("path", d.root), slog.Uint64("generation", gen))
	}
}

// Close marks the directory closed. Idempotent.
func (d *FSDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var (
	_ Directory = (*FSDirectory)(nil)
	_ Source    = (*FSDirectory)(nil)
	_ Target    = (*FSDirectory)(nil)
)
