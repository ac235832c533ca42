package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

// FSWriter is the IndexWriter of an FSDirectory. It edits a private working
// copy of the committed generation; Commit copies the working index into a
// new generation directory and repoints CURRENT at it.
type FSWriter struct {
	dir  *FSDirectory
	lock *writeLock
	path string

	mu     sync.Mutex
	index  bleve.Index
	batch  *bleve.Batch
	dirty  bool // batches applied to the working index since the last commit
	gen    uint64
	closed bool
}

func newFSWriter(d *FSDirectory, lock *writeLock) (*FSWriter, error) {
	rev, err := readCommitPoint(d.root)
	if err != nil {
		return nil, errors.CorruptIndex(d.root, err)
	}
	w := &FSWriter{
		dir:  d,
		lock: lock,
		path: filepath.Join(d.root, workingDir),
		gen:  rev.Generation,
	}
	if err := removeUncommitted(d.root, rev.Generation); err != nil {
		return nil, err
	}
	if err := w.resetWorking(); err != nil {
		return nil, err
	}
	slog.Debug("store_writer_opened", slog.String("path", d.root), slog.Uint64("generation", w.gen))
	return w, nil
}

// resetWorking rebuilds the working index from the committed generation.
func (w *FSWriter) resetWorking() error {
	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("failed to clear working index: %w", err)
	}

	var idx bleve.Index
	var err error
	if w.gen == 0 {
		idx, err = bleve.New(w.path, w.dir.mapping)
	} else {
		if err := copyDir(w.dir.genDir(w.gen), w.path); err != nil {
			return fmt.Errorf("failed to copy generation %d: %w", w.gen, err)
		}
		idx, err = bleve.Open(w.path)
	}
	if err != nil {
		return fmt.Errorf("failed to open working index: %w", err)
	}

	w.index = idx
	w.batch = idx.NewBatch()
	w.dirty = false
	return nil
}

func (w *FSWriter) usable() error {
	if w.closed {
		return errors.ResourceClosed("index writer")
	}
	if w.index == nil {
		return errors.New(errors.ErrCodeIndexFailed, "index writer is unusable after a failed commit", nil)
	}
	return nil
}

// Index adds or replaces a document.
func (w *FSWriter) Index(id string, doc any) error {
	if id == "" {
		return errors.ValidationError("document id is required", nil)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.batch.Index(id, doc); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, fmt.Sprintf("failed to index %q", id), err)
	}
	return w.maybeFlush()
}

// Delete removes a document.
func (w *FSWriter) Delete(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usable(); err != nil {
		return err
	}
	w.batch.Delete(id)
	return w.maybeFlush()
}

func (w *FSWriter) maybeFlush() error {
	if w.batch.Size() < w.dir.opts.MaxBufferedDocs {
		return nil
	}
	return w.flush()
}

func (w *FSWriter) flush() error {
	if w.batch.Size() == 0 {
		return nil
	}
	if err := w.index.Batch(w.batch); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to apply batch", err)
	}
	w.batch.Reset()
	w.dirty = true
	return nil
}

// Commit publishes pending changes as a new generation.
func (w *FSWriter) Commit() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usable(); err != nil {
		return 0, err
	}
	return w.commit()
}

func (w *FSWriter) commit() (uint64, error) {
	if err := w.flush(); err != nil {
		return w.gen, err
	}
	if !w.dirty {
		return w.gen, nil
	}

	count, err := w.index.DocCount()
	if err != nil {
		return w.gen, errors.New(errors.ErrCodeCommitFailed, "failed to count documents", err)
	}
	// Closing persists the working index so it can be copied file by file.
	if err := w.index.Close(); err != nil {
		w.index = nil
		return w.gen, errors.New(errors.ErrCodeCommitFailed, "failed to close working index", err)
	}
	w.index = nil

	next := w.gen + 1
	publishErr := publishDir(w.dir.root, next, w.path)
	if publishErr == nil {
		rev := Revision{Generation: next, DocCount: count, CommittedAt: time.Now().UTC()}
		if publishErr = writeCommitPoint(w.dir.root, rev); publishErr != nil {
			// CURRENT still names w.gen, so gen-next is unreachable.
			_ = os.RemoveAll(w.dir.genDir(next))
		}
	}
	if publishErr != nil {
		slog.Warn("store_commit_failed",
			slog.String("path", w.dir.root),
			slog.Uint64("generation", next),
			slog.String("generation_dir", w.dir.genDir(next)),
			slog.String("error", publishErr.Error()))
	}

	idx, err := bleve.Open(w.path)
	if err != nil {
		return w.gen, errors.New(errors.ErrCodeCommitFailed, "failed to reopen working index", err)
	}
	w.index = idx
	w.batch = idx.NewBatch()

	if publishErr != nil {
		return w.gen, errors.New(errors.ErrCodeCommitFailed, fmt.Sprintf("failed to commit generation %d", next), publishErr)
	}

	w.gen = next
	w.dirty = false
	w.dir.prune(next)

	slog.Info("store_committed",
		slog.String("path", w.dir.root),
		slog.Uint64("generation", next),
		slog.Uint64("doc_count", count))
	return next, nil
}

// Rollback discards buffered and flushed changes since the last commit.
func (w *FSWriter) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ResourceClosed("index writer")
	}

	w.batch.Reset()
	if !w.dirty && w.index != nil {
		return nil
	}
	if w.index != nil {
		_ = w.index.Close()
		w.index = nil
	}
	return w.resetWorking()
}

// Generation returns the last committed generation.
func (w *FSWriter) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

// Close commits pending changes when configured to, closes the working
// index and releases the write lock. Idempotent.
func (w *FSWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	if w.index != nil {
		if w.dir.opts.CommitOnClose {
			if _, err := w.commit(); err != nil {
				firstErr = err
			}
		}
		if w.index != nil {
			if err := w.index.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close working index: %w", err)
			}
			w.index = nil
		}
	}
	if err := w.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}

	slog.Debug("store_writer_closed", slog.String("path", w.dir.root), slog.Uint64("generation", w.gen))
	return firstErr
}

var _ IndexWriter = (*FSWriter)(nil)
