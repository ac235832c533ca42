package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/store"
)

// countingDir is an in-memory store.Directory that counts what it opens.
type countingDir struct {
	path string

	mu        sync.Mutex
	gen       uint64
	docs      uint64
	locked    bool
	snapshots []*countingSnapshot

	snapshotOpens atomic.Int32
	writerOpens   atomic.Int32
	writerCloses  atomic.Int32
	closes        atomic.Int32
}

func newCountingDir() *countingDir {
	return &countingDir{path: "/mem/index"}
}

// commit publishes a new generation holding n more documents.
func (d *countingDir) commit(n uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.docs += n
	return d.gen
}

func (d *countingDir) Path() string { return d.path }

func (d *countingDir) OpenSnapshot() (store.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshotOpens.Add(1)
	s := &countingSnapshot{gen: d.gen, docs: d.docs}
	s.refs.Store(1)
	d.snapshots = append(d.snapshots, s)
	return s, nil
}

func (d *countingDir) OpenIfChanged(old store.Snapshot) (store.Snapshot, error) {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	if old.Generation() == gen {
		return nil, nil
	}
	return d.OpenSnapshot()
}

func (d *countingDir) OpenWriter() (store.IndexWriter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return nil, errors.WriteLockContention(d.path, nil)
	}
	d.locked = true
	d.writerOpens.Add(1)
	return &countingWriter{dir: d, gen: d.gen}, nil
}

func (d *countingDir) Close() error {
	d.closes.Add(1)
	return nil
}

// open returns the snapshots that are still referenced.
func (d *countingDir) open() []*countingSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*countingSnapshot
	for _, s := range d.snapshots {
		if s.refs.Load() > 0 {
			out = append(out, s)
		}
	}
	return out
}

type countingSnapshot struct {
	gen  uint64
	docs uint64
	refs atomic.Int64
}

func (s *countingSnapshot) Generation() uint64 { return s.gen }

func (s *countingSnapshot) DocCount() (uint64, error) {
	if s.refs.Load() <= 0 {
		return 0, errors.ResourceClosed("snapshot")
	}
	return s.docs, nil
}

func (s *countingSnapshot) Search(context.Context, *bleve.SearchRequest) (*bleve.SearchResult, error) {
	if s.refs.Load() <= 0 {
		return nil, errors.ResourceClosed("snapshot")
	}
	return &bleve.SearchResult{}, nil
}

func (s *countingSnapshot) Document(context.Context, string) (map[string]any, error) {
	return nil, nil
}

func (s *countingSnapshot) IncRef() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *countingSnapshot) Close() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return nil
		}
		if s.refs.CompareAndSwap(n, n-1) {
			return nil
		}
	}
}

func (s *countingSnapshot) closed() bool {
	return s.refs.Load() <= 0
}

type countingWriter struct {
	dir     *countingDir
	mu      sync.Mutex
	pending uint64
	gen     uint64
	closed  bool
}

func (w *countingWriter) Index(string, any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending++
	return nil
}

func (w *countingWriter) Delete(string) error { return nil }

func (w *countingWriter) Commit() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending > 0 {
		w.gen = w.dir.commit(w.pending)
		w.pending = 0
	}
	return w.gen, nil
}

func (w *countingWriter) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = 0
	return nil
}

func (w *countingWriter) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

func (w *countingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.dir.writerCloses.Add(1)
	w.dir.mu.Lock()
	w.dir.locked = false
	w.dir.mu.Unlock()
	return nil
}
