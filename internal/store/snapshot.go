package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

// snapshot is a Snapshot backed by a read-only bleve index.
type snapshot struct {
	gen   uint64
	index bleve.Index
	refs  atomic.Int64
	// release runs once when the last reference is dropped.
	release func()
}

func newSnapshot(gen uint64, index bleve.Index, release func()) *snapshot {
	s := &snapshot{gen: gen, index: index, release: release}
	s.refs.Store(1)
	return s
}

func (s *snapshot) Generation() uint64 {
	return s.gen
}

func (s *snapshot) DocCount() (uint64, error) {
	if s.refs.Load() <= 0 {
		return 0, errors.ResourceClosed("snapshot")
	}
	n, err := s.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (s *snapshot) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	if s.refs.Load() <= 0 {
		return nil, errors.ResourceClosed("snapshot")
	}
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "search failed", err)
	}
	return res, nil
}

func (s *snapshot) Document(ctx context.Context, id string) (map[string]any, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{id}), 1, 0, false)
	req.Fields = []string{"*"}
	res, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	fields := res.Hits[0].Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func (s *snapshot) IncRef() bool {
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

// Close drops one reference. Closing a released snapshot is a no-op.
func (s *snapshot) Close() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return nil
		}
		if !s.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n > 1 {
			return nil
		}
		err := s.index.Close()
		if s.release != nil {
			s.release()
		}
		if err != nil {
			return fmt.Errorf("failed to close snapshot %d: %w", s.gen, err)
		}
		return nil
	}
}

var _ Snapshot = (*snapshot)(nil)
