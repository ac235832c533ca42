package daemon

import (
	"context"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/registry"
	"github.com/Aman-CERP/indexhost/pkg/searcher"
)

// pathed is implemented by on-disk stores.
type pathed interface {
	Path() string
}

// Search runs one query against reg. Handles are resolved in a scope of
// their own, so scoped and transient lifetimes end with the call.
//
// Without a mode or fields the index's configured searcher answers;
// otherwise a searcher is built over the index's reader.
func Search(ctx context.Context, reg *registry.Registry, params SearchParams) (*SearchResponse, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.ValidationError("invalid search params", err)
	}
	ix, err := reg.Index(params.Index)
	if err != nil {
		return nil, err
	}
	scope := registry.NewScope()
	defer scope.Close()

	var (
		s       *searcher.Searcher
		release func()
	)
	if params.Mode == "" && len(params.Fields) == 0 {
		s, release, err = ix.Searcher.AcquireSearcher(scope)
		if err != nil {
			return nil, err
		}
	} else {
		mode, _ := searcher.ParseQueryMode(params.Mode)
		reader, rel, err := ix.Reader.AcquireReader(scope)
		if err != nil {
			return nil, err
		}
		release = rel
		opts := []searcher.Option{searcher.WithQueryMode(mode)}
		if len(params.Fields) > 0 {
			opts = append(opts, searcher.WithFields(params.Fields...))
		}
		if s, err = searcher.New(reader, opts...); err != nil {
			release()
			return nil, err
		}
	}
	defer release()

	hits, err := s.Search(ctx, params.Query, params.Limit)
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{
		Index:      ix.Name,
		Generation: s.Generation(),
		Results:    make([]SearchResult, 0, len(hits)),
	}
	for _, h := range hits {
		resp.Results = append(resp.Results, SearchResult{
			ID:           h.ID,
			Score:        h.Score,
			MatchedTerms: h.MatchedTerms,
			Fields:       h.Fields,
		})
	}
	return resp, nil
}

// Stats describes one index of reg.
func Stats(reg *registry.Registry, index string) (*StatsResult, error) {
	ix, err := reg.Index(index)
	if err != nil {
		return nil, err
	}
	scope := registry.NewScope()
	defer scope.Close()

	reader, release, err := ix.Reader.AcquireReader(scope)
	if err != nil {
		return nil, err
	}
	defer release()
	count, err := reader.DocCount()
	if err != nil {
		return nil, err
	}

	res := &StatsResult{
		Index:            ix.Name,
		Generation:       reader.Generation(),
		DocCount:         count,
		ReaderLifetime:   ix.Reader.Lifetime().String(),
		SearcherLifetime: ix.Searcher.Lifetime().String(),
		Writable:         ix.Writer != nil,
	}
	if p, ok := ix.Dir.(pathed); ok {
		res.Path = p.Path()
	}
	return res, nil
}

// Refresh moves the singleton reader of one index to the newest commit.
func Refresh(reg *registry.Registry, index string) (*RefreshResult, error) {
	ix, err := reg.Index(index)
	if err != nil {
		return nil, err
	}
	refreshed, err := ix.Reader.Refresh()
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		Index:      ix.Name,
		Refreshed:  refreshed,
		Generation: ix.Reader.Generation(),
	}, nil
}
