package searcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/indexhost/internal/store"
)

// Searcher executes queries against one snapshot.
type Searcher struct {
	reader store.Snapshot
	mode   QueryMode
	fields []string
}

// Option configures Searcher.
type Option func(*Searcher)

// WithQueryMode sets how query text is parsed. Default: Match.
func WithQueryMode(m QueryMode) Option {
	return func(s *Searcher) {
		s.mode = m
	}
}

// WithFields selects stored fields to return with each result.
// "*" returns all of them.
func WithFields(fields ...string) Option {
	return func(s *Searcher) {
		s.fields = append([]string(nil), fields...)
	}
}

// New creates a searcher over reader.
//
// Returns ErrNilReader if reader is nil. The searcher does not take a
// reference on reader; the caller keeps it open while searching.
func New(reader store.Snapshot, opts ...Option) (*Searcher, error) {
	if reader == nil {
		return nil, ErrNilReader
	}

	s := &Searcher{reader: reader}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reader returns the snapshot this searcher runs against.
func (s *Searcher) Reader() store.Snapshot {
	return s.reader
}

// Generation returns the generation of the underlying snapshot.
func (s *Searcher) Generation() uint64 {
	return s.reader.Generation()
}

// Search executes query and returns up to limit ranked results.
//
// Returns an empty slice (not nil) for a blank query or no matches.
func (s *Searcher) Search(ctx context.Context, q string, limit int) ([]Result, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	req := bleve.NewSearchRequestOptions(s.buildQuery(q), limit, 0, false)
	req.IncludeLocations = true
	if len(s.fields) > 0 {
		req.Fields = s.fields
	}

	res, err := s.reader.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}
	return convertHits(res), nil
}

// Count returns the number of documents visible to this searcher.
func (s *Searcher) Count(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.reader.DocCount()
}

func (s *Searcher) buildQuery(q string) query.Query {
	if s.mode == QueryString {
		return bleve.NewQueryStringQuery(q)
	}
	return bleve.NewMatchQuery(q)
}

func convertHits(res *bleve.SearchResult) []Result {
	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		score := hit.Score
		if res.MaxScore > 0 {
			score /= res.MaxScore
		}
		results = append(results, Result{
			ID:           hit.ID,
			Score:        score,
			MatchedTerms: matchedTerms(hit.Locations),
			Fields:       hit.Fields,
		})
	}
	return results
}

func matchedTerms(locs search.FieldTermLocationMap) []string {
	if len(locs) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	for _, terms := range locs {
		for term := range terms {
			seen[term] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for term := range seen {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}
