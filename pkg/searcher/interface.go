package searcher

import (
	"errors"
)

// ErrNilReader is returned when attempting to create a Searcher without a snapshot.
var ErrNilReader = errors.New("reader snapshot is required")

// DefaultLimit is used when Search is called with a non-positive limit.
const DefaultLimit = 10

// QueryMode selects how query text is interpreted.
type QueryMode int

const (
	// Match analyzes the text with the field analyzer and matches any term.
	Match QueryMode = iota
	// QueryString parses the bleve query-string syntax
	// (field:term, +required, -excluded, "phrases").
	QueryString
)

// String returns the mode name used in configuration and the CLI.
func (m QueryMode) String() string {
	switch m {
	case Match:
		return "match"
	case QueryString:
		return "query_string"
	default:
		return "unknown"
	}
}

// ParseQueryMode maps a mode name back to its QueryMode.
func ParseQueryMode(s string) (QueryMode, bool) {
	switch s {
	case "", "match":
		return Match, true
	case "query_string", "querystring":
		return QueryString, true
	default:
		return Match, false
	}
}

// Result represents a single search hit.
type Result struct {
	// ID is the document id.
	ID string

	// Score is the relevance score normalized against the best hit (0-1].
	Score float64

	// MatchedTerms contains the indexed terms that matched, when the
	// index keeps term vectors.
	MatchedTerms []string

	// Fields holds the stored fields requested with WithFields.
	Fields map[string]any
}
