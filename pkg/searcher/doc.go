// Package searcher provides the query-execution handle of an index.
//
// A [Searcher] wraps exactly one store.Snapshot and runs queries against it.
// It owns no resources: the snapshot is opened, shared and closed by whoever
// handed it over, usually a registry.ReaderRegistration. Two searchers are
// interchangeable when they wrap the same snapshot, which is how the
// registry decides whether a cached searcher is still current.
//
// # Usage
//
//	s, err := searcher.New(snapshot,
//	    searcher.WithQueryMode(searcher.QueryString),
//	    searcher.WithFields("title"),
//	)
//	results, err := s.Search(ctx, "title:widget", 10)
//
// # Thread Safety
//
// Searcher is immutable after New and safe for concurrent use.
package searcher
