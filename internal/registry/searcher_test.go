package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/pkg/searcher"
)

func newSearcherRegistration(t *testing.T, index string, dir *countingDir, readerLifetime, searcherLifetime Lifetime) *SearcherRegistration {
	t.Helper()
	reader := NewReaderRegistration(index, dir, readerLifetime, true)
	t.Cleanup(func() { _ = reader.Close() })
	s, err := NewSearcherRegistration(index, reader, searcherLifetime)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearcher_SingletonReusedWhileReaderUnchanged(t *testing.T) {
	// Given: a singleton searcher over a singleton reader
	dir := newCountingDir()
	s := newSearcherRegistration(t, "searcher-reuse", dir, Singleton, Singleton)

	// When: resolving repeatedly without commits
	first, err := s.GetSearcher(nil)
	require.NoError(t, err)
	for range 10 {
		again, err := s.GetSearcher(nil)
		require.NoError(t, err)
		assert.Same(t, first, again)
	}

	// Then: built once
	assert.Equal(t, float64(1), testutil.ToFloat64(SearcherBuildsTotal.WithLabelValues("searcher-reuse")))
}

func TestSearcher_SingletonRebuiltOncePerReaderChange(t *testing.T) {
	// Given: a singleton searcher
	dir := newCountingDir()
	s := newSearcherRegistration(t, "searcher-rebuild", dir, Singleton, Singleton)
	first, err := s.GetSearcher(nil)
	require.NoError(t, err)

	// When: the store changes and many callers race for the searcher
	dir.commit(2)
	var wg sync.WaitGroup
	got := make([]*searcher.Searcher, 32)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sr, err := s.GetSearcher(nil)
			assert.NoError(t, err)
			got[i] = sr
		}()
	}
	wg.Wait()

	// Then: exactly one new searcher over the new snapshot
	for _, sr := range got {
		assert.Same(t, got[0], sr)
	}
	assert.NotSame(t, first, got[0])
	assert.Equal(t, uint64(1), got[0].Generation())
	assert.Equal(t, float64(2), testutil.ToFloat64(SearcherBuildsTotal.WithLabelValues("searcher-rebuild")))
}

func TestSearcher_ScopedHoldsReaderAcrossRefresh(t *testing.T) {
	// Given: a scoped searcher over a singleton reader
	dir := newCountingDir()
	dir.commit(3)
	s := newSearcherRegistration(t, "catalog", dir, Singleton, Scoped)
	scope := NewScope()

	sr, err := s.GetSearcher(scope)
	require.NoError(t, err)
	again, err := s.GetSearcher(scope)
	require.NoError(t, err)
	assert.Same(t, sr, again)

	// When: the singleton reader moves on
	dir.commit(1)
	_, err = s.reader.Refresh()
	require.NoError(t, err)

	// Then: the scoped searcher still counts its own snapshot
	n, err := sr.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	// And the snapshot is released with the scope
	require.NoError(t, scope.Close())
	_, err = sr.Count(context.Background())
	assert.ErrorIs(t, err, errors.ErrResourceClosed)
}

func TestSearcher_TransientOverTransientReader(t *testing.T) {
	// Given: transient searcher and reader
	dir := newCountingDir()
	s := newSearcherRegistration(t, "catalog", dir, Transient, Transient)
	scope := NewScope()

	// When: resolving twice
	a, err := s.GetSearcher(scope)
	require.NoError(t, err)
	b, err := s.GetSearcher(scope)
	require.NoError(t, err)

	// Then: distinct searchers over distinct snapshots, all closed with the scope
	assert.NotSame(t, a, b)
	assert.NotSame(t, a.Reader(), b.Reader())
	require.NoError(t, scope.Close())
	assert.Empty(t, dir.open())
}

func TestSearcher_AcquireKeepsSnapshotOpen(t *testing.T) {
	// Given: a singleton searcher acquired for a query
	dir := newCountingDir()
	dir.commit(5)
	s := newSearcherRegistration(t, "catalog", dir, Singleton, Singleton)
	sr, release, err := s.AcquireSearcher(nil)
	require.NoError(t, err)

	// When: a refresh supersedes the snapshot mid-query
	dir.commit(1)
	_, err = s.reader.Refresh()
	require.NoError(t, err)

	// Then: the query can finish
	n, err := sr.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
	release()
	_, err = sr.Count(context.Background())
	assert.ErrorIs(t, err, errors.ErrResourceClosed)
}

func TestSearcher_SingletonOverScopedReaderIsRejected(t *testing.T) {
	// Given: a scoped reader
	reader := NewReaderRegistration("catalog", newCountingDir(), Scoped, true)

	// When: pairing it with a singleton searcher
	_, err := NewSearcherRegistration("catalog", reader, Singleton)

	// Then: a configuration error
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
	assert.Contains(t, err.Error(), "scoped reader")
}

func TestSearcher_UnsupportedLifetime(t *testing.T) {
	// Given: a searcher with an unrecognized lifetime
	dir := newCountingDir()
	s := newSearcherRegistration(t, "catalog", dir, Singleton, unknownLifetime)

	// When: resolving
	_, err := s.GetSearcher(NewScope())

	// Then: ErrUnsupportedLifetime, no reader opened
	assert.ErrorIs(t, err, errors.ErrUnsupportedLifetime)
	assert.Equal(t, int32(0), dir.snapshotOpens.Load())
}

func TestSearcher_ReaderErrorPropagates(t *testing.T) {
	// Given: a searcher whose reader has an unrecognized lifetime
	dir := newCountingDir()
	s := newSearcherRegistration(t, "catalog", dir, Lifetime(7), Scoped)

	// When: resolving
	_, err := s.GetSearcher(NewScope())

	// Then: the reader's error reaches the caller
	assert.ErrorIs(t, err, errors.ErrUnsupportedLifetime)
}

func TestSearcher_CloseIsIdempotent(t *testing.T) {
	dir := newCountingDir()
	s := newSearcherRegistration(t, "catalog", dir, Singleton, Singleton)
	_, err := s.GetSearcher(nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetSearcher(nil)
	assert.ErrorIs(t, err, errors.ErrResourceClosed)
}
