package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{0, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{499 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{3 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.latency))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"blue", "widget"}, ExtractTerms("  Blue WIDGET of  "))
	assert.Nil(t, ExtractTerms(""))
	assert.Nil(t, ExtractTerms("a to"))
}

func TestQueryMetrics_Record(t *testing.T) {
	// Given: a fresh collector for one index
	m := NewQueryMetrics(DefaultConfig())

	// When: recording three queries, one with no results
	m.Record(QueryEvent{Query: "blue widget", ResultCount: 2, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Query: "red widget", Mode: "query_string", ResultCount: 1, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "gizmo", ResultCount: 0, Latency: 700 * time.Millisecond})

	// Then: the snapshot reflects every aggregate
	s := m.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, map[string]int64{"default": 2, "query_string": 1}, s.ModeCounts)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"gizmo"}, s.ZeroResultQueries)
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP1000])
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "widget", Count: 2}, s.TopTerms[0])
	assert.InDelta(t, 33.33, s.ZeroResultPercentage(), 0.01)
}

func TestQueryMetrics_TopTermsOrderedByCountThenTerm(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	m.Record(QueryEvent{Query: "zeta beta", ResultCount: 1})
	m.Record(QueryEvent{Query: "alpha beta", ResultCount: 1})

	s := m.Snapshot()
	assert.Equal(t, []TermCount{
		{Term: "beta", Count: 2},
		{Term: "alpha", Count: 1},
		{Term: "zeta", Count: 1},
	}, s.TopTerms)
}

func TestQueryMetrics_TopTermsEvictLeastRecentlyUsed(t *testing.T) {
	// Given: room for two terms
	m := NewQueryMetrics(Config{TopTermsCapacity: 2})

	// When: a third term arrives
	m.Record(QueryEvent{Query: "aaa", ResultCount: 1})
	m.Record(QueryEvent{Query: "bbb", ResultCount: 1})
	m.Record(QueryEvent{Query: "ccc", ResultCount: 1})

	// Then: the oldest term is gone
	terms := make([]string, 0, 2)
	for _, tc := range m.Snapshot().TopTerms {
		terms = append(terms, tc.Term)
	}
	assert.ElementsMatch(t, []string{"bbb", "ccc"}, terms)
}

func TestQueryMetrics_ExactRepeats(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	m.Record(QueryEvent{Query: "Widget", ResultCount: 1})
	m.Record(QueryEvent{Query: " widget ", ResultCount: 1})
	m.Record(QueryEvent{Query: "gadget", ResultCount: 1})

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.ExactRepeatCount)
	assert.Equal(t, int64(2), s.UniqueQueryCount)
	assert.InDelta(t, 1.0/3, s.ExactRepeatRate(), 0.001)
}

func TestQueryMetrics_ZeroResultsBounded(t *testing.T) {
	m := NewQueryMetrics(Config{ZeroResultsCapacity: 2})

	for i := 0; i < 5; i++ {
		m.Record(QueryEvent{Query: fmt.Sprintf("miss-%d", i)})
	}

	s := m.Snapshot()
	assert.Equal(t, int64(5), s.ZeroResultCount)
	assert.Equal(t, []string{"miss-3", "miss-4"}, s.ZeroResultQueries)
}

func TestQueryMetrics_EmptySnapshot(t *testing.T) {
	s := NewQueryMetrics(DefaultConfig()).Snapshot()

	assert.Zero(t, s.TotalQueries)
	assert.Zero(t, s.ZeroResultPercentage())
	assert.Zero(t, s.ExactRepeatRate())
	assert.NotNil(t, s.ZeroResultQueries)
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(QueryEvent{Query: fmt.Sprintf("query %d", i), ResultCount: j % 2})
				_ = m.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(1000), s.TotalQueries)
	assert.Equal(t, int64(500), s.ZeroResultCount)
}

func TestCollector_PerIndex(t *testing.T) {
	// Given: a collector
	c := NewCollector(DefaultConfig())

	// When: two indexes answer queries
	c.Record(QueryEvent{Index: "catalog", Query: "widget", ResultCount: 3})
	c.Record(QueryEvent{Index: "catalog", Query: "gadget", ResultCount: 0})
	c.Record(QueryEvent{Index: "docs", Query: "install", ResultCount: 1})

	// Then: each index has its own aggregates
	assert.Equal(t, int64(2), c.Snapshot("catalog").TotalQueries)
	assert.Equal(t, int64(1), c.Snapshot("docs").TotalQueries)
	assert.Nil(t, c.Snapshot("unknown"))
}
