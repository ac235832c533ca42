// Package telemetry aggregates the queries an index host answers: counts
// per mode, frequent terms, recent zero-result queries, a latency histogram
// and exact repeats. Aggregates are held in memory per index and reported
// through the stats control method.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one answered search.
type QueryEvent struct {
	Index       string
	Query       string
	Mode        string
	ResultCount int
	Latency     time.Duration
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// ExtractTerms extracts searchable terms from a query string.
// Terms are lowercased and filtered to minimum length 3.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable copy of one index's query metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	UniqueQueryCount    int64                   `json:"unique_query_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// ExactRepeatRate returns the fraction of queries seen before.
func (s *Snapshot) ExactRepeatRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ExactRepeatCount) / float64(s.TotalQueries)
}

// Config bounds the in-memory aggregates.
type Config struct {
	TopTermsCapacity      int // max terms tracked (default: 100)
	ZeroResultsCapacity   int // max zero-result queries kept (default: 20)
	RecentQueriesCapacity int // max distinct queries tracked for repeats (default: 500)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   20,
		RecentQueriesCapacity: 500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopTermsCapacity <= 0 {
		c.TopTermsCapacity = d.TopTermsCapacity
	}
	if c.ZeroResultsCapacity <= 0 {
		c.ZeroResultsCapacity = d.ZeroResultsCapacity
	}
	if c.RecentQueriesCapacity <= 0 {
		c.RecentQueriesCapacity = d.RecentQueriesCapacity
	}
	return c
}

// QueryMetrics collects the query metrics of one index. Safe for
// concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	modes           map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	recentQueries   *lru.Cache[string, struct{}]
	totalQueries    int64
	zeroResultCount int64
	exactRepeats    int64
	startTime       time.Time
}

// NewQueryMetrics creates a collector bounded by cfg.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	cfg = cfg.withDefaults()
	// lru.New only fails for a non-positive size.
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	return &QueryMetrics{
		modes:         make(map[string]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:     make(map[LatencyBucket]int64),
		recentQueries: recent,
		startTime:     time.Now(),
	}
}

// Record captures one query.
func (m *QueryMetrics) Record(event QueryEvent) {
	mode := event.Mode
	if mode == "" {
		mode = "default"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.modes[mode]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
	}

	m.latencies[LatencyToBucket(event.Latency)]++

	key := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})
}

// hashQuery normalizes case and surrounding space before hashing.
func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the current metrics. Top terms are ordered by count,
// then term.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &Snapshot{
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		ModeCounts:          maps.Clone(m.modes),
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: maps.Clone(m.latencies),
		ExactRepeatCount:    m.exactRepeats,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
		Since:               m.startTime,
	}
}

// Collector keeps one QueryMetrics per index.
type Collector struct {
	cfg Config

	mu      sync.Mutex
	indexes map[string]*QueryMetrics
}

// NewCollector creates an empty collector.
func NewCollector(cfg Config) *Collector {
	return &Collector{
		cfg:     cfg.withDefaults(),
		indexes: make(map[string]*QueryMetrics),
	}
}

// Record captures event under event.Index.
func (c *Collector) Record(event QueryEvent) {
	c.forIndex(event.Index).Record(event)
}

func (c *Collector) forIndex(index string) *QueryMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.indexes[index]
	if !ok {
		m = NewQueryMetrics(c.cfg)
		c.indexes[index] = m
	}
	return m
}

// Snapshot returns the metrics of index, or nil when it has answered no
// queries.
func (c *Collector) Snapshot(index string) *Snapshot {
	c.mu.Lock()
	m, ok := c.indexes[index]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Snapshot()
}
