package daemon

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/indexhost/internal/telemetry"
	"github.com/Aman-CERP/indexhost/pkg/searcher"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing    = "ping"
	MethodStatus  = "status"
	MethodSearch  = "search"
	MethodStats   = "stats"
	MethodRefresh = "refresh"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeIndexNotFound = -32001
	ErrCodeSearchFailed  = -32002
	ErrCodeRefreshFailed = -32003
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// SearchParams are the parameters of the search method.
type SearchParams struct {
	Index string `json:"index"`
	Query string `json:"query"`
	// Limit is the maximum number of results (default: 10).
	Limit int `json:"limit,omitempty"`
	// Mode is "match" or "query_string". Empty uses the index's searcher.
	Mode string `json:"mode,omitempty"`
	// Fields lists stored fields to return with each hit; "*" returns all.
	Fields []string `json:"fields,omitempty"`
}

// Validate checks required fields and normalizes the rest.
func (p *SearchParams) Validate() error {
	if p.Index == "" {
		return fmt.Errorf("index is required")
	}
	if strings.TrimSpace(p.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if p.Limit <= 0 {
		p.Limit = searcher.DefaultLimit
	}
	if _, ok := searcher.ParseQueryMode(p.Mode); !ok {
		return fmt.Errorf("unknown query mode %q", p.Mode)
	}
	return nil
}

// SearchResult is one hit.
type SearchResult struct {
	ID           string         `json:"id"`
	Score        float64        `json:"score"`
	MatchedTerms []string       `json:"matched_terms,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// SearchResponse is the result of the search method.
type SearchResponse struct {
	Index      string         `json:"index"`
	Generation uint64         `json:"generation"`
	Results    []SearchResult `json:"results"`
}

// IndexParams name one index, for stats and refresh.
type IndexParams struct {
	Index string `json:"index"`
}

// Validate checks that the index is set.
func (p *IndexParams) Validate() error {
	if p.Index == "" {
		return fmt.Errorf("index is required")
	}
	return nil
}

// StatsResult describes one hosted index.
type StatsResult struct {
	Index            string `json:"index"`
	Path             string `json:"path,omitempty"`
	Generation       uint64 `json:"generation"`
	DocCount         uint64 `json:"doc_count"`
	ReaderLifetime   string `json:"reader_lifetime"`
	SearcherLifetime string `json:"searcher_lifetime"`
	Writable         bool   `json:"writable"`
	// Replication is set when the index is a replica.
	Replication *PollerStatus `json:"replication,omitempty"`
	// Queries summarizes searches the daemon answered for the index.
	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

// RefreshResult is the result of the refresh method.
type RefreshResult struct {
	Index      string `json:"index"`
	Refreshed  bool   `json:"refreshed"`
	Generation uint64 `json:"generation"`
}

// PollerStatus describes one replication poller.
type PollerStatus struct {
	Index     string `json:"index"`
	ServerURL string `json:"server_url"`
	State     string `json:"state"`
	Attempts  int64  `json:"attempts"`
}

// WatcherStatus describes one commit watcher.
type WatcherStatus struct {
	Index     string `json:"index"`
	Mode      string `json:"mode"`
	Refreshes uint64 `json:"refreshes"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running bool     `json:"running"`
	PID     int      `json:"pid"`
	Uptime  string   `json:"uptime"`
	Version string   `json:"version"`
	Indexes []string `json:"indexes"`
	// ReplicationAddr is the replication server address, empty when disabled.
	ReplicationAddr string          `json:"replication_addr,omitempty"`
	Pollers         []PollerStatus  `json:"pollers,omitempty"`
	Watchers        []WatcherStatus `json:"watchers,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
