// Package replication copies committed index generations from a primary
// host to replicas over HTTP.
//
// The primary runs a Server exposing every configured index. A replica runs
// one Poller per index; on every tick the poller asks its Replicator, by
// default an HTTPClient, to pull the newest revision into a fresh staging
// directory and install it into the local store, then refreshes the local
// reader so queries see it.
//
// Protocol, relative to the server's base path:
//
//	GET /{index}/update?version=N        204 if N is current, else a Session
//	GET /{index}/obtain?session=ID&file=F  the bytes of file F
//	GET /{index}/release?session=ID      204, lets the primary prune again
package replication

import (
	"context"
)

// Actions of the replication protocol.
const (
	ActionUpdate  = "update"
	ActionObtain  = "obtain"
	ActionRelease = "release"
)

// Query parameters of the replication protocol.
const (
	ParamVersion = "version"
	ParamSession = "session"
	ParamFile    = "file"
)

// FileEntry describes one file of a revision.
type FileEntry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	CRC32 uint32 `json:"crc32"`
}

// RevisionInfo describes the revision a session pins.
type RevisionInfo struct {
	Index      string      `json:"index"`
	Generation uint64      `json:"generation"`
	DocCount   uint64      `json:"doc_count"`
	Files      []FileEntry `json:"files"`
}

// Session is the server's answer to an update request when the replica is
// behind. The revision stays pinned on the server until released or expired.
type Session struct {
	ID       string       `json:"id"`
	Revision RevisionInfo `json:"revision"`
}

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// PullResult reports what one pull did.
type PullResult struct {
	// Generation is the local generation after the pull.
	Generation uint64
	// Updated is true when a new revision was installed.
	Updated bool
	Files   int
	Bytes   int64
}

// Replicator pulls the newest remote revision into a local store.
//
// Pull stages downloaded files under stagingDir, which the caller creates
// fresh for each attempt and removes afterwards. onApply, if not nil, is
// called once the download is complete and installation starts.
//
// Transport failures are reported as errors.ErrReplicationNetwork; every
// other failure, from a malformed response to a failed install, as
// errors.ErrReplicationApply.
type Replicator interface {
	Pull(ctx context.Context, stagingDir string, onApply func()) (PullResult, error)
}

// Refresher makes the local reader pick up an installed revision.
// registry.ReaderRegistration implements it.
type Refresher interface {
	Refresh() (bool, error)
}
