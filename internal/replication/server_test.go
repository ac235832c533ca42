package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhost/internal/store"
)

// primary is a store with a committed generation behind a test server.
type primary struct {
	dir    *store.FSDirectory
	writer store.IndexWriter
	srv    *Server
	http   *httptest.Server
	next   int
}

func newPrimary(t *testing.T, opts ...ServerOption) *primary {
	t.Helper()
	dir, err := store.Open(t.TempDir(), store.Options{RetainGenerations: 1})
	require.NoError(t, err)
	w, err := dir.OpenWriter()
	require.NoError(t, err)

	srv, err := NewServer(map[string]store.Source{"catalog": dir}, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())

	p := &primary{dir: dir, writer: w, srv: srv, http: ts}
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
		_ = w.Close()
		_ = dir.Close()
	})
	return p
}

// commit adds n documents and returns the new generation.
func (p *primary) commit(t *testing.T, n int) uint64 {
	t.Helper()
	for range n {
		p.next++
		require.NoError(t, p.writer.Index(fmt.Sprintf("sku-%d", p.next), map[string]any{
			"title": fmt.Sprintf("widget number %d", p.next),
		}))
	}
	gen, err := p.writer.Commit()
	require.NoError(t, err)
	return gen
}

func (p *primary) url() string {
	return p.http.URL + DefaultBasePath
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_UpdateOnEmptyStoreIsNoContent(t *testing.T) {
	p := newPrimary(t)

	status := getJSON(t, p.url()+"/catalog/update?version=0", nil)

	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 0, p.srv.Sessions())
}

func TestServer_UpdateOpensSessionWithChecksums(t *testing.T) {
	// Given: a primary with one commit
	p := newPrimary(t)
	gen := p.commit(t, 3)

	// When: a replica at version 0 asks for an update
	var sess Session
	status := getJSON(t, p.url()+"/catalog/update?version=0", &sess)

	// Then: a session describing the generation
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "catalog", sess.Revision.Index)
	assert.Equal(t, gen, sess.Revision.Generation)
	assert.Equal(t, uint64(3), sess.Revision.DocCount)
	require.NotEmpty(t, sess.Revision.Files)
	names := map[string]bool{}
	for _, f := range sess.Revision.Files {
		names[f.Name] = true
	}
	assert.True(t, names["index_meta.json"])
	assert.Equal(t, 1, p.srv.Sessions())

	// When: the replica is already current
	status = getJSON(t, fmt.Sprintf("%s/catalog/update?version=%d", p.url(), gen), nil)

	// Then: no content
	assert.Equal(t, http.StatusNoContent, status)
}

func TestServer_ObtainStreamsSessionFiles(t *testing.T) {
	// Given: an open session
	p := newPrimary(t)
	p.commit(t, 1)
	var sess Session
	require.Equal(t, http.StatusOK, getJSON(t, p.url()+"/catalog/update", &sess))

	// When: obtaining each file
	for _, f := range sess.Revision.Files {
		resp, err := http.Get(fmt.Sprintf("%s/catalog/obtain?session=%s&file=%s", p.url(), sess.ID, f.Name))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		// Then: the advertised bytes arrive
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body, int(f.Size))
	}

	// And files outside the session are refused
	status := getJSON(t, fmt.Sprintf("%s/catalog/obtain?session=%s&file=../CURRENT", p.url(), sess.ID), nil)
	assert.Equal(t, http.StatusNotFound, status)
	status = getJSON(t, p.url()+"/catalog/obtain?session=nope&file=index_meta.json", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_SessionPinsGenerationUntilRelease(t *testing.T) {
	// Given: a session on generation 1 of a store retaining one generation
	p := newPrimary(t)
	first := p.commit(t, 1)
	var sess Session
	require.Equal(t, http.StatusOK, getJSON(t, p.url()+"/catalog/update", &sess))

	// When: the primary commits twice more
	p.commit(t, 1)
	p.commit(t, 1)

	// Then: the pinned generation is still listed
	files, err := p.dir.Files(first)
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	// When: the session is released and another commit prunes
	assert.Equal(t, http.StatusNoContent, getJSON(t, p.url()+"/catalog/release?session="+sess.ID, nil))
	p.commit(t, 1)

	// Then: the old generation is gone
	assert.Equal(t, 0, p.srv.Sessions())
	_, err = p.dir.Files(first)
	assert.Error(t, err)
}

func TestServer_UpToDateUpdateLeavesGenerationUnpinned(t *testing.T) {
	// Given: a replica already at the primary's generation
	p := newPrimary(t)
	first := p.commit(t, 1)

	// When: it polls for updates
	status := getJSON(t, fmt.Sprintf("%s/catalog/update?version=%d", p.url(), first), nil)

	// Then: nothing is served and the next commit prunes the generation
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 0, p.srv.Sessions())
	p.commit(t, 1)
	_, err := p.dir.Files(first)
	assert.Error(t, err)
}

func TestServer_ExpiredSessionsAreReleased(t *testing.T) {
	// Given: a server with a controllable clock
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	p := newPrimary(t, WithSessionTTL(time.Minute), withClock(clock))
	p.commit(t, 1)
	require.Equal(t, http.StatusOK, getJSON(t, p.url()+"/catalog/update", &Session{}))

	// When: sweeping before and after the TTL
	assert.Equal(t, 0, p.srv.expireSessions())
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	expired := p.srv.expireSessions()

	// Then: the idle session is gone
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, p.srv.Sessions())
}

func TestServer_UnknownIndexAndAction(t *testing.T) {
	p := newPrimary(t)

	assert.Equal(t, http.StatusNotFound, getJSON(t, p.url()+"/orders/update", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, p.url()+"/catalog/explode", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, p.url()+"/catalog/update?version=x", nil))
}

func TestServer_IndexNamesAreCaseInsensitive(t *testing.T) {
	p := newPrimary(t)
	p.commit(t, 1)

	var sess Session
	status := getJSON(t, p.url()+"/CATALOG/update", &sess)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "catalog", sess.Revision.Index)
}

func TestServer_CloseReleasesSessions(t *testing.T) {
	p := newPrimary(t)
	p.commit(t, 1)
	require.Equal(t, http.StatusOK, getJSON(t, p.url()+"/catalog/update", &Session{}))

	require.NoError(t, p.srv.Close())
	require.NoError(t, p.srv.Close())

	assert.Equal(t, 0, p.srv.Sessions())
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, p.url()+"/catalog/update", nil))
}

func TestServer_Health(t *testing.T) {
	p := newPrimary(t)

	var body map[string]any
	status := getJSON(t, p.http.URL+"/health", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ServeAndShutdown(t *testing.T) {
	// Given: a server listening on a random port
	dir, err := store.Open(t.TempDir(), store.DefaultOptions())
	require.NoError(t, err)
	defer dir.Close()
	srv, err := NewServer(map[string]store.Source{"catalog": dir})
	require.NoError(t, err)

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	// When: it answers and is shut down
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	// Then: Serve returns cleanly
	assert.NoError(t, <-errc)
	http.DefaultClient.CloseIdleConnections()
}
