package replication

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/store"
)

// Server defaults.
const (
	DefaultBasePath          = "/replicate"
	DefaultSessionTTL        = 30 * time.Minute
	DefaultChecksumCacheSize = 4096
)

type checksumKey struct {
	index string
	gen   uint64
	name  string
}

type session struct {
	id      string
	index   string
	gen     uint64
	files   map[string]FileEntry
	expires time.Time
}

type sourceEntry struct {
	name string
	src  store.Source
}

// Server exposes the committed generations of local stores to replicas.
//
// Every update that finds the replica behind opens a session pinning the
// current generation, so the primary cannot prune files a replica is still
// downloading. Sessions end on release, on expiry, or on Close.
type Server struct {
	sources  map[string]sourceEntry // keyed by lower-case index name
	basePath string
	ttl      time.Duration
	now      func() time.Time

	checksums *lru.Cache[checksumKey, uint32]
	engine    *gin.Engine

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	httpServer *http.Server
	stopSweep  chan struct{}
	sweepOnce  sync.Once
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// ServerOption configures Server.
type ServerOption func(*Server)

// WithBasePath sets the URL prefix of the protocol routes.
func WithBasePath(p string) ServerOption {
	return func(s *Server) {
		s.basePath = p
	}
}

// WithSessionTTL sets how long an idle session pins its generation.
func WithSessionTTL(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func withClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a server for sources, keyed by index name. Index names
// are matched case-insensitively.
func NewServer(sources map[string]store.Source, opts ...ServerOption) (*Server, error) {
	s := &Server{
		sources:   make(map[string]sourceEntry, len(sources)),
		basePath:  DefaultBasePath,
		ttl:       DefaultSessionTTL,
		now:       time.Now,
		sessions:  make(map[string]*session),
		stopSweep: make(chan struct{}),
	}
	for name, src := range sources {
		key := strings.ToLower(name)
		if _, dup := s.sources[key]; dup {
			return nil, errors.ConfigError(fmt.Sprintf("replication: index names %q collide", name), nil)
		}
		s.sources[key] = sourceEntry{name: name, src: src}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.basePath = "/" + strings.Trim(s.basePath, "/")

	cache, err := lru.New[checksumKey, uint32](DefaultChecksumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create checksum cache: %w", err)
	}
	s.checksums = cache
	s.engine = s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "indexes": len(s.sources)})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := router.Group(s.basePath)
	group.GET("/:index/:action", s.handle)
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("replication_request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

// Handler returns the HTTP handler serving the protocol, /health and
// /metrics.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve serves on ln until Shutdown or Close. It starts the session sweeper.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.startSweeper()
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	slog.Info("replication_server_started",
		slog.String("addr", ln.Addr().String()),
		slog.String("base_path", s.basePath),
		slog.Int("indexes", len(s.sources)))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("replication server: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.ErrCodeNetworkUnavailable, "listen on "+addr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close stops serving, releases every session and stops the sweeper.
// Idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		srv := s.httpServer
		s.mu.Unlock()

		if srv != nil {
			_ = srv.Close()
		}
		close(s.stopSweep)
		s.wg.Wait()

		s.mu.Lock()
		sessions := s.sessions
		s.sessions = make(map[string]*session)
		s.mu.Unlock()

		for _, sess := range sessions {
			s.unpin(sess)
		}
		ServerSessions.Set(0)
	})
	return nil
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) startSweeper() {
	s.sweepOnce.Do(func() {
		interval := s.ttl / 2
		if interval < time.Second {
			interval = time.Second
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.stopSweep:
					return
				case <-ticker.C:
					s.expireSessions()
				}
			}
		}()
	})
}

// expireSessions releases sessions idle for longer than the TTL.
func (s *Server) expireSessions() int {
	now := s.now()

	s.mu.Lock()
	var expired []*session
	for id, sess := range s.sessions {
		if now.After(sess.expires) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	ServerSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	for _, sess := range expired {
		s.unpin(sess)
		slog.Info("replication_session_expired",
			slog.String("index", sess.index),
			slog.String("session", sess.id),
			slog.Uint64("generation", sess.gen))
	}
	return len(expired)
}

func (s *Server) unpin(sess *session) {
	if entry, ok := s.sources[strings.ToLower(sess.index)]; ok {
		entry.src.Unpin(sess.gen)
	}
}

func (s *Server) handle(c *gin.Context) {
	entry, ok := s.sources[strings.ToLower(c.Param("index"))]
	if !ok {
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown index: " + c.Param("index")})
		return
	}

	switch c.Param("action") {
	case ActionUpdate:
		s.handleUpdate(c, entry)
	case ActionObtain:
		s.handleObtain(c, entry)
	case ActionRelease:
		s.handleRelease(c)
	default:
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown action: " + c.Param("action")})
	}
}

func (s *Server) handleUpdate(c *gin.Context, entry sourceEntry) {
	var version uint64
	if v := c.Query(ParamVersion); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid version: " + v})
			return
		}
		version = n
	}

	// The generation is pinned as it is read so a commit cannot prune it
	// before the session holds it.
	rev, err := entry.src.PinCurrent()
	if err != nil {
		s.internalError(c, entry.name, "pin generation", err)
		return
	}
	if rev.Generation == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	if rev.Generation <= version {
		entry.src.Unpin(rev.Generation)
		c.Status(http.StatusNoContent)
		return
	}

	files, err := s.describeFiles(entry, rev.Generation)
	if err != nil {
		entry.src.Unpin(rev.Generation)
		s.internalError(c, entry.name, "list files", err)
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		index:   entry.name,
		gen:     rev.Generation,
		files:   make(map[string]FileEntry, len(files)),
		expires: s.now().Add(s.ttl),
	}
	for _, f := range files {
		sess.files[f.Name] = f
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		entry.src.Unpin(rev.Generation)
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "server is shutting down"})
		return
	}
	s.sessions[sess.id] = sess
	ServerSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	slog.Info("replication_session_opened",
		slog.String("index", entry.name),
		slog.String("session", sess.id),
		slog.Uint64("generation", rev.Generation),
		slog.Uint64("replica_version", version),
		slog.Int("files", len(files)))

	c.JSON(http.StatusOK, Session{
		ID: sess.id,
		Revision: RevisionInfo{
			Index:      entry.name,
			Generation: rev.Generation,
			DocCount:   rev.DocCount,
			Files:      files,
		},
	})
}

func (s *Server) describeFiles(entry sourceEntry, gen uint64) ([]FileEntry, error) {
	infos, err := entry.src.Files(gen)
	if err != nil {
		return nil, err
	}
	files := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		sum, err := s.checksum(entry, gen, info.Name)
		if err != nil {
			return nil, err
		}
		files = append(files, FileEntry{Name: info.Name, Size: info.Size, CRC32: sum})
	}
	return files, nil
}

// checksum returns the CRC32 of a generation file. Generations are
// immutable, so results are cached by (index, generation, name).
func (s *Server) checksum(entry sourceEntry, gen uint64, name string) (uint32, error) {
	key := checksumKey{index: entry.name, gen: gen, name: name}
	if sum, ok := s.checksums.Get(key); ok {
		return sum, nil
	}

	f, err := entry.src.OpenFile(gen, name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("checksum %s: %w", name, err)
	}
	sum := h.Sum32()
	s.checksums.Add(key, sum)
	return sum, nil
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.expires = s.now().Add(s.ttl)
	}
	return sess, ok
}

func (s *Server) handleObtain(c *gin.Context, entry sourceEntry) {
	sess, ok := s.lookup(c.Query(ParamSession))
	if !ok || sess.index != entry.name {
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown session: " + c.Query(ParamSession)})
		return
	}
	name := c.Query(ParamFile)
	info, ok := sess.files[name]
	if !ok {
		c.JSON(http.StatusNotFound, errorBody{Error: "file not in session: " + name})
		return
	}

	f, err := entry.src.OpenFile(sess.gen, name)
	if err != nil {
		s.internalError(c, entry.name, "open file", err)
		return
	}
	defer f.Close()

	c.DataFromReader(http.StatusOK, info.Size, "application/octet-stream", f, nil)
	ServerBytesServed.WithLabelValues(entry.name).Add(float64(info.Size))
}

func (s *Server) handleRelease(c *gin.Context) {
	id := c.Query(ParamSession)

	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	ServerSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if ok {
		s.unpin(sess)
		slog.Debug("replication_session_released",
			slog.String("index", sess.index),
			slog.String("session", id))
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) internalError(c *gin.Context, index, op string, err error) {
	slog.Error("replication_request_failed",
		slog.String("index", index),
		slog.String("op", op),
		slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, errorBody{Error: op + ": " + err.Error()})
}
