package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/store"
	"github.com/Aman-CERP/indexhost/pkg/version"
)

// Client defaults.
const (
	DefaultConcurrency = 4
	DefaultHTTPTimeout = 2 * time.Minute
	releaseTimeout     = 10 * time.Second
)

// DefaultFileRetryConfig is the retry policy for single file downloads.
func DefaultFileRetryConfig() errors.RetryConfig {
	return errors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry:  errors.IsRetryable,
	}
}

// HTTPClient pulls revisions of one remote index from a Server and installs
// them into a local store.Target.
type HTTPClient struct {
	baseURL     *url.URL
	index       string
	target      store.Target
	http        *http.Client
	retry       errors.RetryConfig
	breaker     *errors.CircuitBreaker
	concurrency int
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithFileRetry sets the retry policy for file downloads.
func WithFileRetry(cfg errors.RetryConfig) ClientOption {
	return func(c *HTTPClient) {
		c.retry = cfg
	}
}

// WithConcurrency bounds parallel file downloads.
func WithConcurrency(n int) ClientOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCircuitBreaker sets the breaker guarding update requests.
func WithCircuitBreaker(cb *errors.CircuitBreaker) ClientOption {
	return func(c *HTTPClient) {
		c.breaker = cb
	}
}

// NewHTTPClient creates a client for remoteIndex at serverURL, the
// server's base URL including its base path.
func NewHTTPClient(serverURL, remoteIndex string, target store.Target, opts ...ClientOption) (*HTTPClient, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, errors.ConfigError("replication server URL is empty", nil).
			WithSuggestion("set replication.clients[].server_url")
	}
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.ConfigError(fmt.Sprintf("invalid replication server URL %q", serverURL), err)
	}
	if remoteIndex == "" {
		return nil, errors.ConfigError("replication remote index is empty", nil)
	}
	if target == nil {
		return nil, errors.InternalError("replication target is nil", nil)
	}

	c := &HTTPClient{
		baseURL:     u,
		index:       remoteIndex,
		target:      target,
		http:        &http.Client{Timeout: DefaultHTTPTimeout},
		retry:       DefaultFileRetryConfig(),
		breaker:     errors.NewCircuitBreaker("replication:" + remoteIndex),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CloseIdleConnections closes pooled keep-alive connections.
func (c *HTTPClient) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// Pull implements Replicator.
func (c *HTTPClient) Pull(ctx context.Context, stagingDir string, onApply func()) (PullResult, error) {
	local, err := c.target.Revision()
	if err != nil {
		return PullResult{}, errors.ReplicationApply("read local revision", err)
	}
	result := PullResult{Generation: local.Generation}

	var sess *Session
	err = c.breaker.Execute(func() error {
		var uerr error
		sess, uerr = c.checkForUpdate(ctx, local.Generation)
		return uerr
	}, errors.IsRetryable)
	if errors.Is(err, errors.ErrCircuitOpen) {
		return result, errors.ReplicationNetwork("replication server "+c.baseURL.Host+" is failing, circuit open", err)
	}
	if err != nil {
		return result, err
	}
	if sess == nil {
		return result, nil
	}
	defer c.release(ctx, sess.ID)

	if sess.Revision.Generation <= local.Generation {
		return result, nil
	}

	dest := filepath.Join(stagingDir, "index")
	n, err := c.download(ctx, sess, dest)
	if err != nil {
		return result, err
	}
	result.Files = len(sess.Revision.Files)
	result.Bytes = n

	if onApply != nil {
		onApply()
	}
	if err := c.target.Install(ctx, sess.Revision.Generation, dest); err != nil {
		return result, errors.ReplicationApply(
			fmt.Sprintf("install generation %d", sess.Revision.Generation), err)
	}

	result.Generation = sess.Revision.Generation
	result.Updated = true
	return result, nil
}

func (c *HTTPClient) endpoint(action string, params url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + "/" + url.PathEscape(c.index) + "/" + action
	u.RawQuery = params.Encode()
	return u.String()
}

// get issues a GET and classifies failures. The caller closes the body of
// a non-nil response.
func (c *HTTPClient) get(ctx context.Context, action string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(action, params), nil)
	if err != nil {
		return nil, errors.ReplicationApply("build "+action+" request", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.ReplicationNetwork(action+" request failed", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(action, resp)
	}
	return resp, nil
}

func statusError(action string, resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	msg := fmt.Sprintf("%s: server returned %s", action, resp.Status)
	if body.Error != "" {
		msg += ": " + body.Error
	}
	if resp.StatusCode >= 500 {
		return errors.ReplicationNetwork(msg, nil)
	}
	return errors.ReplicationApply(msg, nil)
}

// checkForUpdate returns nil when the server has nothing newer.
func (c *HTTPClient) checkForUpdate(ctx context.Context, gen uint64) (*Session, error) {
	resp, err := c.get(ctx, ActionUpdate, url.Values{ParamVersion: {strconv.FormatUint(gen, 10)}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, errors.ReplicationApply("decode update response", err)
	}
	if sess.ID == "" {
		return nil, errors.ReplicationApply("update response has no session id", nil)
	}
	return &sess, nil
}

func (c *HTTPClient) download(ctx context.Context, sess *Session, dest string) (int64, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, errors.ReplicationApply("create staging directory", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, f := range sess.Revision.Files {
		g.Go(func() error {
			return errors.Retry(gctx, c.retry, func() error {
				return c.fetchFile(gctx, sess.ID, f, dest)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, f := range sess.Revision.Files {
		total += f.Size
	}
	slog.Debug("replication_files_downloaded",
		slog.String("index", c.index),
		slog.String("session", sess.ID),
		slog.Int("files", len(sess.Revision.Files)),
		slog.Int64("bytes", total))
	return total, nil
}

func (c *HTTPClient) fetchFile(ctx context.Context, sessionID string, f FileEntry, dest string) error {
	rel := filepath.FromSlash(f.Name)
	if !filepath.IsLocal(rel) {
		return errors.ReplicationApply("server sent unsafe file name "+f.Name, nil)
	}
	path := filepath.Join(dest, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.ReplicationApply("create staging directory", err)
	}

	resp, err := c.get(ctx, ActionObtain, url.Values{ParamSession: {sessionID}, ParamFile: {f.Name}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(path)
	if err != nil {
		return errors.ReplicationApply("create "+f.Name, err)
	}
	defer out.Close()

	h := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(out, h), resp.Body)
	if err != nil {
		return errors.ReplicationNetwork("download "+f.Name, err)
	}
	if n != f.Size {
		return errors.ReplicationApply(fmt.Sprintf("%s: got %d bytes, want %d", f.Name, n, f.Size), nil)
	}
	if sum := h.Sum32(); sum != f.CRC32 {
		return errors.ReplicationApply(fmt.Sprintf("%s: checksum %08x, want %08x", f.Name, sum, f.CRC32), nil)
	}
	if err := out.Sync(); err != nil {
		return errors.ReplicationApply("sync "+f.Name, err)
	}
	return nil
}

// release ends the session even when ctx is already cancelled.
func (c *HTTPClient) release(ctx context.Context, sessionID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	resp, err := c.get(rctx, ActionRelease, url.Values{ParamSession: {sessionID}})
	if err != nil {
		slog.Warn("replication_release_failed",
			slog.String("index", c.index),
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
		return
	}
	_ = resp.Body.Close()
}
