package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/registry"
	"github.com/Aman-CERP/indexhost/internal/replication"
	"github.com/Aman-CERP/indexhost/internal/store"
	"github.com/Aman-CERP/indexhost/internal/telemetry"
	"github.com/Aman-CERP/indexhost/internal/watch"
	"github.com/Aman-CERP/indexhost/pkg/version"
)

type replica struct {
	cfg    config.ReplicationClientConfig
	client *replication.HTTPClient
	poller *replication.Poller
}

// Daemon hosts the registry and everything that keeps it current.
type Daemon struct {
	cfg     *config.Config
	dcfg    Config
	reg     *registry.Registry
	pidFile *PIDFile
	server  *Server

	replServer *replication.Server
	replicas   []*replica
	watchers   []*watch.Watcher
	watchOpts  watch.Options
	queries    *telemetry.Collector

	mu       sync.RWMutex
	started  time.Time
	replAddr string
}

// Option configures a Daemon.
type Option func(*options)

type options struct {
	registryOpts []registry.Option
	watchOpts    watch.Options
	daemonCfg    *Config
}

// WithRegistryOptions passes options to the registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *options) { o.registryOpts = append(o.registryOpts, opts...) }
}

// WithWatchOptions overrides the commit watcher options.
func WithWatchOptions(opts watch.Options) Option {
	return func(o *options) { o.watchOpts = opts }
}

// WithDaemonConfig overrides the process settings taken from cfg.Server.
func WithDaemonConfig(c Config) Option {
	return func(o *options) { o.daemonCfg = &c }
}

// New builds the registry, the replication server and clients, and the
// commit watchers. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	o := options{watchOpts: watch.DefaultOptions()}
	for _, opt := range opts {
		opt(&o)
	}
	dcfg := ConfigFrom(cfg)
	if o.daemonCfg != nil {
		dcfg = *o.daemonCfg
	}
	if err := dcfg.Validate(); err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg, o.registryOpts...)
	if err != nil {
		return nil, err
	}
	d := &Daemon{
		cfg:       cfg,
		dcfg:      dcfg,
		reg:       reg,
		pidFile:   NewPIDFile(dcfg.PIDPath),
		watchOpts: o.watchOpts,
		queries:   telemetry.NewCollector(telemetry.DefaultConfig()),
	}
	d.server, err = NewServer(dcfg.SocketPath, dcfg.Timeout, d)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	if err := d.setupReplication(); err != nil {
		d.closeAll()
		return nil, err
	}
	if err := d.setupWatchers(); err != nil {
		d.closeAll()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) setupReplication() error {
	rc := d.cfg.Replication
	if rc.Server.Listen != "" {
		sources := make(map[string]store.Source)
		for _, name := range d.reg.Names() {
			ix, _ := d.reg.Index(name)
			if src, ok := ix.Dir.(store.Source); ok {
				sources[name] = src
			}
		}
		var opts []replication.ServerOption
		if rc.Server.BasePath != "" {
			opts = append(opts, replication.WithBasePath(rc.Server.BasePath))
		}
		if ttl := rc.Server.TTL(); ttl > 0 {
			opts = append(opts, replication.WithSessionTTL(ttl))
		}
		srv, err := replication.NewServer(sources, opts...)
		if err != nil {
			return err
		}
		d.replServer = srv
	}

	for _, cl := range rc.Clients {
		ix, err := d.reg.Index(cl.Index)
		if err != nil {
			return err
		}
		target, ok := ix.Dir.(store.Target)
		if !ok {
			return errors.ConfigError(fmt.Sprintf("index %q cannot receive replicated revisions", cl.Index), nil)
		}
		remote := cl.RemoteIndex
		if remote == "" {
			remote = cl.Index
		}
		client, err := replication.NewHTTPClient(cl.ServerURL, remote, target)
		if err != nil {
			return err
		}
		poller, err := replication.NewPoller(replication.PollerConfig{
			Index:       cl.Index,
			ServerURL:   cl.ServerURL,
			StagingPath: cl.StagingPath,
			Interval:    cl.PollInterval(),
		}, client, ix.Reader)
		if err != nil {
			client.CloseIdleConnections()
			return err
		}
		d.replicas = append(d.replicas, &replica{cfg: cl, client: client, poller: poller})
	}
	return nil
}

func (d *Daemon) setupWatchers() error {
	for _, name := range d.reg.Names() {
		ix, _ := d.reg.Index(name)
		if !ix.Config.Watch {
			continue
		}
		if ix.Reader.Lifetime() != registry.Singleton {
			slog.Warn("watch_ignored",
				slog.String("index", name),
				slog.String("reason", "reader lifetime is not singleton"))
			continue
		}
		p, ok := ix.Dir.(pathed)
		if !ok {
			continue
		}
		w, err := watch.New(name, p.Path(), ix.Reader, d.watchOpts)
		if err != nil {
			return err
		}
		d.watchers = append(d.watchers, w)
	}
	return nil
}

// Registry returns the hosted registry.
func (d *Daemon) Registry() *registry.Registry {
	return d.reg
}

// ReplicationAddr returns the bound replication address once Start has
// opened it, or "".
func (d *Daemon) ReplicationAddr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.replAddr
}

// Start runs the daemon until ctx is cancelled, then shuts everything down
// and closes the registry. It returns nil after a clean shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.dcfg.EnsureDir(); err != nil {
		d.closeAll()
		return err
	}
	if err := d.pidFile.Acquire(); err != nil {
		d.closeAll()
		return err
	}
	defer func() { _ = d.pidFile.Remove() }()

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	if d.replServer != nil {
		ln, err := net.Listen("tcp", d.cfg.Replication.Server.Listen)
		if err != nil {
			d.closeAll()
			return errors.New(errors.ErrCodeNetworkUnavailable,
				"listen on "+d.cfg.Replication.Server.Listen, err)
		}
		d.mu.Lock()
		d.replAddr = ln.Addr().String()
		d.mu.Unlock()
		go func() {
			if err := d.replServer.Serve(ln); err != nil {
				serveErr <- err
				cancel()
			}
		}()
	}

	for _, r := range d.replicas {
		r.poller.Start(ctx)
	}
	for _, w := range d.watchers {
		w.Start(ctx)
	}

	slog.Info("daemon_started",
		slog.Int("pid", os.Getpid()),
		slog.Int("indexes", len(d.reg.Names())),
		slog.String("replication_addr", d.ReplicationAddr()),
		slog.Int("pollers", len(d.replicas)),
		slog.Int("watchers", len(d.watchers)))

	err := d.server.ListenAndServe(ctx)
	cancel()
	d.shutdown()

	select {
	case serr := <-serveErr:
		return serr
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown stops pollers and watchers, drains the replication server, then
// closes the registry so writers release their locks.
func (d *Daemon) shutdown() {
	for _, r := range d.replicas {
		r.poller.Stop()
		r.client.CloseIdleConnections()
	}
	for _, w := range d.watchers {
		w.Stop()
	}
	if d.replServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), d.dcfg.ShutdownGracePeriod)
		if err := d.replServer.Shutdown(sctx); err != nil {
			slog.Warn("replication_server_shutdown_failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	if err := d.reg.Close(); err != nil {
		slog.Error("registry_close_failed", slog.String("error", err.Error()))
	}
	slog.Info("daemon_stopped")
}

// closeAll releases what New built when Start never ran.
func (d *Daemon) closeAll() {
	for _, r := range d.replicas {
		r.poller.Stop()
		r.client.CloseIdleConnections()
	}
	for _, w := range d.watchers {
		w.Stop()
	}
	if d.replServer != nil {
		_ = d.replServer.Close()
	}
	_ = d.reg.Close()
}

// HandleSearch implements RequestHandler.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) (*SearchResponse, error) {
	start := time.Now()
	resp, err := Search(ctx, d.reg, params)
	if err != nil {
		return nil, err
	}
	d.queries.Record(telemetry.QueryEvent{
		Index:       resp.Index,
		Query:       params.Query,
		Mode:        params.Mode,
		ResultCount: len(resp.Results),
		Latency:     time.Since(start),
	})
	return resp, nil
}

// HandleStats implements RequestHandler.
func (d *Daemon) HandleStats(_ context.Context, params IndexParams) (*StatsResult, error) {
	res, err := Stats(d.reg, params.Index)
	if err != nil {
		return nil, err
	}
	res.Queries = d.queries.Snapshot(res.Index)
	for _, r := range d.replicas {
		if r.cfg.Index == res.Index {
			st := pollerStatus(r)
			res.Replication = &st
		}
	}
	return res, nil
}

// HandleRefresh implements RequestHandler.
func (d *Daemon) HandleRefresh(_ context.Context, params IndexParams) (*RefreshResult, error) {
	return Refresh(d.reg, params.Index)
}

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()

	status := StatusResult{
		Running:         true,
		PID:             os.Getpid(),
		Version:         version.Version,
		Indexes:         d.reg.Names(),
		ReplicationAddr: d.ReplicationAddr(),
	}
	if !started.IsZero() {
		status.Uptime = time.Since(started).Round(time.Second).String()
	}
	for _, r := range d.replicas {
		status.Pollers = append(status.Pollers, pollerStatus(r))
	}
	for _, w := range d.watchers {
		status.Watchers = append(status.Watchers, WatcherStatus{
			Index:     w.Index(),
			Mode:      w.Mode(),
			Refreshes: w.Refreshes(),
		})
	}
	return status
}

func pollerStatus(r *replica) PollerStatus {
	return PollerStatus{
		Index:     r.cfg.Index,
		ServerURL: r.cfg.ServerURL,
		State:     r.poller.State().String(),
		Attempts:  r.poller.Attempts(),
	}
}
