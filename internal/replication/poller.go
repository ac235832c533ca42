package replication

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

// DefaultPollInterval replaces non-positive intervals.
const DefaultPollInterval = 10 * time.Second

// State is the phase of a Poller.
type State int32

const (
	StateIdle State = iota
	StatePulling
	StateApplying
	StateRefreshing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StateApplying:
		return "applying"
	case StateRefreshing:
		return "refreshing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Index is the local index name, used in logs and metrics.
	Index string
	// ServerURL is where revisions come from. Required.
	ServerURL string
	// StagingPath holds per-attempt staging directories.
	// Defaults to <tmp>/indexhost-staging.
	StagingPath string
	// Interval between the end of one attempt and the start of the next.
	Interval time.Duration
}

// Poller periodically pulls remote revisions and refreshes the local
// reader. Failures are logged and never stop the loop.
type Poller struct {
	cfg        PollerConfig
	replicator Replicator
	refresher  Refresher

	state    atomic.Int32
	attempts atomic.Int64

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPoller validates cfg and creates the staging directory.
func NewPoller(cfg PollerConfig, replicator Replicator, refresher Refresher) (*Poller, error) {
	if cfg.ServerURL == "" {
		return nil, errors.ConfigError(fmt.Sprintf("replication client for index %q has no server URL", cfg.Index), nil).
			WithSuggestion("set replication.clients[].server_url")
	}
	if replicator == nil || refresher == nil {
		return nil, errors.InternalError("poller needs a replicator and a refresher", nil)
	}
	if cfg.Interval <= 0 {
		slog.Warn("replication_interval_defaulted",
			slog.String("index", cfg.Index),
			slog.Duration("configured", cfg.Interval),
			slog.Duration("interval", DefaultPollInterval))
		cfg.Interval = DefaultPollInterval
	}
	if cfg.StagingPath == "" {
		cfg.StagingPath = filepath.Join(os.TempDir(), "indexhost-staging")
	}
	if err := os.MkdirAll(cfg.StagingPath, 0o755); err != nil {
		return nil, errors.IOError("create staging path "+cfg.StagingPath, err)
	}

	p := &Poller{cfg: cfg, replicator: replicator, refresher: refresher}
	p.setState(StateIdle)
	return p, nil
}

// Interval returns the effective interval.
func (p *Poller) Interval() time.Duration {
	return p.cfg.Interval
}

// StagingPath returns the effective staging path.
func (p *Poller) StagingPath() string {
	return p.cfg.StagingPath
}

// State returns the current phase.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Attempts returns the number of pulls started.
func (p *Poller) Attempts() int64 {
	return p.attempts.Load()
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Run polls until ctx is cancelled: once immediately, then every
// interval. An attempt in progress when ctx is cancelled runs to completion
// and no further attempt starts. Run always returns nil.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("replication_poller_started",
		slog.String("index", p.cfg.Index),
		slog.String("server_url", p.cfg.ServerURL),
		slog.Duration("interval", p.cfg.Interval))
	defer func() {
		p.setState(StateStopped)
		slog.Info("replication_poller_stopped", slog.String("index", p.cfg.Index))
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		p.tick(ctx)

		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	res, err := p.PollOnce(context.WithoutCancel(ctx))
	PullDuration.WithLabelValues(p.cfg.Index).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		result := resultUnchanged
		if res.Updated {
			result = resultUpdated
		}
		PullsTotal.WithLabelValues(p.cfg.Index, result).Inc()
	case errors.Is(err, errors.ErrReplicationNetwork):
		PullsTotal.WithLabelValues(p.cfg.Index, resultNetworkError).Inc()
		slog.Warn("replication_network_failure",
			slog.String("index", p.cfg.Index),
			slog.String("server_url", p.cfg.ServerURL),
			slog.Duration("retrying_in", p.cfg.Interval),
			slog.String("error", err.Error()))
	default:
		PullsTotal.WithLabelValues(p.cfg.Index, resultApplyError).Inc()
		slog.Error("replication_apply_failure",
			append([]any{
				slog.String("index", p.cfg.Index),
				slog.String("server_url", p.cfg.ServerURL),
			}, errors.LogAttrs(err)...)...)
	}
}

// PollOnce runs a single attempt: pull into a fresh staging directory,
// remove it, then refresh the reader.
func (p *Poller) PollOnce(ctx context.Context) (PullResult, error) {
	p.attempts.Add(1)
	p.setState(StatePulling)
	defer p.setState(StateIdle)

	staging, err := os.MkdirTemp(p.cfg.StagingPath, "pull-*")
	if err != nil {
		return PullResult{}, errors.ReplicationApply("create staging directory", err)
	}

	start := time.Now()
	res, err := p.replicator.Pull(ctx, staging, func() { p.setState(StateApplying) })
	if rmErr := os.RemoveAll(staging); rmErr != nil {
		slog.Warn("replication_staging_cleanup_failed",
			slog.String("path", staging),
			slog.String("error", rmErr.Error()))
	}
	if err != nil {
		return res, err
	}

	p.setState(StateRefreshing)
	refreshed, err := p.refresher.Refresh()
	if err != nil {
		return res, fmt.Errorf("refresh reader of %q: %w", p.cfg.Index, err)
	}

	if res.Updated {
		ReplicatedGeneration.WithLabelValues(p.cfg.Index).Set(float64(res.Generation))
		slog.Info("replication_pull_ok",
			slog.String("index", p.cfg.Index),
			slog.Uint64("generation", res.Generation),
			slog.Int("files", res.Files),
			slog.Int64("bytes", res.Bytes),
			slog.Bool("reader_refreshed", refreshed),
			slog.Duration("duration", time.Since(start)))
	} else {
		slog.Debug("replication_up_to_date",
			slog.String("index", p.cfg.Index),
			slog.Uint64("generation", res.Generation))
	}
	return res, nil
}

// Start runs the poller in a goroutine until Stop or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		p.mu.Lock()
		p.cancel = cancel
		p.done = done
		p.mu.Unlock()

		go func() {
			defer close(done)
			_ = p.Run(runCtx)
		}()
	})
}

// Stop cancels the loop and waits for an in-flight attempt to finish.
// Safe to call without Start and more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel, done := p.cancel, p.done
		p.mu.Unlock()

		if cancel == nil {
			p.setState(StateStopped)
			return
		}
		cancel()
		<-done
	})
}
