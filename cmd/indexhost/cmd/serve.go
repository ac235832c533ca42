package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/daemon"
	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/logging"
	"github.com/Aman-CERP/indexhost/internal/preflight"
	"github.com/Aman-CERP/indexhost/pkg/version"
)

func newServeCmd() *cobra.Command {
	var (
		logFile   string
		skipCheck bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the index host in the foreground",
		Long: `Run the index host in the foreground until interrupted.

Serves the control socket used by the search and stats commands, the
replication server when replication.server.listen is set, one poller per
replication client, and commit watchers for indexes with watch: true.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logFile, skipCheck)
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", logging.DefaultLogPath(), "Log file path (empty for stderr only)")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip the startup system check")

	return cmd
}

func runServe(ctx context.Context, logFile string, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.FilePath = logFile
	logCfg.Level = cfg.Server.LogLevel
	if debugMode {
		logCfg.Level = "debug"
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	slog.Info("serve_starting",
		slog.String("version", version.Version),
		slog.String("config", configPath),
		slog.Any("indexes", cfg.IndexNames()))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !skipCheck {
		if err := startupCheck(ctx, cfg); err != nil {
			return err
		}
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	return d.Start(ctx)
}

// startupCheck logs every non-passing check and fails on critical ones.
func startupCheck(ctx context.Context, cfg *config.Config) error {
	checker := preflight.New(cfg, preflight.WithOutput(io.Discard))
	results := checker.RunAll(ctx)
	for _, r := range results {
		if r.Status == preflight.StatusPass {
			continue
		}
		slog.Warn("preflight_check",
			slog.String("check", r.Name),
			slog.String("status", r.Status.String()),
			slog.String("message", r.Message),
			slog.Bool("required", r.Required))
	}
	if checker.HasCriticalFailures(results) {
		return errors.New(errors.ErrCodeConfigInvalid, "system check failed", nil).
			WithSuggestion("Run 'indexhost check --verbose' for details")
	}
	return nil
}
