// Package cmd provides the CLI commands for indexhost.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/daemon"
	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/logging"
	"github.com/Aman-CERP/indexhost/internal/profiling"
	"github.com/Aman-CERP/indexhost/pkg/version"
)

// Persistent flags.
var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the indexhost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexhost",
		Short: "Host search indexes with managed reader, searcher and writer lifetimes",
		Long: `indexhost serves named full-text indexes from one process.

Each index has a reader, a searcher and optionally a writer, each with a
configured lifetime (singleton, scoped or transient). Readers follow new
commits, and read-only replicas pull committed generations from a primary
over HTTP.

Configuration is read from ./indexhost.yaml unless --config is given.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("indexhost version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs the CLI logger and starts any
// requested profiles. serve replaces the logger with the file-backed one.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	level := "warn"
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupDefault(logging.CLIConfig(level))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup

	if profileOpts.Enabled() {
		session, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profileSession = session
	}
	return nil
}

// stopProfilingAndLogging stops profiling, writing the memory profile if
// requested, and flushes the logger.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	err := profileSession.Stop()
	profileSession = nil
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints a failure the way errors are
// formatted for the terminal.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.ConfigError("failed to load configuration", err)
	}
	slog.Debug("config_loaded",
		slog.String("path", configPath),
		slog.Int("indexes", len(cfg.Indexes)))
	return cfg, nil
}

// runningDaemon returns a client for the daemon of cfg, or nil when none
// is listening.
func runningDaemon(cfg *config.Config) *daemon.Client {
	c := daemon.NewClient(daemon.ConfigFrom(cfg))
	if !c.IsRunning() {
		return nil
	}
	return c
}
