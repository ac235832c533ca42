package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhost/internal/daemon"
	"github.com/Aman-CERP/indexhost/internal/output"
	"github.com/Aman-CERP/indexhost/internal/registry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var local bool

	cmd := &cobra.Command{
		Use:   "stats <name>",
		Short: "Show generation, document count and lifetimes of an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			stats, err := fetchStats(ctx, args[0], local)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(output.New(cmd.OutOrStdout()), stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&local, "local", false, "Open the index in this process even when the daemon is running")

	return cmd
}

func fetchStats(ctx context.Context, name string, local bool) (*daemon.StatsResult, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if client := runningDaemon(cfg); client != nil && !local {
		return client.Stats(ctx, name)
	}
	reg, err := registry.New(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reg.Close() }()
	return daemon.Stats(reg, name)
}

func printStats(out *output.Writer, s *daemon.StatsResult) {
	pairs := []any{
		"Index", s.Index,
		"Path", s.Path,
		"Generation", s.Generation,
		"Documents", s.DocCount,
		"Reader", s.ReaderLifetime,
		"Searcher", s.SearcherLifetime,
		"Writable", s.Writable,
	}
	if r := s.Replication; r != nil {
		pairs = append(pairs,
			"Primary", r.ServerURL,
			"Replication", r.State,
		)
	}
	if q := s.Queries; q != nil {
		pairs = append(pairs,
			"Queries", q.TotalQueries,
			"Zero results", fmt.Sprintf("%d (%.1f%%)", q.ZeroResultCount, q.ZeroResultPercentage()),
			"Repeats", fmt.Sprintf("%.1f%%", q.ExactRepeatRate()*100),
		)
		if len(q.TopTerms) > 0 {
			terms := make([]string, 0, 5)
			for _, tc := range q.TopTerms[:min(5, len(q.TopTerms))] {
				terms = append(terms, fmt.Sprintf("%s (%d)", tc.Term, tc.Count))
			}
			pairs = append(pairs, "Top terms", strings.Join(terms, ", "))
		}
	}
	out.KeyValues(pairs...)
}
