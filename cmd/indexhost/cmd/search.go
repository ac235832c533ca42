package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/daemon"
	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/output"
	"github.com/Aman-CERP/indexhost/internal/registry"
	"github.com/Aman-CERP/indexhost/pkg/searcher"
)

type searchOptions struct {
	limit  int
	mode   string
	format string
	local  bool
	fields []string
}

func newSearchCmd() *cobra.Command {
	opts := searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <name> <query>",
		Short: "Search an index",
		Long: `Search the named index and print ranked hits.

The running daemon answers the query when there is one, so the search sees
the generation the daemon serves. Otherwise, or with --local, the index is
opened in this process with a short-lived searcher.

Modes:
  match         analyzed full-text match (default)
  query_string  bleve query string syntax, e.g. +title:widget -draft`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := daemon.SearchParams{
				Index:  args[0],
				Query:  strings.Join(args[1:], " "),
				Limit:  opts.limit,
				Mode:   opts.mode,
				Fields: opts.fields,
			}
			return runSearch(cmd.Context(), cmd, params, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", searcher.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Query mode: match or query_string (default: the index's searcher)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Search in this process even when the daemon is running")
	cmd.Flags().StringSliceVar(&opts.fields, "fields", nil, "Stored fields to print with each hit (* for all)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, params daemon.SearchParams, opts searchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.format != "text" && opts.format != "json" {
		return errors.ValidationError(fmt.Sprintf("invalid format %q (use text or json)", opts.format), nil)
	}
	if err := params.Validate(); err != nil {
		return errors.ValidationError("invalid search", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var resp *daemon.SearchResponse
	if client := runningDaemon(cfg); client != nil && !opts.local {
		resp, err = client.Search(ctx, params)
	} else {
		resp, err = searchLocal(ctx, cfg, params)
	}
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printHits(output.New(cmd.OutOrStdout()), resp)
	return nil
}

func searchLocal(ctx context.Context, cfg *config.Config, params daemon.SearchParams) (*daemon.SearchResponse, error) {
	reg, err := registry.New(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reg.Close() }()
	return daemon.Search(ctx, reg, params)
}

func printHits(out *output.Writer, resp *daemon.SearchResponse) {
	if len(resp.Results) == 0 {
		out.Statusf("∅", "No results in %s (generation %d)", resp.Index, resp.Generation)
		return
	}
	for i, r := range resp.Results {
		out.Hit(i+1, r.ID, r.Score, r.MatchedTerms)
		keys := make([]string, 0, len(r.Fields))
		for k := range r.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.Field(k, r.Fields[k])
		}
	}
	out.Newline()
	out.Statusf("ℹ", "%d results from %s (generation %d)", len(resp.Results), resp.Index, resp.Generation)
}
