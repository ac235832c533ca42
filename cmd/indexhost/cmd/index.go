package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/output"
	"github.com/Aman-CERP/indexhost/internal/registry"
)

// maxLineSize bounds a single JSONL document.
const maxLineSize = 16 * 1024 * 1024

func newIndexCmd() *cobra.Command {
	var idField string

	cmd := &cobra.Command{
		Use:   "index <name> <file.jsonl>",
		Short: "Add documents from a JSON Lines file and commit",
		Long: `Add every document in a JSON Lines file to the named index and commit
one new generation.

Each line is a JSON object. The value of --id-field becomes the document
id; a document with an existing id replaces it. Use "-" to read stdin.

The index must have a writer configured. When the daemon is running it is
asked to refresh the index afterwards.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], args[1], idField)
		},
	}

	cmd.Flags().StringVar(&idField, "id-field", "id", "Document field holding the id")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, name, path, idField string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, size, err := openInput(cmd, path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	reg, err := registry.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	scope := registry.NewScope()
	defer func() { _ = scope.Close() }()

	w, err := reg.Writer(scope, name)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	start := time.Now()

	count, err := indexLines(in, size, idField, out, w.Index)
	if err != nil {
		_ = w.Rollback()
		return err
	}
	gen, err := w.Commit()
	if err != nil {
		return err
	}

	slog.Info("index_committed",
		slog.String("index", name),
		slog.Int("documents", count),
		slog.Uint64("generation", gen),
		slog.Duration("duration", time.Since(start)))
	out.Successf("Indexed %d documents into %s (generation %d)", count, name, gen)

	notifyDaemon(ctx, cfg, name, out)
	return nil
}

// openInput opens path, or stdin for "-", and reports its size when known.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, int64, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.IOError("failed to open "+path, err)
	}
	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return f, size, nil
}

// indexLines decodes one JSON object per line and passes it to add.
// Blank lines are skipped.
func indexLines(r io.Reader, size int64, idField string, out *output.Writer, add func(id string, doc any) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		count int
		read  int64
		line  int
	)
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		read += int64(len(raw)) + 1
		if len(raw) == 0 {
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return count, errors.ValidationError(fmt.Sprintf("line %d: invalid JSON", line), err)
		}
		id, err := documentID(doc, idField)
		if err != nil {
			return count, errors.ValidationError(fmt.Sprintf("line %d: %v", line, err), nil)
		}
		if err := add(id, doc); err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		count++

		if size > 0 && count%100 == 0 {
			out.Progress(int(read*100/size), 100, fmt.Sprintf("%d documents", count))
		}
	}
	if err := scanner.Err(); err != nil {
		return count, errors.IOError(fmt.Sprintf("failed to read line %d", line+1), err)
	}
	if size > 0 && count >= 100 {
		out.Progress(100, 100, fmt.Sprintf("%d documents", count))
	}
	return count, nil
}

// documentID extracts the id from doc. String and integral numeric ids
// are accepted.
func documentID(doc map[string]any, field string) (string, error) {
	v, ok := doc[field]
	if !ok {
		return "", fmt.Errorf("missing %q field", field)
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("empty %q field", field)
		}
		return id, nil
	case float64:
		if id != float64(int64(id)) {
			return "", fmt.Errorf("%q must be a string or an integer", field)
		}
		return fmt.Sprintf("%d", int64(id)), nil
	default:
		return "", fmt.Errorf("%q must be a string or an integer", field)
	}
}

// notifyDaemon asks a running daemon to pick up the new generation. A
// daemon that cannot be reached is not an error.
func notifyDaemon(ctx context.Context, cfg *config.Config, name string, out *output.Writer) {
	client := runningDaemon(cfg)
	if client == nil {
		return
	}
	res, err := client.Refresh(ctx, name)
	if err != nil {
		slog.Warn("daemon_refresh_failed",
			slog.String("index", name),
			slog.String("error", err.Error()))
		out.Warningf("Daemon did not refresh %s: %v", name, err)
		return
	}
	if res.Refreshed {
		out.Statusf("↻", "Daemon now serves generation %d", res.Generation)
	}
}
