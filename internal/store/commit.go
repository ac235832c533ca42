package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/renameio"
)

const (
	currentFile  = "CURRENT"
	lockFile     = "write.lock"
	workingDir   = "working"
	genDirPrefix = "gen-"
)

// genDirName returns the directory name of generation gen. Zero padding
// keeps lexical and numeric order the same.
func genDirName(gen uint64) string {
	return fmt.Sprintf("%s%014d", genDirPrefix, gen)
}

func parseGenDirName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, genDirPrefix) {
		return 0, false
	}
	gen, err := strconv.ParseUint(strings.TrimPrefix(name, genDirPrefix), 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	return gen, true
}

// CommitPointPath returns the path of the commit point file of the store at
// root. Every commit and install replaces it atomically.
func CommitPointPath(root string) string {
	return filepath.Join(root, currentFile)
}

// readCommitPoint reads CURRENT. A missing file is generation 0.
func readCommitPoint(root string) (Revision, error) {
	data, err := os.ReadFile(filepath.Join(root, currentFile))
	if os.IsNotExist(err) {
		return Revision{}, nil
	}
	if err != nil {
		return Revision{}, fmt.Errorf("failed to read commit point: %w", err)
	}
	var rev Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return Revision{}, fmt.Errorf("commit point is corrupt: %w", err)
	}
	return rev, nil
}

// writeCommitPoint atomically replaces CURRENT.
func writeCommitPoint(root string, rev Revision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("failed to encode commit point: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(root, currentFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write commit point: %w", err)
	}
	return nil
}

// listGenerations returns the generation directories under root, ascending.
func listGenerations(root string) ([]uint64, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	var gens []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if gen, ok := parseGenDirName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// removeUncommitted deletes generation directories newer than current. They
// are left behind when a commit dies between publishing its directory and
// rewriting CURRENT, and no snapshot can have opened them. Callers hold the
// write lock.
func removeUncommitted(root string, current uint64) error {
	gens, err := listGenerations(root)
	if err != nil {
		return err
	}
	for _, gen := range gens {
		if gen <= current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, genDirName(gen))); err != nil {
			return fmt.Errorf("failed to remove uncommitted generation %d: %w", gen, err)
		}
		slog.Warn("store_uncommitted_generation_removed",
			slog.String("path", root),
			slog.Uint64("generation", gen))
	}
	return nil
}

// publishDir copies src into a fresh generation directory under root. The
// copy is assembled under a temporary name and renamed into place, so a
// gen-N directory is always complete. A stale gen-N from an earlier failed
// commit is replaced.
func publishDir(root string, gen uint64, src string) error {
	tmp, err := os.MkdirTemp(root, ".publish-")
	if err != nil {
		return fmt.Errorf("failed to create publish directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := copyDir(src, tmp); err != nil {
		return err
	}
	target := filepath.Join(root, genDirName(gen))
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to clear generation %d: %w", gen, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to publish generation %d: %w", gen, err)
	}
	return nil
}

// copyFile copies a single file from src to dst, preserving its mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy file contents: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync destination file: %w", err)
	}
	return out.Close()
}

// copyDir recursively copies the contents of src into dst.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

// moveDir renames src to dst, copying when they are on different devices.
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDir(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return err
	}
	return os.RemoveAll(src)
}
