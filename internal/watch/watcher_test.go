package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/registry"
	"github.com/Aman-CERP/indexhost/internal/store"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) Refresh() (bool, error) {
	r.calls.Add(1)
	return r.err == nil, r.err
}

func testOptions(polling bool) Options {
	return Options{
		Debounce:     10 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		ForcePolling: polling,
	}
}

func openStore(t *testing.T) (*store.FSDirectory, store.IndexWriter) {
	t.Helper()
	dir, err := store.Open(t.TempDir(), store.DefaultOptions())
	require.NoError(t, err)
	w, err := dir.OpenWriter()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
		_ = dir.Close()
	})
	return dir, w
}

func commit(t *testing.T, w store.IndexWriter, id string) {
	t.Helper()
	require.NoError(t, w.Index(id, map[string]any{"title": "widget " + id}))
	_, err := w.Commit()
	require.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("catalog", t.TempDir(), nil, DefaultOptions())
	assert.Error(t, err)

	_, err = New("catalog", "/does/not/exist", &countingRefresher{}, DefaultOptions())
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{PollInterval: time.Second}.WithDefaults()

	assert.Equal(t, DefaultOptions().Debounce, opts.Debounce)
	assert.Equal(t, time.Second, opts.PollInterval)
}

func TestWatcher_RefreshesOnCommit(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a running watcher over a store
			dir, writer := openStore(t)
			r := &countingRefresher{}
			w, err := New("catalog", dir.Path(), r, testOptions(polling))
			require.NoError(t, err)
			if polling {
				assert.Equal(t, "polling", w.Mode())
			}
			w.Start(context.Background())
			defer w.Stop()
			// Let the polling baseline settle before committing.
			time.Sleep(30 * time.Millisecond)

			// When: the writer commits
			commit(t, writer, "sku-1")

			// Then: the refresher is called
			assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
			assert.Eventually(t, func() bool { return w.Refreshes() >= 1 }, time.Second, 10*time.Millisecond)
		})
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir, _ := openStore(t)
	r := &countingRefresher{}
	w, err := New("catalog", dir.Path(), r, testOptions(false))
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir.Path(), "notes.txt"), []byte("hello"), 0o644))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, r.calls.Load())
}

func TestWatcher_RefreshErrorsDoNotStopWatching(t *testing.T) {
	dir, writer := openStore(t)
	r := &countingRefresher{err: errors.ResourceClosed("reader")}
	w, err := New("catalog", dir.Path(), r, testOptions(true))
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()
	time.Sleep(30 * time.Millisecond)

	commit(t, writer, "sku-1")
	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	commit(t, writer, "sku-2")
	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)

	assert.Zero(t, w.Refreshes())
}

func TestWatcher_AdvancesReaderRegistration(t *testing.T) {
	// Given: a singleton reader with on-access refresh disabled
	dir, writer := openStore(t)
	reg := registry.NewReaderRegistration("catalog", dir, registry.Singleton, false)
	defer reg.Close()
	first, err := reg.GetReader(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Generation())

	w, err := New("catalog", dir.Path(), reg, testOptions(false))
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()
	time.Sleep(30 * time.Millisecond)

	// When: committing
	commit(t, writer, "sku-1")

	// Then: the registration moves to the new generation on its own
	assert.Eventually(t, func() bool { return reg.Generation() == 1 }, 5*time.Second, 10*time.Millisecond)
	snap, err := reg.GetReader(nil)
	require.NoError(t, err)
	n, err := snap.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w, err := New("catalog", t.TempDir(), &countingRefresher{}, DefaultOptions())
	require.NoError(t, err)

	w.Stop()
	w.Stop()
}

func TestWatcher_RunReturnsOnCancel(t *testing.T) {
	w, err := New("catalog", t.TempDir(), &countingRefresher{}, testOptions(true))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
