package watch

import (
	"context"
	"os"
	"time"
)

// commitState is what polling compares between ticks.
type commitState struct {
	exists  bool
	modTime time.Time
	size    int64
}

func statCommitPoint(path string) commitState {
	info, err := os.Stat(path)
	if err != nil {
		return commitState{}
	}
	return commitState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// runPolling stats the commit point every PollInterval until ctx is done.
func (w *Watcher) runPolling(ctx context.Context, deb *debouncer) error {
	last := statCommitPoint(w.commitPoint)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := statCommitPoint(w.commitPoint)
			if cur != last {
				last = cur
				deb.Trigger()
			}
		}
	}
}
