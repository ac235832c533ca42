// Package watch refreshes readers when an index's commit point changes.
//
// A Watcher observes the CURRENT file of one store directory. Writers in
// this process and replication installs both replace it atomically, so a
// single file is enough to notice every new generation. Bursts of commits
// are debounced into one refresh.
//
// fsnotify is used when available. Where it cannot be created, for example
// on some network mounts, the watcher falls back to polling the file.
//
//	w, err := watch.New("catalog", dir, ix.Reader, watch.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	w.Start(ctx)
//	defer w.Stop()
package watch
