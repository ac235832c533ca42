// Package preflight validates the host before the index server starts.
//
// The checks cover:
//   - Free disk space under every index path (minimum 100MB)
//   - Write permission where the process writes: writable and replicated
//     index paths, staging directories and the control socket directory
//   - File descriptor limits (minimum 1024)
//   - The replication listen address being free
//   - Reachability of each replication primary (non-critical)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
