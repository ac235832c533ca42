// Package logging configures the process-wide slog logger for indexhost.
//
// The host logs JSON to a size-rotated file under ~/.indexhost/logs/ and,
// unless disabled, mirrors it to stderr. One-shot CLI commands log to stderr
// only.
package logging
