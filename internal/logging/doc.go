// Package logging configures structured slog output for regsearch.
// Logs go to stderr and, when a file path is configured, to a size-rotated
// JSON log file under ~/.regsearch/logs/.
package logging
