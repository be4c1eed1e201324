// Package logging builds slog loggers for the CLI and daemon.
//
// Two formats are supported: a compact console handler for interactive use and
// standard JSON for log collection. Output fans out to stdout plus a log file
// under the configured log directory. The "component" attribute is promoted
// into the console message prefix so subsystem logs read naturally.
package logging
