// Package daemon hosts the long-running loom services: the lease watchdog and
// a small HTTP API for status and claim operations.
//
// A file lock enforces a single daemon per data directory. The daemon is
// optional by design: workers and the CLI operate on the shared store
// directly, so a missing daemon only means stale leases wait longer for
// expiry.
package daemon
