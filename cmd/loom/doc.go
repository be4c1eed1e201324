// Command loom is the operator CLI for the loom task engine. Every command
// opens the shared SQLite store directly, so the CLI works whether or not a
// daemon is running.
package main
