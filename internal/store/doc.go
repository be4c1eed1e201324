// Package store persists the task dependency graph in SQLite and implements
// the claim engine that grants tasks to workers.
//
// The Store is the single source of truth shared by independent worker
// processes: there is no coordinator daemon mediating access. Every invariant
// that matters under concurrency is enforced by the storage engine itself.
// One active claim per task comes from a partial unique index checked at
// insert time; the acyclic edge set comes from a single-statement
// check-and-insert. In-process locking would be useless here because callers
// are separate OS processes.
//
// Claims are retained after release or expiry for auditability. The store
// never reinterprets a lapsed lease as an expired claim on its own; the
// watchdog package owns that transition.
package store
