// Package store is the result boundary between worker processes and the
// orchestrator.
//
// Every store is namespaced by a run id so independent runs sharing a
// directory or database never see each other's results. A worker writes only
// its own task's key; the orchestrator reads a key only after the worker that
// owns it has exited.
//
// Drivers:
//   - "file": one file per result (default)
//   - "sqlite": a single SQLite database file shared by all workers
//   - "postgres": a PostgreSQL table, for hosts where the IPC directory is not writable
package store
