// Package recordstore defines the shared vocabulary of the record store lifecycle: the closed set of
// store kinds and their dependency table, open options and configuration, the error taxonomy
// (StoreOpenFailure, StoreCloseFailure, DependencyCycleError) and small helpers for logging and
// retrying transient file I/O.
//
// The working pieces live in subpackages: fs (file I/O, database layout), pagecache (shared,
// reference-counted page cache), idgen (per-store id generators), format (record formats and store
// headers), store (one record store) and stores (the coordinator that opens a set of stores in
// dependency order and guarantees nothing stays mapped when an open attempt fails).
package recordstore
