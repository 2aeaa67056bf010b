// Package store provides the target store behind a single backend-neutral
// contract, with a YAML flat-file implementation and a relational one.
//
// # Architecture
//
// Callers depend only on the Store interface. Three implementations exist:
//
//   - FileStore: targets.yaml, probes.yaml and sources.yaml in one directory
//   - SQLStore: normalized tables in SQLite or PostgreSQL
//   - MockStore: in-memory, for tests of higher layers
//
// Select decides once which backend is authoritative. The relational store is
// used only when it is reachable and holds the yaml_migration_completed marker;
// anything else logs a warning and returns the FileStore for the lifetime of
// the returned value. Selection is never revised implicitly. A caller that
// wants a new decision calls Select again.
//
// # Flat-file documents
//
// Documents are typed (TargetsDoc, ProbesDoc, SourcesDoc) and decoded through
// OrderedMap so that category and probe order survives a rewrite. A document
// that decodes but has the wrong shape yields a *MalformedError, which matches
// ErrMalformedStore; a missing file yields an fs.ErrNotExist error. Bootstrap
// relies on that distinction.
//
// targets.yaml keeps active records under active_targets and deactivated ones
// under inactive_targets, both keyed by category:
//
//	active_targets:
//	  custom:
//	    - name: Google_DNS
//	      host: 8.8.8.8
//	      title: Google DNS
//	      category: custom
//	inactive_targets:
//	  top_sites:
//	    - name: example_com
//	      host: example.com
//	metadata:
//	  last_updated: "2025-03-01T12:00:00Z"
//	  total_targets: 1
//
// Every write recomputes metadata (last_updated, total_targets counting active
// records only, bandwidth_estimate_mbps), copies the previous file to
// <file>.backup.<unix> and replaces the document through a temp file and
// rename. There is no locking between processes.
//
// # Relational schema
//
// Tables: target_categories, probes, targets, sources, system_metadata.
// Queries are written with ? placeholders and rebound to $n for PostgreSQL.
// EnsureSchema is idempotent and adds columns introduced after the first
// schema version.
//
// # Error Handling
//
//   - ErrNotFound: the target does not exist
//   - ErrValidation / *ValidationError: duplicate name, missing field, unknown probe
//   - ErrMalformedStore / *MalformedError: document shape failure
//   - ErrStoreUnavailable: the database could not be reached
//
// ApplyChanges is all-or-nothing on every backend: FileStore writes the
// document once, SQLStore commits a single transaction.
package store
