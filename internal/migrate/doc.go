// ABOUTME: Package migrate copies the flat-file documents into the relational store
// ABOUTME: The migration marker is written last so a partial run never flips selection

// Package migrate moves categories, probes, sources, targets and metadata
// from the YAML documents into a SQL store. The YAML files are copied into
// a backup_pre_migration_<timestamp> directory first. Records that already
// exist in the database are skipped, so the migration can be rerun after a
// failure. Only a fully successful run writes the yaml_migration_completed
// marker that makes store.Select choose the database.
package migrate
