// ABOUTME: Package bootstrap guarantees the flat-file documents exist and parse
// ABOUTME: Missing or corrupt documents are replaced from versioned templates

// Package bootstrap runs before every other component. For each required
// document (targets.yaml, probes.yaml, sources.yaml) it decides one of:
//
//   - valid: the file decodes and passes shape validation; it is left untouched
//   - created: the file was missing and the template was copied in
//   - recovered: the file was malformed; it was backed up and replaced
//   - recreated: Force was set; the file was backed up and replaced
//   - failed: the document could not be read or written
//
// A failure on one document does not stop the others, but the Report is
// marked failed. Whenever targets.yaml is written its metadata block is
// recomputed and bootstrap_completed is set.
//
// Templates are embedded in the binary. A template directory can override
// any of them file by file.
package bootstrap
