// Package admin provides the administrative operations behind the REST API
// and the CLI.
//
// # Overview
//
// Service composes the selected store, the reconciliation engine, the
// renderer and the deployer. Handlers and commands call Service and never
// touch those pieces directly.
//
// # Operations
//
// Target management:
//
//   - ListTargets, GetTarget
//   - AddTarget: manual targets with form validation
//   - UpdateTarget, DeleteTarget, ToggleTarget
//
// Discovery:
//
//   - Sync: reconcile a category against explicit domains, a registered
//     candidate source (CDN appliances) or a registered lister (rankings)
//
// Configuration:
//
//   - Generate: render Probes and Targets without writing
//   - Apply: generate, validate, write and reload
//   - Status, Bandwidth
//
// # Manual Target Rules
//
// Names must start with a letter, contain only letters, digits and
// underscores, and must not be a reserved section name. ICMP targets need a
// host (IP or hostname) and get FPing6 for IPv6 literals, FPing otherwise,
// unless a probe is forced. DNS targets need a lookup domain, default to
// host 8.8.8.8 and are filed under dns_resolvers with the DNS probe.
//
// # Errors
//
// Errors wrap the store taxonomy: store.ErrValidation, store.ErrNotFound,
// store.ErrStoreUnavailable. Mutating operations also return a Result so
// callers can always print a summary.
package admin
