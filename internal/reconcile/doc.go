// Package reconcile merges a desired list of sites into one category of the
// target store without losing operator work.
//
// # Ownership
//
// Targets added by an operator (origin manual, or a flat-file record carrying
// a category tag) are never touched by reconciliation. Targets created by a
// previous run (origin discovered) converge on the desired list: matches stay
// or come back, the rest are deactivated. Nothing is ever deleted.
//
// # Matching
//
// Each desired candidate is matched against the category's targets, active
// and inactive, in three passes. The first pass that finds an unclaimed target
// wins:
//
//  1. exact host equality
//  2. target name equals the candidate's key
//  3. the target host's key equals the candidate's key
//
// Keys come from naming.Key. Candidates beyond MaxCandidates are ignored and
// duplicate keys collapse to their first occurrence.
//
// # Counting
//
// Result counts satisfy preserved + created + reactivated == total_targets,
// where total_targets is the category's active count after the run. A still
// active discovered target that is desired again counts as reactivated (and
// is also reported in Retained).
//
// Compute is pure and takes the same []store.Target from any backend, so the
// flat-file and relational stores produce identical counts. Engine applies the
// plan through a single Store.ApplyChanges call.
package reconcile
