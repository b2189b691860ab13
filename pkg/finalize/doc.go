// Package finalize tears down scope trees and the resources they track.
//
// A finalization run walks the target scope in post-order: nested scopes
// are finalized first, then the scope's own resources are deleted through
// the configured provisioner, and finally the scope document itself is
// removed. Each level of the tree is locked for the duration of its
// teardown, so concurrent runs against overlapping trees serialize.
//
// Resource deletions are retried with exponential backoff up to a
// configurable total attempt count. What happens after a resource
// ultimately fails depends on the strategy: conservative stops processing
// the scope's remaining resources and keeps the document so the run can be
// repeated later, while aggressive keeps going and reports every outcome.
//
// Every run produces a Report with aggregate counters for the whole
// subtree and per-child breakdowns. Dry-run produces the same report shape
// without touching the provisioner or the state store. Lock and
// configuration errors are the only failures that surface without a
// report.
//
// Runs can optionally be gated by a policy engine (protected stages are
// refused unless forced) and recorded in a history store.
package finalize
