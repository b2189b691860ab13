// Package lock provides per-path mutual exclusion for scope mutation.
//
// A lock covers exactly one scope path: locking "app/stage" does not lock
// "app/stage/nested". Acquisition blocks cooperatively up to a timeout and
// then fails rather than waiting indefinitely. Release is idempotent.
//
// Three implementations are provided: a file-based manager for cross-process
// coordination on a single host, an in-memory manager for tests and
// single-process embedding, and a disabled manager that performs no
// contention checks at all (last-writer-wins, accepted by configuration).
package lock
