// Package provision defines the Resource Provisioner capability.
//
// The finalization engine does not know how any particular resource type is
// created or destroyed; it calls an injected Provisioner. Implementations may
// fail transiently or permanently; the engine retries uniformly and does not
// distinguish the two. Tests substitute the in-memory Fake rather than
// patching engine internals.
package provision
