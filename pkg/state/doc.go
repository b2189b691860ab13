// Package state provides durable persistence of scope documents.
//
// Each scope path (for example "acme/test/backend") maps to exactly one JSON
// document holding the scope's resource records, nested-scope registrations,
// and advisory metadata. The package defines the Store interface and a
// filesystem implementation that lays documents out as
//
//	<baseDir>/<app>/<stage>[/<nested>...]/state.json
//
// Writes are atomic: the document is written to a temporary file in the same
// directory and renamed into place, so no reader ever observes a partial
// document. The store performs no retries; retry policy belongs to callers.
package state
