// Package stores provides the history persistence layer for scopekeeper.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded migrations, and CRUD operations for finalization runs,
// per-resource results, and audit logs.
package stores
