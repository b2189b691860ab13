package stores

import (
	"context"
	"time"
)

// RunStatus represents the outcome of a finalization run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// ResultStatus represents the outcome of a single resource deletion
type ResultStatus string

const (
	ResultStatusDeleted ResultStatus = "deleted"
	ResultStatusFailed  ResultStatus = "failed"
	ResultStatusSkipped ResultStatus = "skipped"
)

// FinalizeRun represents a recorded finalization run against a scope tree
type FinalizeRun struct {
	ID               string     `json:"id"`
	ScopePath        string     `json:"scope_path"`
	Strategy         string     `json:"strategy"`
	DryRun           bool       `json:"dry_run"`
	Force            bool       `json:"force"`
	Status           RunStatus  `json:"status"`
	ResourcesDeleted int        `json:"resources_deleted"`
	ResourcesFailed  int        `json:"resources_failed"`
	NestedScopes     int        `json:"nested_scopes"`
	Errors           *string    `json:"errors,omitempty"` // JSON array of error strings
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DurationMS       int64      `json:"duration_ms"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ResourceResult represents the per-resource outcome within a run
type ResourceResult struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	ScopePath    string       `json:"scope_path"`
	ResourceID   string       `json:"resource_id"`
	ResourceType string       `json:"resource_type"`
	Status       ResultStatus `json:"status"`
	Attempts     int          `json:"attempts"`
	Error        *string      `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g., "scope.initialized", "scope.finalized", "resource.deleted"
	Actor     string    `json:"actor"`  // user or system identifier
	ScopePath *string   `json:"scope_path,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the history persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// FinalizeRun operations
	CreateRun(ctx context.Context, run *FinalizeRun) error
	GetRun(ctx context.Context, id string) (*FinalizeRun, error)
	CompleteRun(ctx context.Context, run *FinalizeRun) error
	ListRuns(ctx context.Context, limit, offset int) ([]*FinalizeRun, error)
	ListRunsByPath(ctx context.Context, scopePath string, limit, offset int) ([]*FinalizeRun, error)
	DeleteRun(ctx context.Context, id string) error

	// ResourceResult operations
	CreateResourceResult(ctx context.Context, result *ResourceResult) error
	ListResourceResultsByRun(ctx context.Context, runID string) ([]*ResourceResult, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
