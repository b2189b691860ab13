package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new finalization run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *FinalizeRun) error {
	query := `
		INSERT INTO finalize_runs (
			id, scope_path, strategy, dry_run, force, status,
			resources_deleted, resources_failed, nested_scopes, errors,
			started_at, completed_at, duration_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ScopePath,
		run.Strategy,
		run.DryRun,
		run.Force,
		run.Status,
		run.ResourcesDeleted,
		run.ResourcesFailed,
		run.NestedScopes,
		run.Errors,
		run.StartedAt,
		run.CompletedAt,
		run.DurationMS,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a finalization run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*FinalizeRun, error) {
	query := `
		SELECT id, scope_path, strategy, dry_run, force, status,
			   resources_deleted, resources_failed, nested_scopes, errors,
			   started_at, completed_at, duration_ms, created_at, updated_at
		FROM finalize_runs
		WHERE id = ?
	`

	run := &FinalizeRun{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.ScopePath,
		&run.Strategy,
		&run.DryRun,
		&run.Force,
		&run.Status,
		&run.ResourcesDeleted,
		&run.ResourcesFailed,
		&run.NestedScopes,
		&run.Errors,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMS,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// CompleteRun records the final status and counters of a run
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *FinalizeRun) error {
	query := `
		UPDATE finalize_runs
		SET status = ?, resources_deleted = ?, resources_failed = ?,
			nested_scopes = ?, errors = ?, completed_at = ?,
			duration_ms = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	if run.CompletedAt == nil {
		run.CompletedAt = &now
	}
	run.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.ResourcesDeleted,
		run.ResourcesFailed,
		run.NestedScopes,
		run.Errors,
		run.CompletedAt,
		run.DurationMS,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}

	return nil
}

// ListRuns lists finalization runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*FinalizeRun, error) {
	query := `
		SELECT id, scope_path, strategy, dry_run, force, status,
			   resources_deleted, resources_failed, nested_scopes, errors,
			   started_at, completed_at, duration_ms, created_at, updated_at
		FROM finalize_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListRunsByPath lists finalization runs for a scope path, newest first
func (s *SQLiteStore) ListRunsByPath(ctx context.Context, scopePath string, limit, offset int) ([]*FinalizeRun, error) {
	query := `
		SELECT id, scope_path, strategy, dry_run, force, status,
			   resources_deleted, resources_failed, nested_scopes, errors,
			   started_at, completed_at, duration_ms, created_at, updated_at
		FROM finalize_runs
		WHERE scope_path = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, scopePath, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*FinalizeRun, error) {
	runs := []*FinalizeRun{}
	for rows.Next() {
		run := &FinalizeRun{}
		err := rows.Scan(
			&run.ID,
			&run.ScopePath,
			&run.Strategy,
			&run.DryRun,
			&run.Force,
			&run.Status,
			&run.ResourcesDeleted,
			&run.ResourcesFailed,
			&run.NestedScopes,
			&run.Errors,
			&run.StartedAt,
			&run.CompletedAt,
			&run.DurationMS,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run by ID
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	query := `DELETE FROM finalize_runs WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// CreateResourceResult records the outcome of a single resource deletion
func (s *SQLiteStore) CreateResourceResult(ctx context.Context, res *ResourceResult) error {
	query := `
		INSERT INTO resource_results (
			id, run_id, scope_path, resource_id, resource_type,
			status, attempts, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		res.ID,
		res.RunID,
		res.ScopePath,
		res.ResourceID,
		res.ResourceType,
		res.Status,
		res.Attempts,
		res.Error,
		res.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create resource result: %w", err)
	}

	return nil
}

// ListResourceResultsByRun lists all resource results for a run
func (s *SQLiteStore) ListResourceResultsByRun(ctx context.Context, runID string) ([]*ResourceResult, error) {
	query := `
		SELECT id, run_id, scope_path, resource_id, resource_type,
			   status, attempts, error, created_at
		FROM resource_results
		WHERE run_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource results: %w", err)
	}
	defer rows.Close()

	results := []*ResourceResult{}
	for rows.Next() {
		res := &ResourceResult{}
		err := rows.Scan(
			&res.ID,
			&res.RunID,
			&res.ScopePath,
			&res.ResourceID,
			&res.ResourceType,
			&res.Status,
			&res.Attempts,
			&res.Error,
			&res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource result: %w", err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource results: %w", err)
	}

	return results, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, scope_path, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.ScopePath,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, scope_path, details, timestamp
		FROM audit
		WHERE 1=1
	`
	args := []interface{}{}

	if action != nil {
		query += " AND action = ?"
		args = append(args, *action)
	}
	if actor != nil {
		query += " AND actor = ?"
		args = append(args, *actor)
	}

	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.ScopePath,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}
