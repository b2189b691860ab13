package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/user"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scopekeeper/pkg/lock"
	"github.com/openfroyo/scopekeeper/pkg/policy"
	"github.com/openfroyo/scopekeeper/pkg/provision"
	"github.com/openfroyo/scopekeeper/pkg/scope"
	"github.com/openfroyo/scopekeeper/pkg/state"
	"github.com/openfroyo/scopekeeper/pkg/stores"
	"github.com/openfroyo/scopekeeper/pkg/telemetry"
)

// Engine tears down scope trees in post-order: deepest nested scopes first,
// then the scope's own resources, then the scope document itself. Each level
// is locked for the duration of its teardown.
type Engine struct {
	store       state.Store
	locks       lock.Manager
	provisioner provision.Provisioner
	policies    *policy.Engine
	history     stores.Store
	tracer      *telemetry.Tracer
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
	actor       string
}

// Config assembles an Engine's collaborators. Store and Provisioner are
// required; everything else has a working default.
type Config struct {
	Store       state.Store
	Locks       lock.Manager
	Provisioner provision.Provisioner
	Policies    *policy.Engine
	History     stores.Store
	Tracer      *telemetry.Tracer
	Metrics     *telemetry.Metrics
	Logger      zerolog.Logger
}

// NewEngine creates a finalization engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, scope.NewConfigError("state store is required", nil)
	}
	if cfg.Provisioner == nil {
		return nil, scope.NewConfigError("provisioner is required", nil)
	}
	if cfg.Locks == nil {
		cfg.Locks = lock.NewDisabled()
	}
	if cfg.Tracer == nil {
		t, err := telemetry.NewTracer(telemetry.TracingConfig{}, "scopekeeper", "", "")
		if err != nil {
			return nil, err
		}
		cfg.Tracer = t
	}
	if cfg.Metrics == nil {
		m, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Metrics = m
	}

	return &Engine{
		store:       cfg.Store,
		locks:       cfg.Locks,
		provisioner: cfg.Provisioner,
		policies:    cfg.Policies,
		history:     cfg.History,
		tracer:      cfg.Tracer,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "finalize").Logger(),
		actor:       currentActor(),
	}, nil
}

// currentActor resolves the identity recorded in audit entries.
func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "system"
}

// Finalize tears down the scope at path. A single-segment path finalizes
// every stage of the application in turn. The returned report is non-nil
// except for lock and configuration errors.
func (e *Engine) Finalize(ctx context.Context, path string, opts Options) (*Report, error) {
	opts = opts.normalized()
	if !opts.Strategy.Valid() {
		return nil, scope.NewConfigError(fmt.Sprintf("unknown strategy %q", opts.Strategy), nil)
	}
	segments, err := state.SplitPath(path)
	if err != nil {
		return nil, scope.NewConfigError(fmt.Sprintf("invalid scope path %q", path), err)
	}

	ctx, span := e.tracer.StartFinalizeSpan(ctx, path, string(opts.Strategy), opts.DryRun)
	defer span.End()

	start := time.Now()
	runID := e.beginHistory(ctx, path, opts)
	e.recordAudit(ctx, "finalize.started", path, map[string]interface{}{
		"run_id":   runID,
		"strategy": string(opts.Strategy),
		"dry_run":  opts.DryRun,
		"force":    opts.Force,
	})

	e.logger.Info().
		Str("path", path).
		Str("strategy", string(opts.Strategy)).
		Bool("dry_run", opts.DryRun).
		Bool("force", opts.Force).
		Msg("Starting finalization")

	var report *Report
	if len(segments) == 1 {
		report, err = e.finalizeApp(ctx, segments[0], opts, runID)
	} else {
		report, err = e.finalizeTarget(ctx, path, segments, opts, runID)
	}

	duration := time.Since(start)
	e.finishHistory(ctx, runID, report, err, duration)
	completed := map[string]interface{}{
		"run_id": runID,
		"status": runStatus(report, err),
	}
	if report != nil {
		completed["resources_deleted"] = report.ResourcesDeleted
		completed["resources_failed"] = report.ResourcesFailed
	}
	e.recordAudit(ctx, "finalize.completed", path, completed)

	if err != nil {
		telemetry.RecordError(span, err)
		e.metrics.RecordFinalizeRun(runStatus(report, err), string(opts.Strategy), opts.DryRun, duration)
		return report, err
	}

	report.Duration = duration
	telemetry.RecordSuccess(span)
	e.metrics.RecordFinalizeRun(runStatus(report, nil), string(opts.Strategy), opts.DryRun, duration)

	e.logger.Info().
		Str("path", path).
		Int("resources_deleted", report.ResourcesDeleted).
		Int("resources_failed", report.ResourcesFailed).
		Int("nested_scopes", report.NestedScopesProcessed).
		Dur("duration", duration).
		Msg("Finalization finished")

	return report, nil
}

// finalizeApp finalizes every stage of an application and aggregates the
// per-stage reports under a synthetic application-level report.
func (e *Engine) finalizeApp(ctx context.Context, app string, opts Options, runID string) (*Report, error) {
	stages, err := e.store.ListStages(ctx, app)
	if err != nil {
		return nil, err
	}

	report := &Report{ScopePath: app, DryRun: opts.DryRun}
	for _, stage := range stages {
		path := state.JoinPath(app, stage)
		stageReport, err := e.finalizeTarget(ctx, path, []string{app, stage}, opts, runID)
		if err != nil {
			if scope.IsProtectedStage(err) {
				// Skip guarded stages, keep going with the rest.
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			return nil, err
		}
		report.ResourcesDeleted += stageReport.ResourcesDeleted
		report.ResourcesFailed += stageReport.ResourcesFailed
		report.NestedScopesProcessed += stageReport.NestedScopesProcessed
		report.Errors = append(report.Errors, stageReport.Errors...)
		report.Nested = append(report.Nested, stageReport)
	}
	return report, nil
}

// finalizeTarget runs the policy gate for one stage path and then tears the
// subtree down.
func (e *Engine) finalizeTarget(ctx context.Context, path string, segments []string, opts Options, runID string) (*Report, error) {
	sc, err := scope.New(path, e.store, e.locks, e.logger)
	if err != nil {
		return nil, err
	}

	exists, err := sc.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		// Finalizing a scope that was never created, or was already torn
		// down, is a successful no-op.
		return &Report{ScopePath: path, DryRun: opts.DryRun}, nil
	}

	if err := e.checkPolicy(ctx, sc, path, segments, opts); err != nil {
		report := &Report{
			ScopePath: path,
			DryRun:    opts.DryRun,
			Errors:    []string{err.Error()},
		}
		return report, err
	}

	return e.finalizeScope(ctx, sc, opts, runID)
}

func (e *Engine) checkPolicy(ctx context.Context, sc *scope.Scope, path string, segments []string, opts Options) error {
	if e.policies == nil {
		return nil
	}

	req := policy.Request{
		Path:     path,
		App:      segments[0],
		Strategy: string(opts.Strategy),
		Force:    opts.Force,
		DryRun:   opts.DryRun,
	}
	if len(segments) > 1 {
		req.Stage = segments[1]
	}

	facts := policy.ScopeFacts{}
	if doc, err := sc.Snapshot(ctx); err == nil {
		facts.ResourceCount = len(doc.Resources)
		facts.Environment = doc.Metadata.Environment
		facts.IsEphemeral = doc.Metadata.IsEphemeral
	}

	result, err := e.policies.EvaluateFinalize(ctx, req, facts)
	if err != nil {
		return err
	}
	if !result.Allowed {
		e.logger.Warn().
			Str("path", path).
			Int("violations", len(result.Violations)).
			Msg("Finalization denied by policy")
		return scope.NewProtectedStageError(path)
	}
	for _, w := range result.Warnings {
		e.logger.Warn().Str("path", path).Msg(w)
	}
	return nil
}

// finalizeScope tears down one scope subtree. The caller must not hold the
// scope's lock; finalizeScope acquires it for the duration of the level.
func (e *Engine) finalizeScope(ctx context.Context, sc *scope.Scope, opts Options, runID string) (*Report, error) {
	report := &Report{ScopePath: sc.Path(), DryRun: opts.DryRun}
	start := time.Now()

	lockStart := time.Now()
	handle, err := e.locks.Acquire(ctx, sc.Path(), opts.LockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			e.metrics.RecordLockTimeout()
			return nil, scope.NewLockTimeoutError(sc.Path(), err)
		}
		return nil, err
	}
	e.metrics.RecordLockWait(time.Since(lockStart))
	defer handle.Release()

	exists, err := sc.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		report.Duration = time.Since(start)
		return report, nil
	}

	doc, err := sc.Snapshot(ctx)
	if err != nil {
		if scope.IsStateCorruption(err) {
			// A corrupt document cannot be enumerated. Report it and leave
			// the file in place for manual inspection.
			report.Errors = append(report.Errors, err.Error())
			report.Duration = time.Since(start)
			return report, nil
		}
		return nil, err
	}

	sc.BeginFinalize()

	// Children first. Registration order is already sorted.
	for _, name := range doc.NestedScopes {
		child, err := sc.Child(name)
		if err != nil {
			return nil, err
		}
		childReport, err := e.finalizeScope(ctx, child, opts, runID)
		if err != nil {
			return nil, err
		}
		report.absorb(childReport)

		if childReport.ScopeRemoved {
			childName := name
			err := sc.Update(ctx, func(doc *state.Document) error {
				doc.NestedScopes = removeString(doc.NestedScopes, childName)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	e.deleteResources(ctx, sc, doc, opts, report, runID)

	removable := !opts.DryRun && report.ResourcesFailed == 0
	if !removable && !opts.DryRun && opts.Strategy == StrategyAggressive && opts.RemoveOnPartialFailure {
		removable = true
	}
	if removable {
		if err := sc.Destroy(ctx); err != nil {
			return nil, err
		}
		report.ScopeRemoved = true
		e.metrics.RecordScopeDestroyed()
		e.recordAudit(ctx, "scope.finalized", sc.Path(), map[string]interface{}{
			"run_id":            runID,
			"resources_deleted": report.ResourcesDeleted,
		})
	}

	report.Duration = time.Since(start)
	return report, nil
}

// deleteResources removes the scope's own resources in deterministic order,
// honoring the failure strategy.
func (e *Engine) deleteResources(ctx context.Context, sc *scope.Scope, doc *state.Document, opts Options, report *Report, runID string) {
	ids := make([]string, 0, len(doc.Resources))
	for id := range doc.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := doc.Resources[id]

		if opts.DryRun {
			report.ResourcesDeleted++
			e.logger.Info().
				Str("path", sc.Path()).
				Str("resource", id).
				Str("type", rec.Type).
				Msg("Would delete resource")
			continue
		}

		attempts, err := e.deleteResource(ctx, sc.Path(), rec, opts)
		if err != nil {
			report.ResourcesFailed++
			report.Errors = append(report.Errors, err.Error())
			e.metrics.RecordResourceFailed()
			e.recordResourceResult(ctx, runID, sc.Path(), rec, stores.ResultStatusFailed, attempts, err)
			e.logger.Error().
				Err(err).
				Str("path", sc.Path()).
				Str("resource", id).
				Int("attempts", attempts).
				Msg("Resource deletion failed")

			if opts.Strategy == StrategyConservative {
				break
			}
			continue
		}

		report.ResourcesDeleted++
		e.metrics.RecordResourceDeleted()
		e.recordResourceResult(ctx, runID, sc.Path(), rec, stores.ResultStatusDeleted, attempts, nil)

		resourceID := id
		if err := sc.Update(ctx, func(doc *state.Document) error {
			delete(doc.Resources, resourceID)
			return nil
		}); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: record deletion of %s: %v", sc.Path(), id, err))
		}
	}
}

// deleteResource calls the provisioner with bounded retries and exponential
// backoff. Returns the number of attempts made.
func (e *Engine) deleteResource(ctx context.Context, path string, rec state.ResourceRecord, opts Options) (int, error) {
	ctx, span := e.tracer.StartDeleteSpan(ctx, path, rec.ID, rec.Type)
	defer span.End()

	var err error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		err = e.provisioner.Delete(ctx, rec.Type, rec.ID)
		if err == nil {
			telemetry.RecordSuccess(span)
			return attempt, nil
		}

		if attempt == opts.RetryAttempts {
			break
		}

		e.metrics.RecordDeletionRetry()
		e.logger.Warn().
			Err(err).
			Str("path", path).
			Str("resource", rec.ID).
			Int("attempt", attempt).
			Int("max_attempts", opts.RetryAttempts).
			Msg("Retrying resource deletion")

		select {
		case <-time.After(retryBackoff(attempt)):
		case <-ctx.Done():
			telemetry.RecordError(span, ctx.Err())
			return attempt, scope.NewResourceDeletionError(path, rec.ID, ctx.Err())
		}
	}

	wrapped := scope.NewResourceDeletionError(path, rec.ID, err)
	telemetry.RecordError(span, wrapped)
	return opts.RetryAttempts, wrapped
}

// retryBackoff returns the delay before the next attempt. attempt is
// 1-based: 100ms after the first failure, doubling per attempt.
func retryBackoff(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func runStatus(report *Report, err error) string {
	switch {
	case err != nil:
		return string(stores.RunStatusFailed)
	case report != nil && report.ResourcesFailed > 0:
		return string(stores.RunStatusPartial)
	default:
		return string(stores.RunStatusCompleted)
	}
}

// beginHistory records the start of a run in the history store. Returns an
// empty id when history is disabled.
func (e *Engine) beginHistory(ctx context.Context, path string, opts Options) string {
	if e.history == nil {
		return ""
	}

	now := time.Now().UTC()
	run := &stores.FinalizeRun{
		ID:        uuid.New().String(),
		ScopePath: path,
		Strategy:  string(opts.Strategy),
		DryRun:    opts.DryRun,
		Force:     opts.Force,
		Status:    stores.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.history.CreateRun(ctx, run); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to record finalize run")
		return ""
	}
	return run.ID
}

func (e *Engine) finishHistory(ctx context.Context, runID string, report *Report, runErr error, duration time.Duration) {
	if e.history == nil || runID == "" {
		return
	}

	run := &stores.FinalizeRun{
		ID:         runID,
		Status:     stores.RunStatus(runStatus(report, runErr)),
		DurationMS: duration.Milliseconds(),
	}
	if report != nil {
		run.ResourcesDeleted = report.ResourcesDeleted
		run.ResourcesFailed = report.ResourcesFailed
		run.NestedScopes = report.NestedScopesProcessed
		if len(report.Errors) > 0 {
			if data, err := json.Marshal(report.Errors); err == nil {
				s := string(data)
				run.Errors = &s
			}
		}
	} else if runErr != nil {
		if data, err := json.Marshal([]string{runErr.Error()}); err == nil {
			s := string(data)
			run.Errors = &s
		}
	}

	if err := e.history.CompleteRun(ctx, run); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to record finalize outcome")
	}
}

// recordAudit writes one audit trail entry. Audit failures are logged and
// never fail the run.
func (e *Engine) recordAudit(ctx context.Context, action, path string, details map[string]interface{}) {
	if e.history == nil {
		return
	}

	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     e.actor,
		ScopePath: &path,
		Timestamp: time.Now().UTC(),
	}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			entry.Details = &s
		}
	}
	if err := e.history.CreateAuditEntry(ctx, entry); err != nil {
		e.logger.Warn().Err(err).Str("action", action).Msg("Failed to create audit entry")
	}
}

func (e *Engine) recordResourceResult(ctx context.Context, runID, path string, rec state.ResourceRecord, status stores.ResultStatus, attempts int, resErr error) {
	if e.history == nil || runID == "" {
		return
	}

	result := &stores.ResourceResult{
		ID:           uuid.New().String(),
		RunID:        runID,
		ScopePath:    path,
		ResourceID:   rec.ID,
		ResourceType: rec.Type,
		Status:       status,
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	}
	if resErr != nil {
		msg := resErr.Error()
		result.Error = &msg
	}
	if err := e.history.CreateResourceResult(ctx, result); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to record resource result")
	}
}
