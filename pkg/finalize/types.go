package finalize

import (
	"time"
)

// Strategy controls how teardown reacts to resource deletion failures.
type Strategy string

const (
	// StrategyConservative stops deleting within a scope at the first
	// failure, leaving the remaining resources and the scope document in
	// place for a later retry.
	StrategyConservative Strategy = "conservative"

	// StrategyAggressive attempts every resource regardless of earlier
	// failures and reports the full set of outcomes.
	StrategyAggressive Strategy = "aggressive"
)

// Valid reports whether the strategy is one of the known values.
func (s Strategy) Valid() bool {
	return s == StrategyConservative || s == StrategyAggressive
}

const (
	// DefaultRetryAttempts is the total number of deletion attempts per
	// resource, including the first.
	DefaultRetryAttempts = 3

	// DefaultLockTimeout bounds how long a run waits for each scope lock.
	DefaultLockTimeout = 30 * time.Second

	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Options configures a single finalization run.
type Options struct {
	// Strategy selects the failure-handling strategy. Defaults to
	// conservative.
	Strategy Strategy

	// RetryAttempts is the total number of attempts per resource,
	// including the first. Values below 1 fall back to the default.
	RetryAttempts int

	// DryRun reports what would be deleted without touching anything.
	DryRun bool

	// Force allows finalizing protected stages.
	Force bool

	// LockTimeout bounds lock acquisition per scope level.
	LockTimeout time.Duration

	// RemoveOnPartialFailure removes the scope document even when some
	// resources could not be deleted. Only honored with the aggressive
	// strategy; the orphaned resources are then no longer tracked.
	RemoveOnPartialFailure bool
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		Strategy:      StrategyConservative,
		RetryAttempts: DefaultRetryAttempts,
		LockTimeout:   DefaultLockTimeout,
	}
}

func (o Options) normalized() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyConservative
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	return o
}

// Report describes the outcome of finalizing one scope subtree. Counters
// aggregate over the scope itself and everything beneath it; per-child
// breakdowns are available through Nested.
type Report struct {
	// ScopePath is the path this report covers.
	ScopePath string `json:"scopePath"`

	// ResourcesDeleted counts resources removed in this subtree. Under
	// dry-run it counts resources that would be removed.
	ResourcesDeleted int `json:"resourcesDeleted"`

	// ResourcesFailed counts resources whose deletion ultimately failed.
	ResourcesFailed int `json:"resourcesFailed"`

	// NestedScopesProcessed counts descendant scopes visited.
	NestedScopesProcessed int `json:"nestedScopesProcessed"`

	// ScopeRemoved reports whether the scope document was deleted.
	ScopeRemoved bool `json:"scopeRemoved"`

	// DryRun echoes the dry-run flag of the run.
	DryRun bool `json:"dryRun,omitempty"`

	// Duration is how long this subtree took, in wall time.
	Duration time.Duration `json:"duration"`

	// Errors lists human-readable failure descriptions for this subtree.
	Errors []string `json:"errors,omitempty"`

	// Nested holds per-child reports in processing order.
	Nested []*Report `json:"nested,omitempty"`
}

// Succeeded reports whether the run completed with no failures.
func (r *Report) Succeeded() bool {
	return r.ResourcesFailed == 0 && len(r.Errors) == 0
}

// absorb folds a child subtree report into the parent's aggregates.
func (r *Report) absorb(child *Report) {
	r.ResourcesDeleted += child.ResourcesDeleted
	r.ResourcesFailed += child.ResourcesFailed
	r.NestedScopesProcessed += 1 + child.NestedScopesProcessed
	r.Errors = append(r.Errors, child.Errors...)
	r.Nested = append(r.Nested, child)
}
