package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block finalization.
	SeverityError Severity = "error"
)

// Policy represents a guardrail rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the outcome of evaluating a finalize request.
type Result struct {
	// Allowed indicates if finalization may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking and non-blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Request describes a finalize invocation for policy evaluation.
type Request struct {
	// Path is the full scope path being finalized.
	Path string `json:"path"`

	// App is the application segment of the path.
	App string `json:"app"`

	// Stage is the stage segment of the path, if present.
	Stage string `json:"stage,omitempty"`

	// Strategy is the finalize strategy (conservative or aggressive).
	Strategy string `json:"strategy"`

	// Force indicates the override flag was passed.
	Force bool `json:"force"`

	// DryRun indicates no deletions will be performed.
	DryRun bool `json:"dry_run"`
}

// ScopeFacts carries advisory scope information into policy input.
type ScopeFacts struct {
	// ResourceCount is the number of directly-owned resources.
	ResourceCount int `json:"resource_count"`

	// Environment is the advisory environment label from scope metadata.
	Environment string `json:"environment,omitempty"`

	// IsEphemeral is the advisory ephemeral flag from scope metadata.
	IsEphemeral bool `json:"is_ephemeral"`
}

// Input is the document handed to Rego evaluation.
type Input struct {
	// Request is the finalize invocation under evaluation.
	Request Request `json:"request"`

	// Scope carries advisory facts about the target scope.
	Scope ScopeFacts `json:"scope"`

	// ProtectedStages lists stage names guarded by configuration.
	ProtectedStages []string `json:"protected_stages"`
}
