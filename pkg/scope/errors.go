// Package scope provides the unit of ownership for the scopekeeper engine:
// a named node in the application/stage hierarchy that owns resource records
// and child-scope registrations, persisted through a state store and guarded
// by a lock manager.
package scope

import (
	"errors"
	"fmt"
)

// ErrorKind classifies scope errors for propagation and retry decisions.
type ErrorKind string

const (
	// KindLockTimeout indicates another holder retained the scope lock past
	// the configured timeout. Fatal to the enclosing operation.
	KindLockTimeout ErrorKind = "lock_timeout"

	// KindScopeNotFound indicates an operation against a path with no
	// persisted document and no active initialization.
	KindScopeNotFound ErrorKind = "scope_not_found"

	// KindDuplicateResource indicates a resource id collision within a scope.
	KindDuplicateResource ErrorKind = "duplicate_resource"

	// KindStateCorruption indicates the persisted document is unreadable or
	// unparsable. Fatal to the enclosing operation.
	KindStateCorruption ErrorKind = "state_corruption"

	// KindResourceDeletion wraps a provisioner failure during teardown.
	// These are retried uniformly and then absorbed into the report.
	KindResourceDeletion ErrorKind = "resource_deletion"

	// KindProtectedStage indicates finalization was attempted on a guarded
	// stage without the force flag. A guardrail, not a retryable failure.
	KindProtectedStage ErrorKind = "protected_stage"

	// KindConfig indicates invalid engine or command configuration.
	KindConfig ErrorKind = "config"
)

// Error is a classified error with path and resource context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Path is the scope path the error relates to, if applicable.
	Path string `json:"path,omitempty"`

	// Resource is the resource id that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s", e.Path)
		if e.Resource != "" {
			msg += fmt.Sprintf(", resource=%s", e.Resource)
		}
		msg += ")"
	} else if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(id string) *Error {
	e.Resource = id
	return e
}

// NewLockTimeoutError creates a lock-timeout error for a path.
func NewLockTimeoutError(path string, err error) *Error {
	return &Error{Kind: KindLockTimeout, Message: "could not acquire scope lock", Path: path, Err: err}
}

// NewScopeNotFoundError creates a scope-not-found error for a path.
func NewScopeNotFoundError(path string) *Error {
	return &Error{Kind: KindScopeNotFound, Message: "scope state does not exist", Path: path}
}

// NewDuplicateResourceError creates a duplicate-resource error.
func NewDuplicateResourceError(path, id string) *Error {
	return &Error{Kind: KindDuplicateResource, Message: "resource id already exists in scope", Path: path, Resource: id}
}

// NewStateCorruptionError creates a state-corruption error for a path.
func NewStateCorruptionError(path string, err error) *Error {
	return &Error{Kind: KindStateCorruption, Message: "scope state is corrupt", Path: path, Err: err}
}

// NewResourceDeletionError wraps a provisioner deletion failure.
func NewResourceDeletionError(path, id string, err error) *Error {
	return &Error{Kind: KindResourceDeletion, Message: "resource deletion failed", Path: path, Resource: id, Err: err}
}

// NewProtectedStageError creates a protected-stage guardrail error.
func NewProtectedStageError(path string) *Error {
	return &Error{Kind: KindProtectedStage, Message: "stage is protected; pass force to finalize", Path: path}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, err error) *Error {
	return &Error{Kind: KindConfig, Message: message, Err: err}
}

// IsLockTimeout returns true if the error is a lock-timeout error.
func IsLockTimeout(err error) bool { return isKind(err, KindLockTimeout) }

// IsScopeNotFound returns true if the error is a scope-not-found error.
func IsScopeNotFound(err error) bool { return isKind(err, KindScopeNotFound) }

// IsDuplicateResource returns true if the error is a duplicate-resource error.
func IsDuplicateResource(err error) bool { return isKind(err, KindDuplicateResource) }

// IsStateCorruption returns true if the error is a state-corruption error.
func IsStateCorruption(err error) bool { return isKind(err, KindStateCorruption) }

// IsResourceDeletion returns true if the error is a resource-deletion error.
func IsResourceDeletion(err error) bool { return isKind(err, KindResourceDeletion) }

// IsProtectedStage returns true if the error is a protected-stage error.
func IsProtectedStage(err error) bool { return isKind(err, KindProtectedStage) }

// IsConfig returns true if the error is a configuration error.
func IsConfig(err error) bool { return isKind(err, KindConfig) }

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
