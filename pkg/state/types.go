package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound indicates that no document exists for the requested path.
var ErrNotFound = errors.New("scope document not found")

// ErrCorrupt indicates that a document exists but could not be parsed.
var ErrCorrupt = errors.New("scope document is corrupt")

// DocumentFile is the fixed filename of a scope document within its directory.
const DocumentFile = "state.json"

// ResourceRecord describes one resource owned by a scope.
type ResourceRecord struct {
	// ID uniquely identifies the resource within its scope.
	ID string `json:"id"`

	// Type is the provisioner resource type (e.g. "bucket", "remote-file").
	Type string `json:"type"`

	// Name is the human-readable resource name.
	Name string `json:"name"`

	// Attributes contains opaque provider-specific key-value data.
	Attributes map[string]string `json:"attributes,omitempty"`

	// CreatedAt is when the resource was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Metadata carries advisory, free-form information about a scope.
// It is never consulted for correctness decisions.
type Metadata struct {
	Environment   string    `json:"environment,omitempty"`
	IsEphemeral   bool      `json:"is_ephemeral,omitempty"`
	EstimatedCost string    `json:"estimated_cost,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdated   time.Time `json:"last_updated"`
	LastActivity  time.Time `json:"last_activity,omitempty"`
}

// Document is the persisted record for one scope path.
type Document struct {
	// Path is the slash-delimited scope path this document belongs to.
	Path string `json:"path"`

	// Resources maps resource id to its record. Ids are unique within the
	// scope but not globally.
	Resources map[string]ResourceRecord `json:"resources"`

	// NestedScopes is the set of immediate child segment names registered
	// under this scope.
	NestedScopes []string `json:"nested_scopes,omitempty"`

	// Metadata is advisory information about the scope.
	Metadata Metadata `json:"metadata"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Path:     d.Path,
		Metadata: d.Metadata,
	}
	if d.Resources != nil {
		out.Resources = make(map[string]ResourceRecord, len(d.Resources))
		for id, r := range d.Resources {
			rc := r
			if r.Attributes != nil {
				rc.Attributes = make(map[string]string, len(r.Attributes))
				for k, v := range r.Attributes {
					rc.Attributes[k] = v
				}
			}
			out.Resources[id] = rc
		}
	}
	if d.NestedScopes != nil {
		out.NestedScopes = append([]string(nil), d.NestedScopes...)
	}
	return out
}

// HasNestedScope reports whether name is registered as a child of this scope.
func (d *Document) HasNestedScope(name string) bool {
	for _, n := range d.NestedScopes {
		if n == name {
			return true
		}
	}
	return false
}

// Store persists scope documents addressed by hierarchical path.
type Store interface {
	// Read loads the document for a path. Returns ErrNotFound if no
	// document exists.
	Read(ctx context.Context, path string) (*Document, error)

	// Write atomically replaces the document for a path, creating any
	// missing intermediate namespace.
	Write(ctx context.Context, path string, doc *Document) error

	// Exists reports whether a document exists for a path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the document for a path. Returns ErrNotFound if no
	// document exists.
	Delete(ctx context.Context, path string) error

	// ListStages returns the stage names under an application that have a
	// persisted document, reflecting a consistent snapshot at call time.
	ListStages(ctx context.Context, app string) ([]string, error)

	// ListApps returns the application names that have at least one stage.
	ListApps(ctx context.Context) ([]string, error)
}

// SplitPath splits a slash-delimited scope path into validated segments.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("scope path is empty")
	}
	segments := strings.Split(path, "/")
	for _, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return nil, fmt.Errorf("invalid scope path %q: %w", path, err)
		}
	}
	return segments, nil
}

// JoinPath joins path segments into a slash-delimited scope path.
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// ParentPath returns the path one segment shorter, or "" for a root path.
func ParentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// LastSegment returns the final segment of a path.
func LastSegment(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func validateSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("empty path segment")
	}
	if seg == "." || seg == ".." {
		return fmt.Errorf("path segment %q is reserved", seg)
	}
	for _, r := range seg {
		if r == '/' || r == '\\' || r == 0 {
			return fmt.Errorf("path segment %q contains illegal character", seg)
		}
	}
	return nil
}
