package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/openfroyo/scopekeeper/pkg/state"
)

// manifestSchema constrains desired-resource manifests before extraction.
const manifestSchema = `
scopes: [string]: {
	resources: [...{
		id:   string & !=""
		type: string | *""
	}]
}
`

// DesiredResource is one resource a manifest wants kept.
type DesiredResource struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// DesiredScope is the wanted resource set for one scope path.
type DesiredScope struct {
	Resources []DesiredResource `json:"resources"`
}

// Manifest is a parsed desired-resource manifest. Resources tracked by a
// scope but absent from its manifest entry are considered orphaned.
type Manifest struct {
	// Scopes maps scope paths to their desired resources.
	Scopes map[string]DesiredScope `json:"scopes"`

	// SourceFiles lists the files the manifest was built from.
	SourceFiles []string `json:"source_files,omitempty"`

	// ParsedAt is when parsing happened.
	ParsedAt time.Time `json:"parsed_at"`
}

// ManifestParser parses CUE desired-resource manifests.
type ManifestParser struct {
	ctx *cue.Context
}

// NewManifestParser creates a manifest parser.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{ctx: cuecontext.New()}
}

// ParseFile loads and validates one manifest file.
func (p *ManifestParser) ParseFile(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	manifest, err := p.parse(string(content), path)
	if err != nil {
		return nil, err
	}
	manifest.SourceFiles = []string{path}
	return manifest, nil
}

// ParseInline parses manifest content held in memory.
func (p *ManifestParser) ParseInline(content string) (*Manifest, error) {
	return p.parse(content, "inline")
}

func (p *ManifestParser) parse(content, filename string) (*Manifest, error) {
	val := p.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest: %s", cueErrorDetail(err))
	}

	schema := p.ctx.CompileString(manifestSchema)
	unified := val.Unify(schema)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %s", cueErrorDetail(err))
	}

	manifest := &Manifest{
		Scopes:   make(map[string]DesiredScope),
		ParsedAt: time.Now(),
	}

	scopesVal := unified.LookupPath(cue.ParsePath("scopes"))
	if !scopesVal.Exists() {
		return manifest, nil
	}
	if err := scopesVal.Decode(&manifest.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode manifest scopes: %w", err)
	}

	for path := range manifest.Scopes {
		if _, err := state.SplitPath(path); err != nil {
			return nil, fmt.Errorf("manifest references invalid scope path %q: %w", path, err)
		}
	}

	return manifest, nil
}

// Paths returns the manifest's scope paths, sorted.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Scopes))
	for p := range m.Scopes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Desired returns a predicate reporting whether a tracked resource is still
// wanted at the given scope path. Scopes absent from the manifest want
// nothing, so all their resources test as orphaned.
func (m *Manifest) Desired(path string) func(rec state.ResourceRecord) bool {
	wanted := make(map[string]bool)
	if sc, ok := m.Scopes[path]; ok {
		for _, res := range sc.Resources {
			wanted[res.ID] = true
		}
	}
	return func(rec state.ResourceRecord) bool {
		return wanted[rec.ID]
	}
}

func cueErrorDetail(err error) string {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msgs = append(msgs, e.Error())
	}
	if len(msgs) == 0 {
		return err.Error()
	}
	return msgs[0]
}
