package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const denyEverythingRego = `# Blocks every finalize request.
package custom.denyall

import rego.v1

deny contains violation if {
	violation := {"message": "finalization is disabled", "severity": "error"}
}
`

func TestLoadFromPaths_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "deny-all.rego")
	if err := os.WriteFile(file, []byte(denyEverythingRego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policies, err := loader.LoadFromPaths([]string{file})
	if err != nil {
		t.Fatalf("failed to load policies: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != "deny-all" {
		t.Errorf("policy name = %q, want %q", policies[0].Name, "deny-all")
	}
	if policies[0].Description == "" {
		t.Error("expected description extracted from leading comment")
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.rego"), []byte(denyEverythingRego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policies, err := loader.LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("failed to load policies: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "deny-all.rego"), []byte(denyEverythingRego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	eng := newTestEngine(t, nil)
	if err := eng.LoadPolicies([]string{dir}); err != nil {
		t.Fatalf("failed to load policies into engine: %v", err)
	}

	result, err := eng.EvaluateFinalize(context.Background(),
		Request{Path: "acme/test", App: "acme", Stage: "test", Strategy: "conservative"}, ScopeFacts{IsEphemeral: true})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("loaded deny-all policy did not block finalization")
	}
}
