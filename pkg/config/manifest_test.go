package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/scopekeeper/pkg/state"
)

const sampleManifest = `
scopes: {
	"acme/prod": {
		resources: [
			{id: "db-main", type: "database"},
			{id: "cdn", type: "bucket"},
		]
	}
	"acme/test": {
		resources: [
			{id: "fixture"},
		]
	}
}
`

func TestManifestParseInline(t *testing.T) {
	parser := NewManifestParser()

	manifest, err := parser.ParseInline(sampleManifest)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	paths := manifest.Paths()
	if len(paths) != 2 || paths[0] != "acme/prod" || paths[1] != "acme/test" {
		t.Errorf("paths = %v, want [acme/prod acme/test]", paths)
	}

	prod := manifest.Scopes["acme/prod"]
	if len(prod.Resources) != 2 {
		t.Fatalf("acme/prod resources = %d, want 2", len(prod.Resources))
	}
	if prod.Resources[0].ID != "db-main" || prod.Resources[0].Type != "database" {
		t.Errorf("first resource = %+v", prod.Resources[0])
	}

	// Untyped resource gets the schema default.
	test := manifest.Scopes["acme/test"]
	if len(test.Resources) != 1 || test.Resources[0].Type != "" {
		t.Errorf("acme/test resources = %+v", test.Resources)
	}
}

func TestManifestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "desired.cue")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	parser := NewManifestParser()
	manifest, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("failed to parse manifest file: %v", err)
	}
	if len(manifest.SourceFiles) != 1 || manifest.SourceFiles[0] != path {
		t.Errorf("source files = %v", manifest.SourceFiles)
	}
}

func TestManifestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "syntax error",
			content: `scopes: {`,
		},
		{
			name: "empty resource id",
			content: `
scopes: {
	"acme/prod": {
		resources: [{id: ""}]
	}
}
`,
		},
		{
			name: "bad scope path",
			content: `
scopes: {
	"../escape": {
		resources: []
	}
}
`,
		},
	}

	parser := NewManifestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parser.ParseInline(tt.content); err == nil {
				t.Error("expected parse to fail")
			}
		})
	}
}

func TestManifestDesiredPredicate(t *testing.T) {
	parser := NewManifestParser()
	manifest, err := parser.ParseInline(sampleManifest)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	desired := manifest.Desired("acme/prod")
	if !desired(state.ResourceRecord{ID: "db-main"}) {
		t.Error("db-main should be desired")
	}
	if desired(state.ResourceRecord{ID: "stray"}) {
		t.Error("stray should be orphaned")
	}

	// A scope the manifest does not mention wants nothing.
	unknown := manifest.Desired("acme/dev")
	if unknown(state.ResourceRecord{ID: "anything"}) {
		t.Error("resources of unlisted scopes should be orphaned")
	}
}
