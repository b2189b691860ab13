package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.StateDir == "" {
		t.Error("default state dir is empty")
	}
	if cfg.Locking.Mode != "file" {
		t.Errorf("default lock mode = %s, want file", cfg.Locking.Mode)
	}
	if cfg.Finalize.Strategy != "conservative" {
		t.Errorf("default strategy = %s, want conservative", cfg.Finalize.Strategy)
	}
	if cfg.Finalize.RetryAttempts != 3 {
		t.Errorf("default retry attempts = %d, want 3", cfg.Finalize.RetryAttempts)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
stateDir: /var/lib/scopekeeper
locking:
  mode: memory
  timeout: 5s
finalize:
  strategy: aggressive
  retryAttempts: 5
protectedStages:
  - prod
  - staging
history:
  enabled: false
provisioner:
  type: noop
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.StateDir != "/var/lib/scopekeeper" {
		t.Errorf("state dir = %s", cfg.StateDir)
	}
	if cfg.Locking.Mode != "memory" {
		t.Errorf("lock mode = %s, want memory", cfg.Locking.Mode)
	}
	if cfg.Locking.Timeout.Std() != 5*time.Second {
		t.Errorf("lock timeout = %s, want 5s", cfg.Locking.Timeout.Std())
	}
	if cfg.Finalize.Strategy != "aggressive" {
		t.Errorf("strategy = %s, want aggressive", cfg.Finalize.Strategy)
	}
	if cfg.Finalize.RetryAttempts != 5 {
		t.Errorf("retry attempts = %d, want 5", cfg.Finalize.RetryAttempts)
	}
	if len(cfg.ProtectedStages) != 2 {
		t.Errorf("protected stages = %v", cfg.ProtectedStages)
	}
	if cfg.History.Enabled {
		t.Error("history not disabled")
	}

	// Derived defaults fill in unset paths.
	if cfg.Locking.Dir != filepath.Join(cfg.StateDir, ".locks") {
		t.Errorf("lock dir = %s", cfg.Locking.Dir)
	}
	if cfg.History.Path != filepath.Join(cfg.StateDir, "history.db") {
		t.Errorf("history path = %s", cfg.History.Path)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "bad lock mode",
			content: `
stateDir: /tmp/state
locking:
  mode: mutex
`,
		},
		{
			name: "bad strategy",
			content: `
stateDir: /tmp/state
finalize:
  strategy: reckless
`,
		},
		{
			name: "zero retry attempts",
			content: `
stateDir: /tmp/state
finalize:
  strategy: conservative
  retryAttempts: 0
`,
		},
		{
			name: "sshfiles without ssh block",
			content: `
stateDir: /tmp/state
provisioner:
  type: sshfiles
`,
		},
		{
			name: "bad duration",
			content: `
stateDir: /tmp/state
locking:
  mode: file
  timeout: soon
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected load to fail")
			}
		})
	}
}

func TestDiscoverWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "stateDir: /opt/scopes\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}

	cfg, err := Discover(nested)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if cfg.StateDir != "/opt/scopes" {
		t.Errorf("state dir = %s, want /opt/scopes", cfg.StateDir)
	}
}

func TestDiscoverFallsBackToDefaults(t *testing.T) {
	cfg, err := Discover(t.TempDir())
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	if cfg.Locking.Mode != "file" {
		t.Errorf("lock mode = %s, want file default", cfg.Locking.Mode)
	}
	if cfg.Locking.Dir == "" {
		t.Error("derived lock dir not filled in")
	}
}
