package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/scopekeeper/pkg/provision/sshfiles"
	"github.com/openfroyo/scopekeeper/pkg/telemetry"
)

// FileName is the tool configuration file searched for in the working
// directory and its ancestors.
const FileName = "scopekeeper.yaml"

// Duration wraps time.Duration with YAML support for values like "30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the tool configuration.
type Config struct {
	// StateDir is the root directory for scope state documents.
	StateDir string `yaml:"stateDir" validate:"required"`

	// DefaultApp is the ambient application used when a command is given
	// a bare stage name or no target at all.
	DefaultApp string `yaml:"defaultApp,omitempty"`

	// Locking configures the scope lock manager.
	Locking LockingConfig `yaml:"locking"`

	// Finalize carries default finalization options.
	Finalize FinalizeConfig `yaml:"finalize"`

	// ProtectedStages lists stage names that refuse finalization without
	// the force flag.
	ProtectedStages []string `yaml:"protectedStages"`

	// PolicyPaths lists additional Rego policy files or directories.
	PolicyPaths []string `yaml:"policyPaths"`

	// History configures the SQLite run-history store.
	History HistoryConfig `yaml:"history"`

	// Provisioner selects the backend resources are deleted through.
	Provisioner ProvisionerConfig `yaml:"provisioner"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// LockingConfig configures the scope lock manager.
type LockingConfig struct {
	// Mode selects the lock backend: file, memory, or disabled.
	Mode string `yaml:"mode" validate:"oneof=file memory disabled"`

	// Dir is where file locks live. Defaults to <stateDir>/.locks.
	Dir string `yaml:"dir"`

	// Timeout bounds lock acquisition per scope level.
	Timeout Duration `yaml:"timeout"`
}

// FinalizeConfig carries default finalization options.
type FinalizeConfig struct {
	// Strategy is conservative or aggressive.
	Strategy string `yaml:"strategy" validate:"oneof=conservative aggressive"`

	// RetryAttempts is the total deletion attempts per resource.
	RetryAttempts int `yaml:"retryAttempts" validate:"min=1"`

	// RemoveOnPartialFailure removes scope documents despite failed
	// resources. Aggressive strategy only.
	RemoveOnPartialFailure bool `yaml:"removeOnPartialFailure"`
}

// HistoryConfig configures the run-history store.
type HistoryConfig struct {
	// Enabled turns history recording on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file. Defaults to
	// <stateDir>/history.db.
	Path string `yaml:"path"`
}

// ProvisionerConfig selects the resource backend.
type ProvisionerConfig struct {
	// Type is "noop" or "sshfiles".
	Type string `yaml:"type" validate:"oneof=noop sshfiles"`

	// SSH configures the sshfiles backend.
	SSH *sshfiles.Config `yaml:"ssh,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	stateDir := ".scopekeeper/state"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".scopekeeper", "state")
	}

	return &Config{
		StateDir: stateDir,
		Locking: LockingConfig{
			Mode:    "file",
			Timeout: Duration(30 * time.Second),
		},
		Finalize: FinalizeConfig{
			Strategy:      "conservative",
			RetryAttempts: 3,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Provisioner: ProvisionerConfig{
			Type: "noop",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads and validates the configuration file at path, layered over the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Discover walks from startDir toward the filesystem root looking for the
// configuration file. Returns Default() when none exists.
func Discover(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	cfg := Default()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Locking.Dir == "" {
		c.Locking.Dir = filepath.Join(c.StateDir, ".locks")
	}
	if c.Locking.Timeout <= 0 {
		c.Locking.Timeout = Duration(30 * time.Second)
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.StateDir, "history.db")
	}
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Provisioner.Type == "sshfiles" {
		if c.Provisioner.SSH == nil {
			return fmt.Errorf("provisioner.ssh is required for the sshfiles backend")
		}
		if err := v.Struct(c.Provisioner.SSH); err != nil {
			return err
		}
	}
	return c.Telemetry.Validate()
}
