package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scopekeeper/pkg/config"
	"github.com/openfroyo/scopekeeper/pkg/finalize"
	"github.com/openfroyo/scopekeeper/pkg/lock"
	"github.com/openfroyo/scopekeeper/pkg/policy"
	"github.com/openfroyo/scopekeeper/pkg/provision"
	"github.com/openfroyo/scopekeeper/pkg/provision/sshfiles"
	"github.com/openfroyo/scopekeeper/pkg/state"
	"github.com/openfroyo/scopekeeper/pkg/stores"
	"github.com/openfroyo/scopekeeper/pkg/telemetry"
)

// runtime bundles the collaborators a command needs, assembled from the
// discovered configuration.
type runtime struct {
	cfg         *config.Config
	logger      zerolog.Logger
	tel         *telemetry.Telemetry
	store       *state.FileStore
	locks       lock.Manager
	policies    *policy.Engine
	provisioner provision.Provisioner
	history     stores.Store
	closers     []func() error
}

// newRuntime loads configuration and wires the shared components. History
// is only opened when withHistory is set, so read-only commands do not
// touch the database.
func newRuntime(ctx context.Context, withHistory bool) (*runtime, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, wdErr
		}
		cfg, err = config.Discover(wd)
	}
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	logger := tel.Logger
	if verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	rt := &runtime{cfg: cfg, logger: logger, tel: tel}
	rt.closers = append(rt.closers, func() error {
		return tel.Shutdown(context.Background())
	})

	rt.store, err = state.NewFileStore(state.FileStoreConfig{
		BaseDir: cfg.StateDir,
		Logger:  logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.locks, err = buildLockManager(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.policies = policy.NewEngine(cfg.ProtectedStages, logger)
	if len(cfg.PolicyPaths) > 0 {
		if err := rt.policies.LoadPolicies(cfg.PolicyPaths); err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.provisioner, err = buildProvisioner(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if withHistory && cfg.History.Enabled {
		history, err := openHistory(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.history = history
		rt.closers = append(rt.closers, history.Close)
	}

	return rt, nil
}

func buildLockManager(cfg *config.Config, logger zerolog.Logger) (lock.Manager, error) {
	switch cfg.Locking.Mode {
	case "file":
		return lock.NewFileManager(lock.FileManagerConfig{
			LockDir: cfg.Locking.Dir,
			Logger:  logger,
		})
	case "memory":
		return lock.NewMemoryManager(), nil
	case "disabled":
		return lock.NewDisabled(), nil
	default:
		return nil, fmt.Errorf("unknown lock mode %q", cfg.Locking.Mode)
	}
}

func buildProvisioner(cfg *config.Config, logger zerolog.Logger) (provision.Provisioner, error) {
	switch cfg.Provisioner.Type {
	case "sshfiles":
		return sshfiles.New(*cfg.Provisioner.SSH, logger)
	case "noop":
		return provision.NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown provisioner type %q", cfg.Provisioner.Type)
	}
}

func openHistory(ctx context.Context, cfg *config.Config) (stores.Store, error) {
	history, err := stores.NewSQLiteStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := history.Init(ctx); err != nil {
		return nil, err
	}
	if err := history.Migrate(ctx); err != nil {
		history.Close()
		return nil, err
	}
	if err := history.HealthCheck(ctx); err != nil {
		history.Close()
		return nil, err
	}
	return history, nil
}

// engine builds a finalization engine on top of the runtime's components.
func (rt *runtime) engine() (*finalize.Engine, error) {
	return finalize.NewEngine(finalize.Config{
		Store:       rt.store,
		Locks:       rt.locks,
		Provisioner: rt.provisioner,
		Policies:    rt.policies,
		History:     rt.history,
		Tracer:      rt.tel.Tracer,
		Metrics:     rt.tel.Metrics,
		Logger:      rt.logger,
	})
}

// resolveTarget turns a command argument into a scope path, using the
// configured default application for bare or empty targets.
func (rt *runtime) resolveTarget(arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if rt.cfg.DefaultApp != "" {
		return rt.cfg.DefaultApp, nil
	}
	return "", fmt.Errorf("no target given and no defaultApp configured")
}

// Close releases runtime components in reverse acquisition order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close component")
		}
	}
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
