package cmd

import (
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/barysiuk/ngstep/internal/core"
)

// deps holds shared dependencies for CLI commands.
type deps struct {
	config   *core.ConfigManager
	settings core.Settings
	dir      string
	plan     *core.Plan
	planPath string
	exec     core.Executor
	metrics  *core.Metrics
}

// newDeps loads the config and applies the persistent flags on top of it.
func newDeps(cmd *cobra.Command) (*deps, error) {
	config, err := core.NewConfigManager()
	if err != nil {
		return nil, errors.Annotate(err, "initializing config")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Trace(err)
	}
	settings := cfg.Settings
	if strict, _ := cmd.Flags().GetBool("strict-registry"); strict {
		settings.StrictRegistry = true
	}

	dir, err := resolveTargetDir(cmd)
	if err != nil {
		return nil, errors.Trace(err)
	}
	planPath, _ := cmd.Flags().GetString("plan")
	plan, err := core.LoadPlan(planPath)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &deps{
		config:   config,
		settings: settings,
		dir:      dir,
		plan:     plan,
		planPath: planPath,
		exec:     core.NewProcessExecutor(settings),
		metrics:  core.NewMetrics(),
	}, nil
}
