package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/barysiuk/ngstep/internal/core"
)

// resolveTargetDir resolves the --dir flag or falls back to cwd.
func resolveTargetDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", errors.Annotate(err, "getting current directory")
		}
		return cwd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Annotate(err, "resolving --dir")
	}
	return abs, nil
}

// preflight checks that dir is an Angular project and puts back workspace
// files a crashed run left patched.
func preflight(d *deps) error {
	if err := core.CheckWorkspace(d.dir); err != nil {
		return errors.Trace(err)
	}
	if n := core.NewWorkspacePatcher(d.dir).RestoreLeftovers(); n > 0 {
		fmt.Fprintf(os.Stdout, "restored %d workspace file(s) from an interrupted run.\n\n", n)
	}
	return nil
}

// checkNode snapshots the toolchain and enforces the node major unless
// --skip-node-check is set.
func checkNode(ctx context.Context, cmd *cobra.Command, d *deps) (core.Environment, error) {
	env := core.SnapshotEnvironment(ctx, d.exec, d.settings, d.dir)
	if skip, _ := cmd.Flags().GetBool("skip-node-check"); skip {
		return env, nil
	}
	return env, errors.Trace(core.CheckNodeMajor(env, d.settings.RequiredNodeMajor))
}

// writeMetrics writes the run's metrics when --metrics-file is set.
func writeMetrics(cmd *cobra.Command, d *deps) {
	path, _ := cmd.Flags().GetString("metrics-file")
	if path == "" {
		return
	}
	if err := d.metrics.WriteTextfile(path); err != nil {
		logger.Warningf("%v", err)
	}
}

func newOrchestrator(d *deps, env *core.Environment) *core.Orchestrator {
	return core.NewOrchestrator(core.OrchestratorConfig{
		Dir:         d.dir,
		Plan:        d.plan,
		Settings:    d.settings,
		Exec:        d.exec,
		RunnerDir:   d.config.RunnerDir(),
		Environment: env,
		Metrics:     d.metrics,
		Out:         os.Stdout,
	})
}
