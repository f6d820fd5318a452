package cmd

import (
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/barysiuk/ngstep/internal/core"
)

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Apply the next upgrade step",
	Long: `Apply the next transition of the plan: update package.json, install
dependencies, and run the framework migrations.

An interrupted or failed step resumes at the phase it stopped in.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpgrade(cmd, false)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Apply every remaining upgrade step",
	Long: `Apply transitions one after another until the plan is exhausted or a
step fails. Re-running continues from the failed step.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpgrade(cmd, true)
	},
}

func runUpgrade(cmd *cobra.Command, all bool) error {
	d, err := newDeps(cmd)
	if err != nil {
		return err
	}
	if err := preflight(d); err != nil {
		return err
	}
	ctx := cmd.Context()
	env, err := checkNode(ctx, cmd, d)
	if err != nil {
		return err
	}

	m, err := core.ReadManifest(d.dir)
	if err != nil {
		return err
	}
	major, err := m.AngularMajor()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "angular v%d | node %s | npm %s\n\n", major, env.Node, env.Npm)

	orch := newOrchestrator(d, &env)
	var sum *core.RunSummary
	if all {
		sum, err = orch.All(ctx)
	} else {
		sum, err = orch.Step(ctx)
	}
	if sum != nil {
		_, final := d.plan.Range()
		sum.Report(os.Stdout, final)
	}
	writeMetrics(cmd, d)
	return errors.Trace(err)
}

func init() {
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(allCmd)
}
