package cmd

import (
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/spf13/cobra"

	"github.com/barysiuk/ngstep/internal/core"
)

var fixDepsCmd = &cobra.Command{
	Use:   "fix-deps",
	Short: "Align companion dependencies with the installed Angular major",
	Long: `Compare rxjs, zone.js, tslib, typescript, the devkit, cdk/material, kendo
and other companions in package.json against the versions known to work
with the project's Angular major (18, 19 or 20), and list obsolete packages.

Without flags nothing is changed. --update writes package.json, --yes also
runs npm install. Versions are resolved against the registry unless
--no-resolve is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		if err := preflight(d); err != nil {
			return err
		}
		update, _ := cmd.Flags().GetBool("update")
		yes, _ := cmd.Flags().GetBool("yes")
		noResolve, _ := cmd.Flags().GetBool("no-resolve")
		quiet, _ := cmd.Flags().GetBool("quiet")
		if quiet {
			loggo.GetLogger("ngstep").SetLogLevel(loggo.ERROR)
		}

		m, err := core.ReadManifest(d.dir)
		if err != nil {
			return err
		}
		major, err := m.AngularMajor()
		if err != nil {
			return err
		}
		tables, err := core.DefaultCompatTables()
		if err != nil {
			return err
		}
		table, err := tables.For(major)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "angular v%d detected.\n", major)
		analysis := core.AnalyzeDeps(m, major, table)
		analysis.Report(os.Stdout)
		if analysis.Total() == 0 {
			return nil
		}
		if !update && !yes {
			fmt.Fprintln(os.Stdout, "\n  dry run. pass --update to write package.json, or --yes to also run npm install.")
			return nil
		}

		opts := core.DepFixOptions{Verbose: !quiet, Out: os.Stdout}
		if !noResolve {
			npm := core.NewNpm(d.exec, d.dir, d.settings, nil)
			opts.Resolver = core.NewRegistryResolver(npm, d.settings.StrictRegistry)
		}
		changed, err := core.ApplyDeps(cmd.Context(), m, analysis, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\n  %d change(s) written to %s.\n", changed, core.ManifestFileName)

		if !yes {
			fmt.Fprintln(os.Stdout, "  run 'npm install --force' to apply them.")
			return nil
		}
		fmt.Fprintln(os.Stdout, "\n  running npm install --force...")
		res, err := core.NewNpm(d.exec, d.dir, d.settings, os.Stdout).Install(cmd.Context())
		if err != nil {
			return errors.Annotate(err, "npm install")
		}
		if !res.OK() {
			return errors.Errorf("npm install failed (exit %d)", res.ExitCode)
		}
		fmt.Fprintln(os.Stdout, "  dependencies installed.")
		return nil
	},
}

func init() {
	fixDepsCmd.Flags().Bool("update", false, "Write the changes to package.json")
	fixDepsCmd.Flags().BoolP("yes", "y", false, "Write the changes and run npm install")
	fixDepsCmd.Flags().Bool("no-resolve", false, "Use the table's versions without asking the registry")
	fixDepsCmd.Flags().BoolP("quiet", "q", false, "Print less")
	rootCmd.AddCommand(fixDepsCmd)
}
