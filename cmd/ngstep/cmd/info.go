package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/barysiuk/ngstep/internal/core"
	"github.com/barysiuk/ngstep/internal/core/fallback"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the toolchain, configuration and plan in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		env := core.SnapshotEnvironment(cmd.Context(), d.exec, d.settings, d.dir)

		required := "any"
		if d.settings.RequiredNodeMajor != 0 {
			required = fmt.Sprintf("%d", d.settings.RequiredNodeMajor)
		}
		planSource := "built-in"
		if d.planPath != "" {
			planSource = d.planPath
		}
		from, to := d.plan.Range()

		ledgerPath := core.LedgerPath(d.dir)
		ledgerState := "none"
		if fi, err := os.Stat(ledgerPath); err == nil {
			ledgerState = fmt.Sprintf("%s, updated %s", humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime()))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ngstep\t%s\n", Version)
		fmt.Fprintf(w, "node\t%s (required major: %s)\n", env.Node, required)
		fmt.Fprintf(w, "npm\t%s\n", env.Npm)
		fmt.Fprintf(w, "config\t%s\n", d.config.ConfigPath())
		fmt.Fprintf(w, "runner\t%s\n", d.config.RunnerDir())
		fmt.Fprintf(w, "ledger\t%s (%s)\n", ledgerPath, ledgerState)
		fmt.Fprintf(w, "plan\t%s: v%d -> v%d, %d transitions\n", planSource, from, to, len(d.plan.Transitions))
		fmt.Fprintf(w, "fallbacks\t%d\n", len(fallback.All()))
		fmt.Fprintf(w, "timeouts\tregistry %s, install %s, migration %s\n",
			d.settings.RegistryTimeout.Std(), d.settings.InstallTimeout.Std(), d.settings.MigrationTimeout.Std())
		if err := w.Flush(); err != nil {
			return err
		}

		if verbose, _ := cmd.Flags().GetBool("fallbacks"); verbose {
			fmt.Fprintln(os.Stdout, "\nfallbacks:")
			for _, f := range fallback.All() {
				fmt.Fprintf(os.Stdout, "  %-45s %s\n", f.Name(), f.Description())
			}
		}
		return nil
	},
}

func init() {
	infoCmd.Flags().Bool("fallbacks", false, "List the built-in migration fallbacks")
	rootCmd.AddCommand(infoCmd)
}
