package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/barysiuk/ngstep/internal/core"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the next upgrade step without changing anything",
	Long: `Dry run: show the transition the next 'ngstep step' would apply, the phase
it would resume from, its package versions and migration ranges.

With --all the whole plan is listed, marking finished and next steps.
With --render the output is printed as formatted markdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		if err := preflight(d); err != nil {
			return err
		}
		showAll, _ := cmd.Flags().GetBool("all")
		render, _ := cmd.Flags().GetBool("render")

		orch := newOrchestrator(d, nil)
		next, major, ok, err := orch.Next()
		if err != nil {
			return err
		}
		entries, err := orch.Ledger().Entries()
		if err != nil {
			return err
		}

		if render {
			return renderPlan(d.plan, next, ok, showAll)
		}
		if showAll {
			printPlanTable(d.plan, core.CompletedLabels(entries), next, ok)
			return nil
		}

		fmt.Fprintf(os.Stdout, "angular v%d\n\n", major)
		if !ok {
			_, final := d.plan.Range()
			if major >= final {
				fmt.Fprintf(os.Stdout, "all done! angular v%d\n", major)
			} else {
				fmt.Fprintf(os.Stdout, "no transition from v%d in the plan.\n", major)
			}
			return nil
		}
		printNext(next)
		return nil
	},
}

func printNext(r core.Resume) {
	t := r.Transition
	fmt.Fprintf(os.Stdout, "next: %s  (v%d -> v%d)\n", t.Label, t.From, t.To)
	if r.Resumed {
		fmt.Fprintf(os.Stdout, "  resuming from phase %d (%s)\n", r.Phase, r.Phase)
	}
	if len(t.Notes) > 0 {
		fmt.Fprintln(os.Stdout)
		for i, n := range t.Notes {
			fmt.Fprintf(os.Stdout, "  %d. %s\n", i+1, n)
		}
	}
	fmt.Fprintln(os.Stdout, "\npackages:")
	for _, pin := range t.Packages {
		fmt.Fprintf(os.Stdout, "  %s -> %s\n", pin.Name, pin.Version)
	}
	if len(t.Migrations) > 0 {
		fmt.Fprintln(os.Stdout, "\nmigrations:")
		for _, m := range t.Migrations {
			fmt.Fprintf(os.Stdout, "  %s (%s -> %s)\n", m.PackageName(), m.From, m.To)
		}
	}
	fmt.Fprintln(os.Stdout, "\nrun 'ngstep step' to apply this step, or 'ngstep all' for every step.")
}

func printPlanTable(plan *core.Plan, done map[string]bool, next core.Resume, hasNext bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tStep\tFrom\tTo\tPackages\tMigrations")
	for _, t := range plan.Transitions {
		mark := " "
		switch {
		case done[t.Label]:
			mark = "+"
		case hasNext && t.Label == next.Transition.Label:
			mark = ">"
		}
		fmt.Fprintf(w, "%s\t%s\tv%d\tv%d\t%d\t%d\n", mark, t.Label, t.From, t.To, len(t.Packages), len(t.Migrations))
	}
	_ = w.Flush()
}

func renderPlan(plan *core.Plan, next core.Resume, hasNext, all bool) error {
	var md strings.Builder
	md.WriteString("# Upgrade plan\n\n")
	switch {
	case all:
		for _, t := range plan.Transitions {
			md.WriteString(t.Markdown())
			md.WriteString("\n")
		}
	case hasNext:
		md.WriteString(next.Transition.Markdown())
	default:
		md.WriteString("Nothing left to upgrade.\n")
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return errors.Annotate(err, "creating markdown renderer")
	}
	out, err := r.Render(md.String())
	if err != nil {
		return errors.Annotate(err, "rendering plan")
	}
	fmt.Fprint(os.Stdout, out)
	return nil
}

func init() {
	planCmd.Flags().Bool("all", false, "List every transition of the plan")
	planCmd.Flags().Bool("render", false, "Render the plan as formatted markdown")
	rootCmd.AddCommand(planCmd)
}
