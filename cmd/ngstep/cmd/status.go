package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/barysiuk/ngstep/internal/core"
	"github.com/barysiuk/ngstep/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the upgrade history of the project",
	Long: `Show every recorded step of the progress ledger and the transitions
still waiting for their migrations.

--json prints the same data for scripts. --interactive opens a browser
that follows the ledger while another terminal runs 'ngstep all'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		if err := preflight(d); err != nil {
			return err
		}

		ledger := core.NewLedger(d.dir, nil)
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			return tui.RunHistory(cmd.Context(), tui.Options{Ledger: ledger, Plan: d.plan})
		}

		entries, err := ledger.Entries()
		if err != nil {
			return err
		}
		pending := core.PendingMigrations(entries)

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			out := statusJSON{Entries: entries, Pending: pending, Completed: completedInOrder(entries)}
			if out.Entries == nil {
				out.Entries = []core.Entry{}
			}
			if out.Completed == nil {
				out.Completed = []string{}
			}
			if out.Pending == nil {
				out.Pending = []string{}
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return errors.Annotate(err, "marshaling JSON")
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "no history.")
			return nil
		}
		for _, e := range core.Live(entries) {
			fmt.Fprintf(os.Stdout, "  %s\n", historyLine(e))
		}
		if len(pending) > 0 {
			fmt.Fprintf(os.Stdout, "\n  pending migrations: %d\n", len(pending))
			for _, l := range pending {
				fmt.Fprintf(os.Stdout, "    - %s\n", l)
			}
		}
		return nil
	},
}

type statusJSON struct {
	Entries   []core.Entry `json:"entries"`
	Completed []string     `json:"completed"`
	Pending   []string     `json:"pending"`
}

// historyLine renders an entry as "vSTEP | label | status (phase N) | Node X | time".
func historyLine(e core.Entry) string {
	status := string(e.Status)
	if e.Phase != nil {
		status += fmt.Sprintf(" (phase %d)", *e.Phase)
	}
	node := e.Node
	if node == "" {
		node = "?"
	}
	return fmt.Sprintf("v%d | %s | %s | Node %s | %s (%s)",
		e.Step, e.Label, status, node, e.Timestamp.Format("2006-01-02 15:04:05"), humanize.Time(e.Timestamp))
}

// completedInOrder lists successful labels in the order they finished.
func completedInOrder(entries []core.Entry) []string {
	var labels []string
	for _, e := range entries {
		if e.Status == core.StatusSuccess {
			labels = append(labels, e.Label)
		}
	}
	return labels
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	statusCmd.Flags().BoolP("interactive", "i", false, "Browse the history interactively")
	rootCmd.AddCommand(statusCmd)
}
