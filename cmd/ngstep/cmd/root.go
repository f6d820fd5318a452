package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var logger = loggo.GetLogger("ngstep.cmd")

var rootCmd = &cobra.Command{
	Use:   "ngstep",
	Short: "Upgrade an Angular workspace one major version at a time",
	Long: `ngstep moves an Angular project through its major versions one step at a
time: it rewrites package.json, repairs the npm install when the registry
cannot supply a requested version, and runs the framework migrations,
falling back to built-in source fixes when a migration crashes.

Progress is kept in .ng-upgrade-progress.json so an interrupted run
resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		return setupLogging(level)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ngstep %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func setupLogging(level string) error {
	if _, ok := loggo.ParseLevel(level); !ok {
		return errors.NotValidf("log level %q", level)
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(os.Stderr, logFormatter)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(loggo.ConfigureLoggers("<root>=" + level))
}

func logFormatter(entry loggo.Entry) string {
	return fmt.Sprintf("%s %s %s", entry.Level.String(), entry.Module, entry.Message)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("dir", "d", "", "Angular project directory (default: current directory)")
	pf.String("plan", "", "Transition plan YAML replacing the built-in plan")
	pf.String("metrics-file", "", "Write run metrics to this file in textfile format")
	pf.Bool("skip-node-check", false, "Do not require the configured node major version")
	pf.Bool("strict-registry", false, "Fail instead of keeping the desired version when a registry query fails")
	pf.String("log-level", "WARNING", "Log level (TRACE, DEBUG, INFO, WARNING, ERROR)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, cancelled on interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
