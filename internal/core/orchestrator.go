package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/barysiuk/ngstep/internal/core/fallback"
)

// Orchestrator drives transitions of the plan through their three phases,
// recording each committed phase in the project's ledger. It lives in the
// core package so it can reach the fallback library without an import cycle.
type Orchestrator struct {
	dir       string
	plan      *Plan
	settings  Settings
	exec      Executor
	clock     clock.Clock
	ledger    *Ledger
	installer PackageInstaller
	resolver  VersionResolver
	runner    MigrationRunner
	runnerDir string
	env       *Environment
	metrics   *Metrics
	out       io.Writer
}

// OrchestratorConfig configures an Orchestrator. Installer and Resolver
// default to npm in Dir. Runner defaults to the embedded node runner,
// installed into RunnerDir on first use.
type OrchestratorConfig struct {
	Dir         string
	Plan        *Plan
	Settings    Settings
	Exec        Executor
	Clock       clock.Clock
	Installer   PackageInstaller
	Resolver    VersionResolver
	Runner      MigrationRunner
	RunnerDir   string
	Environment *Environment // snapshot recorded in the ledger; taken lazily when nil
	Metrics     *Metrics
	Out         io.Writer
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		dir:       cfg.Dir,
		plan:      cfg.Plan,
		settings:  cfg.Settings,
		exec:      cfg.Exec,
		clock:     cfg.Clock,
		installer: cfg.Installer,
		resolver:  cfg.Resolver,
		runner:    cfg.Runner,
		runnerDir: cfg.RunnerDir,
		env:       cfg.Environment,
		metrics:   cfg.Metrics,
		out:       cfg.Out,
	}
	if o.clock == nil {
		o.clock = clock.WallClock
	}
	if o.out == nil {
		o.out = io.Discard
	}
	if o.exec == nil {
		o.exec = NewProcessExecutor(o.settings)
	}
	o.ledger = NewLedger(o.dir, o.clock)
	if o.installer == nil || o.resolver == nil {
		npm := NewNpm(o.exec, o.dir, o.settings, o.out)
		if o.installer == nil {
			o.installer = npm
		}
		if o.resolver == nil {
			o.resolver = NewRegistryResolver(npm, o.settings.StrictRegistry)
		}
	}
	return o
}

// Ledger returns the project's progress ledger.
func (o *Orchestrator) Ledger() *Ledger { return o.ledger }

// Next returns where the next run would start, and the installed Angular
// major it was derived from. ok is false when no transition is left.
func (o *Orchestrator) Next() (r Resume, major int, ok bool, err error) {
	m, err := ReadManifest(o.dir)
	if err != nil {
		return Resume{}, 0, false, errors.Trace(err)
	}
	major, err = m.AngularMajor()
	if err != nil {
		return Resume{}, 0, false, errors.Trace(err)
	}
	entries, err := o.ledger.Entries()
	if err != nil {
		return Resume{}, major, false, errors.Trace(err)
	}
	r, ok = ResumePoint(entries, o.plan, major)
	return r, major, ok, nil
}

// RunSummary reports what a Step or All run did.
type RunSummary struct {
	All          bool
	AngularMajor int
	Completed    []string
	Failed       string   // label of the transition that stopped the run
	Unresolved   []string // failed migration units without a repair
	Pending      []string // labels still waiting in the migrate phase
	Next         string   // label of the next transition, if any
	UpToDate     bool     // nothing was left to run
}

// Step runs the next transition only.
func (o *Orchestrator) Step(ctx context.Context) (*RunSummary, error) {
	return o.run(ctx, false)
}

// All runs transitions until the plan is exhausted or one fails.
func (o *Orchestrator) All(ctx context.Context) (*RunSummary, error) {
	return o.run(ctx, true)
}

func (o *Orchestrator) run(ctx context.Context, all bool) (*RunSummary, error) {
	sum := &RunSummary{All: all}
	if all {
		fmt.Fprintf(o.out, "%s\n  all mode: running all steps\n%s\n", banner, banner)
	}

	var runErr error
	attempted := make(map[string]bool)
	for {
		r, _, ok, err := o.Next()
		if err != nil {
			return sum, errors.Trace(err)
		}
		if !ok {
			sum.UpToDate = len(attempted) == 0
			break
		}
		if attempted[r.Transition.Label] {
			runErr = errors.Errorf("%s did not complete and came up again", r.Transition.Label)
			sum.Failed = r.Transition.Label
			break
		}
		attempted[r.Transition.Label] = true

		unresolved, err := o.RunTransition(ctx, r)
		if err != nil {
			sum.Failed = r.Transition.Label
			sum.Unresolved = unresolved
			runErr = err
			break
		}
		sum.Completed = append(sum.Completed, r.Transition.Label)
		if !all {
			break
		}
		fmt.Fprintf(o.out, "\n  %s DONE\n", r.Transition.Label)
	}

	if err := o.finish(sum); err != nil && runErr == nil {
		runErr = err
	}
	return sum, runErr
}

// finish fills in the state the run left behind.
func (o *Orchestrator) finish(sum *RunSummary) error {
	r, major, ok, err := o.Next()
	if err != nil {
		return errors.Trace(err)
	}
	sum.AngularMajor = major
	if ok && sum.Failed == "" {
		sum.Next = r.Transition.Label
	}
	entries, err := o.ledger.Entries()
	if err != nil {
		return errors.Trace(err)
	}
	sum.Pending = PendingMigrations(entries)
	return nil
}

// RunTransition drives one transition from the resume phase to success.
// On a migration failure it returns the units left unrepaired.
func (o *Orchestrator) RunTransition(ctx context.Context, r Resume) ([]string, error) {
	t := r.Transition
	fmt.Fprintf(o.out, "\n%s\n  %s  (v%d -> v%d)\n", banner, t.Label, t.From, t.To)
	if r.Phase > PhaseManifest {
		fmt.Fprintf(o.out, "  resuming from phase %d\n", r.Phase)
	}
	fmt.Fprintf(o.out, "%s\n", banner)
	for i, n := range t.Notes {
		fmt.Fprintf(o.out, "  %d. %s\n", i+1, n)
	}

	if r.Phase <= PhaseManifest {
		if err := o.updateManifest(t); err != nil {
			o.metrics.transition("failed")
			return nil, errors.Annotatef(err, "%s: phase 1", t.Label)
		}
	} else {
		fmt.Fprintf(o.out, "\n%s phase 1: (skipped) %s\n", phaseRule, phaseRule)
	}

	if r.Phase <= PhaseInstall {
		if err := o.install(ctx, t); err != nil {
			o.metrics.transition("failed")
			return nil, errors.Annotatef(err, "%s: phase 2", t.Label)
		}
	} else {
		fmt.Fprintf(o.out, "\n%s phase 2: (skipped) %s\n", phaseRule, phaseRule)
	}

	unresolved, err := o.migrate(ctx, t)
	if err != nil {
		o.metrics.transition("failed")
		return unresolved, errors.Annotatef(err, "%s: phase 3", t.Label)
	}
	o.metrics.transition("ok")
	return nil, nil
}

func (o *Orchestrator) updateManifest(t Transition) error {
	start := o.clock.Now()
	fmt.Fprintf(o.out, "\n%s phase 1: update %s %s\n", phaseRule, ManifestFileName, phaseRule)

	m, err := ReadManifest(o.dir)
	if err != nil {
		return errors.Trace(err)
	}
	changes, err := m.ApplyPins(t.Packages)
	if err != nil {
		return errors.Trace(err)
	}
	for _, c := range changes {
		from := c.From
		if from == "" {
			from = "(new)"
		}
		fmt.Fprintf(o.out, "  %s: %s -> %s\n", c.Name, from, c.To)
	}
	if err := m.Save(); err != nil {
		return errors.Trace(err)
	}
	if err := o.record(t, StatusInProgress, PhaseInstall); err != nil {
		return errors.Trace(err)
	}
	o.metrics.phase(PhaseManifest, o.clock.Now().Sub(start))
	fmt.Fprintf(o.out, "  phase 1 done.\n")
	return nil
}

func (o *Orchestrator) install(ctx context.Context, t Transition) error {
	start := o.clock.Now()
	fmt.Fprintf(o.out, "\n%s phase 2: npm install --force %s\n", phaseRule, phaseRule)

	repairer := NewDependencyRepairer(RepairConfig{
		Dir:       o.dir,
		Installer: o.installer,
		Resolver:  o.resolver,
		Attempts:  o.settings.InstallAttempts,
		MaxDepth:  o.settings.CascadeDepth,
		Out:       o.out,
		Metrics:   o.metrics,
	})
	err := repairer.Install(ctx)
	o.metrics.phase(PhaseInstall, o.clock.Now().Sub(start))
	if err != nil {
		if ctx.Err() != nil {
			return errors.Trace(err)
		}
		if recErr := o.record(t, StatusInProgress, PhaseInstall); recErr != nil {
			logger.Errorf("recording failed install: %v", recErr)
		}
		fmt.Fprintf(o.out, "\nfailed at npm install. re-run to retry.\n")
		return errors.Trace(err)
	}
	if err := o.record(t, StatusInProgress, PhaseMigrate); err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(o.out, "  phase 2 done.\n")
	return nil
}

func (o *Orchestrator) migrate(ctx context.Context, t Transition) ([]string, error) {
	start := o.clock.Now()
	defer func() { o.metrics.phase(PhaseMigrate, o.clock.Now().Sub(start)) }()
	fmt.Fprintf(o.out, "\n%s phase 3: migrations %s\n", phaseRule, phaseRule)

	units := DiscoverMigrations(o.dir, t, o.out)
	if len(units) == 0 {
		fmt.Fprintf(o.out, "\n  no applicable migrations found. marking as success.\n")
		return nil, errors.Trace(o.record(t, StatusSuccess, 0))
	}
	fmt.Fprintf(o.out, "\n  total migrations to run: %d\n", len(units))

	if ts, ok := t.TypeScript(); ok {
		EnsureTypeScript(ctx, o.exec, o.settings, o.dir, ts, o.out)
	}

	runner, err := o.migrationRunner()
	if err != nil {
		return nil, errors.Trace(err)
	}
	failed, err := o.runUnits(ctx, runner, units)
	if err != nil {
		return nil, errors.Trace(err)
	}

	repaired := fallback.Apply(o.dir, failed, o.out)
	fixed := make(map[string]bool, len(repaired))
	for _, name := range repaired {
		fixed[name] = true
		o.metrics.migration("repaired")
	}
	var unresolved []string
	for _, name := range failed {
		if !fixed[name] {
			unresolved = append(unresolved, name)
		}
	}

	fmt.Fprintf(o.out, "\n  migrations result: %d succeeded, %d failed", len(units)-len(failed), len(failed))
	if len(repaired) > 0 {
		fmt.Fprintf(o.out, " (%d handled by fallback)", len(repaired))
	}
	fmt.Fprintf(o.out, " out of %d\n", len(units))

	if len(unresolved) > 0 {
		fmt.Fprintf(o.out, "  unresolved: %s\n", strings.Join(unresolved, ", "))
		return unresolved, errors.Annotatef(ErrMigrationsIncomplete, "%d unit(s) failed without a fallback", len(unresolved))
	}
	return nil, errors.Trace(o.record(t, StatusSuccess, 0))
}

// runUnits runs every unit in order with the workspace patched, and returns
// the names of those that failed. The workspace is restored on every path.
func (o *Orchestrator) runUnits(ctx context.Context, runner MigrationRunner, units []MigrationUnit) ([]string, error) {
	patcher := NewWorkspacePatcher(o.dir)
	defer func() {
		if n := patcher.Restore(); n > 0 {
			fmt.Fprintf(o.out, "\n  restored %d workspace file(s).\n", n)
		}
	}()
	patched, err := patcher.Patch()
	if err != nil {
		logger.Warningf("patching workspace paths: %v", err)
	}
	for _, f := range patched {
		fmt.Fprintf(o.out, "  patched %s\n", f)
	}

	var failed []string
	for i, u := range units {
		fmt.Fprintf(o.out, "\n  [%d/%d] %s: %s (v%s)\n", i+1, len(units), u.Package, u.Name, u.Version)
		res, err := runner.Run(ctx, u.Collection, u.Name)
		if err != nil {
			return failed, errors.Trace(err)
		}
		if !res.OK {
			fmt.Fprintf(o.out, "    failed (exit %d). non-fatal, continuing.\n", res.ExitCode)
			o.metrics.migration("failed")
			failed = append(failed, u.Name)
			continue
		}
		o.metrics.migration("ok")
	}
	return failed, nil
}

func (o *Orchestrator) migrationRunner() (MigrationRunner, error) {
	if o.runner != nil {
		return o.runner, nil
	}
	script, err := InstallRunner(o.runnerDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	o.runner = NewNodeMigrationRunner(o.exec, o.settings, o.dir, script, o.out)
	return o.runner, nil
}

// record appends a ledger entry for t. A zero phase is written as null.
func (o *Orchestrator) record(t Transition, status Status, phase Phase) error {
	env := o.environment()
	e := Entry{Step: t.To, Label: t.Label, Status: status, Node: env.Node, Npm: env.Npm}
	if phase != 0 {
		e.Phase = &phase
	}
	return errors.Trace(o.ledger.Append(e))
}

func (o *Orchestrator) environment() Environment {
	if o.env == nil {
		env := SnapshotEnvironment(context.Background(), o.exec, o.settings, o.dir)
		o.env = &env
	}
	return *o.env
}

// Report prints the summary the way step and all end their output.
func (s *RunSummary) Report(w io.Writer, final int) {
	if s.UpToDate {
		if s.AngularMajor >= final {
			fmt.Fprintf(w, "all done! angular v%d\n", s.AngularMajor)
		} else {
			fmt.Fprintf(w, "no transition from v%d in the plan.\n", s.AngularMajor)
		}
		return
	}

	if !s.All {
		fmt.Fprintf(w, "\n%s\n", banner)
		if s.Failed != "" {
			fmt.Fprintf(w, "  %s FAILED\n  fix the issue and re-run.\n", s.Failed)
		} else {
			for _, l := range s.Completed {
				fmt.Fprintf(w, "  %s DONE\n", l)
			}
		}
		fmt.Fprintf(w, "%s\n", banner)
		s.reportUnresolved(w)
		if s.Failed == "" {
			if s.Next != "" {
				fmt.Fprintf(w, "\nnext: %s. run 'ngstep step' or 'ngstep all'.\n", s.Next)
			} else {
				fmt.Fprintf(w, "\nall steps complete!\n")
			}
		}
		return
	}

	fmt.Fprintf(w, "\n%s\n  upgrade summary\n%s\n\n", banner, banner)
	fmt.Fprintf(w, "@angular/core: v%d\n", s.AngularMajor)
	fmt.Fprintf(w, "completed: %d step(s)\n", len(s.Completed))
	for _, l := range s.Completed {
		fmt.Fprintf(w, "  + %s\n", l)
	}
	if s.Failed != "" {
		fmt.Fprintf(w, "\nfailed at: %s\nfix and re-run: ngstep all\n", s.Failed)
	}
	s.reportUnresolved(w)
	if len(s.Pending) > 0 {
		fmt.Fprintf(w, "\npending migrations: %d\n", len(s.Pending))
		for _, l := range s.Pending {
			fmt.Fprintf(w, "  - %s\n", l)
		}
		fmt.Fprintf(w, "re-run: ngstep all\n")
	} else if s.Failed == "" {
		fmt.Fprintf(w, "\nall done! angular v%d\n", s.AngularMajor)
	}
}

func (s *RunSummary) reportUnresolved(w io.Writer) {
	if len(s.Unresolved) == 0 {
		return
	}
	fmt.Fprintf(w, "\nmigration errors in: %s\n", strings.Join(s.Unresolved, ", "))
	fmt.Fprintf(w, "review the output above. these may need manual fixes.\n")
}

var (
	banner    = strings.Repeat("=", 40)
	phaseRule = strings.Repeat("=", 12)
)
