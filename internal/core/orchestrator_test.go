package core

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
)

// fakeRunner fails the units named in fail and records every unit it runs.
type fakeRunner struct {
	fail  map[string]bool
	ran   []string
	onRun func(unit string)
}

func (r *fakeRunner) Run(_ context.Context, _, unit string) (MigrationResult, error) {
	r.ran = append(r.ran, unit)
	if r.onRun != nil {
		r.onRun(unit)
	}
	if r.fail[unit] {
		return MigrationResult{ExitCode: 1, Output: "migration crashed"}, nil
	}
	return MigrationResult{OK: true}, nil
}

func newTestOrchestrator(t *testing.T, dir string, inst PackageInstaller, runner MigrationRunner) (*Orchestrator, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	o := NewOrchestrator(OrchestratorConfig{
		Dir:         dir,
		Plan:        mustDefaultPlan(t),
		Settings:    testSettings(),
		Exec:        &fakeExecutor{},
		Clock:       testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Installer:   inst,
		Resolver:    NewRegistryResolver(&stubSource{}, false),
		Runner:      runner,
		Environment: &Environment{Node: "22.11.0", Npm: "10.9.0"},
		Metrics:     NewMetrics(),
		Out:         &out,
	})
	return o, &out
}

func newTestProject(t *testing.T, core string) string {
	t.Helper()
	dir := t.TempDir()
	writeManifest(t, dir, `{
  "name": "shop",
  "dependencies": {
    "@angular/core": "`+core+`",
    "@angular/common": "`+core+`",
    "rxjs": "~7.8.0"
  },
  "devDependencies": {
    "@angular/cli": "`+core+`"
  }
}
`)
	writeFile(t, filepath.Join(dir, WorkspaceFile), `{"projects": {}}`)
	return dir
}

func TestOrchestratorStep_EndToEnd(t *testing.T) {
	c := qt.New(t)
	dir := newTestProject(t, "^18.0.0")
	inst := &scriptedInstaller{}
	runner := &fakeRunner{}
	o, out := newTestOrchestrator(t, dir, inst, runner)

	sum, err := o.Step(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(sum.Completed, qt.DeepEquals, []string{"Upgrade v18 -> v19"})
	c.Assert(sum.AngularMajor, qt.Equals, 19)
	c.Assert(sum.Next, qt.Equals, "Upgrade v19 -> v20")
	c.Assert(sum.UpToDate, qt.IsFalse)

	m := readManifest(t, dir)
	got, _ := m.Get(SectionDependencies, "@angular/core")
	c.Assert(got, qt.Equals, "~19.2.4")
	got, _ = m.Get(SectionDevDependencies, "@angular/cli")
	c.Assert(got, qt.Equals, "~19.2.4")
	got, _ = m.Get(SectionDevDependencies, "typescript")
	c.Assert(got, qt.Equals, "~5.5.4")

	c.Assert(inst.calls, qt.DeepEquals, []string{""})
	c.Assert(runner.ran, qt.HasLen, 0)

	entries, err := o.Ledger().Entries()
	c.Assert(err, qt.IsNil)
	live := Live(entries)
	c.Assert(live, qt.HasLen, 1)
	c.Assert(live[0].Label, qt.Equals, "Upgrade v18 -> v19")
	c.Assert(live[0].Status, qt.Equals, StatusSuccess)
	c.Assert(live[0].Phase, qt.IsNil)
	c.Assert(live[0].Step, qt.Equals, 19)
	c.Assert(live[0].Node, qt.Equals, "22.11.0")
	c.Assert(live[0].Npm, qt.Equals, "10.9.0")

	c.Assert(out.String(), qt.Contains, "no applicable migrations found")

	var report bytes.Buffer
	sum.Report(&report, 20)
	c.Assert(report.String(), qt.Contains, "Upgrade v18 -> v19 DONE")
	c.Assert(report.String(), qt.Contains, "next: Upgrade v19 -> v20.")
}

func TestOrchestratorAll(t *testing.T) {
	c := qt.New(t)
	dir := newTestProject(t, "^18.0.0")
	o, _ := newTestOrchestrator(t, dir, &scriptedInstaller{}, &fakeRunner{})

	sum, err := o.All(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(sum.Completed, qt.DeepEquals, []string{"Upgrade v18 -> v19", "Upgrade v19 -> v20"})
	c.Assert(sum.AngularMajor, qt.Equals, 20)
	c.Assert(sum.Next, qt.Equals, "")
	c.Assert(sum.Pending, qt.HasLen, 0)

	entries, err := o.Ledger().Entries()
	c.Assert(err, qt.IsNil)
	c.Assert(CompletedLabels(entries), qt.DeepEquals, map[string]bool{
		"Upgrade v18 -> v19": true,
		"Upgrade v19 -> v20": true,
	})

	var report bytes.Buffer
	sum.Report(&report, 20)
	c.Assert(report.String(), qt.Contains, "completed: 2 step(s)")
	c.Assert(report.String(), qt.Contains, "all done! angular v20")
}

func TestOrchestratorStep_UpToDate(t *testing.T) {
	c := qt.New(t)
	dir := newTestProject(t, "~20.1.0")
	inst := &scriptedInstaller{}
	o, _ := newTestOrchestrator(t, dir, inst, &fakeRunner{})

	sum, err := o.Step(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(sum.UpToDate, qt.IsTrue)
	c.Assert(inst.calls, qt.HasLen, 0)

	var report bytes.Buffer
	sum.Report(&report, 20)
	c.Assert(report.String(), qt.Equals, "all done! angular v20\n")
}

func TestOrchestratorStep_InstallFailure(t *testing.T) {
	c := qt.New(t)
	dir := newTestProject(t, "^18.0.0")
	inst := &scriptedInstaller{bare: []func() (Result, error){
		func() (Result, error) { return failedResult("npm error code E500\nnpm error registry unavailable") },
	}}
	runner := &fakeRunner{}
	o, out := newTestOrchestrator(t, dir, inst, runner)

	sum, err := o.Step(context.Background())
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(errors.Is(err, ErrInstallFailed), qt.IsTrue)
	c.Assert(sum.Failed, qt.Equals, "Upgrade v18 -> v19")
	c.Assert(runner.ran, qt.HasLen, 0)
	c.Assert(out.String(), qt.Contains, "failed at npm install")

	entries, err := o.Ledger().Entries()
	c.Assert(err, qt.IsNil)
	live := Live(entries)
	c.Assert(live, qt.HasLen, 1)
	c.Assert(live[0].Status, qt.Equals, StatusInProgress)
	c.Assert(live[0].PhaseOr(0), qt.Equals, PhaseInstall)

	// The next run resumes at the install phase without touching the manifest again.
	r, _, ok, err := o.Next()
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(r.Resumed, qt.IsTrue)
	c.Assert(r.Phase, qt.Equals, PhaseInstall)

	sum, err = o.Step(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(sum.Completed, qt.DeepEquals, []string{"Upgrade v18 -> v19"})
	c.Assert(out.String(), qt.Contains, "phase 1: (skipped)")
}

const orchestratorCatalog = `{
  "schematics": {
    "pending-tasks": {"version": "19.0.0", "factory": "./a"},
    "use-application-builder": {"version": "19.0.0", "factory": "./b"},
    "explicit-standalone-flag": {"version": "19.0.0", "factory": "./c"},
    "custom-unit": {"version": "19.1.0", "factory": "./d"},
    "too-old": {"version": "17.0.0", "factory": "./e"}
  }
}`

func TestOrchestratorStep_MigrationsWithFallback(t *testing.T) {
	c := qt.New(t)
	dir := filepath.Join(t.TempDir(), "shop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `{"dependencies": {"@angular/core": "^18.2.0"}}`)
	angular := `{"projects": {"shop": {"root": "../shop/"}}}`
	writeFile(t, filepath.Join(dir, WorkspaceFile), angular)

	pkgDir := filepath.Join(dir, "node_modules", "@angular", "core")
	writeFile(t, filepath.Join(pkgDir, ManifestFileName), `{"ng-update": {"migrations": "./migrations.json"}}`)
	writeFile(t, filepath.Join(pkgDir, "migrations.json"), orchestratorCatalog)
	writeFile(t, filepath.Join(dir, "src", "app", "tasks.ts"), "import { ExperimentalPendingTasks } from '@angular/core';\n")

	var patchedDuringRun string
	runner := &fakeRunner{
		fail: map[string]bool{"pending-tasks": true, "custom-unit": true},
		onRun: func(string) {
			patchedDuringRun = readString(t, filepath.Join(dir, WorkspaceFile))
		},
	}
	o, out := newTestOrchestrator(t, dir, &scriptedInstaller{}, runner)

	sum, err := o.Step(context.Background())
	c.Assert(errors.Is(err, ErrMigrationsIncomplete), qt.IsTrue, qt.Commentf("err = %v", err))
	c.Assert(sum.Failed, qt.Equals, "Upgrade v18 -> v19")
	c.Assert(sum.Unresolved, qt.DeepEquals, []string{"custom-unit"})
	c.Assert(sum.Pending, qt.DeepEquals, []string{"Upgrade v18 -> v19"})
	c.Assert(runner.ran, qt.DeepEquals, []string{"pending-tasks", "use-application-builder", "explicit-standalone-flag", "custom-unit"})
	c.Assert(out.String(), qt.Contains, "2 succeeded, 2 failed (1 handled by fallback) out of 4")

	// Migrations saw the patched workspace, the project got the original back.
	c.Assert(patchedDuringRun, qt.Contains, `"./"`)
	c.Assert(readString(t, filepath.Join(dir, WorkspaceFile)), qt.Equals, angular)
	backups, _ := filepath.Glob(filepath.Join(dir, "*"+BackupSuffix))
	c.Assert(backups, qt.HasLen, 0)

	c.Assert(readString(t, filepath.Join(dir, "src", "app", "tasks.ts")), qt.Contains, "{ PendingTasks }")

	entries, err := o.Ledger().Entries()
	c.Assert(err, qt.IsNil)
	live := Live(entries)
	c.Assert(live, qt.HasLen, 1)
	c.Assert(live[0].PhaseOr(0), qt.Equals, PhaseMigrate)

	// Once the unit passes, a rerun resumes at phase 3 and succeeds.
	runner.fail = nil
	runner.ran = nil
	sum, err = o.Step(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(sum.Completed, qt.DeepEquals, []string{"Upgrade v18 -> v19"})
	c.Assert(sum.Pending, qt.HasLen, 0)
	c.Assert(runner.ran, qt.HasLen, 4)
	c.Assert(strings.Count(out.String(), "phase 2: (skipped)"), qt.Equals, 1)
}

func TestRunSummaryReport_AllFailed(t *testing.T) {
	sum := &RunSummary{
		All:          true,
		AngularMajor: 17,
		Completed:    []string{"Upgrade v16 -> v17"},
		Failed:       "Upgrade v17 -> v18",
		Unresolved:   []string{"custom-unit"},
		Pending:      []string{"Upgrade v17 -> v18"},
	}
	var buf bytes.Buffer
	sum.Report(&buf, 20)
	got := buf.String()
	for _, want := range []string{
		"@angular/core: v17",
		"completed: 1 step(s)",
		"  + Upgrade v16 -> v17",
		"failed at: Upgrade v17 -> v18",
		"migration errors in: custom-unit",
		"pending migrations: 1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "all done!") {
		t.Errorf("failed run reported all done:\n%s", got)
	}
}
