package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/juju/errors"
)

func missing(name, wanted string) (Result, error) {
	return failedResult("npm error code ETARGET\nnpm error notarget No matching version found for " + name + "@" + wanted + ".\n")
}

// scriptedInstaller answers installs from a map keyed by the joined args,
// falling back to a sequence for bare "npm install" calls.
type scriptedInstaller struct {
	byArgs map[string]func() (Result, error)
	bare   []func() (Result, error)
	calls  []string
}

func (s *scriptedInstaller) Install(_ context.Context, args ...string) (Result, error) {
	key := strings.Join(args, " ")
	s.calls = append(s.calls, key)
	if key == "" {
		if len(s.bare) == 0 {
			return okResult("")
		}
		next := s.bare[0]
		s.bare = s.bare[1:]
		return next()
	}
	if f, ok := s.byArgs[key]; ok {
		return f()
	}
	return okResult("")
}

func newTestRepairer(t *testing.T, inst PackageInstaller, src *stubSource) (*DependencyRepairer, string) {
	t.Helper()
	dir := t.TempDir()
	writeManifest(t, dir, `{"name": "app", "dependencies": {"@angular/core": "~19.2.4"}}`)
	r := NewDependencyRepairer(RepairConfig{
		Dir:       dir,
		Installer: inst,
		Resolver:  NewRegistryResolver(src, false),
		Attempts:  5,
		MaxDepth:  20,
	})
	return r, dir
}

func TestCascade_Resolves(t *testing.T) {
	inst := &scriptedInstaller{byArgs: map[string]func() (Result, error){
		"a@1.0.0": func() (Result, error) { return missing("b", "^2.5.0") },
		"b@2.6.0": func() (Result, error) { return missing("@scope/c", "~3.1.0") },
	}}
	src := &stubSource{versions: map[string][]string{
		"b":        {"2.0.0", "2.6.0"},
		"@scope/c": {"3.0.0", "3.1.2"},
	}}
	r, dir := newTestRepairer(t, inst, src)

	res, err := r.Cascade(context.Background(), "a", "1.0.0", 20)
	if err != nil {
		t.Fatalf("Cascade() error: %v", err)
	}
	if !res.OK {
		t.Fatalf("Cascade() not ok: %s", res.Reason)
	}
	want := map[string]string{"a": "1.0.0", "b": "2.6.0", "@scope/c": "3.1.2"}
	for name, v := range want {
		if res.Resolved[name] != v {
			t.Errorf("Resolved[%s] = %q, want %q", name, res.Resolved[name], v)
		}
	}

	m := readManifest(t, dir)
	if v, _ := m.Get(SectionDependencies, "@scope/c"); v != "3.1.2" {
		t.Errorf("@scope/c dependency = %q", v)
	}
	if v, _ := m.Get(SectionOverrides, "b"); v != "$b" {
		t.Errorf("b override = %q", v)
	}
}

func TestCascade_Cycle(t *testing.T) {
	inst := &scriptedInstaller{byArgs: map[string]func() (Result, error){
		"a@1.0.0": func() (Result, error) { return missing("b", "2.0.0") },
		"b@2.0.0": func() (Result, error) { return missing("a", "1.5.0") },
	}}
	src := &stubSource{versions: map[string][]string{"a": {"1.0.0"}, "b": {"2.0.0"}}}
	r, _ := newTestRepairer(t, inst, src)

	res, err := r.Cascade(context.Background(), "a", "1.0.0", 20)
	if err != nil {
		t.Fatalf("Cascade() error: %v", err)
	}
	if res.OK {
		t.Fatal("Cascade() ok on a cycle")
	}
	if !strings.Contains(res.Reason, "cycle on a") {
		t.Errorf("reason = %q", res.Reason)
	}
	if len(inst.calls) != 2 {
		t.Errorf("installs = %v, want 2", inst.calls)
	}
}

func TestCascade_DepthBound(t *testing.T) {
	// Every install reports a fresh missing package.
	names := []string{"p1", "p2", "p3", "p4", "p5"}
	byArgs := make(map[string]func() (Result, error))
	versions := make(map[string][]string)
	for i, n := range names {
		versions[n] = []string{"1.0.0"}
		if i+1 < len(names) {
			next := names[i+1]
			byArgs[n+"@1.0.0"] = func() (Result, error) { return missing(next, "1.0.0") }
		}
	}
	inst := &scriptedInstaller{byArgs: byArgs}
	r, _ := newTestRepairer(t, inst, &stubSource{versions: versions})

	res, err := r.Cascade(context.Background(), "p1", "1.0.0", 3)
	if err != nil {
		t.Fatalf("Cascade() error: %v", err)
	}
	if res.OK {
		t.Fatal("Cascade() ok past max depth")
	}
	if len(inst.calls) != 3 {
		t.Errorf("installs = %d, want 3", len(inst.calls))
	}
	if !strings.Contains(res.Reason, "depth 3 exceeded") {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestCascade_NoSignatureAborts(t *testing.T) {
	inst := &scriptedInstaller{byArgs: map[string]func() (Result, error){
		"a@1.0.0": func() (Result, error) { return failedResult("npm ERR! code ERESOLVE") },
	}}
	r, _ := newTestRepairer(t, inst, &stubSource{})

	res, err := r.Cascade(context.Background(), "a", "1.0.0", 20)
	if err != nil {
		t.Fatalf("Cascade() error: %v", err)
	}
	if res.OK {
		t.Fatal("Cascade() ok without a signature")
	}
}

func TestInstall_FirstAttempt(t *testing.T) {
	inst := &scriptedInstaller{}
	r, dir := newTestRepairer(t, inst, &stubSource{})
	lock := filepath.Join(dir, lockArtifact)
	if err := os.WriteFile(lock, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := r.Install(context.Background()); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if len(inst.calls) != 1 {
		t.Errorf("installs = %v, want 1", inst.calls)
	}
	if _, err := os.Stat(lock); !os.IsNotExist(err) {
		t.Error("lock file not removed")
	}
}

func TestInstall_RepairsThenSucceeds(t *testing.T) {
	inst := &scriptedInstaller{
		bare: []func() (Result, error){
			func() (Result, error) {
				return failedResult("npm ERR! code EOVERRIDE\nnpm ERR! Override for rxjs@^7.8.1 conflicts with direct dependency")
			},
			func() (Result, error) { return missing("@angular/material", "~19.2.4") },
		},
	}
	src := &stubSource{versions: map[string][]string{"@angular/material": {"19.2.1", "19.2.3"}}}
	r, dir := newTestRepairer(t, inst, src)

	if err := r.Install(context.Background()); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	wantCalls := []string{"", "", "@angular/material@19.2.3", ""}
	if strings.Join(inst.calls, "|") != strings.Join(wantCalls, "|") {
		t.Errorf("installs = %q, want %q", inst.calls, wantCalls)
	}

	m := readManifest(t, dir)
	if v, _ := m.Get(SectionDependencies, "rxjs"); v != "7.8.1" {
		t.Errorf("rxjs = %q, want re-pinned 7.8.1", v)
	}
	if v, _ := m.Get(SectionOverrides, "@angular/material"); v != "$@angular/material" {
		t.Errorf("material override = %q", v)
	}
}

func TestInstall_SameMissingTwice(t *testing.T) {
	again := func() (Result, error) { return missing("zone.js", "~0.15.0") }
	inst := &scriptedInstaller{bare: []func() (Result, error){again, again}}
	src := &stubSource{versions: map[string][]string{"zone.js": {"0.15.0"}}}
	r, _ := newTestRepairer(t, inst, src)

	err := r.Install(context.Background())
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("Install() error = %v, want ErrInstallFailed", err)
	}
	if !strings.Contains(err.Error(), "still missing") {
		t.Errorf("error = %q", err)
	}
}

func TestInstall_Unclassified(t *testing.T) {
	inst := &scriptedInstaller{bare: []func() (Result, error){
		func() (Result, error) { return failedResult("npm ERR! code ERESOLVE\nnpm ERR! peer dep") },
	}}
	r, _ := newTestRepairer(t, inst, &stubSource{})

	err := r.Install(context.Background())
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("Install() error = %v, want ErrInstallFailed", err)
	}
	f, ok := IsInstallFailure(err)
	if !ok || f.Kind != FailureUnclassified {
		t.Fatalf("IsInstallFailure() = %+v, %v", f, ok)
	}
}

func TestInstall_ExhaustsAttempts(t *testing.T) {
	conflict := func() (Result, error) {
		return failedResult("npm ERR! code EOVERRIDE\nnpm ERR! Override for tslib@2.6.0 conflicts")
	}
	inst := &scriptedInstaller{bare: []func() (Result, error){conflict, conflict, conflict, conflict, conflict}}
	r, _ := newTestRepairer(t, inst, &stubSource{})

	err := r.Install(context.Background())
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("Install() error = %v, want ErrInstallFailed", err)
	}
	if len(inst.calls) != 5 {
		t.Errorf("installs = %d, want 5", len(inst.calls))
	}
}
