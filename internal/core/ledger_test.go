package core

import (
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
)

func phasePtr(p Phase) *Phase { return &p }

func mustDefaultPlan(t *testing.T) *Plan {
	t.Helper()
	p, err := DefaultPlan()
	if err != nil {
		t.Fatalf("DefaultPlan() error: %v", err)
	}
	return p
}

func TestLedgerEntries_NotExists(t *testing.T) {
	l := NewLedger(t.TempDir(), nil)
	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}

func TestLedgerAppend(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLedger(dir, testclock.NewClock(now))

	if err := l.Append(Entry{Step: 19, Label: "Upgrade v18 -> v19", Status: StatusInProgress, Phase: phasePtr(PhaseInstall), Node: "v22.1.0", Npm: "10.7.0"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := l.Append(Entry{Step: 19, Label: "Upgrade v18 -> v19", Status: StatusSuccess}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if !entries[0].Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", entries[0].Timestamp, now)
	}
	if entries[1].Phase != nil {
		t.Errorf("success entry phase = %v, want nil", *entries[1].Phase)
	}

	if _, err := os.Stat(l.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	qt.Assert(t, string(data), qt.Contains, `"phase": null`)
}

func TestLive(t *testing.T) {
	c := qt.New(t)
	entries := []Entry{
		{Label: "a", Status: StatusInProgress, Phase: phasePtr(PhaseInstall)},
		{Label: "b", Status: StatusSuccess},
		{Label: "a", Status: StatusInProgress, Phase: phasePtr(PhaseMigrate)},
	}
	live := Live(entries)
	c.Assert(live, qt.HasLen, 2)
	c.Assert(live[0].Label, qt.Equals, "b")
	c.Assert(*live[1].Phase, qt.Equals, PhaseMigrate)
}

func TestResumePoint(t *testing.T) {
	plan := mustDefaultPlan(t)

	tests := []struct {
		name      string
		entries   []Entry
		major     int
		wantLabel string
		wantPhase Phase
		resumed   bool
		wantOK    bool
	}{
		{
			name:      "fresh project",
			major:     18,
			wantLabel: "Upgrade v18 -> v19",
			wantPhase: PhaseManifest,
			wantOK:    true,
		},
		{
			name:      "v8 patches first",
			major:     8,
			wantLabel: "Update to latest 8.x",
			wantPhase: PhaseManifest,
			wantOK:    true,
		},
		{
			name:      "v8 after patch step",
			entries:   []Entry{{Step: 8, Label: "Update to latest 8.x", Status: StatusSuccess}},
			major:     8,
			wantLabel: "Upgrade v8 -> v9",
			wantPhase: PhaseManifest,
			wantOK:    true,
		},
		{
			name: "resume live entry",
			entries: []Entry{
				{Step: 19, Label: "Upgrade v18 -> v19", Status: StatusInProgress, Phase: phasePtr(PhaseInstall)},
				{Step: 19, Label: "Upgrade v18 -> v19", Status: StatusInProgress, Phase: phasePtr(PhaseMigrate)},
			},
			major:     19,
			wantLabel: "Upgrade v18 -> v19",
			wantPhase: PhaseMigrate,
			resumed:   true,
			wantOK:    true,
		},
		{
			name: "in-progress without phase starts at manifest",
			entries: []Entry{
				{Step: 17, Label: "Upgrade v16 -> v17", Status: StatusInProgress},
			},
			major:     16,
			wantLabel: "Upgrade v16 -> v17",
			wantPhase: PhaseManifest,
			resumed:   true,
			wantOK:    true,
		},
		{
			name: "success is terminal",
			entries: []Entry{
				{Step: 20, Label: "Upgrade v19 -> v20", Status: StatusInProgress, Phase: phasePtr(PhaseMigrate)},
				{Step: 20, Label: "Upgrade v19 -> v20", Status: StatusSuccess},
			},
			major:  20,
			wantOK: false,
		},
		{
			name:   "unsupported major",
			major:  5,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			got, ok := ResumePoint(tt.entries, plan, tt.major)
			c.Assert(ok, qt.Equals, tt.wantOK)
			if !ok {
				return
			}
			c.Assert(got.Transition.Label, qt.Equals, tt.wantLabel)
			c.Assert(got.Phase, qt.Equals, tt.wantPhase)
			c.Assert(got.Resumed, qt.Equals, tt.resumed)
		})
	}
}

func TestResumePointIdempotentReplay(t *testing.T) {
	c := qt.New(t)
	plan := mustDefaultPlan(t)
	entry := Entry{Step: 16, Label: "Upgrade v15 -> v16", Status: StatusInProgress, Phase: phasePtr(PhaseInstall)}

	once, ok := ResumePoint([]Entry{entry}, plan, 15)
	c.Assert(ok, qt.IsTrue)
	twice, ok := ResumePoint([]Entry{entry, entry}, plan, 15)
	c.Assert(ok, qt.IsTrue)
	c.Assert(twice, qt.DeepEquals, once)
}

func TestPendingMigrations(t *testing.T) {
	c := qt.New(t)
	entries := []Entry{
		{Label: "Upgrade v14 -> v15", Status: StatusInProgress, Phase: phasePtr(PhaseMigrate)},
		{Label: "Upgrade v14 -> v15", Status: StatusSuccess},
		{Label: "Upgrade v15 -> v16", Status: StatusInProgress, Phase: phasePtr(PhaseMigrate)},
		{Label: "Upgrade v16 -> v17", Status: StatusInProgress, Phase: phasePtr(PhaseInstall)},
		{Label: "Upgrade v15 -> v16", Status: StatusInProgress, Phase: phasePtr(PhaseMigrate)},
	}
	c.Assert(PendingMigrations(entries), qt.DeepEquals, []string{"Upgrade v15 -> v16"})
	c.Assert(PendingMigrations(nil), qt.HasLen, 0)
}

func TestCompletedLabels(t *testing.T) {
	c := qt.New(t)
	done := CompletedLabels([]Entry{
		{Label: "x", Status: StatusSuccess},
		{Label: "y", Status: StatusInProgress},
	})
	c.Assert(done, qt.DeepEquals, map[string]bool{"x": true})
}
