package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// LedgerFileName is the progress file kept in the project root.
const LedgerFileName = ".ng-upgrade-progress.json"

// Status is the state a ledger entry records for a transition.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusSuccess    Status = "success"
)

// Phase is one of the ordered stages of a transition.
type Phase int

const (
	PhaseManifest Phase = 1
	PhaseInstall  Phase = 2
	PhaseMigrate  Phase = 3
)

// String returns a short name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseManifest:
		return "manifest"
	case PhaseInstall:
		return "install"
	case PhaseMigrate:
		return "migrate"
	default:
		return "unknown"
	}
}

// Entry is one immutable ledger record. Phase is nil for success entries.
type Entry struct {
	Step      int       `json:"step"`
	Label     string    `json:"label"`
	Status    Status    `json:"status"`
	Phase     *Phase    `json:"phase"`
	Node      string    `json:"node"`
	Npm       string    `json:"npm"`
	Timestamp time.Time `json:"timestamp"`
}

// PhaseOr returns the entry's phase, or def when it has none.
func (e Entry) PhaseOr(def Phase) Phase {
	if e.Phase == nil {
		return def
	}
	return *e.Phase
}

// Ledger is the append-only progress record of a project.
type Ledger struct {
	path  string
	clock clock.Clock
}

// LedgerPath returns the ledger file path in dir.
func LedgerPath(dir string) string {
	return filepath.Join(dir, LedgerFileName)
}

// NewLedger returns the ledger for the project in dir.
func NewLedger(dir string, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Ledger{path: LedgerPath(dir), clock: clk}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Entries reads every recorded entry. A missing file yields no entries.
func (l *Ledger) Entries() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Annotate(err, "reading progress ledger")
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Annotatef(err, "parsing progress ledger %s", l.path)
	}
	return entries, nil
}

// Append records e, stamping it with the current time when it has none.
// The whole array is rewritten atomically before Append returns.
func (l *Ledger) Append(e Entry) error {
	entries, err := l.Entries()
	if err != nil {
		return errors.Trace(err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now().UTC()
	}
	entries = append(entries, e)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Annotate(err, "marshaling progress ledger")
	}
	data = append(data, '\n')
	return errors.Annotate(writeFileAtomic(l.path, data), "saving progress ledger")
}

// Live drops in-progress entries superseded by a later entry for the same
// label. The order of the remaining entries is kept.
func Live(entries []Entry) []Entry {
	lastIndex := make(map[string]int, len(entries))
	for i, e := range entries {
		lastIndex[e.Label] = i
	}
	live := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if e.Status == StatusInProgress && lastIndex[e.Label] != i {
			continue
		}
		live = append(live, e)
	}
	return live
}

// CompletedLabels returns the labels with a success entry.
func CompletedLabels(entries []Entry) map[string]bool {
	done := make(map[string]bool)
	for _, e := range entries {
		if e.Status == StatusSuccess {
			done[e.Label] = true
		}
	}
	return done
}

// Resume is a derived resumption point.
type Resume struct {
	Transition Transition
	Phase      Phase
	Resumed    bool // picked up from a live in-progress entry
}

// ResumePoint derives where work continues. The last live in-progress
// entry wins. Otherwise it is the first transition from major that has not
// succeeded.
func ResumePoint(entries []Entry, plan *Plan, major int) (Resume, bool) {
	done := CompletedLabels(entries)
	live := Live(entries)
	for i := len(live) - 1; i >= 0; i-- {
		e := live[i]
		if e.Status != StatusInProgress || done[e.Label] {
			continue
		}
		t, ok := plan.Find(e.Label)
		if !ok {
			logger.Warningf("progress entry %q is not in the plan, ignoring it", e.Label)
			continue
		}
		return Resume{Transition: t, Phase: e.PhaseOr(PhaseManifest), Resumed: true}, true
	}

	t, ok := plan.Next(major, done)
	if !ok {
		return Resume{}, false
	}
	return Resume{Transition: t, Phase: PhaseManifest}, true
}

// PendingMigrations returns labels left in the migrate phase without a
// later success.
func PendingMigrations(entries []Entry) []string {
	done := CompletedLabels(entries)
	seen := make(map[string]bool)
	var pending []string
	for _, e := range Live(entries) {
		if e.Status != StatusInProgress || e.PhaseOr(0) != PhaseMigrate {
			continue
		}
		if done[e.Label] || seen[e.Label] {
			continue
		}
		seen[e.Label] = true
		pending = append(pending, e.Label)
	}
	return pending
}
