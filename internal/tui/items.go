package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/dustin/go-humanize"

	"github.com/barysiuk/ngstep/internal/core"
)

// entryItem wraps a ledger entry for the bubbles list.
// Implements list.DefaultItem (Title + Description + FilterValue).
type entryItem struct {
	entry core.Entry
	// superseded is set when a later entry records the same transition.
	superseded bool
}

func (i entryItem) Title() string {
	title := fmt.Sprintf("v%d  %s", i.entry.Step, i.entry.Label)
	if i.superseded {
		return title + " " + mutedStyle.Render("(superseded)")
	}
	return title
}

func (i entryItem) Description() string {
	parts := []string{statusText(i.entry)}
	if i.entry.Node != "" {
		parts = append(parts, "node "+i.entry.Node)
	}
	if !i.entry.Timestamp.IsZero() {
		parts = append(parts, humanize.Time(i.entry.Timestamp))
	}
	return strings.Join(parts, " | ")
}

func (i entryItem) FilterValue() string { return i.entry.Label }

// statusText renders the status with its phase when the transition is not
// finished.
func statusText(e core.Entry) string {
	if e.Status == core.StatusSuccess {
		return successStyle.Render(string(e.Status))
	}
	if e.Phase != nil {
		return warningStyle.Render(fmt.Sprintf("%s (phase %d %s)", e.Status, *e.Phase, *e.Phase))
	}
	return warningStyle.Render(string(e.Status))
}

// entriesToItems converts ledger entries to list items, newest first.
// With all unset superseded entries are left out.
func entriesToItems(entries []core.Entry, all bool) []list.Item {
	lastIndex := make(map[string]int, len(entries))
	for i, e := range entries {
		lastIndex[e.Label] = i
	}

	var items []list.Item
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		superseded := e.Status == core.StatusInProgress && lastIndex[e.Label] != i
		if superseded && !all {
			continue
		}
		items = append(items, entryItem{entry: e, superseded: superseded})
	}
	return items
}
