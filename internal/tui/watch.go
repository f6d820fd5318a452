package tui

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
)

// ledgerWatcher reports changes to the ledger file. The parent directory
// is watched because the file is replaced by rename on every append and
// may not exist yet.
type ledgerWatcher struct {
	name    string
	watcher *fsnotify.Watcher
}

// ledgerChangedMsg is sent when the ledger file was written or replaced.
type ledgerChangedMsg struct{}

// watchErrMsg is sent when the watcher reports an error.
type watchErrMsg struct {
	err error
}

func newLedgerWatcher(path string) (*ledgerWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "creating ledger watcher")
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, errors.Annotatef(err, "watching %s", filepath.Dir(path))
	}
	return &ledgerWatcher{name: filepath.Base(path), watcher: w}, nil
}

// next returns a command that blocks until the ledger changes. It yields
// nil once the watcher is closed.
func (w *ledgerWatcher) next() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return nil
				}
				if w.relevant(ev) {
					return ledgerChangedMsg{}
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return nil
				}
				return watchErrMsg{err: err}
			}
		}
	}
}

func (w *ledgerWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.name {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
		ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}

func (w *ledgerWatcher) Close() error {
	return errors.Trace(w.watcher.Close())
}
