package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

func TestNewStatusBarModel(t *testing.T) {
	m := newStatusBarModel()
	if m.msg != "" {
		t.Errorf("msg = %q, want empty", m.msg)
	}
	if m.nextID != 0 {
		t.Errorf("nextID = %d, want 0", m.nextID)
	}
	if m.reloading() {
		t.Error("new status bar should not be reloading")
	}
	if m.watching {
		t.Error("new status bar should not be watching")
	}
}

func TestStatusBar_ShowMsg(t *testing.T) {
	m := newStatusBarModel()
	m, cmd := m.showMsg("ledger reloaded", statusSuccess)

	if m.msg != "ledger reloaded" {
		t.Errorf("msg = %q, want %q", m.msg, "ledger reloaded")
	}
	if m.msgKind != statusSuccess {
		t.Errorf("msgKind = %d, want statusSuccess (%d)", m.msgKind, statusSuccess)
	}
	if m.nextID != 1 {
		t.Errorf("nextID = %d, want 1", m.nextID)
	}
	if cmd == nil {
		t.Error("showMsg should return a cmd for the auto-dismiss timer")
	}
}

func TestStatusBar_Update_DismissMatchingID(t *testing.T) {
	m := newStatusBarModel()
	m, _ = m.showMsg("hello", statusSuccess)

	m, _ = m.update(statusDismissMsg{id: m.msgID})
	if m.msg != "" {
		t.Errorf("msg = %q, want empty when dismiss ID matches", m.msg)
	}
}

func TestStatusBar_Update_DismissStaleID(t *testing.T) {
	m := newStatusBarModel()
	m, _ = m.showMsg("first", statusSuccess)
	staleID := m.msgID

	m, _ = m.showMsg("second", statusError)
	if m.msgID == staleID {
		t.Fatal("second message should have a different ID")
	}

	m, _ = m.update(statusDismissMsg{id: staleID})
	if m.msg != "second" {
		t.Errorf("msg = %q, want %q (stale dismiss should be ignored)", m.msg, "second")
	}
}

func TestStatusBar_ReloadStarted_StartsSpinnerOnce(t *testing.T) {
	m := newStatusBarModel()
	m, cmd := m.update(reloadStartedMsg{})
	if !m.reloading() {
		t.Error("reloading() should be true after reloadStartedMsg")
	}
	if cmd == nil {
		t.Error("first reloadStartedMsg should return a spinner tick cmd")
	}

	m, cmd = m.update(reloadStartedMsg{})
	if m.reloads != 2 {
		t.Errorf("reloads = %d, want 2", m.reloads)
	}
	if cmd != nil {
		t.Error("second reloadStartedMsg should return nil cmd (spinner already ticking)")
	}
}

func TestStatusBar_ReloadDone(t *testing.T) {
	m := newStatusBarModel()
	m, _ = m.update(reloadStartedMsg{})
	m, _ = m.update(reloadStartedMsg{})
	m, _ = m.update(reloadDoneMsg{})
	if !m.reloading() {
		t.Error("reloading() should be true with one read left")
	}
	m, _ = m.update(reloadDoneMsg{})
	if m.reloading() {
		t.Error("reloading() should be false after all reads finish")
	}

	// An unmatched done must not go negative.
	m, _ = m.update(reloadDoneMsg{})
	if m.reloads != 0 {
		t.Errorf("reloads = %d, want 0", m.reloads)
	}
}

func TestStatusBar_SpinnerTick(t *testing.T) {
	m := newStatusBarModel()
	tick := spinner.TickMsg{Time: time.Now()}
	if _, cmd := m.update(tick); cmd != nil {
		t.Error("spinner tick while idle should return nil cmd")
	}

	m, _ = m.update(reloadStartedMsg{})
	m, _ = m.update(tick)
	if !m.reloading() {
		t.Error("reload should still be in flight after a spinner tick")
	}
}

func TestStatusBar_View(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(statusBarModel) statusBarModel
		contains []string
		excludes []string
	}{
		{
			name:     "help only",
			setup:    func(m statusBarModel) statusBarModel { return m },
			contains: []string{"help text"},
		},
		{
			name: "message hides help",
			setup: func(m statusBarModel) statusBarModel {
				m, _ = m.showMsg("ledger changed", statusWarning)
				return m
			},
			contains: []string{"ledger changed"},
			excludes: []string{"help text"},
		},
		{
			name: "watching badge",
			setup: func(m statusBarModel) statusBarModel {
				m.watching = true
				return m
			},
			contains: []string{"help text", "watching"},
		},
		{
			name: "reload replaces badge",
			setup: func(m statusBarModel) statusBarModel {
				m.watching = true
				m, _ = m.update(reloadStartedMsg{})
				return m
			},
			contains: []string{"reloading"},
			excludes: []string{"watching"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newStatusBarModel()
			m.width = 80
			v := tt.setup(m).view("help text")
			for _, want := range tt.contains {
				if !strings.Contains(v, want) {
					t.Errorf("view() = %q, should contain %q", v, want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(v, unwanted) {
					t.Errorf("view() = %q, should not contain %q", v, unwanted)
				}
			}
		})
	}
}

func TestStatusBar_RenderLeft(t *testing.T) {
	m := newStatusBarModel()
	if left := m.renderLeft(); left != "" {
		t.Errorf("renderLeft() = %q, want empty when no message", left)
	}
	for _, kind := range []statusMsgKind{statusSuccess, statusError, statusWarning} {
		m, _ = m.showMsg("text", kind)
		if left := m.renderLeft(); !strings.Contains(left, "text") {
			t.Errorf("renderLeft(kind %d) = %q, should contain message", kind, left)
		}
	}
}
