package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type statusMsgKind int

const (
	statusSuccess statusMsgKind = iota
	statusError
	statusWarning
)

// statusAutoDismiss is how long transient messages stay visible.
const statusAutoDismiss = 3 * time.Second

// statusBarModel is the bottom line of the browser.
//
// Layout: [left: transient message or help] [right: reload spinner or watch badge]
//
// A transient message hides the help until it is dismissed. The right zone
// shows a spinner while the ledger is being reread, and a badge while the
// ledger file is watched for changes.
type statusBarModel struct {
	width int

	msg     string
	msgKind statusMsgKind
	msgID   int // monotonic; stale dismiss timers are ignored
	nextID  int

	reloads  int // reads in flight
	watching bool
	spinner  spinner.Model
}

// statusDismissMsg is sent by the auto-dismiss timer.
type statusDismissMsg struct {
	id int
}

// reloadStartedMsg marks the start of a ledger read.
type reloadStartedMsg struct{}

// reloadDoneMsg marks the end of a ledger read.
type reloadDoneMsg struct{}

func newStatusBarModel() statusBarModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(spinnerStyle),
	)
	return statusBarModel{
		spinner: s,
	}
}

// showMsg displays a transient message and returns the command that
// dismisses it after statusAutoDismiss.
func (m statusBarModel) showMsg(text string, kind statusMsgKind) (statusBarModel, tea.Cmd) {
	m.msg = text
	m.msgKind = kind
	m.msgID = m.nextID
	m.nextID++

	id := m.msgID
	cmd := tea.Tick(statusAutoDismiss, func(_ time.Time) tea.Msg {
		return statusDismissMsg{id: id}
	})
	return m, cmd
}

func (m statusBarModel) dismissMsg() statusBarModel {
	m.msg = ""
	return m
}

func (m statusBarModel) reloading() bool {
	return m.reloads > 0
}

func (m statusBarModel) update(msg tea.Msg) (statusBarModel, tea.Cmd) {
	switch msg := msg.(type) {
	case statusDismissMsg:
		if msg.id == m.msgID {
			m = m.dismissMsg()
		}
		return m, nil

	case reloadStartedMsg:
		m.reloads++
		if m.reloads == 1 {
			return m, m.spinner.Tick
		}
		return m, nil

	case reloadDoneMsg:
		if m.reloads > 0 {
			m.reloads--
		}
		return m, nil

	case spinner.TickMsg:
		if m.reloading() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	return m, nil
}

// view renders the bar with helpContent in the left zone when no message
// is showing.
func (m statusBarModel) view(helpContent string) string {
	left := m.renderLeft()
	if left == "" {
		left = helpContent
	}
	right := m.renderRight()
	if right == "" {
		return left
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	return left + fmt.Sprintf("%*s%s", gap, "", right)
}

func (m statusBarModel) renderLeft() string {
	if m.msg == "" {
		return ""
	}

	switch m.msgKind {
	case statusSuccess:
		return statusSuccessStyle.Render("✓ " + m.msg)
	case statusError:
		return statusErrorStyle.Render("✗ " + m.msg)
	case statusWarning:
		return statusWarningStyle.Render("⚠ " + m.msg)
	}

	return ""
}

func (m statusBarModel) renderRight() string {
	switch {
	case m.reloading():
		return statusTaskStyle.Render(m.spinner.View() + "reloading")
	case m.watching:
		return mutedStyle.Render("● watching")
	}
	return ""
}
