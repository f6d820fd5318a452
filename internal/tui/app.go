package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/barysiuk/ngstep/internal/core"
)

var logger = loggo.GetLogger("ngstep.tui")

type viewState int

const (
	viewHistory viewState = iota
	viewDetail
)

// Options configures the history browser.
type Options struct {
	Ledger *core.Ledger
	Plan   *core.Plan
}

// App is the bubbletea model of the history browser.
type App struct {
	opts    Options
	watcher *ledgerWatcher

	width  int
	height int
	ready  bool

	activeView viewState
	showAll    bool
	entries    []core.Entry

	list   list.Model
	help   help.Model
	status statusBarModel

	detailTitle    string
	detailViewport viewport.Model
	detailLoading  bool
	detailSpinner  spinner.Model

	// Cached on first detail render.
	glamourRenderer *glamour.TermRenderer
}

// entriesLoadedMsg carries a fresh read of the ledger. changed is set when
// the read followed a change on disk.
type entriesLoadedMsg struct {
	entries []core.Entry
	err     error
	changed bool
}

// detailRenderedMsg is sent when background glamour rendering completes.
type detailRenderedMsg struct {
	content  string
	renderer *glamour.TermRenderer
}

// RunHistory opens the interactive history browser and blocks until the
// user quits or ctx is cancelled.
func RunHistory(ctx context.Context, opts Options) error {
	if opts.Ledger == nil {
		return errors.NotValidf("nil ledger")
	}
	w, err := newLedgerWatcher(opts.Ledger.Path())
	if err != nil {
		logger.Warningf("live reload disabled: %v", err)
		w = nil
	} else {
		defer w.Close()
	}

	p := tea.NewProgram(newApp(opts, w), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Annotate(err, "running history browser")
	}
	return nil
}

func newApp(opts Options, w *ledgerWatcher) App {
	l := list.New(nil, newEntryDelegate(), 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.SetShowPagination(false)

	h := help.New()
	h.ShortSeparator = "  |  "

	status := newStatusBarModel()
	status.watching = w != nil
	status, _ = status.update(reloadStartedMsg{})

	return App{
		opts:    opts,
		watcher: w,
		list:    l,
		help:    h,
		status:  status,
		detailSpinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(spinnerStyle),
		),
	}
}

func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.loadEntriesCmd(false), a.status.spinner.Tick}
	if a.watcher != nil {
		cmds = append(cmds, a.watcher.next())
	}
	return tea.Batch(cmds...)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.help.Width = msg.Width
		a.status.width = msg.Width
		a.propagateSize()
		return a, nil

	case entriesLoadedMsg:
		a.status, _ = a.status.update(reloadDoneMsg{})
		if msg.err != nil {
			var cmd tea.Cmd
			a.status, cmd = a.status.showMsg(fmt.Sprintf("Error: %v", msg.err), statusError)
			return a, cmd
		}
		a.entries = msg.entries
		a.refreshItems()
		if msg.changed {
			var cmd tea.Cmd
			a.status, cmd = a.status.showMsg("ledger changed, reloaded", statusSuccess)
			return a, cmd
		}
		return a, nil

	case ledgerChangedMsg:
		return a, tea.Batch(a.startReload(true), a.watcher.next())

	case watchErrMsg:
		logger.Warningf("watching ledger: %v", msg.err)
		var cmd tea.Cmd
		a.status, cmd = a.status.showMsg(fmt.Sprintf("watch: %v", msg.err), statusWarning)
		return a, tea.Batch(cmd, a.watcher.next())

	case detailRenderedMsg:
		a.detailLoading = false
		a.detailViewport.SetContent(msg.content)
		if msg.renderer != nil {
			a.glamourRenderer = msg.renderer
		}
		return a, nil

	case spinner.TickMsg:
		if a.detailLoading {
			var cmd tea.Cmd
			a.detailSpinner, cmd = a.detailSpinner.Update(msg)
			return a, cmd
		}
		var cmd tea.Cmd
		a.status, cmd = a.status.update(msg)
		return a, cmd

	case statusDismissMsg:
		var cmd tea.Cmd
		a.status, cmd = a.status.update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	if a.activeView == viewHistory {
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// While the filter prompt is open every key belongs to the list.
	if a.activeView == viewHistory && a.list.SettingFilter() {
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		return a, cmd
	}
	if key.Matches(msg, keys.Quit) {
		return a, tea.Quit
	}

	switch a.activeView {
	case viewDetail:
		if key.Matches(msg, keys.Back) {
			a.activeView = viewHistory
			a.detailLoading = false
			return a, nil
		}
		var cmd tea.Cmd
		a.detailViewport, cmd = a.detailViewport.Update(msg)
		return a, cmd

	default:
		switch {
		case key.Matches(msg, keys.Enter):
			item, ok := a.list.SelectedItem().(entryItem)
			if !ok {
				return a, nil
			}
			return a.openDetail(item.entry)
		case key.Matches(msg, keys.Toggle):
			a.showAll = !a.showAll
			a.refreshItems()
			return a, nil
		case key.Matches(msg, keys.Refresh):
			return a, a.startReload(false)
		case key.Matches(msg, keys.Help):
			a.help.ShowAll = !a.help.ShowAll
			return a, nil
		}
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		return a, cmd
	}
}

// openDetail switches to the detail view and renders the entry's markdown
// in the background.
func (a App) openDetail(e core.Entry) (tea.Model, tea.Cmd) {
	a.activeView = viewDetail
	a.detailTitle = e.Label
	a.detailLoading = true
	w, h := a.innerContentSize()
	// Title, blank line, blank line and footer.
	a.detailViewport = viewport.New(w, max(0, h-4))

	raw := entryMarkdown(e, a.entries, a.opts.Plan)
	cached := a.glamourRenderer
	renderCmd := func() tea.Msg {
		r := cached
		if r == nil {
			var err error
			r, err = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(w),
			)
			if err != nil {
				return detailRenderedMsg{content: raw}
			}
		}
		rendered, err := r.Render(raw)
		if err != nil {
			rendered = raw
		}
		return detailRenderedMsg{
			content:  strings.TrimRight(rendered, "\n"),
			renderer: r,
		}
	}
	return a, tea.Batch(a.detailSpinner.Tick, renderCmd)
}

// startReload marks a read in flight and returns the command doing it.
func (a *App) startReload(changed bool) tea.Cmd {
	var cmd tea.Cmd
	a.status, cmd = a.status.update(reloadStartedMsg{})
	return tea.Batch(cmd, a.loadEntriesCmd(changed))
}

func (a App) loadEntriesCmd(changed bool) tea.Cmd {
	ledger := a.opts.Ledger
	return func() tea.Msg {
		entries, err := ledger.Entries()
		return entriesLoadedMsg{entries: entries, err: err, changed: changed}
	}
}

// refreshItems rebuilds the list from the loaded entries, keeping the
// cursor where it was when possible.
func (a *App) refreshItems() {
	idx := a.list.Index()
	a.list.SetItems(entriesToItems(a.entries, a.showAll))
	if n := len(a.list.Items()); idx >= n && n > 0 {
		idx = n - 1
	}
	a.list.Select(idx)
}

func (a *App) propagateSize() {
	w, h := a.innerContentSize()
	// Section header and the blank line below it.
	a.list.SetSize(w, max(0, h-2))
	if a.activeView == viewDetail {
		a.detailViewport.Width = w
		a.detailViewport.Height = max(0, h-4)
	}
}

func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	header := a.renderHeader()
	helpBar := a.renderHelpBar()

	// JoinVertical puts a \n between the three blocks.
	chromeH := lipgloss.Height(header) + lipgloss.Height(helpBar) + 2

	frameV := contentStyle.GetVerticalFrameSize()
	frameH := contentStyle.GetHorizontalFrameSize()
	borderV := contentStyle.GetVerticalBorderSize()
	borderH := contentStyle.GetHorizontalBorderSize()

	// Width and Height of contentStyle include padding but not the border.
	innerW := max(0, a.width-borderH)
	innerH := max(0, a.height-chromeH-borderV)
	textW := max(0, a.width-frameH)
	textH := max(0, a.height-chromeH-frameV)

	var content string
	switch a.activeView {
	case viewDetail:
		content = a.renderDetail()
	default:
		content = a.renderHistory()
	}

	content = clampWidth(content, textW)
	content = clampHeight(content, textH)

	styled := contentStyle.
		Width(innerW).
		Height(innerH).
		Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, header, styled, helpBar)
}

func (a App) renderHeader() string {
	logo := logoStyle.Render("ngstep")
	path := headerPathStyle.Render(shortenPath(filepath.Dir(a.opts.Ledger.Path())))

	var hint string
	switch a.activeView {
	case viewDetail:
		hint = "entry details"
	default:
		mode := "live"
		if a.showAll {
			mode = "all"
		}
		hint = fmt.Sprintf("%d entries (%s)", len(a.list.Items()), mode)
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, logo, path, headerHintStyle.Render(hint))
}

func (a App) renderHelpBar() string {
	var km help.KeyMap = historyHelpKeyMap{}
	if a.activeView == viewDetail {
		km = detailHelpKeyMap{}
	}
	// Indent 1 char to align with the content box border.
	return " " + a.status.view(helpStyle.Render(a.help.View(km)))
}

func (a App) renderHistory() string {
	header := renderSectionHeader("HISTORY")
	if len(a.entries) == 0 {
		return header + "\n\n" + mutedStyle.Render("  no history yet. run 'ngstep step' to start.")
	}
	body := a.list.View()
	if pending := core.PendingMigrations(a.entries); len(pending) > 0 {
		note := warningStyle.Render(fmt.Sprintf("  %d transition(s) with incomplete migrations", len(pending)))
		return header + "\n" + note + "\n" + body
	}
	return header + "\n\n" + body
}

func (a App) renderDetail() string {
	w, _ := a.innerContentSize()
	title := viewportTitleStyle.Render(" " + a.detailTitle + " ")
	line := strings.Repeat("─", max(0, w-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, mutedStyle.Render(line))

	if a.detailLoading {
		return header + "\n\n" + a.detailSpinner.View() + " Rendering..."
	}

	pct := fmt.Sprintf(" %3.0f%% ", a.detailViewport.ScrollPercent()*100)
	return header + "\n\n" + a.detailViewport.View() + "\n\n" + detailPctStyle.Render(pct)
}

func (a App) innerContentSize() (width, height int) {
	chromeH := lipgloss.Height(a.renderHeader()) + lipgloss.Height(a.renderHelpBar()) + 2
	width = max(0, a.width-contentStyle.GetHorizontalFrameSize())
	height = max(0, a.height-chromeH-contentStyle.GetVerticalFrameSize())
	return width, height
}

// entryMarkdown describes e and, when the plan knows it, its transition.
func entryMarkdown(e core.Entry, entries []core.Entry, plan *core.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", e.Label)
	b.WriteString("| Field | Value |\n| --- | --- |\n")
	fmt.Fprintf(&b, "| status | %s |\n", e.Status)
	if e.Phase != nil {
		fmt.Fprintf(&b, "| phase | %d (%s) |\n", *e.Phase, *e.Phase)
	}
	fmt.Fprintf(&b, "| angular | v%d |\n", e.Step)
	if e.Node != "" {
		fmt.Fprintf(&b, "| node | %s |\n", e.Node)
	}
	if e.Npm != "" {
		fmt.Fprintf(&b, "| npm | %s |\n", e.Npm)
	}
	if !e.Timestamp.IsZero() {
		fmt.Fprintf(&b, "| recorded | %s (%s) |\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), humanize.Time(e.Timestamp))
	}

	for _, label := range core.PendingMigrations(entries) {
		if label == e.Label {
			b.WriteString("\n> Migrations did not all succeed. Run `ngstep step` to retry them.\n")
			break
		}
	}

	b.WriteString("\n")
	if plan == nil {
		return b.String()
	}
	if t, ok := plan.Find(e.Label); ok {
		b.WriteString(t.Markdown())
	} else {
		b.WriteString("_This transition is not in the current plan._\n")
	}
	return b.String()
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

// clampHeight truncates content to at most maxLines lines so an oversized
// view cannot push the header off-screen.
func clampHeight(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content
	}
	return strings.Join(lines[:maxLines], "\n")
}

// clampWidth truncates each line to maxWidth visible cells. Lines wider than
// a Width-constrained box would wrap and inflate its height.
func clampWidth(content string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > maxWidth {
			lines[i] = ansi.Truncate(line, maxWidth, "")
		}
	}
	return strings.Join(lines, "\n")
}
