// Package tui provides the interactive terminal dashboard for shipctl.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// historyLimit is how many journal entries the history view shows.
const historyLimit = 50

// App is the main TUI application model.
type App struct {
	client       *Client
	snapshot     *engine.Snapshot
	history      []models.JournalEntry
	selectedIdx  int
	cmdbar       *CmdBarModel
	viewport     viewport.Model
	width        int
	height       int
	mode         string
	message      string
	daemonOnline bool
	suggestions  *Suggestions
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	return &App{
		client:      NewClient(apiAddr),
		cmdbar:      NewCmdBarModel(),
		viewport:    viewport.New(80, 20),
		mode:        modeServices,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchStatus(true),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.suggestions.IsVisible() {
				a.cmdbar.SetValue("")
				a.suggestions.Update("")
				return a, nil
			}
			if a.mode != modeServices {
				a.mode = modeServices
				return a, nil
			}

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.selectedIdx < a.serviceCount()-1 {
				a.selectedIdx++
			}
			return a, nil

		case "tab":
			if text, ok := a.suggestions.Accept(); ok {
				a.cmdbar.SetValue(text)
				return a, nil
			}
			switch a.mode {
			case modeServices, modeDetail:
				a.mode = modeWorkflows
			case modeWorkflows:
				a.mode = modeHistory
				return a, a.fetchHistory()
			default:
				a.mode = modeServices
			}
			return a, nil

		case "enter":
			if text, ok := a.suggestions.Accept(); ok {
				a.cmdbar.SetValue(text)
				return a, nil
			}
			if input := a.cmdbar.Submit(); input != "" {
				return a, a.executeCommand(input)
			}
			if a.mode == modeServices && a.selectedService() != nil {
				a.mode = modeDetail
			} else if a.mode == modeDetail {
				a.mode = modeServices
			}
			return a, nil

		case "ctrl+r":
			return a, a.runCommand(Command{Name: cmdRefresh})
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.cmdbar.SetWidth(msg.Width - 4)
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 10

	case statusLoadedMsg:
		if msg.err != nil {
			a.daemonOnline = false
			a.message = "Error: " + msg.err.Error()
		} else {
			a.daemonOnline = true
			a.snapshot = msg.snapshot
			if n := a.serviceCount(); a.selectedIdx >= n {
				a.selectedIdx = max(0, n-1)
			}
		}
		if msg.poll {
			// Schedule the next poll only after the current fetch is complete.
			cmds = append(cmds, a.tickCmd())
		}

	case historyLoadedMsg:
		a.history = msg.entries

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		return a, a.fetchStatus(true)

	case cmdResultMsg:
		a.message = msg.message
		if msg.refresh {
			cmds = append(cmds, a.fetchStatus(false))
		}

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	cmds = append(cmds, a.cmdbar.Update(msg))

	// Update suggestions based on input
	value := a.cmdbar.Value()
	a.suggestions.Update(value)
	if a.snapshot != nil && strings.HasPrefix(value, "@") {
		names := make([]string, 0, len(a.snapshot.Workflows))
		for _, wf := range a.snapshot.Workflows {
			if wf.Resolved {
				names = append(names, wf.Name)
			}
		}
		a.suggestions.SetWorkflows(names)
	}
	if a.snapshot != nil && strings.HasPrefix(value, "#") {
		a.suggestions.SetRuns(a.activeRuns())
	}

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("shipctl")
	header += "  " + daemonStatus
	if a.snapshot != nil {
		if a.snapshot.Repository != "" {
			header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.snapshot.Repository)
		}
		s := a.snapshot.Summary
		header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render(
			fmt.Sprintf("[%d up · %d down · %d running · %d starting · %d failed]",
				s.Healthy, s.Down, s.Running, s.Starting, s.Failed))
		if a.snapshot.Backend != nil {
			header += "  backend " + formatHealth(*a.snapshot.Backend)
		}
	}

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case modeServices:
		b.WriteString(a.renderServiceList(contentHeight))
	case modeDetail:
		b.WriteString(a.renderServiceDetail(contentHeight))
	case modeWorkflows:
		b.WriteString(a.renderWorkflows(contentHeight))
	case modeHistory:
		b.WriteString(a.renderHistory(contentHeight))
	}

	// Message bar
	msg := a.message
	if msg == "" && a.snapshot != nil && a.snapshot.Error != "" {
		msg = "Error: " + a.snapshot.Error
	}
	if msg != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(msg, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(msg))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(a.cmdbar.View())

	// Suggestions dropdown renders below the input
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeServices:
		status = fmt.Sprintf(" Services: %d | ↑↓:nav | Enter:detail | Tab:workflows | /:commands | @:workflows | #:runs | Ctrl+R:refresh | Ctrl+C:quit", a.serviceCount())
	case modeWorkflows:
		status = " Workflows | Tab:history | Esc:back"
	case modeHistory:
		status = fmt.Sprintf(" History: %d | Tab:services | Esc:back", len(a.history))
	default:
		status = " Esc:back | cancel:cancel selected runs | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderWorkflows(height int) string {
	if a.snapshot == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	b.WriteString("\n  Workflows\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n")

	for i, wf := range a.snapshot.Workflows {
		if i >= height-4 {
			break
		}
		resolved := onlineStyle.Render("●")
		if !wf.Resolved {
			resolved = offlineStyle.Render("○")
		}
		active := 0
		for _, run := range wf.Runs {
			if run.Status.Active() {
				active++
			}
		}
		b.WriteString(fmt.Sprintf("    %s %-20s %s  %d active\n", resolved, wf.Name, formatState(wf.State), active))
	}

	if len(a.snapshot.Unmatched) > 0 {
		b.WriteString("\n  " + offlineStyle.Render("Not found in repository: "+strings.Join(a.snapshot.Unmatched, ", ")) + "\n")
	}
	b.WriteString("\n  " + helpStyle.Render("Commands: trigger <workflow> [ref] | full") + "\n")
	return b.String()
}

func (a *App) renderHistory(height int) string {
	var b strings.Builder
	b.WriteString("\n  Action Journal\n")
	b.WriteString("  " + strings.Repeat("─", 60) + "\n")

	if len(a.history) == 0 {
		b.WriteString("  " + helpStyle.Render("No recorded actions") + "\n")
		return b.String()
	}

	for i, e := range a.history {
		if i >= height-4 {
			break
		}
		outcome := lipgloss.NewStyle().Foreground(successColor).Render(e.Outcome)
		if e.Outcome != "success" {
			outcome = lipgloss.NewStyle().Foreground(errorColor).Render(e.Outcome)
		}
		b.WriteString(fmt.Sprintf("    %s  %-18s %-16s %s  %s\n",
			e.Timestamp.Local().Format("15:04:05"), e.Action, truncate(e.Target, 16), outcome, truncate(e.Details, 40)))
	}
	return b.String()
}

func (a *App) serviceCount() int {
	if a.snapshot == nil {
		return 0
	}
	return len(a.snapshot.Services)
}

func (a *App) selectedService() *models.DerivedServiceStatus {
	if a.snapshot == nil || a.selectedIdx < 0 || a.selectedIdx >= len(a.snapshot.Services) {
		return nil
	}
	svc := a.snapshot.Services[a.selectedIdx]
	return &svc
}

func (a *App) activeRuns() []models.RunView {
	var active []models.RunView
	for _, wf := range a.snapshot.Workflows {
		for _, run := range wf.Runs {
			if run.Status.Active() {
				active = append(active, run)
			}
		}
	}
	return active
}

// fetchStatus reads the snapshot. Only polling fetches schedule the next
// tick, so refreshes requested by commands never start a second poll loop.
func (a *App) fetchStatus(poll bool) tea.Cmd {
	return func() tea.Msg {
		snap, err := a.client.Status()
		return statusLoadedMsg{snapshot: snap, err: err, poll: poll}
	}
}

func (a *App) fetchHistory() tea.Cmd {
	return func() tea.Msg {
		entries, err := a.client.History(historyLimit)
		if err != nil {
			return errMsg{err}
		}
		return historyLoadedMsg{entries}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(statusPollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) executeCommand(input string) tea.Cmd {
	c, err := ParseCommand(input)
	if err != nil {
		a.message = "Error: " + err.Error()
		return nil
	}
	return a.runCommand(c)
}

func (a *App) runCommand(c Command) tea.Cmd {
	switch c.Name {
	case cmdHistory:
		a.mode = modeHistory
		return a.fetchHistory()
	case cmdQuit:
		return tea.Quit
	}
	a.message = ""
	return a.cmdbar.Execute(a.client, c, a.selectedService)
}
