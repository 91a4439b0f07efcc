package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fentz26/shipctl/internal/models"
)

// Command names accepted by the command bar.
const (
	cmdTrigger   = "trigger"
	cmdCancel    = "cancel"
	cmdCancelAll = "cancel-all"
	cmdRefresh   = "refresh"
	cmdFull      = "full"
	cmdHistory   = "history"
	cmdQuit      = "quit"
)

var commandAliases = map[string]string{
	"deploy": cmdTrigger,
	"t":      cmdTrigger,
	"r":      cmdRefresh,
	"q":      cmdQuit,
	"exit":   cmdQuit,
}

// Command is a parsed command bar entry.
type Command struct {
	Name     string
	Workflow string
	Ref      string
	Inputs   map[string]string
	RunID    int64
}

// ParseCommand parses "trigger <workflow> [ref] [key=value...]",
// "cancel [run-id]", "cancel-all", "refresh", "full", "history" and "quit".
// A leading "/" is ignored.
func ParseCommand(input string) (Command, error) {
	parts := strings.Fields(strings.TrimPrefix(strings.TrimSpace(input), "/"))
	if len(parts) == 0 {
		return Command{}, errors.New("empty command")
	}

	name := strings.ToLower(parts[0])
	if alias, ok := commandAliases[name]; ok {
		name = alias
	}
	args := parts[1:]
	c := Command{Name: name}

	switch name {
	case cmdTrigger:
		if len(args) < 1 {
			return c, errors.New("usage: trigger <workflow> [ref] [key=value...]")
		}
		c.Workflow = args[0]
		for _, arg := range args[1:] {
			if k, v, ok := strings.Cut(arg, "="); ok {
				if c.Inputs == nil {
					c.Inputs = make(map[string]string)
				}
				c.Inputs[k] = v
				continue
			}
			if c.Ref != "" {
				return c, fmt.Errorf("unexpected argument %q", arg)
			}
			c.Ref = arg
		}

	case cmdCancel:
		if len(args) > 1 {
			return c, errors.New("usage: cancel [run-id]")
		}
		if len(args) == 1 {
			id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
			if err != nil || id <= 0 {
				return c, fmt.Errorf("invalid run id %q", args[0])
			}
			c.RunID = id
		}

	case cmdCancelAll, cmdRefresh, cmdFull, cmdHistory, cmdQuit:
		if len(args) > 0 {
			return c, fmt.Errorf("%s takes no arguments", name)
		}

	default:
		return c, fmt.Errorf("unknown command: %s (try: trigger, cancel, cancel-all, refresh, full)", parts[0])
	}

	return c, nil
}

// CmdBarModel manages the command input bar
type CmdBarModel struct {
	input   textinput.Model
	message string
}

// NewCmdBarModel creates a new command bar
func NewCmdBarModel() *CmdBarModel {
	ti := textinput.New()
	ti.Placeholder = "trigger <workflow> [ref] | cancel [run-id] | cancel-all | refresh | full"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80
	return &CmdBarModel{
		input: ti,
	}
}

// Value returns the current input.
func (m *CmdBarModel) Value() string {
	return m.input.Value()
}

// SetValue replaces the input and moves the cursor to the end.
func (m *CmdBarModel) SetValue(v string) {
	m.input.SetValue(v)
	m.input.CursorEnd()
}

// SetWidth resizes the input.
func (m *CmdBarModel) SetWidth(w int) {
	m.input.Width = w
}

// Submit returns the current input and clears it.
func (m *CmdBarModel) Submit() string {
	val := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	return val
}

// Update forwards messages to the text input.
func (m *CmdBarModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// View renders the command bar
func (m *CmdBarModel) View() string {
	return inputBoxStyle.Render(m.input.View())
}

// Execute runs a parsed command against the daemon. selected returns the
// service highlighted in the dashboard, or nil.
func (m *CmdBarModel) Execute(client *Client, c Command, selected func() *models.DerivedServiceStatus) tea.Cmd {
	return func() tea.Msg {
		switch c.Name {
		case cmdTrigger:
			if err := client.Trigger(c.Workflow, c.Ref, c.Inputs); err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			return cmdResultMsg{message: fmt.Sprintf("✓ Dispatched %s", c.Workflow), refresh: true}

		case cmdCancel:
			if c.RunID != 0 {
				if err := client.CancelRun(c.RunID); err != nil {
					return cmdResultMsg{message: "Error: " + err.Error()}
				}
				return cmdResultMsg{message: fmt.Sprintf("✓ Cancellation requested for run %d", c.RunID), refresh: true}
			}
			return cancelSelected(client, selected())

		case cmdCancelAll:
			result, err := client.CancelAll()
			if err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			if result.NothingToCancel {
				return cmdResultMsg{message: "Nothing to cancel"}
			}
			if len(result.Failures) > 0 {
				return cmdResultMsg{
					message: fmt.Sprintf("Error: cancelled %d of %d runs (%s)", result.Succeeded, result.Attempted, result.Failures[0].Error),
					refresh: true,
				}
			}
			return cmdResultMsg{message: fmt.Sprintf("✓ Cancelled %d runs", result.Succeeded), refresh: true}

		case cmdRefresh, cmdFull:
			started, err := client.Refresh(c.Name == cmdFull)
			if err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			if !started {
				return cmdResultMsg{message: "Refresh already in progress"}
			}
			return cmdResultMsg{message: "✓ Refresh started", refresh: true}

		case cmdQuit:
			return tea.Quit()
		}
		return nil
	}
}

func cancelSelected(client *Client, svc *models.DerivedServiceStatus) tea.Msg {
	if svc == nil {
		return cmdResultMsg{message: "No service selected"}
	}

	var active []int64
	for _, run := range svc.Runs {
		if run.Status.Active() {
			active = append(active, run.ID)
		}
	}
	if len(active) == 0 {
		return cmdResultMsg{message: fmt.Sprintf("No active runs for %s", svc.DisplayName)}
	}

	var failed int
	for _, id := range active {
		if err := client.CancelRun(id); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return cmdResultMsg{message: fmt.Sprintf("Error: %d of %d cancellations failed", failed, len(active)), refresh: true}
	}
	return cmdResultMsg{message: fmt.Sprintf("✓ Cancellation requested for %d runs", len(active)), refresh: true}
}
