package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/shipctl/internal/models"
)

// Suggestions provides autocomplete for commands
type Suggestions struct {
	items        []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/", "@", or "#"
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "workflow", "run"
	// Insert replaces the input when the item is accepted. Text is used
	// when empty.
	Insert string
}

var commandSuggestions = []SuggestionItem{
	{Text: cmdTrigger, Description: "Dispatch a workflow", Type: "command"},
	{Text: cmdCancel, Description: "Cancel a run, or the selected service's runs", Type: "command"},
	{Text: cmdCancelAll, Description: "Cancel every active run", Type: "command"},
	{Text: cmdRefresh, Description: "Refresh runs and health now", Type: "command"},
	{Text: cmdFull, Description: "Re-resolve workflows and refresh", Type: "command"},
	{Text: cmdHistory, Description: "Show the action journal", Type: "command"},
	{Text: cmdQuit, Description: "Exit the dashboard", Type: "command"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{
		items:   commandSuggestions,
		visible: false,
	}
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	if input == "" {
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}

	switch input[0] {
	case '/':
		s.prefix = "/"
		s.items = commandSuggestions
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "/")))
	case '@', '#':
		// Items are populated by SetWorkflows / SetRuns.
		if s.prefix != input[:1] {
			s.items = []SuggestionItem{}
		}
		s.prefix = input[:1]
		s.visible = true
		s.filter(strings.ToLower(input[1:]))
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
	}

	s.currentInput = input
}

// SetWorkflows updates the workflow suggestions shown after "@".
func (s *Suggestions) SetWorkflows(workflows []string) {
	if s.prefix != "@" {
		return
	}
	s.items = make([]SuggestionItem, len(workflows))
	for i, wf := range workflows {
		s.items[i] = SuggestionItem{
			Text:        wf,
			Description: "Dispatch this workflow",
			Type:        "workflow",
			Insert:      cmdTrigger + " " + wf,
		}
	}
	s.filter(strings.ToLower(strings.TrimPrefix(s.currentInput, "@")))
}

// SetRuns updates the active run suggestions shown after "#".
func (s *Suggestions) SetRuns(runs []models.RunView) {
	if s.prefix != "#" {
		return
	}
	s.items = make([]SuggestionItem, 0, len(runs))
	for _, run := range runs {
		s.items = append(s.items, SuggestionItem{
			Text:        strconv.FormatInt(run.ID, 10),
			Description: "Cancel " + run.WorkflowRef,
			Type:        "run",
			Insert:      cmdCancel + " " + strconv.FormatInt(run.ID, 10),
		})
	}
	s.filter(strings.ToLower(strings.TrimPrefix(s.currentInput, "#")))
}

func (s *Suggestions) filter(query string) {
	if query == "" {
		s.filtered = s.items
		s.selectedIdx = 0
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// Accept returns the input text for the selected suggestion and hides the
// dropdown.
func (s *Suggestions) Accept() (string, bool) {
	item := s.Selected()
	if item == nil {
		return "", false
	}
	text := item.Text
	if item.Insert != "" {
		text = item.Insert
	}
	s.Update("")
	return text + " ", true
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(width - 4)

	selectedStyle := lipgloss.NewStyle().
		Background(primaryColor).
		Foreground(fgColor).
		Bold(true)

	itemStyle := lipgloss.NewStyle().
		Foreground(fgColor)

	descStyle := lipgloss.NewStyle().
		Foreground(mutedColor).
		Italic(true)

	var header string
	switch s.prefix {
	case "/":
		header = "Commands"
	case "@":
		header = "Workflows"
	case "#":
		header = "Active runs"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			more := len(s.filtered) - maxVisible
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", more)))
			break
		}

		line := ""
		if i == s.selectedIdx {
			line = selectedStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + selectedStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return suggestionStyle.Render(b.String())
}
