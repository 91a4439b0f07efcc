package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/shipctl/internal/models"
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders latency samples oldest to newest. Zero samples (failed
// probes) render as a dot.
func sparkline(values []int64) string {
	var peak int64
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}

	var b strings.Builder
	for _, v := range values {
		if v <= 0 || peak == 0 {
			b.WriteRune('·')
			continue
		}
		idx := int(v * int64(len(sparkBlocks)-1) / peak)
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

func formatState(state models.WorkflowState) string {
	switch state {
	case models.StateRunning:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING")
	case models.StateStarting:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◐ STARTING")
	case models.StateStopped:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ STOPPED")
	case models.StateFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("? UNKNOWN")
	}
}

func formatStatePlain(state models.WorkflowState) string {
	switch state {
	case models.StateRunning:
		return "◑"
	case models.StateStarting:
		return "◐"
	case models.StateStopped:
		return "○"
	case models.StateFailed:
		return "✗"
	default:
		return "?"
	}
}

func formatHealth(sample models.HealthSample) string {
	switch sample.Status {
	case models.HealthOK:
		return lipgloss.NewStyle().Foreground(successColor).Render(fmt.Sprintf("● UP %4dms", sample.LatencyMS))
	case models.HealthDown:
		return lipgloss.NewStyle().Foreground(errorColor).Render("● DOWN      ")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○ CHECKING  ")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func (a *App) renderServiceList(height int) string {
	if a.snapshot == nil {
		return "\n  Loading status...\n"
	}
	services := a.snapshot.Services
	if len(services) == 0 {
		return "\n  No services configured. Add services to ~/.shipctl/config.yaml.\n"
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
	lines := []string{
		"  " + headerStyle.Render(fmt.Sprintf("  %-18s %-12s %-12s %-20s %s", "SERVICE", "HEALTH", "STATE", "LATENCY", "RUNS")),
	}

	for i, svc := range services {
		name := svc.DisplayName
		if name == "" {
			name = svc.ServiceKey
		}
		active := 0
		for _, run := range svc.Runs {
			if run.Status.Active() {
				active++
			}
		}
		runs := fmt.Sprintf("%d active", active)
		if svc.OverlayActive {
			runs += " (dispatched)"
		}

		if i == a.selectedIdx {
			line := fmt.Sprintf("▶ %-18s %-12s %s %-10s %-20s %s",
				truncate(name, 18), svc.Health.Status, formatStatePlain(svc.WorkflowState), svc.WorkflowState,
				sparkline(svc.LatencyHistory), runs)
			lines = append(lines, selectedStyle.Render(line))
			continue
		}
		lines = append(lines, rowStyle.Render(fmt.Sprintf("  %-18s %s %s %-20s %s",
			truncate(name, 18), formatHealth(svc.Health), formatState(svc.WorkflowState),
			sparkline(svc.LatencyHistory), runs)))
	}

	// Limit visible lines
	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func (a *App) renderServiceDetail(height int) string {
	svc := a.selectedService()
	if svc == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	name := svc.DisplayName
	if name == "" {
		name = svc.ServiceKey
	}

	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(name)))
	b.WriteString(fmt.Sprintf("  Key: %s\n", svc.ServiceKey))
	b.WriteString(fmt.Sprintf("  Endpoint: %s\n", svc.Endpoint))
	b.WriteString(fmt.Sprintf("  Health: %s\n", formatHealth(svc.Health)))
	if !svc.Health.Timestamp.IsZero() {
		b.WriteString(fmt.Sprintf("  Last probe: %s ago\n", formatDuration(time.Since(svc.Health.Timestamp))))
	}
	b.WriteString(fmt.Sprintf("  Latency: %s\n", sparkline(svc.LatencyHistory)))
	b.WriteString(fmt.Sprintf("  Workflow: %s  %s\n", svc.Workflow, formatState(svc.WorkflowState)))
	if svc.OverlayActive {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(warningColor).Render("Dispatched, waiting for the run to appear") + "\n")
	}

	if len(svc.Runs) == 0 {
		b.WriteString("\n  No recent runs.\n")
		return b.String()
	}

	b.WriteString("\n  Recent Runs:\n")
	for i, run := range svc.Runs {
		if i >= height-10 && i >= 3 {
			break
		}
		status := string(run.Status)
		if run.Conclusion != "" {
			status += "/" + string(run.Conclusion)
		}
		title := run.DisplayTitle
		if title == "" {
			title = run.HTMLURL
		}
		b.WriteString(fmt.Sprintf("    • #%d %s %-22s %s  %s\n",
			run.ID, formatStatePlain(run.State), status,
			formatDuration(time.Since(run.CreatedAt))+" ago", truncate(title, 40)))
	}

	return b.String()
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
