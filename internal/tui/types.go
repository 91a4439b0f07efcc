package tui

import (
	"time"

	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

// Views of the dashboard.
const (
	modeServices  = "services"
	modeDetail    = "detail"
	modeWorkflows = "workflows"
	modeHistory   = "history"
)

// statusPollInterval is how often the dashboard re-reads the daemon snapshot.
// The daemon refreshes on its own schedule; this only controls staleness of
// the view.
const statusPollInterval = 3 * time.Second

type statusLoadedMsg struct {
	snapshot *engine.Snapshot
	err      error
	poll     bool
}

type historyLoadedMsg struct {
	entries []models.JournalEntry
}

type daemonStatusMsg struct {
	online bool
}

type cmdResultMsg struct {
	message string
	// refresh asks the dashboard to re-read the snapshot right away.
	refresh bool
}

type errMsg struct {
	err error
}

type tickMsg time.Time
