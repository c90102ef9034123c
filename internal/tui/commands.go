package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"noto/internal/presence"
)

type (
	snapshotMsg struct {
		generation int
		snapshot   presence.Snapshot
	}
	popupShownMsg struct {
		generation int
	}
	statusTickMsg struct{}
)

// waitForEvent blocks on the component channel and hands the next event to
// Update, which re-arms it.
func (model *Model) waitForEvent() tea.Cmd {
	events := model.events
	return func() tea.Msg {
		return <-events
	}
}

func (model *Model) statusTick() tea.Cmd {
	return tea.Tick(statusInterval, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}
