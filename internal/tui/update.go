package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

func (model *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(typedMessage, model.keys.Quit):
			model.Close()
			return model, tea.Quit
		case key.Matches(typedMessage, model.keys.SwitchPage):
			model.switchPage()
			return model, nil
		case key.Matches(typedMessage, model.keys.Dismiss):
			if model.gate != nil {
				model.gate.Dismiss()
			}
			model.popupVisible = false
			return model, nil
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		model.help.Width = typedMessage.Width
		return model, nil

	case snapshotMsg:
		// Events from a component that has since been unmounted are dropped.
		if typedMessage.generation == model.generation && model.tracker != nil {
			model.snapshot = typedMessage.snapshot
		}
		return model, model.waitForEvent()

	case popupShownMsg:
		if typedMessage.generation == model.generation && model.gate != nil {
			model.popupVisible = model.gate.Visible()
		}
		return model, model.waitForEvent()

	case statusTickMsg:
		model.refreshHeartbeat()
		if model.tracker != nil {
			model.snapshot = model.tracker.Snapshot()
		}
		if model.gate != nil {
			model.popupVisible = model.gate.Visible()
		}
		if model.closed {
			return model, nil
		}
		return model, model.statusTick()
	}
	return model, nil
}
