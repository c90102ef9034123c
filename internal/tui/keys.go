package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	SwitchPage key.Binding
	Dismiss    key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		SwitchPage: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "switch page"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("d", "enter"),
			key.WithHelp("d/enter", "dismiss popup"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SwitchPage, k.Dismiss, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
