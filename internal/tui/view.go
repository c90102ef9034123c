package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"noto/internal/keepalive"
)

var (
	appTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	tabStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	activeTabStyle   = tabStyle.Copy().Foreground(lipgloss.Color("213")).Bold(true).Underline(true)
	pageBodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("253")).MarginTop(1)
	onlineStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true).MarginTop(1)
	popupBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	popupTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	statusErrorStyle = statusStyle.Copy().Foreground(lipgloss.Color("196"))
	helpLineStyle    = lipgloss.NewStyle().MarginTop(1)
)

var pageBodies = map[string]string{
	"home":   "Take notes from your terminal. Press tab to browse.",
	"browse": "Browsing public notes.",
}

func (model *Model) View() string {
	current := pages[model.pageIndex]

	sections := []string{
		appTitleStyle.Render("Noto"),
		model.renderTabs(),
		pageBodyStyle.Render(pageBodies[current.name]),
	}
	if model.snapshot.ShouldRender() {
		sections = append(sections, onlineStyle.Render(onlineText(model.snapshot.ActiveUsers)))
	}
	if model.popupVisible {
		sections = append(sections, renderPopup())
	}
	sections = append(sections,
		renderHeartbeat(model.heartbeat),
		helpLineStyle.Render(model.help.View(model.keys)),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *Model) renderTabs() string {
	tabs := make([]string, 0, len(pages))
	for i, p := range pages {
		if i == model.pageIndex {
			tabs = append(tabs, activeTabStyle.Render(p.name))
			continue
		}
		tabs = append(tabs, tabStyle.Render(p.name))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func onlineText(n int) string {
	return fmt.Sprintf("● %d online", n)
}

func renderPopup() string {
	body := strings.Join([]string{
		popupTitleStyle.Render("Support Noto"),
		"Noto is free. If it helps you, consider a small UPI contribution.",
		"Press d to dismiss.",
	}, "\n")
	return popupBoxStyle.Render(body)
}

func renderHeartbeat(stats keepalive.Stats) string {
	if !stats.Running {
		return statusStyle.Render("heartbeat: stopped")
	}
	if stats.LastFailure.After(stats.LastSuccess) {
		return statusErrorStyle.Render(fmt.Sprintf("heartbeat: last ping failed at %s", stats.LastFailure.Format(time.Kitchen)))
	}
	if stats.LastSuccess.IsZero() {
		return statusStyle.Render("heartbeat: waiting for first ping")
	}
	return statusStyle.Render(fmt.Sprintf("heartbeat: ok (%d pings, last %s)", stats.Successes, stats.LastSuccess.Format(time.Kitchen)))
}
