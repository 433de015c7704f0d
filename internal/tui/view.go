package tui

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/fetchloop"
	"github.com/Sternrassler/sensboxd/pkg/universe"
	"github.com/charmbracelet/lipgloss"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#2EE59D")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	tabStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("#A8DADC"))

	activeTabStyle = tabStyle.
			Bold(true).
			Foreground(lipgloss.Color("#1D1D1D")).
			Background(lipgloss.Color("#2EE59D"))

	yearStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("SensBoxd"))
	b.WriteString("\n")

	switch m.screen {
	case ScreenInput:
		b.WriteString(m.viewInput())
	case ScreenBrowse:
		b.WriteString(m.viewBrowse())
	}

	if m.status != "" {
		b.WriteString("\n")
		if m.statusErr {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(successStyle.Render(m.status))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.helpText()))
	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Ton pseudo SensCritique :"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewBrowse() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render(m.header()))
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")
	b.WriteString(m.progress.ViewAs(m.percent))
	b.WriteString("\n")

	if m.fetching {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.opts.Messages.LoadingAt(m.loadingIdx))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) header() string {
	st := m.opts.Store
	auto := "off"
	if st.AutoContinue() {
		auto = "on"
	}
	line := fmt.Sprintf("@%s  %d", st.Username(), st.TotalLoaded())
	if total, ok := st.ExpectedTotal(); ok {
		line += fmt.Sprintf("/%d", total)
	}
	line += fmt.Sprintf("  auto: %s", auto)
	if state := m.opts.Loop.State(); state == fetchloop.StatePaused {
		line += "  (en pause)"
	}
	return line
}

func (m Model) renderTabs() string {
	if len(m.tabs) == 0 {
		return dimStyle.Render("Aucun élément pour le moment.")
	}
	tabs := make([]string, 0, len(m.tabs))
	for _, a := range m.tabs {
		label := fmt.Sprintf("%s (%d)", a.Label, a.Count)
		if a.CategoryID == m.active {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// renderItems lists the active category, one item per row.
func (m Model) renderItems(snap collection.State) string {
	items := snap.ItemsByCategory[snap.ActiveCategory]
	if len(items) == 0 {
		return dimStyle.Render(fmt.Sprintf("Rien dans %s.", universe.Lookup(snap.ActiveCategory).Label))
	}

	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		mark := " "
		switch {
		case it.Viewer.IsCompleted:
			mark = "✓"
		case it.Viewer.IsWishlisted:
			mark = "♡"
		}
		b.WriteString(mark)
		b.WriteString(" ")
		b.WriteString(it.DisplayTitle())
		if year := it.ReleaseYear(); year != "" {
			b.WriteString(" ")
			b.WriteString(yearStyle.Render("(" + year + ")"))
		}
		if who := it.PrimaryCreator(); who != "" {
			b.WriteString(dimStyle.Render(" · " + who))
		}
		if r := it.Viewer.Rating; r != nil {
			b.WriteString(fmt.Sprintf("  ★ %g", *r))
		}
	}
	return b.String()
}

func (m Model) helpText() string {
	if m.screen == ScreenInput {
		return "enter: charger • esc: quitter"
	}
	return "↑/↓ défiler • tab/shift+tab: catégorie • a: auto-continue • e: exporter • n: autre pseudo • q: quitter"
}
