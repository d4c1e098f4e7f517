// Package ui renders dbtforge documents and progress in the terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	Primary     = lipgloss.Color("#8BC34A")
	Accent      = lipgloss.Color("#2196F3")
	Muted       = lipgloss.Color("#7a8699")
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
)

// Styles holds every style the renderers use.
type Styles struct {
	Title    lipgloss.Style
	Heading  lipgloss.Style
	Muted    lipgloss.Style
	Key      lipgloss.Style
	Added    lipgloss.Style
	Modified lipgloss.Style
	Error    lipgloss.Style
	Spinner  lipgloss.Style
	Box      lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(Primary),
		Heading:  lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Muted:    lipgloss.NewStyle().Foreground(Muted),
		Key:      lipgloss.NewStyle().Foreground(Warning),
		Added:    lipgloss.NewStyle().Foreground(Primary),
		Modified: lipgloss.NewStyle().Foreground(Accent),
		Error:    lipgloss.NewStyle().Foreground(Destructive),
		Spinner:  lipgloss.NewStyle().Foreground(Primary),
		Box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Muted).Padding(0, 1),
	}
}

// PlainStyles renders without colors or borders, for pipes and tests.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Title: s, Heading: s, Muted: s, Key: s, Added: s, Modified: s, Error: s, Spinner: s, Box: s}
}

// ForTerminal picks DefaultStyles unless plain is set or NO_COLOR is present.
func ForTerminal(plain bool) Styles {
	if plain || os.Getenv("NO_COLOR") != "" {
		return PlainStyles()
	}
	return DefaultStyles()
}
