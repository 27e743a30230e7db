package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles, one per task status the dashboard actually renders
// (see tasks_pane.go's statusIcon): executing, executed, terminally
// failed, retrying after a generic failure, and blocked/executable.
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	// StyleStatusRetry marks a task that failed a generic attempt and is
	// waiting on its backoff delay before it rejoins executable — distinct
	// from StyleStatusRunning so a retry loop is visible at a glance
	// instead of reading as an ordinary in-flight execution.
	StyleStatusRetry = lipgloss.NewStyle().
				Foreground(lipgloss.Color("208")).
				Bold(true)
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)
