package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskgraph/meshsched/internal/events"
)

// ProgressPaneModel tallies run-wide counters derived from the event
// stream: nothing here is authoritative, it is a live mirror of state the
// scheduler already owns.
type ProgressPaneModel struct {
	executable    int
	executing     int
	executed      int
	failed        int
	workersFailed int
	finished      bool
	finishErr     error
	width         int
	height        int
	focused       bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.TaskExecutableEvent:
		m.executable++

	case events.TaskExecutingEvent:
		m.executable--
		m.executing++

	case events.TaskExecutedEvent:
		m.executing--
		m.executed++

	case events.TaskRetryEvent:
		m.executing--

	case events.TaskFailedEvent:
		m.executing--
		m.failed++

	case events.WorkerFailedEvent:
		m.workersFailed++

	case events.RunFinishedEvent:
		m.finished = true
		m.finishErr = msg.Err
	}

	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Executable: %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", max(0, m.executable)))))
	b.WriteString(fmt.Sprintf("Executing:  %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", max(0, m.executing)))))
	b.WriteString(fmt.Sprintf("Executed:   %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.executed))))
	b.WriteString(fmt.Sprintf("Failed:     %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Workers down: %d\n", m.workersFailed))

	b.WriteString("\n")
	switch {
	case !m.finished:
		b.WriteString(StyleStatusRunning.Render("run in progress"))
	case m.finishErr != nil:
		b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("run ended: %v", m.finishErr)))
	default:
		b.WriteString(StyleStatusComplete.Render("run finished"))
	}
	b.WriteString("\n")

	content := b.String()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
