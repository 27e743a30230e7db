package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskgraph/meshsched/internal/events"
)

// taskState is the pane's view of a single task across its lifetime.
type taskState struct {
	id       string
	status   string // "blocked", "executable", "executing", "executed", "retry", "failed"
	worker   string
	log      []string
	lastSeen time.Time
}

// TaskPaneModel lists every task the run has touched, with a scrollable
// event log for whichever one is selected.
type TaskPaneModel struct {
	tasks       map[string]*taskState
	order       []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*taskState),
		viewport: viewport.New(0, 0),
	}
}

func (m *TaskPaneModel) touch(id string) *taskState {
	t, ok := m.tasks[id]
	if !ok {
		t = &taskState{id: id, status: "blocked"}
		m.tasks[id] = t
		m.order = append(m.order, id)
		if len(m.order) == 1 {
			m.selectedIdx = 0
		}
	}
	return t
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskExecutableEvent:
		t := m.touch(msg.ID)
		t.status = "executable"
		t.log = append(t.log, "joined executable set")
		m.refreshSelected(msg.ID)

	case events.TaskExecutingEvent:
		t := m.touch(msg.ID)
		t.status = "executing"
		t.worker = msg.Worker
		t.log = append(t.log, fmt.Sprintf("dispatched to %s", msg.Worker))
		m.refreshSelected(msg.ID)

	case events.TaskExecutedEvent:
		t := m.touch(msg.ID)
		t.status = "executed"
		t.log = append(t.log, fmt.Sprintf("executed on %s", msg.Worker))
		m.refreshSelected(msg.ID)

	case events.TaskRetryEvent:
		t := m.touch(msg.ID)
		t.status = "retry"
		t.log = append(t.log, fmt.Sprintf("attempt %d failed, retrying in %v", msg.Attempt, msg.Delay))
		m.refreshSelected(msg.ID)

	case events.TaskFailedEvent:
		t := m.touch(msg.ID)
		t.status = "failed"
		t.log = append(t.log, fmt.Sprintf("terminally failed: %v", msg.Err))
		m.refreshSelected(msg.ID)
	}

	return m, cmd
}

func (m *TaskPaneModel) refreshSelected(id string) {
	if m.getSelectedID() == id {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 22
	viewportWidth := m.width - listWidth - 4

	listContent := m.renderTaskList(listWidth)
	viewportContent := m.viewport.View()

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		listContent,
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(viewportContent),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.order {
			t := m.tasks[id]
			icon := statusIcon(t.status)
			name := id
			if len(name) > width-4 {
				name = name[:width-7] + "..."
			}
			line := fmt.Sprintf("%s %s", icon, name)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

func statusIcon(status string) string {
	switch status {
	case "executing":
		return StyleStatusRunning.Render("●")
	case "executed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "retry":
		return StyleStatusRetry.Render("↻")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m TaskPaneModel) getSelectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	id := m.getSelectedID()
	t, ok := m.tasks[id]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(t.log, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	listWidth := 22
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
