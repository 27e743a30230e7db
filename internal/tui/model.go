package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskgraph/meshsched/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
)

// Model is the root Bubble Tea model for the live run dashboard.
type Model struct {
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
}

// New creates a new dashboard model, subscribing to every topic on the
// event bus via SubscribeAll.
func New(eventBus *events.EventBus) Model {
	return Model{
		taskPane:     NewTaskPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneTasks,
		eventSub:     eventBus.SubscribeAll(256),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			switch m.focusedPane {
			case PaneTasks:
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneProgress:
				var cmd tea.Cmd
				m.progressPane, cmd = m.progressPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.TaskExecutableEvent, events.TaskExecutingEvent, events.TaskExecutedEvent,
		events.TaskRetryEvent, events.TaskFailedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, _ = m.progressPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.WorkerFailedEvent, events.RunFinishedEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	leftPane := lipgloss.NewStyle().Width(leftWidth).Height(availableHeight).Render(m.taskPane.View())
	rightPane := lipgloss.NewStyle().Width(rightWidth).Height(availableHeight).Render(m.progressPane.View())

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)
	helpBar := HelpView()

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, helpBar)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
