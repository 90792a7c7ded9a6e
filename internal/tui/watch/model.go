package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/pd"
)

const (
	healthInterval = 5 * time.Second
	dumpInterval   = 2 * time.Second
	eventLogSize   = 50
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	health   HealthState
	dump     pd.Dump
	procs    map[string]*ProcessView
	eventLog []events.Event

	ticker    Ticker
	activity  Activity
	theme     Theme
	resources table.Model

	hubEvents chan events.Event
	lastError string
	now       func() time.Time
}

func New(apiURL, token string) *Model {
	return &Model{
		client:    NewClient(apiURL, token),
		procs:     make(map[string]*ProcessView),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		resources: newResourceTable(),
		hubEvents: make(chan events.Event, 100),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.client) },
		func() tea.Msg { return fetchDump(m.client) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.resources, cmd = m.resources.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resources.SetWidth(max(m.width-6, 20))

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.activity.OnEvent(m.now())
		applyEvent(m.procs, e)
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.Processes = msg.Processes
		m.health.Resources = msg.Resources
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.client) })

	case dumpMsg:
		m.dump = pd.Dump(msg)
		mergeDump(m.procs, m.dump, m.now())
		m.resources.SetRows(resourceRows(m.dump.Resources, m.now()))
		return m, tea.Tick(dumpInterval, func(time.Time) tea.Msg { return fetchDump(m.client) })

	case dumpErrMsg:
		m.lastError = msg.err.Error()
		return m, tea.Tick(dumpInterval, func(time.Time) tea.Msg { return fetchDump(m.client) })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg(msg) })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, msg.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		m.health.Connected = false
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.client) })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to conductor..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width, m.now()),
		renderResources(m.resources, m.theme, m.width),
		renderProcesses(m.procs, m.dump.Queue, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select engine"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
