// Package tui renders a live terminal view of archive runs fed by the
// /events stream.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/archivist/internal/events"
	"github.com/mattjoyce/archivist/internal/jobs"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const maxLogLines = 50

// archiveRun is the monitor's view of one archive job.
type archiveRun struct {
	ID       string
	SiteID   string
	Status   string
	Tool     string
	Done     int
	Failed   int
	Started  time.Time
	Finished time.Time
	Error    string
}

// Model is the bubbletea model behind `archivist watch`.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	runs   map[string]*archiveRun
	lastID int64
	log    []string
	feed   chan events.Event

	health    healthMsg
	connected bool
	lastErr   error

	table   table.Model
	spinner spinner.Model
}

// NewMonitor returns a monitor reading from the archivist API at apiURL.
func NewMonitor(apiURL, token string) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Site", Width: 16},
			{Title: "Archive", Width: 10},
			{Title: "Status", Width: 11},
			{Title: "Tool", Width: 16},
			{Title: "Tools", Width: 7},
			{Title: "Elapsed", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		apiURL:  apiURL,
		token:   token,
		runs:    make(map[string]*archiveRun),
		feed:    make(chan events.Event, 100),
		table:   t,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(runningStyle)),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.apiURL, m.token, m.lastID, m.feed),
		receiveNext(m.feed),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		m.spinner.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(m.width-6, 20))

	case eventMsg:
		m.connected = true
		m.apply(events.Event(msg))
		m.refreshTable()
		return m, receiveNext(m.feed)

	case healthMsg:
		m.health = msg
		apiURL := m.apiURL
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(apiURL) })

	case sseDisconnectedMsg:
		m.connected = false
		m.lastErr = msg.err
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.apiURL, m.token, m.lastID, m.feed)

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshTable()
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// apply folds one event into the run table.
func (m *Model) apply(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	p, err := e.Decode()
	if err != nil || p.ArchiveID == "" {
		return
	}

	run, ok := m.runs[p.ArchiveID]
	if !ok {
		run = &archiveRun{ID: p.ArchiveID, SiteID: p.SiteID, Status: string(jobs.StatusStarted), Started: e.At}
		m.runs[p.ArchiveID] = run
	}

	switch e.Type {
	case events.ToolStarted:
		run.Tool = p.Tool
	case events.ToolCompleted:
		run.Done++
	case events.ToolFailed, events.ToolSkipped:
		run.Done++
		run.Failed++
	case events.ArchivePackaging:
		run.Tool = "packaging"
	case events.ArchiveFinished:
		run.Status = p.Status
		run.Error = p.Error
		run.Tool = ""
		run.Finished = e.At
	}

	line := fmt.Sprintf("%s %-24s %s", e.At.Format("15:04:05"), e.Type, shortID(p.ArchiveID))
	if p.Tool != "" {
		line += " " + p.Tool
	}
	if p.Error != "" {
		line += ": " + p.Error
	}
	m.log = append([]string{line}, m.log...)
	if len(m.log) > maxLogLines {
		m.log = m.log[:maxLogLines]
	}
}

func (m *Model) refreshTable() {
	runs := make([]*archiveRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	// Newest first.
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Started.Equal(runs[j].Started) {
			return runs[i].Started.After(runs[j].Started)
		}
		return runs[i].ID > runs[j].ID
	})

	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		tools := fmt.Sprintf("%d", r.Done)
		if r.Failed > 0 {
			tools = fmt.Sprintf("%d/%d!", r.Done, r.Failed)
		}
		rows = append(rows, table.Row{
			m.symbol(r.Status),
			r.SiteID,
			shortID(r.ID),
			r.Status,
			r.Tool,
			tools,
			elapsed(r),
		})
	}
	m.table.SetRows(rows)
}

func (m Model) symbol(status string) string {
	switch jobs.Status(status) {
	case jobs.StatusStarted:
		return m.spinner.View()
	case jobs.StatusComplete:
		return okStyle.Render("●")
	case jobs.StatusIncomplete:
		return warnStyle.Render("◑")
	case jobs.StatusFailed:
		return failedStyle.Render("∅")
	case jobs.StatusCancelled:
		return mutedStyle.Render("○")
	}
	return "?"
}

func elapsed(r *archiveRun) string {
	if r.Started.IsZero() {
		return "-"
	}
	end := r.Finished
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.Started).Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}
	inner := m.width - 4

	runs := borderStyle.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Archives"),
		m.table.View(),
	))
	feed := borderStyle.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Events"),
		m.renderLog(),
	))
	help := mutedStyle.Render(" [q] Quit • [↑/↓] Scroll")

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(inner), runs, feed, help))
}

func (m Model) renderHeader(width int) string {
	stream := okStyle.Render("LIVE")
	if !m.connected {
		stream = failedStyle.Render("DISCONNECTED")
	}
	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	cell := lipgloss.NewStyle().Width(width / 3)
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		cell.Render("Stream: "+stream),
		cell.Render("Uptime: "+uptime.String()),
		cell.Render(fmt.Sprintf("Archivers: %d", m.health.ArchiversLoaded)),
	)
	if m.lastErr != nil {
		header = lipgloss.JoinVertical(lipgloss.Left, header, failedStyle.Render(m.lastErr.Error()))
	}
	return borderStyle.Width(width).Render(header)
}

func (m Model) renderLog() string {
	if len(m.log) == 0 {
		return mutedStyle.Render("  No events yet...")
	}
	n := min(len(m.log), 10)
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(m.log[:n], "\n"))
}
