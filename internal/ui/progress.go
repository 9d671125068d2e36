package ui

import (
	"fmt"
	"strings"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"kiln/internal/progress"
)

// maxRows bounds the unit list; older finished units scroll off.
const maxRows = 12

type progressModel struct {
	title    string
	events   <-chan progress.Event
	spinner  spinner.Model
	prog     bprogress.Model
	items    []unitItem
	index    map[string]int
	projects []string
	current  string
	failed   int
	width    int
	done     bool
}

type unitItem struct {
	project string
	file    string
	status  progress.Status
}

type eventMsg progress.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders build
// progress. Units appear as the builder queues them.
func NewProgressModel(title string, events <-chan progress.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := bprogress.New(bprogress.WithDefaultGradient())
	prog.Width = 76

	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		index:   map[string]int{},
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(progress.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case bprogress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(bprogress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.current != "" {
		header = fmt.Sprintf("%s (%s)", header, m.current)
	}
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := max(m.width-16, 20)
	rows := m.items
	if len(rows) > maxRows {
		rows = rows[len(rows)-maxRows:]
	}
	for _, item := range rows {
		name := item.file
		if len(m.projects) > 1 {
			name = item.project + ": " + name
		}
		status := styleStatus(item.status).Render(fmt.Sprintf("%12s", statusLabel(item.status)))
		fmt.Fprintf(&b, "  %s %s\n", status, truncate(name, nameWidth))
	}
	if hidden := len(m.items) - len(rows); hidden > 0 {
		fmt.Fprintf(&b, "  %12s %d more\n", "", hidden)
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	if m.failed > 0 {
		b.WriteString(styleStatus(progress.StatusError).Render(fmt.Sprintf("%d units with errors", m.failed)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev progress.Event) tea.Cmd {
	if ev.Project != "" && ev.Project != m.current {
		m.current = ev.Project
		m.projects = append(m.projects, ev.Project)
	}
	if ev.File == "" {
		return nil
	}
	key := ev.Project + "\x00" + ev.File
	idx, ok := m.index[key]
	if !ok {
		idx = len(m.items)
		m.index[key] = idx
		m.items = append(m.items, unitItem{project: ev.Project, file: ev.File})
	}
	prev := m.items[idx].status
	m.items[idx].status = ev.Status
	if ev.Status == progress.StatusError && prev != progress.StatusError {
		m.failed++
	}
	return m.prog.SetPercent(m.percent())
}

func (m *progressModel) percent() float64 {
	if len(m.items) == 0 {
		return 0
	}
	total := 0.0
	for _, item := range m.items {
		total += progressFromStatus(item.status)
	}
	return total / float64(len(m.items))
}

func progressFromStatus(status progress.Status) float64 {
	switch status {
	case progress.StatusDone, progress.StatusError:
		return 1
	case progress.StatusWorking:
		return 0.5
	default:
		return 0
	}
}

func statusLabel(status progress.Status) string {
	switch status {
	case progress.StatusWorking:
		return "compiling"
	case "":
		return string(progress.StatusQueued)
	default:
		return string(status)
	}
}

func styleStatus(status progress.Status) lipgloss.Style {
	switch status {
	case progress.StatusDone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case progress.StatusError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case progress.StatusWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
