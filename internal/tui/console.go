// Package tui is the interactive console: a module table, a live output pane
// fed by the engine's batch dispatcher, and run/cancel key bindings.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ameliarose/hub/internal/engine"
	"github.com/ameliarose/hub/internal/events"
	"github.com/ameliarose/hub/internal/run"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	moduleTag   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const maxOutputLines = 2000

// Engine is the slice of the coordinator the console drives.
type Engine interface {
	Run(key string) (string, error)
	Cancel(key string) error
	Modules() []engine.ModuleStatus
}

// --- Messages ---

type batchMsg []run.OutputChunk
type eventMsg events.Event
type tickMsg time.Time

// Console owns the bubbletea program and bridges engine callbacks into it.
type Console struct {
	program *tea.Program
	hub     *events.Hub
}

// NewConsole builds the interactive console. Pass Console.Deliver as the
// engine's batch sink.
func NewConsole(eng Engine, hub *events.Hub) *Console {
	c := &Console{hub: hub}
	c.program = tea.NewProgram(newModel(eng), tea.WithAltScreen())
	return c
}

// Deliver is called by the dispatcher with each ordered output batch. Safe to
// call from any goroutine.
func (c *Console) Deliver(batch []run.OutputChunk) {
	if len(batch) == 0 {
		return
	}
	c.program.Send(batchMsg(batch))
}

// Run blocks until the user quits.
func (c *Console) Run() error {
	if c.hub != nil {
		ch, cancel := c.hub.Subscribe()
		defer cancel()
		go func() {
			for ev := range ch {
				c.program.Send(eventMsg(ev))
			}
		}()
	}
	_, err := c.program.Run()
	return err
}

// Quit asks the program to exit, unblocking Run.
func (c *Console) Quit() {
	c.program.Quit()
}

// --- Model ---

type model struct {
	eng Engine

	width  int
	height int

	moduleTable table.Model
	viewport    viewport.Model
	spin        spinner.Model

	outputLines []string
	statusLine  string
	ready       bool
}

func newModel(eng Engine) model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Module", Width: 24},
			{Title: "State", Width: 12},
			{Title: "Last Run", Width: 22},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
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

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning

	m := model{
		eng:         eng,
		moduleTable: t,
		spin:        sp,
	}
	m.refreshTable()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// --- Update ---

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter", "r":
			key := m.selectedModule()
			if key == "" {
				break
			}
			if _, err := m.eng.Run(key); err != nil {
				m.statusLine = fmt.Sprintf("run %s: %v", key, err)
			} else {
				m.statusLine = ""
			}
			m.refreshTable()
		case "c":
			key := m.selectedModule()
			if key == "" {
				break
			}
			if err := m.eng.Cancel(key); err != nil {
				m.statusLine = fmt.Sprintf("cancel %s: %v", key, err)
			} else {
				m.statusLine = ""
			}
			m.refreshTable()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.moduleTable.SetWidth(m.width - 6)
		m.viewport = viewport.New(m.width-6, m.outputHeight())
		m.viewport.SetContent(strings.Join(m.outputLines, "\n"))
		m.viewport.GotoBottom()
		m.ready = true

	case batchMsg:
		m.appendBatch(msg)
		m.refreshTable()

	case eventMsg:
		// Lifecycle transitions redraw the table immediately; output chunks
		// already carry the visible detail.
		m.refreshTable()

	case tickMsg:
		m.refreshTable()
		cmds = append(cmds, tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.moduleTable, cmd = m.moduleTable.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) appendBatch(batch []run.OutputChunk) {
	for _, chunk := range batch {
		for _, line := range splitChunkLines(chunk.Text) {
			m.outputLines = append(m.outputLines, formatLine(chunk, line))
		}
	}
	if len(m.outputLines) > maxOutputLines {
		m.outputLines = m.outputLines[len(m.outputLines)-maxOutputLines:]
	}
	if m.ready {
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(strings.Join(m.outputLines, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
}

func (m *model) refreshTable() {
	statuses := m.eng.Modules()
	rows := make([]table.Row, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, table.Row{
			statusSymbol(st.State),
			st.Descriptor.Label(),
			string(st.State),
			lastRunSummary(st.Last),
		})
	}
	m.moduleTable.SetRows(rows)
}

func (m model) selectedModule() string {
	statuses := m.eng.Modules()
	idx := m.moduleTable.Cursor()
	if idx < 0 || idx >= len(statuses) {
		return ""
	}
	return statuses[idx].Descriptor.Key
}

func (m model) anyRunning() bool {
	for _, st := range m.eng.Modules() {
		if st.State == run.StateRunning {
			return true
		}
	}
	return false
}

func (m model) outputHeight() int {
	h := m.height - m.moduleTable.Height() - 10
	if h < 5 {
		h = 5
	}
	return h
}

// --- View ---

func (m model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Modules")
	if m.anyRunning() {
		title = titleStyle.Render("Modules " + m.spin.View())
	}

	modulesPane := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			m.moduleTable.View(),
		),
	)

	outputPane := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Output"),
			m.viewport.View(),
		),
	)

	help := helpStyle.Render(" [enter/r] Run • [c] Cancel • [↑/↓] Select • [q] Quit")
	if m.statusLine != "" {
		help = statusFailed.Render(" " + m.statusLine)
	}

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			modulesPane,
			outputPane,
			help,
		),
	)
}

// --- Helpers ---

func statusSymbol(state run.State) string {
	switch state {
	case run.StateRunning:
		return statusRunning.Render("◉")
	case run.StateSucceeded:
		return statusOK.Render("●")
	case run.StateFailed, run.StateLaunchError:
		return statusFailed.Render("∅")
	case run.StateTimedOut:
		return statusFailed.Render("◑")
	case run.StateCanceled:
		return statusIdle.Render("◌")
	default:
		return statusIdle.Render("○")
	}
}

func lastRunSummary(last *run.Result) string {
	if last == nil {
		return "-"
	}
	d := last.Duration().Round(100 * time.Millisecond)
	return fmt.Sprintf("%s %s ago", d, time.Since(last.EndedAt).Round(time.Second))
}

func splitChunkLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{""}
	}
	return strings.Split(text, "\n")
}

func formatLine(chunk run.OutputChunk, line string) string {
	tag := moduleTag.Render(fmt.Sprintf("[%s]", chunk.Module))
	switch chunk.Stream {
	case run.StreamStderr:
		return tag + " " + stderrStyle.Render(line)
	case run.StreamSystem:
		return tag + " " + systemStyle.Render(line)
	default:
		return tag + " " + line
	}
}
