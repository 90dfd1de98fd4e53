// Package ui provides a terminal UI for watching a task make progress.
// Uses Bubbletea for interactive display of item states and ready work.
package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/makemagic/internal/task"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelSummary Panel = iota
	PanelItems
	PanelReady
)

const panelCount = 3

// Source is what the monitor polls.
type Source interface {
	Task(ctx context.Context, uuid string) (*task.Task, error)
	ReadyToRun(ctx context.Context, uuid string) (task.Ready, error)
}

// Model holds the TUI state.
type Model struct {
	// Display state
	width       int
	height      int
	activePanel Panel
	quitting    bool

	// Polling
	source   Source
	uuid     string
	interval time.Duration

	// Task
	task        *task.Task
	ready       task.Ready
	lastRefresh time.Time
	err         error

	// Item list
	itemScroll   int
	selectedItem int

	// Ready list
	readyScroll int

	progressTick int

	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	// Panel borders
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	// Text styles
	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	// Status indicators
	StatusOK      lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusError   lipgloss.Style
	StatusRunning lipgloss.Style

	// Item list
	ItemSelected lipgloss.Style

	// Help bar
	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// newStyles creates the default style set.
func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true),

		StatusError: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		StatusRunning: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),

		ItemSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg drives the spinner and polling.
type tickMsg time.Time

// taskMsg carries the result of one poll.
type taskMsg struct {
	task  *task.Task
	ready task.Ready
	err   error
	at    time.Time
}

// New creates a monitor for one task.
func New(src Source, uuid string, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelItems,
		source:      src,
		uuid:        uuid,
		interval:    interval,
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshCmd(),
		tickCmd(),
		tea.EnterAltScreen,
	)
}

// tickCmd returns a command that ticks every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	src, id := m.source, m.uuid
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t, err := src.Task(ctx, id)
		if err != nil {
			return taskMsg{err: err, at: time.Now()}
		}
		ready, err := src.ReadyToRun(ctx, id)
		return taskMsg{task: t, ready: ready, err: err, at: time.Now()}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.progressTick++
		cmds := []tea.Cmd{tickCmd()}
		if time.Time(msg).Sub(m.lastRefresh) >= m.interval {
			cmds = append(cmds, m.refreshCmd())
		}
		return m, tea.Batch(cmds...)

	case taskMsg:
		return m.applyRefresh(msg), nil
	}

	return m, nil
}

func (m Model) applyRefresh(msg taskMsg) Model {
	m.lastRefresh = msg.at
	m.err = msg.err
	if msg.task != nil {
		m.task = msg.task
		m.ready = msg.ready
		if m.selectedItem >= len(m.task.Items) {
			m.selectedItem = max(len(m.task.Items)-1, 0)
		}
	}
	return m
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % panelCount
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + panelCount - 1) % panelCount
		return m, nil

	case "r":
		return m, m.refreshCmd()

	case "up", "k":
		return m.handleUp(), nil

	case "down", "j":
		return m.handleDown(), nil

	case "home", "g":
		return m.handleHome(), nil

	case "end", "G":
		return m.handleEnd(), nil
	}

	return m, nil
}

func (m Model) itemCount() int {
	if m.task == nil {
		return 0
	}
	return len(m.task.Items)
}

// handleUp handles up arrow / k key.
func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelItems:
		if m.selectedItem > 0 {
			m.selectedItem--
		}
	case PanelReady:
		if m.readyScroll > 0 {
			m.readyScroll--
		}
	}
	return m
}

// handleDown handles down arrow / j key.
func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelItems:
		if m.selectedItem < m.itemCount()-1 {
			m.selectedItem++
		}
	case PanelReady:
		if m.readyScroll < len(m.ready.Items)-1 {
			m.readyScroll++
		}
	}
	return m
}

// handleHome handles home / g key.
func (m Model) handleHome() Model {
	switch m.activePanel {
	case PanelItems:
		m.selectedItem = 0
	case PanelReady:
		m.readyScroll = 0
	}
	return m
}

// handleEnd handles end / G key.
func (m Model) handleEnd() Model {
	switch m.activePanel {
	case PanelItems:
		if n := m.itemCount(); n > 0 {
			m.selectedItem = n - 1
		}
	case PanelReady:
		if n := len(m.ready.Items); n > 0 {
			m.readyScroll = n - 1
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	summaryPanel := m.renderSummaryPanel(leftWidth-2, topHeight-2)
	readyPanel := m.renderReadyPanel(rightWidth-2, topHeight-2)
	itemPanel := m.renderItemPanel(m.width-2, bottomHeight-2)

	summaryBorder := m.getBorder(PanelSummary).Width(leftWidth - 2).Height(topHeight - 2)
	readyBorder := m.getBorder(PanelReady).Width(rightWidth - 2).Height(topHeight - 2)
	itemBorder := m.getBorder(PanelItems).Width(m.width - 2).Height(bottomHeight - 2)

	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		summaryBorder.Render(summaryPanel),
		readyBorder.Render(readyPanel),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		itemBorder.Render(itemPanel),
		m.renderHelpBar(),
	)
}

// getBorder returns the appropriate border style for a panel.
func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

func (m Model) renderSummaryPanel(width, _ int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Task"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("UUID: "))
	b.WriteString(m.styles.Value.Render(m.uuid))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(m.styles.StatusError.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	if m.task == nil {
		b.WriteString(m.styles.Muted.Render("Loading..."))
		return b.String()
	}

	b.WriteString(m.styles.Label.Render("Requirements: "))
	if len(m.task.Requirements) == 0 {
		b.WriteString(m.styles.Muted.Render("none"))
	} else {
		b.WriteString(m.styles.Value.Render(strings.Join(m.task.Requirements, ", ")))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Goals: "))
	b.WriteString(m.styles.Value.Render(strings.Join(m.task.Goals(), ", ")))
	b.WriteString("\n\n")

	counts := task.Counts(m.task.Items)
	total := 0
	for _, n := range counts {
		total += n
	}
	pct := 0
	if total > 0 {
		pct = counts[task.Complete] * 100 / total
	}
	b.WriteString(m.styles.Label.Render("Progress: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d / %d complete", counts[task.Complete], total)))
	b.WriteString("\n")
	b.WriteString(m.renderProgressBar(pct, width-4))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Status: "))
	switch {
	case m.task.Complete():
		b.WriteString(m.styles.StatusOK.Render("Complete"))
	case m.ready.SentinelReady:
		b.WriteString(m.styles.StatusWarn.Render("Goals done, awaiting completion"))
	case counts[task.Failed] > 0 || counts[task.CannotAutomate] > 0:
		b.WriteString(m.styles.StatusError.Render("Blocked"))
	default:
		b.WriteString(m.styles.StatusRunning.Render("Running"))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Updated: "))
	if m.lastRefresh.IsZero() {
		b.WriteString(m.styles.Muted.Render("Never"))
	} else {
		b.WriteString(m.styles.Value.Render(formatDuration(time.Since(m.lastRefresh)) + " ago"))
	}

	return b.String()
}

// renderProgressBar renders a progress bar.
func (m Model) renderProgressBar(pct, width int) string {
	if width < 10 {
		width = 10
	}

	filled := width * pct / 100
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)

	style := m.styles.StatusRunning
	if pct == 100 {
		style = m.styles.StatusOK
	}
	return "[" + style.Render(bar) + "]"
}

func (m Model) renderReadyPanel(_, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Ready to run"))
	b.WriteString("\n\n")

	if len(m.ready.Items) == 0 {
		switch {
		case m.task != nil && m.task.Complete():
			b.WriteString(m.styles.StatusOK.Render("Task complete"))
		case m.ready.SentinelReady:
			b.WriteString(m.styles.StatusWarn.Render("All goals complete"))
		default:
			b.WriteString(m.styles.Muted.Render("Nothing ready"))
		}
		return b.String()
	}

	visible := max(height-4, 1)
	start := min(m.readyScroll, max(len(m.ready.Items)-visible, 0))
	for i := start; i < len(m.ready.Items) && i < start+visible; i++ {
		b.WriteString(" " + m.styles.Highlight.Render(">") + " " + m.ready.Items[i].Name)
		b.WriteString("\n")
	}
	if len(m.ready.Items) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", start+1, len(m.ready.Items))))
	}
	return b.String()
}

func (m Model) renderItemPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Items"))
	b.WriteString("\n\n")

	if m.itemCount() == 0 {
		b.WriteString(m.styles.Muted.Render("No items"))
		return b.String()
	}

	visible := max(height-4, 1)

	// Keep the selection in view.
	if m.selectedItem < m.itemScroll {
		m.itemScroll = m.selectedItem
	} else if m.selectedItem >= m.itemScroll+visible {
		m.itemScroll = m.selectedItem - visible + 1
	}

	for i := m.itemScroll; i < len(m.task.Items) && i < m.itemScroll+visible; i++ {
		it := m.task.Items[i]
		line := fmt.Sprintf(" %s %s", m.badge(it.State), it.Name)
		if len(it.Depends) > 0 {
			deps := strings.Join(it.Depends, ", ")
			if maxLen := width - len(it.Name) - 12; maxLen > 3 && len(deps) > maxLen {
				deps = deps[:maxLen-3] + "..."
			}
			line += m.styles.Muted.Render(" <- " + deps)
		}
		if i == m.selectedItem && m.activePanel == PanelItems {
			line = m.styles.ItemSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.task.Items) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.itemScroll+1, len(m.task.Items))))
	}
	return b.String()
}

// badge renders a one-character state marker.
func (m Model) badge(s task.State) string {
	switch s {
	case task.Incomplete:
		return m.styles.Muted.Render("o")
	case task.InProgress:
		return m.styles.StatusRunning.Render(m.spinner())
	case task.Complete:
		return m.styles.StatusOK.Render("*")
	case task.Failed:
		return m.styles.StatusError.Render("x")
	case task.CannotAutomate:
		return m.styles.StatusWarn.Render("!")
	}
	return "?"
}

// spinner returns a spinner character based on the current tick.
func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

// renderHelpBar renders the help bar at the bottom.
func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"r", "refresh"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// Run starts the TUI.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderPlain renders a one-shot listing for non-interactive output.
func RenderPlain(t *task.Task, ready task.Ready) string {
	var b strings.Builder
	fmt.Fprintf(&b, "task %s\n", t.UUID)
	fmt.Fprintf(&b, "requirements: %s\n", strings.Join(t.Requirements, ", "))
	fmt.Fprintf(&b, "goals: %s\n\n", strings.Join(t.Goals(), ", "))

	width := 0
	for _, it := range t.Items {
		width = max(width, len(it.Name))
	}
	for _, it := range t.Items {
		fmt.Fprintf(&b, "  %-*s  %-15s", width, it.Name, it.State)
		if len(it.Depends) > 0 {
			fmt.Fprintf(&b, "  <- %s", strings.Join(it.Depends, ", "))
		}
		b.WriteString("\n")
	}

	counts := task.Counts(t.Items)
	states := make([]string, 0, len(counts))
	for s, n := range counts {
		states = append(states, fmt.Sprintf("%s=%d", s, n))
	}
	sort.Strings(states)
	fmt.Fprintf(&b, "\n%s\n", strings.Join(states, " "))

	switch {
	case t.Complete():
		b.WriteString("task complete\n")
	case len(ready.Items) > 0:
		names := make([]string, len(ready.Items))
		for i, it := range ready.Items {
			names[i] = it.Name
		}
		fmt.Fprintf(&b, "ready: %s\n", strings.Join(names, ", "))
	case ready.SentinelReady:
		b.WriteString("all goals complete\n")
	default:
		b.WriteString("nothing ready\n")
	}
	return b.String()
}
