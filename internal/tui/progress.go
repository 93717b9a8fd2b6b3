// Package tui renders sweep progress in the terminal.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/autosim/internal/config"
	"github.com/san-kum/autosim/internal/sweep"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const (
	barWidth     = 36
	sparkWidth   = 40
	historyLimit = 200
)

type snapshotMsg sweep.Snapshot

type trialMsg sweep.TrialSummary

// DoneMsg tells the view the sweep goroutine has returned.
type DoneMsg struct {
	Err error
}

// Model is the bubbletea model of the sweep progress view.
type Model struct {
	total     int
	threshold float64
	params    [2]float64

	snap      sweep.Snapshot
	trials    int
	last      *sweep.TrialSummary
	path      []float64
	durations []float64

	finished bool
	err      error
	width    int
	height   int
}

func New(cfg config.SweepConfig) Model {
	return Model{
		total:     cfg.TotalTrials(),
		threshold: cfg.FinishThreshold,
		params:    [2]float64{cfg.ParamMin, cfg.ParamMax},
		width:     80,
		height:    24,
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case snapshotMsg:
		s := sweep.Snapshot(msg)
		if s.From != sweep.Running && s.State == sweep.Running {
			m.path = m.path[:0]
		}
		if s.From == sweep.Running || s.State == sweep.Running {
			m.path = append(m.path, s.Position.X())
			if len(m.path) > historyLimit {
				m.path = m.path[1:]
			}
		}
		m.snap = s
	case trialMsg:
		t := sweep.TrialSummary(msg)
		m.trials++
		m.last = &t
		m.durations = append(m.durations, t.Elapsed().Seconds())
		if len(m.durations) > historyLimit {
			m.durations = m.durations[1:]
		}
	case DoneMsg:
		m.finished = true
		m.err = msg.Err
	}
	return m, nil
}

func (m Model) Trials() int { return m.trials }

func (m Model) View() string {
	var b strings.Builder

	statusIcon, statusText := green.Render("●"), green.Render(m.snap.State.String())
	switch {
	case m.err != nil:
		statusIcon, statusText = red.Render("●"), red.Render("failed")
	case m.finished:
		statusIcon, statusText = dim.Render("○"), dim.Render("stopped")
	case m.snap.State == sweep.Init:
		statusIcon = yellow.Render("○")
		statusText = yellow.Render("waiting for reset")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n", statusIcon, cyan.Render("sweep"), statusText))

	b.WriteString(fmt.Sprintf("   %s %s\n\n",
		m.bar(float64(m.trials), float64(m.total), cyan),
		dim.Render(fmt.Sprintf("%d/%d trials", m.trials, m.total))))

	b.WriteString("   " + dim.Render("k=") + white.Render(fmt.Sprintf("%.3f", m.snap.K)) +
		dim.Render(fmt.Sprintf(" [%.3f..%.3f]", m.params[0], m.params[1])) + "  " +
		dim.Render("count=") + white.Render(fmt.Sprintf("%d", m.snap.Count)) + "  " +
		dim.Render("t=") + white.Render(fmt.Sprintf("%.2fs", m.snap.Elapsed)) + "\n")

	x := m.snap.Position.X()
	b.WriteString(fmt.Sprintf("   %s %s %s\n",
		dim.Render("x"),
		m.bar(x, m.threshold, green),
		dim.Render(fmt.Sprintf("%.2f / %.2f", x, m.threshold))))

	if len(m.path) > 1 {
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("x"), cyan.Render(sparkline(m.path, sparkWidth))))
	}

	if m.last != nil {
		b.WriteString(dim.Render(fmt.Sprintf("\n   last  k=%.3f count=%d  %d records  %.2fs\n",
			m.last.K, m.last.Count, m.last.Records, m.last.Elapsed().Seconds())))
	}

	if len(m.durations) > 1 {
		w := m.width - 16
		if w < 20 {
			w = 20
		}
		plot := asciigraph.Plot(m.durations,
			asciigraph.Height(6),
			asciigraph.Width(w),
			asciigraph.Caption("trial time [s]"))
		b.WriteString("\n" + indent(plot, "   ") + "\n")
	}

	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   q quit") + "\n")
	return b.String()
}

func (m Model) bar(v, limit float64, style lipgloss.Style) string {
	ratio := 0.0
	if limit > 0 {
		ratio = v / limit
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * barWidth)
	return style.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := len(data) / width
	if step < 1 {
		step = 1
	}
	var sb strings.Builder
	for i := 0; i < width && i*step < len(data); i++ {
		idx := int((data[i*step] - minVal) / rang * 7)
		if idx > 7 {
			idx = 7
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// Observer forwards controller callbacks into a running program.
type Observer struct {
	send func(tea.Msg)
}

// NewObserver takes the program's Send method.
func NewObserver(send func(tea.Msg)) *Observer {
	return &Observer{send: send}
}

func (o *Observer) OnTick(s sweep.Snapshot) { o.send(snapshotMsg(s)) }

func (o *Observer) OnTrialComplete(t sweep.TrialSummary) { o.send(trialMsg(t)) }

func NewProgram(m Model) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}
