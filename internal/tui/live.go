// Package tui renders a live terminal view of a running simulation.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/epsimlab/epsim/internal/engine"
	"github.com/epsimlab/epsim/internal/trace"
)

const (
	graphWidth  = 70
	graphHeight = 14
	historyCap  = 600

	// Simulated time advanced per animation frame.
	chunk = 2.0
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type TickMsg time.Time

// Model drives one simulation forward in small slices, keeping a scrolling
// window of the primary variable for the chart.
type Model struct {
	sim      *engine.Simulation
	name     string
	variable string

	history []float64
	running bool
	err     error
}

// NewModel wraps a prepared simulation; variable names the logged column
// to chart (the first column when empty).
func NewModel(sim *engine.Simulation, modelName, variable string) Model {
	if variable == "" {
		variable = sim.Columns()[0]
	}
	return Model{
		sim:      sim,
		name:     modelName,
		variable: variable,
		history:  make([]float64, 0, historyCap),
		running:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "r":
			m.sim.Reset()
			m.history = m.history[:0]
			m.err = nil
			m.running = true
		}
	case TickMsg:
		if m.running && m.err == nil {
			m.advance()
		}
		return m, tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
	}
	return m, nil
}

// advance runs one chunk of simulated time and appends its samples to the
// scrolling history.
func (m *Model) advance() {
	t0 := m.sim.Time()
	sampler, err := trace.NewPeriodicSampler(t0, t0+chunk, chunk/10)
	if err != nil {
		m.err = err
		return
	}
	log, err := m.sim.Run(context.Background(), chunk, sampler)
	if err != nil {
		m.err = err
		return
	}
	if col, ok := log.Column(m.variable); ok {
		m.history = append(m.history, col...)
	}
	if over := len(m.history) - historyCap; over > 0 {
		m.history = m.history[over:]
	}
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.name)) + "\n")

	if len(m.history) > 1 {
		chart := asciigraph.Plot(m.history,
			asciigraph.Height(graphHeight),
			asciigraph.Width(graphWidth),
			asciigraph.Caption(m.variable))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	} else {
		s.WriteString(graphStyle.Render("collecting samples...") + "\n\n")
	}

	s.WriteString(labelStyle.Render("Time") + valueStyle.Render(fmt.Sprintf("%.1f ms", m.sim.Time())) + "\n")
	if len(m.history) > 0 {
		s.WriteString(labelStyle.Render(m.variable) +
			valueStyle.Render(fmt.Sprintf("%.3f", m.history[len(m.history)-1])) + "\n")
	}
	status := "RUNNING"
	if !m.running {
		status = "PAUSED"
	}
	s.WriteString(labelStyle.Render("Status") + valueStyle.Render(status) + "\n")
	if m.err != nil {
		s.WriteString(errStyle.Render(fmt.Sprintf("error: %v", m.err)) + "\n")
	}

	s.WriteString(helpStyle.Render("space: pause  r: reset  q: quit"))
	return s.String()
}
