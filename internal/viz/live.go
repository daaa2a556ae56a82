// Package viz renders a live terminal view of a running simulation: a
// voltage heat map of the cluster plus a trace of one probed cell.
package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/tissuesim/internal/config"
)

const (
	mapCols = 56
	mapRows = 24

	historyCapacity = 120
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	mapStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	statsStyle  = lipgloss.NewStyle().Padding(1, 2)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// voltageRamp maps membrane voltage to a 256-color terminal ramp,
// hyperpolarized blue through resting violet to depolarized red.
var voltageRamp = []string{"17", "18", "19", "20", "21", "57", "93", "129", "165", "201", "200", "199", "198", "197", "196"}

func voltageColor(vm float64) lipgloss.Color {
	lo, hi := -90e-3, 40e-3
	frac := (vm - lo) / (hi - lo)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	idx := int(frac * float64(len(voltageRamp)-1))
	return lipgloss.Color(voltageRamp[idx])
}

type TickMsg time.Time

// Model is the bubbletea model wrapping a live simulation.
type Model struct {
	sys          *config.System
	stepsPerTick int
	probe        int
	running      bool
	failed       error
	history      []float64
}

// NewModel wraps an assembled system. stepsPerTick controls simulated
// time per frame.
func NewModel(sys *config.System, stepsPerTick int) Model {
	if stepsPerTick < 1 {
		stepsPerTick = 1
	}
	return Model{
		sys:          sys,
		stepsPerTick: stepsPerTick,
		running:      true,
		history:      make([]float64, 0, historyCapacity),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "tab":
			m.probe = (m.probe + 1) % len(m.sys.Cluster.Cells)
		case "+", "=":
			m.stepsPerTick *= 2
		case "-", "_":
			if m.stepsPerTick > 1 {
				m.stepsPerTick /= 2
			}
		}
	case TickMsg:
		if m.running && m.failed == nil {
			for i := 0; i < m.stepsPerTick; i++ {
				if err := m.sys.Engine.Step(m.sys.Config.Sim.Dt); err != nil {
					m.failed = err
					break
				}
			}
			m.history = append(m.history, m.sys.State.Vm[m.probe]*1e3)
			if len(m.history) > historyCapacity {
				m.history = m.history[1:]
			}
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	st := m.sys.State

	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.sys.Config.Name)) + "\n\n")
	s.WriteString(labelStyle.Render("Time") + valueStyle.Render(fmt.Sprintf("%.4g s", st.Time)) + "\n")
	s.WriteString(labelStyle.Render("Step") + valueStyle.Render(fmt.Sprintf("%d", st.Step)) + "\n")
	s.WriteString(labelStyle.Render("Cells") + valueStyle.Render(fmt.Sprintf("%d", len(m.sys.Cluster.Cells))) + "\n")
	s.WriteString(labelStyle.Render("Probe") + valueStyle.Render(fmt.Sprintf("cell %d: %.1f mV", m.probe, st.Vm[m.probe]*1e3)) + "\n")
	s.WriteString(labelStyle.Render("Warnings") + valueStyle.Render(fmt.Sprintf("%d", m.sys.Engine.Warnings())) + "\n")

	switch {
	case m.failed != nil:
		s.WriteString(labelStyle.Render("Status") + errStyle.Render(m.failed.Error()) + "\n")
	case !m.running:
		s.WriteString(labelStyle.Render("Status") + valueStyle.Render("paused") + "\n")
	default:
		s.WriteString(labelStyle.Render("Status") + valueStyle.Render(m.sys.Engine.Status().String()) + "\n")
	}

	if len(m.history) > 1 {
		chart := asciigraph.Plot(m.history,
			asciigraph.Height(7), asciigraph.Width(40),
			asciigraph.Caption(fmt.Sprintf("Vm cell %d [mV]", m.probe)))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	s.WriteString(helpStyle.Render("SP:Pause Tab:Probe +/-:Speed Q:Quit"))

	return lipgloss.JoinHorizontal(lipgloss.Top,
		mapStyle.Render(m.heatMap()),
		statsStyle.Render(s.String()))
}

// heatMap paints each cell at its world position, colored by voltage.
func (m Model) heatMap() string {
	grid := make([][]int, mapRows)
	for r := range grid {
		grid[r] = make([]int, mapCols)
		for c := range grid[r] {
			grid[r][c] = -1
		}
	}

	p := m.sys.Cluster.Params
	for ci, cell := range m.sys.Cluster.Cells {
		col := int(cell.Centre.X / p.WorldX * float64(mapCols))
		row := int(cell.Centre.Y / p.WorldY * float64(mapRows))
		if col < 0 || col >= mapCols || row < 0 || row >= mapRows {
			continue
		}
		grid[row][col] = ci
	}

	var b strings.Builder
	for r := 0; r < mapRows; r++ {
		for c := 0; c < mapCols; c++ {
			ci := grid[r][c]
			if ci < 0 {
				b.WriteString(" ")
				continue
			}
			style := lipgloss.NewStyle().Foreground(voltageColor(m.sys.State.Vm[ci]))
			if ci == m.probe {
				b.WriteString(style.Render("◉"))
			} else {
				b.WriteString(style.Render("●"))
			}
		}
		if r < mapRows-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Run blocks until the user quits the live view.
func Run(sys *config.System, stepsPerTick int) error {
	prog := tea.NewProgram(NewModel(sys, stepsPerTick))
	_, err := prog.Run()
	return err
}
