package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
)

// DefaultOutputLines is how much agent output the dashboard keeps.
const DefaultOutputLines = 12

// Controller is the run control surface the TUI drives
type Controller interface {
	Pause(runID string) error
	ResumeRun(runID string) error
	Cancel(runID string) error
	State(runID string) (*domain.RunState, error)
}

// Model is the TUI application model
type Model struct {
	// Data
	runID  string
	ctrl   Controller
	stream *events.Stream
	cursor int
	state  *domain.RunState

	// Event derived
	output      []string
	outputChars int
	recent      []string
	roleSince   map[int]time.Time
	finished    bool
	outcome     domain.EventKind
	notice      string

	// Config
	outputLines int
	stuck       func(role domain.RoleRun, since time.Time) bool

	// UI state
	width  int
	height int

	// Refresh
	lastRefresh time.Time
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	RunID       string
	Controller  Controller
	Stream      *events.Stream
	OutputLines int

	// Stuck reports roles that have not changed status for too long.
	Stuck func(role domain.RoleRun, since time.Time) bool
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	lines := cfg.OutputLines
	if lines <= 0 {
		lines = DefaultOutputLines
	}
	m := Model{
		runID:       cfg.RunID,
		ctrl:        cfg.Controller,
		stream:      cfg.Stream,
		outputLines: lines,
		stuck:       cfg.Stuck,
		roleSince:   make(map[int]time.Time),
	}
	m.refresh()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitEvents(m.stream, m.cursor),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// EventsMsg carries events read from the run's stream
type EventsMsg struct {
	Events []domain.ProgressEvent
	Err    error
}

// waitEvents blocks until the stream has events after cursor.
func waitEvents(stream *events.Stream, cursor int) tea.Cmd {
	if stream == nil {
		return nil
	}
	return func() tea.Msg {
		evs, err := stream.Next(context.Background(), cursor)
		return EventsMsg{Events: evs, Err: err}
	}
}

// Finished reports whether the run reached a terminal event
func (m Model) Finished() bool {
	return m.finished
}

// Outcome returns the terminal event kind, or "" while running
func (m Model) Outcome() domain.EventKind {
	return m.outcome
}

func (m *Model) refresh() {
	if m.ctrl == nil {
		return
	}
	if st, err := m.ctrl.State(m.runID); err == nil {
		m.state = st
	}
	m.lastRefresh = time.Now()
}

// Run starts the dashboard in the alternate screen and blocks until the
// user quits. It returns the terminal event kind seen, if any.
func Run(cfg ModelConfig) (domain.EventKind, error) {
	p := tea.NewProgram(NewModel(cfg), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	if m, ok := final.(Model); ok {
		return m.Outcome(), nil
	}
	return "", nil
}
