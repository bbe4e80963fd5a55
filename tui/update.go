package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

const recentEvents = 6

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p", "r", "c":
			m.control(msg.String())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case EventsMsg:
		if msg.Err != nil {
			m.notice = "event stream: " + msg.Err.Error()
			return m, nil
		}
		if len(msg.Events) == 0 {
			// Stream finished and fully read
			m.finished = true
			return m, nil
		}
		for _, ev := range msg.Events {
			m.apply(ev)
		}
		m.refresh()
		if m.finished {
			return m, nil
		}
		return m, waitEvents(m.stream, m.cursor)
	}

	return m, nil
}

func (m *Model) control(key string) {
	if m.ctrl == nil || m.finished {
		return
	}

	var (
		name string
		err  error
	)
	switch key {
	case "p":
		name, err = "pause", m.ctrl.Pause(m.runID)
	case "r":
		name, err = "resume", m.ctrl.ResumeRun(m.runID)
	case "c":
		name, err = "cancel", m.ctrl.Cancel(m.runID)
	}
	if err != nil {
		m.notice = fmt.Sprintf("%s failed: %v", name, err)
		return
	}
	m.notice = name + " requested"
}

// apply folds one event into the dashboard.
func (m *Model) apply(ev domain.ProgressEvent) {
	if ev.Seq > m.cursor {
		m.cursor = ev.Seq
	}

	switch ev.Kind {
	case domain.EventAgentOutput:
		chunk, _ := ev.Payload["chunk"].(string)
		m.appendOutput(chunk)
		return
	case domain.EventRoleStatus:
		if idx, ok := ev.Payload["role_index"].(int); ok {
			m.roleSince[idx] = ev.Timestamp
		}
	}

	if ev.Kind.IsTerminal() {
		m.finished = true
		m.outcome = ev.Kind
	}
	m.recent = append(m.recent, describe(ev))
	if len(m.recent) > recentEvents {
		m.recent = m.recent[len(m.recent)-recentEvents:]
	}
}

// appendOutput adds streamed text, keeping the last outputLines lines.
func (m *Model) appendOutput(chunk string) {
	if chunk == "" {
		return
	}
	m.outputChars += len(chunk)

	parts := strings.Split(chunk, "\n")
	if n := len(m.output); n > 0 {
		m.output[n-1] += parts[0]
		parts = parts[1:]
	}
	m.output = append(m.output, parts...)
	if len(m.output) > m.outputLines {
		m.output = m.output[len(m.output)-m.outputLines:]
	}
}

// describe renders an event as one log line.
func describe(ev domain.ProgressEvent) string {
	p := ev.Payload
	switch ev.Kind {
	case domain.EventRunStarted:
		if resumed, _ := p["resumed"].(bool); resumed {
			return fmt.Sprintf("run resumed with %v pending roles", p["pending"])
		}
		return "run started"
	case domain.EventStageChanged:
		return fmt.Sprintf("stage %v", p["name"])
	case domain.EventAgentStarted:
		return fmt.Sprintf("%v started", p["agent"])
	case domain.EventAgentCompleted:
		if ok, _ := p["success"].(bool); ok {
			return fmt.Sprintf("%v completed", p["agent"])
		}
		return fmt.Sprintf("%v failed", p["agent"])
	case domain.EventRoleStatus:
		return fmt.Sprintf("%v: %v", p["role_name"], p["status"])
	case domain.EventRoleSaved:
		return fmt.Sprintf("%v saved", p["role_name"])
	case domain.EventSuiteSaved:
		return fmt.Sprintf("suite saved to %v", p["path"])
	case domain.EventRunPaused:
		return "run paused"
	case domain.EventRunResumed:
		return "run resumed"
	case domain.EventRunCompleted:
		return fmt.Sprintf("run completed: %v roles", p["total_roles"])
	case domain.EventRunError:
		return fmt.Sprintf("run failed: %v", p["error"])
	case domain.EventRunCancelled:
		return fmt.Sprintf("run cancelled after %v roles", p["completed_roles"])
	default:
		return string(ev.Kind)
	}
}
