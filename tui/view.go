package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	inProgressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	// Header
	b.WriteString(headerStyle.Width(m.width).Render(m.headerLine()))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRoles()))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderOutput()))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRecent()))
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) headerLine() string {
	st := m.state
	if st == nil {
		return fmt.Sprintf(" Prompt Factory │ Run %s ", m.runID)
	}

	name := st.Description
	if st.Architecture != nil && st.Architecture.SystemName != "" {
		name = st.Architecture.SystemName
	}
	return fmt.Sprintf(" Prompt Factory │ %s │ %s │ Stage: %s │ Roles: %d/%d │ Started %s ",
		truncate(name, 40),
		st.Status,
		st.Stage,
		st.CompletedRoles(),
		len(st.Roles),
		humanize.Time(st.CreatedAt))
}

func (m Model) renderRoles() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ROLES"))
	b.WriteString("\n")

	if m.state == nil || len(m.state.Roles) == 0 {
		b.WriteString(dimmedStyle.Render("  Waiting for the analyzer..."))
		return b.String()
	}

	fmt.Fprintf(&b, "  %-3s %-28s %-12s %5s %6s\n", "#", "ROLE", "STATUS", "ITER", "SCORE")
	for i, role := range m.state.Roles {
		score := "-"
		if role.Status == domain.RoleCompleted {
			score = fmt.Sprintf("%.1f", role.FinalScore)
		}
		status := fmt.Sprintf("%-12s", role.Status)
		line := fmt.Sprintf("  %-3d %-28s %s %5d %6s",
			i+1, truncate(role.RoleName, 28), statusStyle(role.Status).Render(status), role.Iterations, score)
		if m.isStuck(i, role) {
			line += warningStyle.Render("  stuck")
		}
		if role.Error != "" {
			line += errorStyle.Render("  " + truncate(role.Error, 40))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) isStuck(idx int, role domain.RoleRun) bool {
	if m.stuck == nil || m.finished {
		return false
	}
	since, ok := m.roleSince[idx]
	if !ok {
		return false
	}
	return m.stuck(role, since)
}

func statusStyle(s domain.RoleStatus) lipgloss.Style {
	switch s {
	case domain.RoleCompleted:
		return completedStyle
	case domain.RoleError:
		return errorStyle
	case domain.RoleGenerating, domain.RoleReviewing, domain.RoleOptimizing:
		return inProgressStyle
	default:
		return queuedStyle
	}
}

func (m Model) renderOutput() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("AGENT OUTPUT"),
		dimmedStyle.Render(humanize.Comma(int64(m.outputChars))+" chars"))

	if len(m.output) == 0 {
		b.WriteString(dimmedStyle.Render("  No streamed output"))
		return b.String()
	}
	width := m.width - 8
	if width < 20 {
		width = 20
	}
	for _, line := range m.output {
		b.WriteString("  ")
		b.WriteString(truncate(line, width))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderRecent() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EVENTS"))
	b.WriteString("\n")
	if len(m.recent) == 0 {
		b.WriteString(dimmedStyle.Render("  No events yet"))
		return b.String()
	}
	for _, line := range m.recent {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	keys := "[p] pause  [r] resume  [c] cancel  [q] quit"
	var status string
	switch m.outcome {
	case domain.EventRunCompleted:
		status = runningStyle.Render("completed")
	case domain.EventRunError:
		status = errorStyle.Render("failed")
	case domain.EventRunCancelled:
		status = warningStyle.Render("cancelled")
	}
	if m.finished {
		keys = "[q] quit"
	}

	line := " " + keys
	if status != "" {
		line += " │ " + status
	}
	if m.notice != "" {
		line += " │ " + m.notice
	}
	return statusBarStyle.Width(m.width).Render(line)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
