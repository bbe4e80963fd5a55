package suite

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

func renderRole(p domain.RolePrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.RoleName)
	if p.Description != "" {
		fmt.Fprintf(&b, "> %s\n\n", p.Description)
	}
	b.WriteString("---\n\n")
	b.WriteString(p.Prompt)
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func renderOverview(d *Data) string {
	s := d.Suite
	if s == nil {
		s = &domain.Suite{}
	}

	var b strings.Builder
	name := s.SystemName
	if name == "" {
		name = "Prompt Suite"
	}
	fmt.Fprintf(&b, "# %s\n\n", name)
	fmt.Fprintf(&b, "> Generated: %s\n", d.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "> Roles: %d\n", s.TotalRoles)
	fmt.Fprintf(&b, "> Average score: %.1f/10\n", d.AverageScore)
	if d.TestResult != nil {
		fmt.Fprintf(&b, "> Test pass rate: %.0f%%\n", d.TestResult.Summary.PassRate*100)
	} else {
		b.WriteString("> Test pass rate: N/A\n")
	}

	fmt.Fprintf(&b, "\n## Requirement\n\n%s\n", d.Requirement.Description)

	b.WriteString("\n## Roles\n\n")
	b.WriteString("| # | Role | Type | Description |\n")
	b.WriteString("|---|------|------|-------------|\n")
	for i, p := range s.Prompts {
		desc := strings.ReplaceAll(truncate(p.Description, 50), "|", "\\|")
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", i+1, p.RoleName, p.RoleType, desc)
	}

	fmt.Fprintf(&b, "\n## Workflow\n\n%s\n", s.WorkflowSummary)
	fmt.Fprintf(&b, "\n## Integration\n\n%s\n", s.IntegrationNotes)

	if d.TestResult != nil && len(d.TestResult.Recommendations) > 0 {
		b.WriteString("\n## Test recommendations\n\n")
		for _, r := range d.TestResult.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	return b.String()
}
