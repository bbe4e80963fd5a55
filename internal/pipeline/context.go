package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// testPromptChars caps each prompt sent to the tester.
const testPromptChars = 500

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func joinOrNone(items []string, sep string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, sep)
}

func analyzerMessage(req domain.RunRequest) string {
	return fmt.Sprintf("Requirement: %s\nPrompt type: %s\nTarget model: %s",
		req.Description, req.PromptType, req.Model)
}

// generatorMessage describes the role to generate, the system it belongs
// to and its siblings.
func generatorMessage(arch *domain.SystemArchitecture, role domain.RoleSpec) string {
	var siblings []string
	for _, r := range arch.Siblings(role.ID) {
		siblings = append(siblings, fmt.Sprintf("- %s (%s): %s", r.Name, r.Category, r.Description))
	}

	roleJSON, _ := json.Marshal(role)

	var b strings.Builder
	b.WriteString("## System\n")
	fmt.Fprintf(&b, "Name: %s\n", arch.SystemName)
	fmt.Fprintf(&b, "Description: %s\n", arch.SystemDescription)
	fmt.Fprintf(&b, "Target user: %s\n", arch.TargetUser)
	fmt.Fprintf(&b, "Use cases: %s\n", joinOrNone(arch.UseCases, ", "))
	b.WriteString("\n## Role to generate\n```json\n")
	b.Write(roleJSON)
	b.WriteString("\n```\n")
	b.WriteString("\n## Other roles (for collaboration)\n")
	b.WriteString(joinOrNone(siblings, "\n"))
	fmt.Fprintf(&b, "\n\nWrite the complete prompt for %q.", role.Name)
	return b.String()
}

func reviewerMessage(p domain.RolePrompt) string {
	var b strings.Builder
	b.WriteString("## Role prompt under review\n\n")
	fmt.Fprintf(&b, "Role id: %s\n", p.RoleID)
	fmt.Fprintf(&b, "Role name: %s\n", p.RoleName)
	fmt.Fprintf(&b, "Role type: %s\n", p.RoleType)
	fmt.Fprintf(&b, "Description: %s\n", p.Description)
	fmt.Fprintf(&b, "\n## Prompt\n```\n%s\n```\n", p.Prompt)
	fmt.Fprintf(&b, "\n## Input template\n%s\n", orNone(p.InputTemplate))
	fmt.Fprintf(&b, "\n## Triggers\n%s\n", joinOrNone(p.Triggers, ", "))
	b.WriteString("\nReview the quality of this role prompt.")
	return b.String()
}

// reviewSummary renders a review for the optimizer.
func reviewSummary(rv *domain.ReviewResult) string {
	weaknesses := make([]string, 0, len(rv.Weaknesses))
	for _, w := range rv.Weaknesses {
		weaknesses = append(weaknesses, fmt.Sprintf("%s (%s)", w.Issue, w.Severity))
	}
	suggestions := make([]string, 0, len(rv.Suggestions))
	for _, s := range rv.Suggestions {
		suggestions = append(suggestions, fmt.Sprintf("%s (%s)", s.Suggestion, s.Priority))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Score: %.1f\n", rv.Score)
	fmt.Fprintf(&b, "Strengths: %s\n", joinOrNone(rv.Strengths, ", "))
	fmt.Fprintf(&b, "Weaknesses: %s\n", joinOrNone(weaknesses, "; "))
	fmt.Fprintf(&b, "Suggestions: %s\n", joinOrNone(suggestions, "; "))
	fmt.Fprintf(&b, "Verdict: %s", orNone(rv.Verdict))
	return b.String()
}

func optimizerMessage(p domain.RolePrompt, rv *domain.ReviewResult) string {
	var b strings.Builder
	b.WriteString("## Original role prompt\n\n")
	fmt.Fprintf(&b, "Role id: %s\n", p.RoleID)
	fmt.Fprintf(&b, "Role name: %s\n", p.RoleName)
	fmt.Fprintf(&b, "Role type: %s\n", p.RoleType)
	fmt.Fprintf(&b, "\n### Prompt\n```\n%s\n```\n", p.Prompt)
	fmt.Fprintf(&b, "\n### Input template\n%s\n", orNone(p.InputTemplate))
	fmt.Fprintf(&b, "\n## Review\n%s\n", reviewSummary(rv))
	b.WriteString("\nImprove this role prompt based on the review.")
	return b.String()
}

type testerPrompt struct {
	RoleID   string              `json:"role_id"`
	RoleName string              `json:"role_name"`
	RoleType domain.RoleCategory `json:"role_type"`
	Prompt   string              `json:"prompt"`
}

func testerMessage(arch *domain.SystemArchitecture, prompts []domain.RolePrompt) string {
	doc := struct {
		SystemName string         `json:"system_name"`
		Prompts    []testerPrompt `json:"prompts"`
	}{}
	if arch != nil {
		doc.SystemName = arch.SystemName
	}
	for _, p := range prompts {
		text := p.Prompt
		if r := []rune(text); len(r) > testPromptChars {
			text = string(r[:testPromptChars])
		}
		doc.Prompts = append(doc.Prompts, testerPrompt{
			RoleID:   p.RoleID,
			RoleName: p.RoleName,
			RoleType: p.RoleType,
			Prompt:   text,
		})
	}

	raw, _ := json.MarshalIndent(doc, "", "  ")
	return "Write a test report for this prompt suite:\n\n" + string(raw)
}
