package domain

import "fmt"

// Suite is the final aggregate of all accepted role prompts for one run.
type Suite struct {
	SystemName       string       `json:"system_name"`
	TotalRoles       int          `json:"total_roles"`
	Prompts          []RolePrompt `json:"prompts"`
	WorkflowSummary  string       `json:"workflow_summary"`
	IntegrationNotes string       `json:"integration_notes"`
}

// NewSuite assembles a suite from prompts already in roster order.
func NewSuite(arch *SystemArchitecture, prompts []RolePrompt) *Suite {
	s := &Suite{
		TotalRoles:       len(prompts),
		Prompts:          prompts,
		WorkflowSummary:  arch.WorkflowSummary(),
		IntegrationNotes: fmt.Sprintf("Suite of %d role prompts", len(prompts)),
	}
	if arch != nil {
		s.SystemName = arch.SystemName
	}
	return s
}
