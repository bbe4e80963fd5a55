package domain

import "fmt"

// RoleSpec describes one role produced by the Analyze stage
type RoleSpec struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Category         RoleCategory `json:"type"`
	Description      string       `json:"description"`
	Responsibilities []string     `json:"responsibilities"`
	Inputs           []string     `json:"inputs"`
	Outputs          []string     `json:"outputs"`
	Triggers         []string     `json:"triggers"`
	Priority         int          `json:"priority"`
}

// WorkflowStep is one step of the suggested workflow between roles
type WorkflowStep struct {
	Step      int      `json:"step"`
	Role      string   `json:"role"`
	Action    string   `json:"action"`
	Next      []string `json:"next,omitempty"`
	Condition string   `json:"condition,omitempty"`
}

// Workflow describes how roles collaborate
type Workflow struct {
	Description string         `json:"description"`
	Steps       []WorkflowStep `json:"steps,omitempty"`
}

// QualityGate is a checkpoint a role enforces in the generated system
type QualityGate struct {
	Gate       string   `json:"gate"`
	Role       string   `json:"role"`
	Criteria   []string `json:"criteria,omitempty"`
	PassAction string   `json:"pass_action,omitempty"`
	FailAction string   `json:"fail_action,omitempty"`
}

// SystemArchitecture is the output of the Analyze stage. It is immutable
// once produced.
type SystemArchitecture struct {
	SystemName        string        `json:"system_name"`
	SystemDescription string        `json:"system_description"`
	Domain            string        `json:"domain"`
	TargetUser        string        `json:"target_user"`
	UseCases          []string      `json:"use_cases"`
	Roles             []RoleSpec    `json:"roles"`
	Workflow          *Workflow     `json:"workflow,omitempty"`
	QualityGates      []QualityGate `json:"quality_gates,omitempty"`
}

// Role returns the role at index i.
func (a *SystemArchitecture) Role(i int) (RoleSpec, error) {
	if a == nil || i < 0 || i >= len(a.Roles) {
		return RoleSpec{}, fmt.Errorf("role index %d out of range", i)
	}
	return a.Roles[i], nil
}

// WorkflowSummary returns the workflow description or an empty string.
func (a *SystemArchitecture) WorkflowSummary() string {
	if a == nil || a.Workflow == nil {
		return ""
	}
	return a.Workflow.Description
}

// Siblings returns every role except the one with the given id.
func (a *SystemArchitecture) Siblings(id string) []RoleSpec {
	var out []RoleSpec
	for _, r := range a.Roles {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
