package domain

import "time"

// RunState is the top-level aggregate of one run and the single source of
// truth surfaced to observers. Observers receive copies from Clone.
type RunState struct {
	ID           string              `json:"id"`
	Status       RunStatus           `json:"status"`
	Stage        Stage               `json:"stage"`
	Description  string              `json:"description"`
	PromptType   string              `json:"prompt_type"`
	Model        string              `json:"model"`
	Architecture *SystemArchitecture `json:"system_architecture,omitempty"`
	Roles        []RoleRun           `json:"roles"`
	TestResult   *TestResult         `json:"test_result,omitempty"`
	Suite        *Suite              `json:"suite,omitempty"`
	Error        string              `json:"error,omitempty"`
	ResultDir    string              `json:"result_dir,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewRunState allocates an idle run for a request.
func NewRunState(id string, req RunRequest, now time.Time) *RunState {
	return &RunState{
		ID:          id,
		Status:      RunIdle,
		Description: req.Description,
		PromptType:  req.PromptType,
		Model:       req.Model,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CompletedRoles counts roles in the completed state.
func (s *RunState) CompletedRoles() int {
	n := 0
	for _, r := range s.Roles {
		if r.Status == RoleCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the mutable parts. Architecture, TestResult
// and Suite are immutable once set and are shared.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Roles = make([]RoleRun, len(s.Roles))
	for i, r := range s.Roles {
		cp.Roles[i] = r.Clone()
	}
	return &cp
}
