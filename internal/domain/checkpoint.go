package domain

import (
	"errors"
	"sort"
	"time"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for a run.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointRole is the serialized result of one completed role
type CheckpointRole struct {
	Prompt     RolePrompt `json:"prompt"`
	FinalScore float64    `json:"final_score"`
	Iterations int        `json:"iterations"`
}

// Checkpoint is the durable snapshot of a run used for resume. It always
// describes "these roles completed, the rest are pending".
type Checkpoint struct {
	RunID        string                 `json:"run_id"`
	Status       RunStatus              `json:"status"`
	Description  string                 `json:"description"`
	PromptType   string                 `json:"prompt_type"`
	Model        string                 `json:"model"`
	Stage        Stage                  `json:"stage"`
	TotalRoles   int                    `json:"total_roles"`
	Architecture *SystemArchitecture    `json:"system_architecture,omitempty"`
	RoleResults  map[int]CheckpointRole `json:"role_results"`
	TestResult   *TestResult            `json:"test_result,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// PendingIndices returns the roster indices without a completed result,
// in ascending order.
func (c *Checkpoint) PendingIndices() []int {
	var pending []int
	for i := 0; i < c.TotalRoles; i++ {
		if _, ok := c.RoleResults[i]; !ok {
			pending = append(pending, i)
		}
	}
	return pending
}

// CompletedIndices returns the indices with a completed result, ascending.
func (c *Checkpoint) CompletedIndices() []int {
	idx := make([]int, 0, len(c.RoleResults))
	for i := range c.RoleResults {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Clone returns a copy whose role map can be mutated independently.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.RoleResults = make(map[int]CheckpointRole, len(c.RoleResults))
	for k, v := range c.RoleResults {
		cp.RoleResults[k] = v
	}
	return &cp
}

// IncompleteRun summarizes a checkpoint that can still be resumed
type IncompleteRun struct {
	RunID          string    `json:"run_id"`
	Description    string    `json:"description"`
	Status         RunStatus `json:"status"`
	Stage          Stage     `json:"stage"`
	CompletedRoles int       `json:"completed_roles"`
	TotalRoles     int       `json:"total_roles"`
	UpdatedAt      time.Time `json:"updated_at"`
}
