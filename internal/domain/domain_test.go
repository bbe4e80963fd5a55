package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestRunStatus_Resumable(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunIdle, true},
		{RunRunning, true},
		{RunPaused, true},
		{RunError, true},
		{RunCompleted, false},
		{RunCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Resumable(); got != tt.want {
				t.Errorf("Resumable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     RunRequest
		wantErr bool
	}{
		{"valid", RunRequest{Description: "ticket triage"}, false},
		{"blank", RunRequest{Description: "   "}, true},
		{"negative parallel", RunRequest{Description: "x", MaxParallel: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckpoint_PendingIndices(t *testing.T) {
	cp := &Checkpoint{
		TotalRoles: 5,
		RoleResults: map[int]CheckpointRole{
			1: {FinalScore: 9},
			3: {FinalScore: 8.5},
		},
	}

	if got, want := cp.PendingIndices(), []int{0, 2, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("PendingIndices() = %v, want %v", got, want)
	}
	if got, want := cp.CompletedIndices(), []int{1, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("CompletedIndices() = %v, want %v", got, want)
	}
}

func TestCheckpoint_JSONRoundTripKeepsPending(t *testing.T) {
	cp := &Checkpoint{
		RunID:      "r1",
		Status:     RunRunning,
		TotalRoles: 3,
		Architecture: &SystemArchitecture{
			SystemName: "triage",
			Roles:      []RoleSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		},
		RoleResults: map[int]CheckpointRole{2: {Prompt: RolePrompt{RoleID: "c", Prompt: "p"}, FinalScore: 8}},
		UpdatedAt:   time.Unix(100, 0).UTC(),
	}

	data, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Checkpoint
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got.PendingIndices(), cp.PendingIndices()) {
		t.Errorf("pending = %v, want %v", got.PendingIndices(), cp.PendingIndices())
	}
	if got.RoleResults[2].Prompt.Prompt != "p" {
		t.Errorf("prompt = %q, want %q", got.RoleResults[2].Prompt.Prompt, "p")
	}
}

func TestRunState_CloneIsDeep(t *testing.T) {
	s := &RunState{
		ID: "r1",
		Roles: []RoleRun{{
			Index:  0,
			Status: RoleReviewing,
			Review: &ReviewResult{Score: 6, Strengths: []string{"clear"}},
		}},
	}

	cp := s.Clone()
	cp.Roles[0].Status = RoleCompleted
	cp.Roles[0].Review.Strengths[0] = "changed"

	if s.Roles[0].Status != RoleReviewing {
		t.Errorf("original status mutated to %s", s.Roles[0].Status)
	}
	if s.Roles[0].Review.Strengths[0] != "clear" {
		t.Errorf("original review mutated to %q", s.Roles[0].Review.Strengths[0])
	}
}

func TestNewSuite(t *testing.T) {
	arch := &SystemArchitecture{SystemName: "triage", Workflow: &Workflow{Description: "a then b"}}
	s := NewSuite(arch, []RolePrompt{{RoleID: "a"}, {RoleID: "b"}})

	if s.TotalRoles != 2 {
		t.Errorf("TotalRoles = %d, want 2", s.TotalRoles)
	}
	if s.WorkflowSummary != "a then b" {
		t.Errorf("WorkflowSummary = %q", s.WorkflowSummary)
	}
	if s.SystemName != "triage" {
		t.Errorf("SystemName = %q", s.SystemName)
	}
}

func TestStage_String(t *testing.T) {
	if StageRefine.String() != "refine" {
		t.Errorf("String() = %q, want refine", StageRefine.String())
	}
	if Stage(42).String() != "unknown" {
		t.Errorf("String() = %q, want unknown", Stage(42).String())
	}
}
