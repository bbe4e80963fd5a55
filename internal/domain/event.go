package domain

import "time"

// EventKind identifies a progress event
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventAgentStarted   EventKind = "agent_started"
	EventAgentOutput    EventKind = "agent_output"
	EventAgentCompleted EventKind = "agent_completed"
	EventRoleStatus     EventKind = "role_status"
	EventRoleSaved      EventKind = "role_saved"
	EventStageChanged   EventKind = "stage_changed"
	EventSuiteSaved     EventKind = "suite_saved"
	EventRunCompleted   EventKind = "run_completed"
	EventRunError       EventKind = "run_error"
	EventRunPaused      EventKind = "run_paused"
	EventRunResumed     EventKind = "run_resumed"
	EventRunCancelled   EventKind = "run_cancelled"
	EventHeartbeat      EventKind = "heartbeat"
)

// IsTerminal reports whether the event ends the run's stream.
func (k EventKind) IsTerminal() bool {
	return k == EventRunCompleted || k == EventRunError || k == EventRunCancelled
}

// ProgressEvent is an immutable notification about a run. Seq is strictly
// increasing per run starting at 1; heartbeats carry Seq 0.
type ProgressEvent struct {
	Kind      EventKind      `json:"kind"`
	RunID     string         `json:"run_id"`
	Seq       int            `json:"seq"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
