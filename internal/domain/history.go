package domain

import "time"

// HistoryRecord is written when a run completes successfully
type HistoryRecord struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Description  string    `json:"description"`
	PromptType   string    `json:"prompt_type"`
	Model        string    `json:"model"`
	SystemName   string    `json:"system_name"`
	TotalRoles   int       `json:"total_roles"`
	AverageScore float64   `json:"average_score"`
	ResultDir    string    `json:"result_dir,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
