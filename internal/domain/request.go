package domain

import (
	"errors"
	"strings"
)

// ErrEmptyDescription is returned when a run request has no description.
var ErrEmptyDescription = errors.New("description is required")

// DefaultPromptType is used when a request does not name one.
const DefaultPromptType = "system"

// RunRequest is the immutable input of a pipeline run.
type RunRequest struct {
	Description string `json:"description"`
	PromptType  string `json:"prompt_type"`
	Model       string `json:"model"`
	MaxParallel int    `json:"max_parallel,omitempty"` // 0 means the service default
	Stream      bool   `json:"stream"`
	Parallel    bool   `json:"parallel"`
}

// Validate checks the request for required fields.
func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return ErrEmptyDescription
	}
	if r.MaxParallel < 0 {
		return errors.New("max_parallel must not be negative")
	}
	return nil
}
