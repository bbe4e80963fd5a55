// Package notify delivers run outcome notifications to the desktop and Slack.
package notify

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification is the outcome of one run.
type Notification struct {
	Title     string
	Message   string
	Type      NotificationType
	RunID     string
	ResultDir string

	SystemName     string
	Stage          string
	CompletedRoles int
	TotalRoles     int
	AverageScore   float64 // over completed roles, 0 when none
}

// Progress renders the role counts and score, e.g. "3/4 roles, avg 8.2".
func (n Notification) Progress() string {
	if n.TotalRoles == 0 {
		return ""
	}
	out := fmt.Sprintf("%d/%d roles", n.CompletedRoles, n.TotalRoles)
	if n.CompletedRoles > 0 {
		out += fmt.Sprintf(", avg %.1f", n.AverageScore)
	}
	return out
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// ForRun builds the notification for a run that reached a terminal status.
func ForRun(state *domain.RunState) Notification {
	name := state.Description
	if state.Architecture != nil && state.Architecture.SystemName != "" {
		name = state.Architecture.SystemName
	}

	n := Notification{
		RunID:          state.ID,
		ResultDir:      state.ResultDir,
		SystemName:     name,
		Stage:          state.Stage.String(),
		CompletedRoles: state.CompletedRoles(),
		TotalRoles:     len(state.Roles),
		AverageScore:   averageScore(state.Roles),
	}
	switch state.Status {
	case domain.RunCompleted:
		n.Type = NotifySuccess
		n.Title = "Prompt suite ready"
		n.Message = fmt.Sprintf("%s: %d/%d roles completed", name, n.CompletedRoles, n.TotalRoles)
	case domain.RunCancelled:
		n.Type = NotifyWarning
		n.Title = "Run cancelled"
		n.Message = fmt.Sprintf("%s: %d/%d roles completed before cancel", name, n.CompletedRoles, n.TotalRoles)
	case domain.RunError:
		n.Type = NotifyError
		n.Title = "Run failed"
		n.Message = fmt.Sprintf("%s: %s", name, state.Error)
	default:
		n.Type = NotifyInfo
		n.Title = "Run " + string(state.Status)
		n.Message = name
	}
	return n
}

func averageScore(roles []domain.RoleRun) float64 {
	var total float64
	n := 0
	for _, r := range roles {
		if r.Status == domain.RoleCompleted {
			total += r.FinalScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
