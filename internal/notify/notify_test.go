package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

func TestSlackMessage_Build(t *testing.T) {
	msg := SlackMessage{
		Text: "Prompt suite ready",
		Attachments: []SlackAttachment{
			{
				Color: "good",
				Title: "Run 42",
				Text:  "Triage: 4/4 roles completed",
			},
		},
	}

	payload, err := msg.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	if len(payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	// Mock Slack server
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:     "Test",
		Message:   "Test message",
		Type:      NotifyInfo,
		RunID:     "run-1",
		ResultDir: "/tmp/suite",
	})

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Title != "Run run-1" {
		t.Fatalf("attachments = %+v", got.Attachments)
	}
	if v := fieldValue(got.Attachments[0], "Suite"); v != "/tmp/suite" {
		t.Errorf("Suite field = %q", v)
	}
}

func fieldValue(att SlackAttachment, title string) string {
	for _, f := range att.Fields {
		if f.Title == title {
			return f.Value
		}
	}
	return ""
}

func TestBuildSlackMessage(t *testing.T) {
	tests := []struct {
		name       string
		n          Notification
		wantTitle  string
		wantFields map[string]string
		noFields   []string
	}{
		{
			name: "completed run",
			n: Notification{
				Title: "Prompt suite ready", Message: "Triage: 3/4 roles completed", Type: NotifySuccess,
				RunID: "run-7", ResultDir: "/out/triage", SystemName: "Triage", Stage: "assemble",
				CompletedRoles: 3, TotalRoles: 4, AverageScore: 8.24,
			},
			wantTitle:  "Triage",
			wantFields: map[string]string{"Roles": "3/4", "Average score": "8.2", "Run": "`run-7`", "Suite": "/out/triage"},
			noFields:   []string{"Stopped at"},
		},
		{
			name: "failed before any role",
			n: Notification{
				Title: "Run failed", Message: "email bot: no roles", Type: NotifyError,
				RunID: "run-8", Stage: "analyze",
			},
			wantTitle:  "Run run-8",
			wantFields: map[string]string{"Stopped at": "analyze", "Run": "`run-8`"},
			noFields:   []string{"Roles", "Average score", "Suite"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := BuildSlackMessage(tt.n)
			if msg.Text != tt.n.Title || len(msg.Attachments) != 1 {
				t.Fatalf("msg = %+v", msg)
			}
			att := msg.Attachments[0]
			if att.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", att.Title, tt.wantTitle)
			}
			if att.Color != SlackColor(tt.n.Type) {
				t.Errorf("Color = %q", att.Color)
			}
			for k, want := range tt.wantFields {
				if got := fieldValue(att, k); got != want {
					t.Errorf("field %s = %q, want %q", k, got, want)
				}
			}
			for _, k := range tt.noFields {
				if got := fieldValue(att, k); got != "" {
					t.Errorf("unexpected field %s = %q", k, got)
				}
			}
		})
	}
}

func TestNotificationProgress(t *testing.T) {
	tests := []struct {
		n    Notification
		want string
	}{
		{Notification{CompletedRoles: 3, TotalRoles: 4, AverageScore: 8.16}, "3/4 roles, avg 8.2"},
		{Notification{CompletedRoles: 0, TotalRoles: 2}, "0/2 roles"},
		{Notification{}, ""},
	}
	for _, tt := range tests {
		if got := tt.n.Progress(); got != tt.want {
			t.Errorf("Progress() = %q, want %q", got, tt.want)
		}
	}
}

func TestDesktopCommand(t *testing.T) {
	n := Notification{
		Title: "Prompt suite ready", Message: "Triage: 2/2 roles completed", Type: NotifySuccess,
		SystemName: `Say "hi"`, ResultDir: "/out/triage", CompletedRoles: 2, TotalRoles: 2, AverageScore: 9,
	}

	name, args := desktopCommand("linux", n)
	if name != "notify-send" {
		t.Fatalf("name = %q", name)
	}
	joined := strings.Join(args, "|")
	for _, want := range []string{"--urgency|normal", "--icon|dialog-positive", "Prompt suite ready", "2/2 roles, avg 9.0", "/out/triage"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}

	name, args = desktopCommand("darwin", n)
	if name != "osascript" || len(args) != 2 {
		t.Fatalf("darwin command = %q %q", name, args)
	}
	if !strings.Contains(args[1], `subtitle "Say \"hi\""`) {
		t.Errorf("script not escaped: %s", args[1])
	}

	if name, _ := desktopCommand("windows", n); name != "" {
		t.Errorf("windows command = %q, want none", name)
	}
}

func TestDesktopNotifier_Send(t *testing.T) {
	var got []string
	d := NewDesktopNotifier(true)
	d.run = func(name string, args ...string) error {
		got = append([]string{name}, args...)
		return nil
	}

	err := d.Send(Notification{Title: "Run failed", Message: "Triage: timeout", Type: NotifyError})
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if runtime.GOOS == "linux" && !strings.Contains(strings.Join(got, " "), "--urgency critical") {
		t.Errorf("command = %q", got)
	}

	got = nil
	off := NewDesktopNotifier(false)
	off.run = d.run
	if err := off.Send(Notification{Title: "x"}); err != nil || got != nil {
		t.Errorf("disabled notifier ran %q, err %v", got, err)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if err := NewSlackNotifier(server.URL).Send(Notification{Title: "x"}); err == nil {
		t.Error("Send should fail on non-200 status")
	}
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}

func TestForRun(t *testing.T) {
	roles := []domain.RoleRun{
		{Status: domain.RoleCompleted, FinalScore: 9},
		{Status: domain.RoleCompleted, FinalScore: 7},
		{Status: domain.RoleError},
	}
	arch := &domain.SystemArchitecture{SystemName: "Triage"}

	tests := []struct {
		name     string
		state    domain.RunState
		wantType NotificationType
		wantMsg  string
		wantAvg  float64
	}{
		{"completed", domain.RunState{ID: "r", Status: domain.RunCompleted, Architecture: arch, Roles: roles}, NotifySuccess, "Triage: 2/3 roles completed", 8},
		{"cancelled", domain.RunState{ID: "r", Status: domain.RunCancelled, Architecture: arch, Roles: roles}, NotifyWarning, "Triage: 2/3 roles completed before cancel", 8},
		{"error without roster", domain.RunState{ID: "r", Status: domain.RunError, Description: "email bot", Error: "no roles"}, NotifyError, "email bot: no roles", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := ForRun(&tt.state)
			if n.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", n.Type, tt.wantType)
			}
			if n.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", n.Message, tt.wantMsg)
			}
			if n.RunID != "r" {
				t.Errorf("RunID = %q", n.RunID)
			}
			if n.TotalRoles != len(tt.state.Roles) || n.CompletedRoles != tt.state.CompletedRoles() {
				t.Errorf("roles = %d/%d", n.CompletedRoles, n.TotalRoles)
			}
			if n.AverageScore != tt.wantAvg {
				t.Errorf("AverageScore = %v, want %v", n.AverageScore, tt.wantAvg)
			}
		})
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	var called []string
	boom := errors.New("boom")

	multi := NewMultiNotifier(
		&mockNotifier{name: "a", calls: &called, err: boom},
		&mockNotifier{name: "b", calls: &called},
	)
	err := multi.Send(Notification{Title: "Test"})

	if !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want %v", err, boom)
	}
	if len(called) != 2 {
		t.Errorf("failing notifier should not stop the others, got %v", called)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}
