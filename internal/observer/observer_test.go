package observer

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

func TestObserver_DetectStuck(t *testing.T) {
	obs := New(5 * time.Minute)

	role := domain.RoleRun{RoleID: "intake", Status: domain.RoleReviewing}

	if !obs.IsStuck(role, time.Now().Add(-10*time.Minute)) {
		t.Error("Role reviewing for 10 minutes should be detected as stuck")
	}
}

func TestObserver_NotStuck(t *testing.T) {
	obs := New(5 * time.Minute)

	tests := []struct {
		name  string
		role  domain.RoleRun
		since time.Time
	}{
		{"recent", domain.RoleRun{Status: domain.RoleGenerating}, time.Now().Add(-2 * time.Minute)},
		{"completed", domain.RoleRun{Status: domain.RoleCompleted}, time.Now().Add(-time.Hour)},
		{"pending", domain.RoleRun{Status: domain.RolePending}, time.Now().Add(-time.Hour)},
		{"no start time", domain.RoleRun{Status: domain.RoleOptimizing}, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if obs.IsStuck(tt.role, tt.since) {
				t.Error("role should not be stuck")
			}
		})
	}
}

func TestObserver_Metrics(t *testing.T) {
	obs := New(5 * time.Minute)

	obs.RoleFinished(domain.RoleCompleted, 9, 1, 5*time.Minute)
	obs.RoleFinished(domain.RoleCompleted, 7, 3, 10*time.Minute)
	obs.RoleFinished(domain.RoleError, 0, 0, time.Minute)

	metrics := obs.GetMetrics()

	if metrics.RolesCompleted != 2 {
		t.Errorf("RolesCompleted = %d, want 2", metrics.RolesCompleted)
	}
	if metrics.RolesFailed != 1 {
		t.Errorf("RolesFailed = %d, want 1", metrics.RolesFailed)
	}
	if metrics.AvgScore != 8 {
		t.Errorf("AvgScore = %v, want 8", metrics.AvgScore)
	}
	if metrics.AvgIterations != 2 {
		t.Errorf("AvgIterations = %v, want 2", metrics.AvgIterations)
	}
	if metrics.AvgDuration != 7*time.Minute+30*time.Second {
		t.Errorf("AvgDuration = %v, want 7m30s", metrics.AvgDuration)
	}
	if n := obs.GetRecentCompletions(time.Minute); n != 3 {
		t.Errorf("GetRecentCompletions() = %d, want 3", n)
	}

	if got := testutil.ToFloat64(obs.roles.WithLabelValues("completed")); got != 2 {
		t.Errorf("roles_total{completed} = %v, want 2", got)
	}
}

func TestObserver_AgentCallsAndRuns(t *testing.T) {
	obs := New(time.Minute)

	obs.AgentCall(string(domain.AgentGenerator), time.Second, nil)
	obs.AgentCall(string(domain.AgentGenerator), time.Second, errors.New("timeout"))
	obs.AgentCall(string(domain.AgentReviewer), time.Second, nil)

	obs.RunStarted()
	obs.RunStarted()
	obs.RunFinished(domain.RunCompleted)

	m := obs.GetMetrics()
	if m.AgentCalls[string(domain.AgentGenerator)] != 2 || m.AgentErrors[string(domain.AgentGenerator)] != 1 {
		t.Errorf("agent metrics = %v / %v", m.AgentCalls, m.AgentErrors)
	}
	if m.ActiveRuns != 1 || m.RunsCompleted != 1 {
		t.Errorf("runs = active %d, completed %d", m.ActiveRuns, m.RunsCompleted)
	}

	if got := testutil.ToFloat64(obs.agentCalls.WithLabelValues(string(domain.AgentGenerator), "error")); got != 1 {
		t.Errorf("agent_calls_total{generator,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.activeRuns); got != 1 {
		t.Errorf("active_runs = %v, want 1", got)
	}
}

func TestObserver_Handler(t *testing.T) {
	obs := New(time.Minute)
	obs.RunStarted()

	rec := httptest.NewRecorder()
	obs.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "prompt_factory_active_runs 1") {
		t.Errorf("metrics output missing active_runs:\n%s", rec.Body.String())
	}
}
