package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/llm"
	"github.com/hochfrequenz/prompt-factory/internal/llm/llmtest"
	"github.com/hochfrequenz/prompt-factory/internal/prompts"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memStore is an in-memory CheckpointStore that keeps every saved snapshot.
type memStore struct {
	mu      sync.Mutex
	cps     map[string]*domain.Checkpoint
	saves   []*domain.Checkpoint
	deletes int
}

func newMemStore(seed ...*domain.Checkpoint) *memStore {
	m := &memStore{cps: make(map[string]*domain.Checkpoint)}
	for _, cp := range seed {
		m.cps[cp.RunID] = cp.Clone()
	}
	return m
}

func (m *memStore) SaveCheckpoint(cp *domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.RunID] = cp.Clone()
	m.saves = append(m.saves, cp.Clone())
	return nil
}

func (m *memStore) LoadCheckpoint(runID string) (*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[runID]
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}
	return cp.Clone(), nil
}

func (m *memStore) DeleteCheckpoint(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, runID)
	m.deletes++
	return nil
}

func (m *memStore) ListCheckpoints(resumableOnly bool) ([]domain.IncompleteRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.IncompleteRun
	for _, cp := range m.cps {
		if resumableOnly && !cp.Status.Resumable() {
			continue
		}
		out = append(out, domain.IncompleteRun{
			RunID:          cp.RunID,
			Status:         cp.Status,
			CompletedRoles: len(cp.RoleResults),
			TotalRoles:     cp.TotalRoles,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func (m *memStore) get(runID string) (*domain.Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[runID]
	return cp, ok
}

func (m *memStore) snapshots() []*domain.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Checkpoint(nil), m.saves...)
}

// staticTemplates serves fixed system prompts.
type staticTemplates map[string]string

func (t staticTemplates) Get(agent string) (string, error) {
	s, ok := t[agent]
	if !ok {
		return "", fmt.Errorf("%w: %s", prompts.ErrTemplateNotFound, agent)
	}
	return s, nil
}

func allTemplates() staticTemplates {
	t := staticTemplates{}
	for _, a := range domain.Agents {
		t[string(a)] = "You are the " + string(a) + "."
	}
	return t
}

func without(t staticTemplates, agent domain.Agent) staticTemplates {
	out := staticTemplates{}
	for k, v := range t {
		if k != string(agent) {
			out[k] = v
		}
	}
	return out
}

// roster renders an analyzer answer with one core role per name.
func roster(names ...string) string {
	roles := make([]map[string]any, len(names))
	for i, n := range names {
		roles[i] = map[string]any{
			"id":          fmt.Sprintf("r%d", i+1),
			"name":        n,
			"type":        "core",
			"description": n + " role",
			"triggers":    []string{"on " + n},
		}
	}
	raw, _ := json.Marshal(map[string]any{
		"system_name": "Triage Desk",
		"target_user": "support agents",
		"workflow":    map[string]any{"description": "intake to resolution"},
		"roles":       roles,
	})
	return "Here is the analysis:\n```json\n" + string(raw) + "\n```"
}

var roleNamePattern = regexp.MustCompile(`Write the complete prompt for "([^"]+)"`)

// roleName returns the role a generator request is for.
func roleName(req llm.AgentRequest) string {
	if m := roleNamePattern.FindStringSubmatch(req.UserMessage); m != nil {
		return m[1]
	}
	return ""
}

func promptFor(name string) string {
	return "<role>" + name + "</role>"
}

// generator answers every generator call with a prompt naming the role.
func generator(req llm.AgentRequest) (string, error) {
	raw, _ := json.Marshal(map[string]string{"prompt": promptFor(roleName(req))})
	return string(raw), nil
}

func score(s float64) string {
	return fmt.Sprintf(`{"score": %v, "strengths": ["clear"], "weaknesses": [{"issue": "vague", "severity": "low"}]}`, s)
}

const testReport = `{"summary": {"total_tests": 4, "passed": 3, "failed": 1, "pass_rate": 0.75, "verdict": "ok"}, "recommendations": ["add examples"]}`

// happyMock passes every role on the first review.
func happyMock(names ...string) *llmtest.MockCaller {
	return &llmtest.MockCaller{
		Handlers: map[string]llmtest.Handler{
			string(domain.AgentAnalyzer):  llmtest.Respond(roster(names...)),
			string(domain.AgentGenerator): generator,
			string(domain.AgentReviewer):  llmtest.Respond(score(9)),
			string(domain.AgentTester):    llmtest.Respond(testReport),
		},
	}
}

func newTestService(t *testing.T, agents AgentCaller, store CheckpointStore, opts ...Option) *Service {
	t.Helper()
	ids := atomic.Int64{}
	base := []Option{
		WithLogger(discardLogger),
		WithSettings(Settings{PausePoll: 5 * time.Millisecond}),
		WithIDGenerator(func() string { return fmt.Sprintf("run-%d", ids.Add(1)) }),
	}
	return NewService(agents, allTemplates(), store, append(base, opts...)...)
}

// withTemplates swaps the templates of a service under test.
func withTemplates(t Templates) Option {
	return func(s *Service) {
		s.templates = t
	}
}

func request(parallel bool, maxParallel int) domain.RunRequest {
	return domain.RunRequest{
		Description: "customer support ticket triage assistant",
		Model:       "test-model",
		Parallel:    parallel,
		MaxParallel: maxParallel,
	}
}

// roleStatuses returns the status sequence each role went through.
func roleStatuses(evs []domain.ProgressEvent) map[int][]string {
	out := make(map[int][]string)
	for _, ev := range evs {
		if ev.Kind != domain.EventRoleStatus {
			continue
		}
		idx := ev.Payload["role_index"].(int)
		out[idx] = append(out[idx], ev.Payload["status"].(string))
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	calls    map[string]int
	roles    map[domain.RoleStatus]int
	started  int
	finished []domain.RunStatus
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{calls: map[string]int{}, roles: map[domain.RoleStatus]int{}}
}

func (m *recordingMetrics) AgentCall(agent string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[agent]++
}

func (m *recordingMetrics) RoleFinished(status domain.RoleStatus, _ float64, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[status]++
}

func (m *recordingMetrics) RunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) RunFinished(status domain.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, status)
}

type recordingHistory struct {
	mu      sync.Mutex
	records []*domain.HistoryRecord
}

func (h *recordingHistory) AddHistory(rec *domain.HistoryRecord, _ int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}
