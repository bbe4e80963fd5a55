package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
	"github.com/hochfrequenz/prompt-factory/internal/observer"
	"github.com/hochfrequenz/prompt-factory/internal/pipeline"
	"github.com/hochfrequenz/prompt-factory/internal/suite"
)

type mockPipeline struct {
	mu         sync.Mutex
	bus        *events.Bus
	runs       map[string]*domain.RunState
	launched   []domain.RunRequest
	actions    []string
	recovered  map[string]bool
	incomplete []domain.IncompleteRun
}

func newMockPipeline() *mockPipeline {
	return &mockPipeline{
		bus:       events.NewBus(),
		runs:      make(map[string]*domain.RunState),
		recovered: make(map[string]bool),
	}
}

func (m *mockPipeline) add(id string, status domain.RunStatus) *events.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id] = &domain.RunState{ID: id, Status: status, Description: "desc " + id}
	return m.bus.Open(id)
}

func (m *mockPipeline) Launch(_ context.Context, req domain.RunRequest) (string, error) {
	m.mu.Lock()
	m.launched = append(m.launched, req)
	m.mu.Unlock()
	m.add("run-1", domain.RunRunning)
	return "run-1", nil
}

func (m *mockPipeline) action(name, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return pipeline.ErrRunNotFound
	}
	m.actions = append(m.actions, name+":"+runID)
	return nil
}

func (m *mockPipeline) Pause(runID string) error     { return m.action("pause", runID) }
func (m *mockPipeline) ResumeRun(runID string) error { return m.action("resume", runID) }
func (m *mockPipeline) Cancel(runID string) error    { return m.action("cancel", runID) }

func (m *mockPipeline) Recover(_ context.Context, runID string, parallel bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inc := range m.incomplete {
		if inc.RunID == runID {
			m.recovered[runID] = parallel
			return nil
		}
	}
	return pipeline.ErrNotResumable
}

func (m *mockPipeline) State(runID string) (*domain.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.runs[runID]
	if !ok {
		return nil, pipeline.ErrRunNotFound
	}
	return st, nil
}

func (m *mockPipeline) Runs() []*domain.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RunState
	for _, st := range m.runs {
		out = append(out, st)
	}
	return out
}

func (m *mockPipeline) Events(runID string) (*events.Stream, error) {
	s, ok := m.bus.Get(runID)
	if !ok {
		return nil, pipeline.ErrRunNotFound
	}
	return s, nil
}

func (m *mockPipeline) ListIncomplete() ([]domain.IncompleteRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incomplete, nil
}

type mockSuites struct {
	data map[string]*suite.Data
}

func (m *mockSuites) List() ([]suite.Summary, error) {
	var out []suite.Summary
	for name, d := range m.data {
		out = append(out, suite.Summary{Name: name, RolesCount: d.Suite.TotalRoles})
	}
	return out, nil
}

func (m *mockSuites) Get(name string) (*suite.Data, error) {
	d, ok := m.data[name]
	if !ok {
		return nil, suite.ErrSuiteNotFound
	}
	return d, nil
}

type mockHistory struct {
	records []*domain.HistoryRecord
	cleared bool
}

func (m *mockHistory) ListHistory() ([]*domain.HistoryRecord, error) {
	return m.records, nil
}

func (m *mockHistory) DeleteHistory(id string) (bool, error) {
	for i, r := range m.records {
		if r.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockHistory) ClearHistory() error {
	m.records = nil
	m.cleared = true
	return nil
}

func newTestServer(p *mockPipeline, opts ...Option) *Server {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithHeartbeat(20 * time.Millisecond),
	}
	return NewServer(p, ":0", append(base, opts...)...)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestStartHandler(t *testing.T) {
	p := newMockPipeline()
	server := newTestServer(p, WithDefaultParallel(false))

	w := do(t, server, http.MethodPost, "/api/pipeline/start",
		`{"description": "customer support triage", "model": "gpt-4o", "max_parallel": 2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp RunResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", resp.RunID)
	}

	if len(p.launched) != 1 {
		t.Fatalf("launched = %d, want 1", len(p.launched))
	}
	req := p.launched[0]
	if req.Parallel {
		t.Error("Parallel = true, want server default false")
	}
	if req.MaxParallel != 2 {
		t.Errorf("MaxParallel = %d, want 2", req.MaxParallel)
	}
}

func TestStartHandler_Rejects(t *testing.T) {
	server := newTestServer(newMockPipeline())

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"empty description", http.MethodPost, `{"description": "  "}`, http.StatusBadRequest},
		{"negative parallelism", http.MethodPost, `{"description": "x", "max_parallel": -1}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, tt.method, "/api/pipeline/start", tt.body)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestControlHandlers(t *testing.T) {
	p := newMockPipeline()
	p.add("abc", domain.RunRunning)
	server := newTestServer(p)

	for _, path := range []string{"/api/pipeline/pause", "/api/pipeline/resume", "/api/pipeline/cancel"} {
		w := do(t, server, http.MethodPost, path, `{"run_id": "abc"}`)
		if w.Code != http.StatusOK {
			t.Errorf("%s: Status = %d, want 200", path, w.Code)
		}
	}
	want := []string{"pause:abc", "resume:abc", "cancel:abc"}
	if strings.Join(p.actions, ",") != strings.Join(want, ",") {
		t.Errorf("actions = %v, want %v", p.actions, want)
	}

	if w := do(t, server, http.MethodPost, "/api/pipeline/pause", `{"run_id": "nope"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown run: Status = %d, want 404", w.Code)
	}
	if w := do(t, server, http.MethodPost, "/api/pipeline/cancel", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing run_id: Status = %d, want 400", w.Code)
	}
}

func TestRecoverHandler(t *testing.T) {
	p := newMockPipeline()
	p.incomplete = []domain.IncompleteRun{{RunID: "old", Status: domain.RunRunning, CompletedRoles: 2, TotalRoles: 4}}
	server := newTestServer(p)

	w := do(t, server, http.MethodPost, "/api/pipeline/recover", `{"run_id": "old", "parallel": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if parallel, ok := p.recovered["old"]; !ok || parallel {
		t.Errorf("recovered = %v, want old with parallel=false", p.recovered)
	}

	w = do(t, server, http.MethodPost, "/api/pipeline/recover", `{"run_id": "other"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("not resumable: Status = %d, want 409", w.Code)
	}

	w = do(t, server, http.MethodGet, "/api/pipeline/incomplete", "")
	var runs []domain.IncompleteRun
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].CompletedRoles != 2 {
		t.Errorf("incomplete = %+v", runs)
	}
}

func TestStateHandler(t *testing.T) {
	p := newMockPipeline()
	p.add("a", domain.RunCompleted)
	p.add("b", domain.RunPaused)
	server := newTestServer(p)

	w := do(t, server, http.MethodGet, "/api/pipeline/state?run_id=b", "")
	var st domain.RunState
	json.NewDecoder(w.Body).Decode(&st)
	if st.Status != domain.RunPaused {
		t.Errorf("Status = %q, want paused", st.Status)
	}

	w = do(t, server, http.MethodGet, "/api/pipeline/state", "")
	var all []domain.RunState
	json.NewDecoder(w.Body).Decode(&all)
	if len(all) != 2 {
		t.Errorf("runs = %d, want 2", len(all))
	}

	if w := do(t, server, http.MethodGet, "/api/pipeline/state?run_id=zzz", ""); w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestSSEHandler(t *testing.T) {
	p := newMockPipeline()
	stream := p.add("run-1", domain.RunRunning)
	server := newTestServer(p)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/pipeline/stream?run_id=run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	go func() {
		time.Sleep(60 * time.Millisecond)
		stream.Publish(domain.EventRoleStatus, map[string]any{"role_index": 0, "status": "generating"})
		stream.Publish(domain.EventRunCompleted, map[string]any{"total_roles": 1})
	}()

	// The handler returns after the terminal event, which ends the body.
	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		}
	}

	if len(kinds) < 4 {
		t.Fatalf("events = %v, want connected, heartbeat, role_status, run_completed", kinds)
	}
	if kinds[0] != "connected" {
		t.Errorf("first event = %q, want connected", kinds[0])
	}
	if kinds[1] != "heartbeat" {
		t.Errorf("second event = %q, want heartbeat", kinds[1])
	}
	if last := kinds[len(kinds)-1]; last != "run_completed" {
		t.Errorf("last event = %q, want run_completed", last)
	}
}

func TestSSEHandler_Cursor(t *testing.T) {
	p := newMockPipeline()
	stream := p.add("run-1", domain.RunCompleted)
	stream.Publish(domain.EventRunStarted, nil)
	stream.Publish(domain.EventStageChanged, map[string]any{"stage": 1})
	stream.Publish(domain.EventRunCompleted, nil)
	server := newTestServer(p)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/pipeline/stream?run_id=run-1", nil)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if bytes.Contains(body, []byte("event: run_started")) {
		t.Error("events before the cursor were replayed")
	}
	if !bytes.Contains(body, []byte("id: 2\nevent: stage_changed")) {
		t.Errorf("missing stage_changed in %s", body)
	}
}

func TestSSEHandler_UnknownRun(t *testing.T) {
	server := newTestServer(newMockPipeline())
	if w := do(t, server, http.MethodGet, "/api/pipeline/stream?run_id=x", ""); w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
	if w := do(t, server, http.MethodGet, "/api/pipeline/stream", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestWSHandler(t *testing.T) {
	p := newMockPipeline()
	stream := p.add("run-1", domain.RunRunning)
	stream.Publish(domain.EventRunStarted, nil)
	server := newTestServer(p)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/pipeline/ws?run_id=run-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	stream.Publish(domain.EventRunCancelled, map[string]any{"completed_roles": 0})

	var kinds []domain.EventKind
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev domain.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		if ev.Kind != domain.EventHeartbeat {
			kinds = append(kinds, ev.Kind)
		}
	}

	want := []domain.EventKind{domain.EventRunStarted, domain.EventRunCancelled}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestSuiteHandlers(t *testing.T) {
	suites := &mockSuites{data: map[string]*suite.Data{
		"triage_2026-03-14": {RunID: "r1", Suite: &domain.Suite{SystemName: "Triage", TotalRoles: 3}},
	}}
	server := newTestServer(newMockPipeline(), WithSuites(suites))

	w := do(t, server, http.MethodGet, "/api/suites", "")
	var list []suite.Summary
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 || list[0].RolesCount != 3 {
		t.Errorf("list = %+v", list)
	}

	w = do(t, server, http.MethodGet, "/api/suites/triage_2026-03-14", "")
	var data suite.Data
	json.NewDecoder(w.Body).Decode(&data)
	if data.Suite == nil || data.Suite.SystemName != "Triage" {
		t.Errorf("suite = %+v", data)
	}

	if w := do(t, server, http.MethodGet, "/api/suites/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestHistoryHandlers(t *testing.T) {
	history := &mockHistory{records: []*domain.HistoryRecord{
		{ID: "h1", RunID: "r1", SystemName: "Triage"},
		{ID: "h2", RunID: "r2", SystemName: "Writer"},
	}}
	server := newTestServer(newMockPipeline(), WithHistory(history))

	w := do(t, server, http.MethodGet, "/api/history", "")
	var recs []domain.HistoryRecord
	json.NewDecoder(w.Body).Decode(&recs)
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}

	if w := do(t, server, http.MethodDelete, "/api/history/h1", ""); w.Code != http.StatusOK {
		t.Errorf("delete: Status = %d, want 200", w.Code)
	}
	if w := do(t, server, http.MethodDelete, "/api/history/h1", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: Status = %d, want 404", w.Code)
	}
	if w := do(t, server, http.MethodDelete, "/api/history", ""); w.Code != http.StatusOK || !history.cleared {
		t.Errorf("clear: Status = %d, cleared = %v", w.Code, history.cleared)
	}
}

func TestMetricsHandlers(t *testing.T) {
	obs := observer.New(time.Minute)
	obs.RunStarted()
	obs.AgentCall("generator", time.Second, nil)
	server := newTestServer(newMockPipeline(), WithMetrics(obs))

	w := do(t, server, http.MethodGet, "/api/metrics", "")
	var m observer.Metrics
	json.NewDecoder(w.Body).Decode(&m)
	if m.ActiveRuns != 1 {
		t.Errorf("ActiveRuns = %d, want 1", m.ActiveRuns)
	}
	if m.AgentCalls["generator"] != 1 {
		t.Errorf("AgentCalls = %v", m.AgentCalls)
	}

	w = do(t, server, http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "prompt_factory_agent_calls_total") {
		t.Error("prometheus output missing agent_calls_total")
	}
}
