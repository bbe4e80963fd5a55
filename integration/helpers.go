//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

// writeConfig writes a config pointing every path below dir and the LLM
// endpoint at baseURL.
func writeConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	path := TempConfigPath(t)

	config := `[general]
data_dir = "` + dir + `"
database_path = "` + filepath.Join(dir, "factory.db") + `"
result_dir = "` + filepath.Join(dir, "results") + `"
log_level = "error"

[pipeline]
max_iterations = 2
pass_score = 8.0
max_parallel = 2
parallel = true
pause_poll_ms = 10

[llm]
base_url = "` + baseURL + `"
api_key_env = "PROMPT_FACTORY_TEST_KEY"
model = "test-model"
stream = true
max_retries = 1

[prompts]
language = "en"
watch = false

[maintenance]
cron = "0 * * * *"
`
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

var rolePattern = regexp.MustCompile(`Write the complete prompt for "([^"]+)"`)

// fakeLLM is an OpenAI-compatible chat completion endpoint that answers
// each pipeline agent by recognizing its user message.
type fakeLLM struct {
	roles []string

	mu        sync.Mutex
	calls     map[string]int
	failRoles bool
}

func newFakeLLM(roles ...string) *fakeLLM {
	return &fakeLLM{roles: roles, calls: make(map[string]int)}
}

// setFailRoles makes every generator call fail with a server error.
func (f *fakeLLM) setFailRoles(fail bool) {
	f.mu.Lock()
	f.failRoles = fail
	f.mu.Unlock()
}

func (f *fakeLLM) callCount(agent string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[agent]
}

func (f *fakeLLM) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeLLM) serve(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) < 2 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user := req.Messages[len(req.Messages)-1].Content
	agent, answer := f.answer(user)

	f.mu.Lock()
	f.calls[agent]++
	fail := f.failRoles && agent == "generator"
	f.mu.Unlock()

	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "model refused", "type": "invalid_request_error"}}`)
		return
	}

	if req.Stream {
		writeStream(w, answer)
		return
	}
	writeCompletion(w, answer)
}

func (f *fakeLLM) answer(user string) (agent, out string) {
	switch {
	case strings.HasPrefix(user, "Requirement:"):
		return "analyzer", f.roster()
	case rolePattern.MatchString(user):
		name := rolePattern.FindStringSubmatch(user)[1]
		raw, _ := json.Marshal(map[string]any{
			"prompt":         "You are the " + name + " of the triage desk.",
			"input_template": "{{ticket}}",
			"triggers":       []string{"new ticket"},
		})
		return "generator", "```json\n" + string(raw) + "\n```"
	case strings.HasPrefix(user, "## Role prompt under review"):
		return "reviewer", `{"score": 9, "strengths": ["focused"], "weaknesses": [], "suggestions": []}`
	case strings.HasPrefix(user, "## Original role prompt"):
		return "optimizer", `{"prompt": "optimized"}`
	case strings.HasPrefix(user, "Write a test report"):
		return "tester", `{"summary": {"total_tests": 2, "passed": 2, "failed": 0, "pass_rate": 1.0, "verdict": "ready"}}`
	}
	return "unknown", ""
}

func (f *fakeLLM) roster() string {
	roles := make([]map[string]any, len(f.roles))
	for i, n := range f.roles {
		roles[i] = map[string]any{
			"id":          fmt.Sprintf("role_%d", i+1),
			"name":        n,
			"type":        "core",
			"description": n + " duties",
		}
	}
	raw, _ := json.Marshal(map[string]any{
		"system_name": "Triage Desk",
		"workflow":    map[string]any{"description": "intake to answer"},
		"roles":       roles,
	})
	return "Analysis follows.\n```json\n" + string(raw) + "\n```"
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "cmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

// writeStream sends content as two SSE chunks.
func writeStream(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	half := len(content) / 2
	for _, c := range []string{content[:half], content[half:]} {
		data, _ := json.Marshal(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion.chunk",
			"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]string{"content": c},
			}},
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}
