// Package llmtest provides a scripted agent caller for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/hochfrequenz/prompt-factory/internal/llm"
)

// Handler produces the response for one agent call.
type Handler func(req llm.AgentRequest) (string, error)

// MockCaller is a thread-safe scripted stand-in for llm.Client.
//
// Usage:
//
//	mock := &llmtest.MockCaller{
//	    Handlers: map[string]llmtest.Handler{
//	        "analyzer": llmtest.Respond(`{"roles": [...]}`),
//	        "reviewer": llmtest.Respond(`{"score": 9}`),
//	    },
//	}
type MockCaller struct {
	mu sync.Mutex

	// Handlers maps an agent name to its handler. Agents without a handler
	// get an empty response.
	Handlers map[string]Handler

	// OnCall runs before the handler, outside the lock.
	OnCall func(req llm.AgentRequest)

	calls []llm.AgentRequest
}

// RunAgent implements the pipeline's agent caller.
func (m *MockCaller) RunAgent(ctx context.Context, req llm.AgentRequest, onChunk llm.ChunkFunc) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	h := m.Handlers[req.Agent]
	hook := m.OnCall
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if h == nil {
		return "", nil
	}

	out, err := h(req)
	if err != nil {
		return "", err
	}
	if req.Stream && onChunk != nil && out != "" {
		onChunk(out)
	}
	return out, nil
}

// Calls returns a copy of every request received so far.
func (m *MockCaller) Calls() []llm.AgentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.AgentRequest(nil), m.calls...)
}

// CallCount returns the number of calls, optionally filtered by agent.
func (m *MockCaller) CallCount(agent string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Agent == agent {
			n++
		}
	}
	return n
}

// Respond returns a handler that always answers with out.
func Respond(out string) Handler {
	return func(llm.AgentRequest) (string, error) { return out, nil }
}

// Fail returns a handler that always fails with err.
func Fail(err error) Handler {
	return func(llm.AgentRequest) (string, error) { return "", err }
}

// Sequence returns a handler that answers with each output in turn and
// repeats the last one once exhausted.
func Sequence(outs ...string) Handler {
	var mu sync.Mutex
	i := 0
	return func(llm.AgentRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(outs) == 0 {
			return "", nil
		}
		out := outs[i]
		if i < len(outs)-1 {
			i++
		}
		return out, nil
	}
}
