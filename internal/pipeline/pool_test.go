package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/llm"
	"github.com/hochfrequenz/prompt-factory/internal/llm/llmtest"
	"github.com/hochfrequenz/prompt-factory/internal/notify"
)

// blockedPool fills both worker slots with roles A and B, which wait on
// release. Role C is queued behind them.
type blockedPool struct {
	mock    *llmtest.MockCaller
	svc     *Service
	store   *memStore
	id      string
	arrived atomic.Int32
	release chan struct{}
	done    chan error
}

func newBlockedPool(t *testing.T) *blockedPool {
	t.Helper()
	mock := happyMock("A", "B", "C")
	st := newMemStore()
	svc := newTestService(t, mock, st)

	p := &blockedPool{
		mock:    mock,
		svc:     svc,
		store:   st,
		release: make(chan struct{}),
		done:    make(chan error, 1),
	}
	mock.Handlers[string(domain.AgentGenerator)] = func(req llm.AgentRequest) (string, error) {
		if name := roleName(req); name == "A" || name == "B" {
			p.arrived.Add(1)
			<-p.release
		}
		return generator(req)
	}

	p.id = startRun(t, svc, request(true, 2))
	t.Cleanup(p.unblock)
	go func() {
		_, err := svc.RunFull(context.Background(), p.id, true)
		p.done <- err
	}()

	require.Eventually(t, func() bool { return p.arrived.Load() == 2 }, 2*time.Second, time.Millisecond)
	// Give the driver time to block on the third slot.
	time.Sleep(20 * time.Millisecond)
	return p
}

func (p *blockedPool) unblock() {
	select {
	case <-p.release:
	default:
		close(p.release)
	}
}

func (p *blockedPool) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func TestPool_PauseHoldsQueuedRole(t *testing.T) {
	p := newBlockedPool(t)
	mock := p.mock
	require.NoError(t, p.svc.Pause(p.id))
	p.unblock()

	require.Eventually(t, func() bool {
		state, _ := p.svc.State(p.id)
		return state.CompletedRoles() == 2
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, mock.CallCount(string(domain.AgentGenerator)), "no role starts while paused")
	state, _ := p.svc.State(p.id)
	assert.Equal(t, domain.RunPaused, state.Status)
	assert.Equal(t, domain.RolePending, state.Roles[2].Status)

	require.NoError(t, p.svc.ResumeRun(p.id))
	require.NoError(t, p.wait(t))

	assert.Equal(t, 3, mock.CallCount(string(domain.AgentGenerator)))
	state, _ = p.svc.State(p.id)
	assert.Equal(t, domain.RunCompleted, state.Status)
	assert.Equal(t, 3, state.CompletedRoles())
}

func TestPool_CancelSkipsQueuedRole(t *testing.T) {
	p := newBlockedPool(t)
	mock := p.mock
	require.NoError(t, p.svc.Cancel(p.id))
	p.unblock()
	require.ErrorIs(t, p.wait(t), ErrRunCancelled)

	assert.Equal(t, 2, mock.CallCount(string(domain.AgentGenerator)))
	assert.Equal(t, 0, mock.CallCount(string(domain.AgentReviewer)))

	state, _ := p.svc.State(p.id)
	assert.Equal(t, domain.RunCancelled, state.Status)
	for _, role := range state.Roles {
		assert.Equal(t, domain.RolePending, role.Status, "role %s", role.RoleName)
		assert.Empty(t, role.Prompt)
	}

	cp, ok := p.store.get(p.id)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2}, cp.PendingIndices())

	stream, _ := p.svc.Events(p.id)
	cancelled := 0
	for _, ev := range stream.Since(0) {
		if ev.Kind == domain.EventRunCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestPool_CancelWhilePaused(t *testing.T) {
	p := newBlockedPool(t)
	mock := p.mock
	require.NoError(t, p.svc.Pause(p.id))
	p.unblock()
	require.Eventually(t, func() bool {
		state, _ := p.svc.State(p.id)
		return state.CompletedRoles() == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.svc.Cancel(p.id))
	require.ErrorIs(t, p.wait(t), ErrRunCancelled)

	assert.Equal(t, 2, mock.CallCount(string(domain.AgentGenerator)))
	state, _ := p.svc.State(p.id)
	assert.Equal(t, domain.RunCancelled, state.Status)
	assert.Equal(t, 2, state.CompletedRoles())
	assert.Equal(t, domain.RolePending, state.Roles[2].Status)
}

type countingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *countingNotifier) Send(n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// Cancel sets the flag, sees no driver yet and finishes the run itself,
// while RunFull begins in between.
func TestRunFull_CancelRacingBegin(t *testing.T) {
	mock := happyMock("A")
	metrics := newRecordingMetrics()
	notifier := &countingNotifier{}
	svc := newTestService(t, mock, newMemStore(), WithMetrics(metrics), WithNotifier(notifier))
	id := startRun(t, svc, request(false, 0))

	r, err := svc.lookup(id)
	require.NoError(t, err)
	r.cancelled.Store(true)

	_, err = svc.RunFull(context.Background(), id, false)
	require.ErrorIs(t, err, ErrRunCancelled)
	_, err = svc.finishCancelled(r)
	require.ErrorIs(t, err, ErrRunCancelled)

	state, _ := svc.State(id)
	assert.Equal(t, domain.RunCancelled, state.Status)
	assert.False(t, r.active.Load())
	assert.Equal(t, 0, mock.CallCount(""))
	assert.Equal(t, 1, notifier.count(), "one notification per run")
	assert.Equal(t, 0, metrics.started)
	assert.Empty(t, metrics.finished)
}

func TestRun_MarkRunningAfterCancel(t *testing.T) {
	r := newRun("run-1", request(false, 0), nil, time.Now())
	r.setStatus(domain.RunCancelled, time.Now())
	r.markRunning(time.Now())
	assert.Equal(t, domain.RunCancelled, r.status())

	r = newRun("run-2", request(false, 0), nil, time.Now())
	r.cancelled.Store(true)
	r.markRunning(time.Now())
	assert.Equal(t, domain.RunIdle, r.status())

	r = newRun("run-3", request(false, 0), nil, time.Now())
	r.paused.Store(true)
	r.markRunning(time.Now())
	assert.Equal(t, domain.RunPaused, r.status())
}
