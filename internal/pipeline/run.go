package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
)

// run is the live state of one pipeline run. Workers only write their own
// role through setRole; everything else goes through update.
type run struct {
	id     string
	req    domain.RunRequest
	stream *events.Stream

	paused    atomic.Bool
	cancelled atomic.Bool
	active    atomic.Bool // a goroutine is driving the run

	mu        sync.Mutex
	state     *domain.RunState
	completed map[int]domain.CheckpointRole
}

func newRun(id string, req domain.RunRequest, stream *events.Stream, now time.Time) *run {
	return &run{
		id:        id,
		req:       req,
		stream:    stream,
		state:     domain.NewRunState(id, req, now),
		completed: make(map[int]domain.CheckpointRole),
	}
}

// runFromCheckpoint rebuilds a run with the checkpoint's completed roles
// already accepted.
func runFromCheckpoint(cp *domain.Checkpoint, stream *events.Stream, now time.Time) *run {
	req := domain.RunRequest{
		Description: cp.Description,
		PromptType:  cp.PromptType,
		Model:       cp.Model,
	}
	r := newRun(cp.RunID, req, stream, now)
	r.state.CreatedAt = cp.CreatedAt
	r.state.Stage = cp.Stage
	r.state.Architecture = cp.Architecture
	r.state.TestResult = cp.TestResult
	r.state.Roles = domain.NewRoleRuns(cp.Architecture.Roles)

	for idx, res := range cp.RoleResults {
		if idx < 0 || idx >= len(r.state.Roles) {
			continue
		}
		r.completed[idx] = res
		role := &r.state.Roles[idx]
		role.Status = domain.RoleCompleted
		role.Prompt = res.Prompt.Prompt
		role.FinalScore = res.FinalScore
		role.Iterations = res.Iterations
	}
	return r
}

func (r *run) begin() bool {
	return r.active.CompareAndSwap(false, true)
}

func (r *run) isCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		r.cancelled.Store(true)
	}
	return r.cancelled.Load()
}

// waitIfPaused blocks while the run is paused. It returns false when the
// run was cancelled.
func (r *run) waitIfPaused(ctx context.Context, poll time.Duration) bool {
	for r.paused.Load() && !r.isCancelled(ctx) {
		select {
		case <-time.After(poll):
		case <-ctx.Done():
		}
	}
	return !r.isCancelled(ctx)
}

func (r *run) emit(kind domain.EventKind, payload map[string]any) {
	r.stream.Publish(kind, payload)
}

func (r *run) update(fn func(*domain.RunState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

func (r *run) setRole(idx int, now time.Time, fn func(*domain.RoleRun)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.state.Roles) {
		return
	}
	fn(&r.state.Roles[idx])
	r.state.UpdatedAt = now
}

func (r *run) status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Status
}

func (r *run) setStatus(status domain.RunStatus, now time.Time) {
	r.update(func(st *domain.RunState) {
		st.Status = status
		st.UpdatedAt = now
	})
}

// markRunning is a no-op once the run was cancelled.
func (r *run) markRunning(now time.Time) {
	r.update(func(st *domain.RunState) {
		if r.cancelled.Load() || st.Status.IsTerminal() {
			return
		}
		st.Status = domain.RunRunning
		if r.paused.Load() {
			st.Status = domain.RunPaused
		}
		st.UpdatedAt = now
	})
}

// setStage moves the run forward to stage and emits stage_changed. Moving
// backwards or to the current stage is a no-op.
func (r *run) setStage(stage domain.Stage, now time.Time) {
	r.mu.Lock()
	if r.state.Stage >= stage {
		r.mu.Unlock()
		return
	}
	r.state.Stage = stage
	r.state.UpdatedAt = now
	r.mu.Unlock()

	r.emit(domain.EventStageChanged, map[string]any{
		"stage": int(stage),
		"name":  stage.String(),
	})
}

func (r *run) setArchitecture(arch *domain.SystemArchitecture, now time.Time) {
	r.update(func(st *domain.RunState) {
		st.Architecture = arch
		st.Roles = domain.NewRoleRuns(arch.Roles)
		st.UpdatedAt = now
	})
}

func (r *run) architecture() *domain.SystemArchitecture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Architecture
}

// accept records a completed role.
func (r *run) accept(idx int, res domain.CheckpointRole, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed[idx] = res
	if idx >= 0 && idx < len(r.state.Roles) {
		role := &r.state.Roles[idx]
		role.Status = domain.RoleCompleted
		role.Prompt = res.Prompt.Prompt
		role.FinalScore = res.FinalScore
		role.Iterations = res.Iterations
		role.Error = ""
	}
	r.state.UpdatedAt = now
}

// acceptedPrompts returns the completed prompts in roster order and their
// average score.
func (r *run) acceptedPrompts() ([]domain.RolePrompt, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := make([]int, 0, len(r.completed))
	for i := range r.completed {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	prompts := make([]domain.RolePrompt, 0, len(idx))
	var total float64
	for _, i := range idx {
		res := r.completed[i]
		prompts = append(prompts, res.Prompt)
		total += res.FinalScore
	}
	if len(prompts) == 0 {
		return prompts, 0
	}
	return prompts, total / float64(len(prompts))
}

func (r *run) snapshot() *domain.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// checkpoint builds the durable snapshot of the run.
func (r *run) checkpoint(now time.Time) *domain.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state
	results := make(map[int]domain.CheckpointRole, len(r.completed))
	for k, v := range r.completed {
		results[k] = v
	}
	return &domain.Checkpoint{
		RunID:        st.ID,
		Status:       st.Status,
		Description:  st.Description,
		PromptType:   st.PromptType,
		Model:        st.Model,
		Stage:        st.Stage,
		TotalRoles:   len(st.Roles),
		Architecture: st.Architecture,
		RoleResults:  results,
		TestResult:   st.TestResult,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    now,
	}
}

func sortStates(states []*domain.RunState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
}
