// Package pipeline drives prompt-suite runs: Analyze, then a bounded pool of
// per-role Generate/Review/Optimize loops, then Test and Assemble. Runs are
// checkpointed after every completed role so an interrupted run resumes
// with only its pending roles.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
	"github.com/hochfrequenz/prompt-factory/internal/llm"
	"github.com/hochfrequenz/prompt-factory/internal/notify"
	"github.com/hochfrequenz/prompt-factory/internal/suite"
)

const (
	DefaultMaxIterations = 3
	DefaultPassScore     = 8.0
	DefaultMaxParallel   = 3
	DefaultPausePoll     = 100 * time.Millisecond

	// DefaultReviewScore is used when a review produced no usable score.
	DefaultReviewScore = 7.0
)

var (
	// ErrRunNotFound is returned for run ids the service does not know.
	ErrRunNotFound = errors.New("run not found")
	// ErrNotResumable is returned by Resume when no resumable checkpoint exists.
	ErrNotResumable = errors.New("run is not resumable")
	// ErrNoRoster means the Analyze stage produced no usable role roster.
	ErrNoRoster = errors.New("analyze produced no role roster")
	// ErrNoRolesCompleted means every role failed.
	ErrNoRolesCompleted = errors.New("no role completed")
	// ErrRunCancelled is returned when a run ends because it was cancelled.
	ErrRunCancelled = errors.New("run cancelled")
	// ErrRunActive is returned when a run is already executing or has
	// already been started.
	ErrRunActive = errors.New("run already started")
)

// AgentCaller runs one agent call.
type AgentCaller interface {
	RunAgent(ctx context.Context, req llm.AgentRequest, onChunk llm.ChunkFunc) (string, error)
}

// Templates returns the system prompt of an agent.
type Templates interface {
	Get(agent string) (string, error)
}

// CheckpointStore persists run snapshots. LoadCheckpoint returns
// domain.ErrCheckpointNotFound for unknown runs.
type CheckpointStore interface {
	SaveCheckpoint(cp *domain.Checkpoint) error
	LoadCheckpoint(runID string) (*domain.Checkpoint, error)
	DeleteCheckpoint(runID string) error
	ListCheckpoints(resumableOnly bool) ([]domain.IncompleteRun, error)
}

// SuiteWriter persists role and suite artifacts. Failures are logged only.
type SuiteWriter interface {
	PrepareRun(runID, description string) (string, error)
	WriteRoleArtifact(runID string, index int, p domain.RolePrompt) (string, error)
	WriteFinalArtifact(runID string, data *suite.Data) (string, error)
}

// HistoryRecorder stores a record of every completed run.
type HistoryRecorder interface {
	AddHistory(rec *domain.HistoryRecord, limit int) error
}

// Metrics receives pipeline measurements.
type Metrics interface {
	AgentCall(agent string, d time.Duration, err error)
	RoleFinished(status domain.RoleStatus, score float64, iterations int, d time.Duration)
	RunStarted()
	RunFinished(status domain.RunStatus)
}

// Settings are the tunables of the review loop and the worker pool.
type Settings struct {
	MaxIterations int
	PassScore     float64
	MaxParallel   int
	PausePoll     time.Duration
	MaxTokens     int
	HistoryLimit  int
}

// DefaultSettings returns three iterations, pass score 8.0 and three workers.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: DefaultMaxIterations,
		PassScore:     DefaultPassScore,
		MaxParallel:   DefaultMaxParallel,
		PausePoll:     DefaultPausePoll,
		HistoryLimit:  100,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.PassScore <= 0 {
		s.PassScore = d.PassScore
	}
	if s.MaxParallel <= 0 {
		s.MaxParallel = d.MaxParallel
	}
	if s.PausePoll <= 0 {
		s.PausePoll = d.PausePoll
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	return s
}

// Service orchestrates pipeline runs.
type Service struct {
	agents      AgentCaller
	templates   Templates
	checkpoints *checkpointManager
	writer      SuiteWriter
	history     HistoryRecorder
	metrics     Metrics
	notifier    notify.Notifier
	bus         *events.Bus
	settings    Settings
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string

	mu   sync.RWMutex
	runs map[string]*run
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithSettings overrides the loop and pool settings. Zero fields keep
// their defaults.
func WithSettings(settings Settings) Option {
	return func(s *Service) {
		s.settings = settings.withDefaults()
	}
}

// WithSuiteWriter sets where role and suite artifacts are written.
func WithSuiteWriter(w SuiteWriter) Option {
	return func(s *Service) {
		s.writer = w
	}
}

// WithHistory records completed runs.
func WithHistory(h HistoryRecorder) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier sets the notifier for finished runs.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithBus shares an event bus with other components.
func WithBus(b *events.Bus) Option {
	return func(s *Service) {
		s.bus = b
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator sets how run ids are allocated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a pipeline service.
func NewService(agents AgentCaller, templates Templates, store CheckpointStore, opts ...Option) *Service {
	s := &Service{
		agents:      agents,
		templates:   templates,
		checkpoints: newCheckpointManager(store),
		metrics:     noopMetrics{},
		notifier:    notify.NoopNotifier{},
		bus:         events.NewBus(),
		settings:    DefaultSettings(),
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		runs:        make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the active settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// Bus returns the event bus runs publish to.
func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Start allocates a run for req and emits run_started. Execution begins
// with RunFull; Launch does both.
func (s *Service) Start(req domain.RunRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.PromptType == "" {
		req.PromptType = domain.DefaultPromptType
	}

	id := s.newID()
	r := newRun(id, req, s.bus.Reset(id), s.now())

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	s.logger.Info("Run started",
		"run_id", id,
		"prompt_type", req.PromptType,
		"model", req.Model)
	r.emit(domain.EventRunStarted, map[string]any{
		"description": req.Description,
		"prompt_type": req.PromptType,
		"model":       req.Model,
	})
	return id, nil
}

// Launch starts a run and executes it in the background. The run outlives
// ctx's cancellation.
func (s *Service) Launch(ctx context.Context, req domain.RunRequest) (string, error) {
	id, err := s.Start(req)
	if err != nil {
		return "", err
	}
	go s.RunFull(context.WithoutCancel(ctx), id, req.Parallel)
	return id, nil
}

// RunFull executes a started run to its end and returns the assembled
// suite. A cancelled run returns ErrRunCancelled.
func (s *Service) RunFull(ctx context.Context, runID string, parallel bool) (*domain.Suite, error) {
	r, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	switch r.status() {
	case domain.RunCancelled:
		return nil, ErrRunCancelled
	case domain.RunIdle, domain.RunPaused:
	default:
		return nil, ErrRunActive
	}
	if !r.begin() {
		return nil, ErrRunActive
	}
	if r.cancelled.Load() {
		// Cancel raced with begin; finishCancelled runs at most once.
		r.active.Store(false)
		return s.finishCancelled(r)
	}
	s.metrics.RunStarted()
	defer s.end(r)

	r.markRunning(s.now())
	if !r.waitIfPaused(ctx, s.settings.PausePoll) {
		return s.finishCancelled(r)
	}

	arch, err := s.analyze(ctx, r)
	if err != nil {
		if r.isCancelled(ctx) {
			return s.finishCancelled(r)
		}
		return s.fail(r, err)
	}
	r.setArchitecture(arch, s.now())
	s.prepareResultDir(r)
	s.saveCheckpoint(r)

	if r.isCancelled(ctx) {
		return s.finishCancelled(r)
	}

	pending := make([]int, len(arch.Roles))
	for i := range pending {
		pending[i] = i
	}
	return s.complete(ctx, r, pending, parallel)
}

// Resume continues a checkpointed run with its pending roles. Runs without
// a checkpoint, completed runs and cancelled runs return ErrNotResumable.
func (s *Service) Resume(ctx context.Context, runID string, parallel bool) (*domain.Suite, error) {
	r, pending, err := s.prepareResume(runID)
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, r, pending, parallel)
}

// Recover validates a checkpoint and resumes it in the background.
func (s *Service) Recover(ctx context.Context, runID string, parallel bool) error {
	r, pending, err := s.prepareResume(runID)
	if err != nil {
		return err
	}
	go s.resume(context.WithoutCancel(ctx), r, pending, parallel)
	return nil
}

func (s *Service) resume(ctx context.Context, r *run, pending []int, parallel bool) (*domain.Suite, error) {
	s.metrics.RunStarted()
	defer s.end(r)

	r.markRunning(s.now())
	return s.complete(ctx, r, pending, parallel)
}

// prepareResume rebuilds a run from its checkpoint and marks it active.
func (s *Service) prepareResume(runID string) (*run, []int, error) {
	cp, err := s.checkpoints.load(runID)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return nil, nil, ErrNotResumable
	}
	if err != nil {
		return nil, nil, err
	}
	if !cp.Status.Resumable() || cp.Architecture == nil || len(cp.Architecture.Roles) == 0 {
		return nil, nil, ErrNotResumable
	}

	s.mu.Lock()
	if old, ok := s.runs[runID]; ok && old.active.Load() {
		s.mu.Unlock()
		return nil, nil, ErrRunActive
	}
	r := runFromCheckpoint(cp, s.bus.Reset(runID), s.now())
	r.begin()
	s.runs[runID] = r
	s.mu.Unlock()

	s.prepareResultDir(r)

	pending := cp.PendingIndices()
	s.logger.Info("Run resumed from checkpoint",
		"run_id", runID,
		"completed", len(cp.RoleResults),
		"pending", len(pending))
	r.emit(domain.EventRunStarted, map[string]any{
		"description": cp.Description,
		"resumed":     true,
		"completed":   len(cp.RoleResults),
		"pending":     len(pending),
	})
	return r, pending, nil
}

// Pause stops new roles from being dispatched until ResumeRun. In-flight
// agent calls are not interrupted.
func (s *Service) Pause(runID string) error {
	r, err := s.lookup(runID)
	if err != nil {
		return err
	}
	if r.status().IsTerminal() {
		return nil
	}
	if r.paused.CompareAndSwap(false, true) {
		r.setStatus(domain.RunPaused, s.now())
		s.logger.Info("Run paused", "run_id", runID)
		r.emit(domain.EventRunPaused, nil)
	}
	return nil
}

// ResumeRun clears a pause.
func (s *Service) ResumeRun(runID string) error {
	r, err := s.lookup(runID)
	if err != nil {
		return err
	}
	if r.status().IsTerminal() {
		return nil
	}
	if r.paused.CompareAndSwap(true, false) {
		status := domain.RunIdle
		if r.active.Load() {
			status = domain.RunRunning
		}
		r.setStatus(status, s.now())
		s.logger.Info("Run resumed", "run_id", runID)
		r.emit(domain.EventRunResumed, nil)
	}
	return nil
}

// Cancel stops the run cooperatively: no new role or iteration starts,
// in-flight agent calls finish. Cancellation is terminal.
func (s *Service) Cancel(runID string) error {
	r, err := s.lookup(runID)
	if err != nil {
		return err
	}
	if r.status().IsTerminal() {
		return nil
	}
	if !r.cancelled.CompareAndSwap(false, true) {
		return nil
	}
	r.paused.Store(false)
	s.logger.Warn("Run cancel requested", "run_id", runID)

	// Without a driving goroutine nobody else will observe the flag.
	if !r.active.Load() {
		s.finishCancelled(r)
	}
	return nil
}

// State returns a snapshot of a run.
func (s *Service) State(runID string) (*domain.RunState, error) {
	r, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// Runs returns snapshots of every run in memory, oldest first.
func (s *Service) Runs() []*domain.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.RunState, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.snapshot())
	}
	sortStates(out)
	return out
}

// Events returns the event stream of a run.
func (s *Service) Events(runID string) (*events.Stream, error) {
	if _, err := s.lookup(runID); err != nil {
		return nil, err
	}
	stream, ok := s.bus.Get(runID)
	if !ok {
		return nil, ErrRunNotFound
	}
	return stream, nil
}

// ListIncomplete returns the checkpointed runs that can be resumed.
func (s *Service) ListIncomplete() ([]domain.IncompleteRun, error) {
	return s.checkpoints.list()
}

// PruneRuns drops finished runs older than olderThan from memory and
// returns how many were removed.
func (s *Service) PruneRuns(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.runs {
		if r.active.Load() {
			continue
		}
		st := r.snapshot()
		if st.Status.IsTerminal() && st.UpdatedAt.Before(cutoff) {
			delete(s.runs, id)
			s.bus.Remove(id)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("Pruned finished runs", "count", n)
	}
	return n
}

func (s *Service) lookup(runID string) (*run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

func (s *Service) prepareResultDir(r *run) {
	if s.writer == nil {
		return
	}
	dir, err := s.writer.PrepareRun(r.id, r.req.Description)
	if err != nil {
		s.logger.Error("Failed to prepare result dir", "run_id", r.id, "error", err)
		return
	}
	r.update(func(st *domain.RunState) { st.ResultDir = dir })
}

// end records the run outcome once the driving goroutine returns.
func (s *Service) end(r *run) {
	s.metrics.RunFinished(r.status())
	r.active.Store(false)
}

type noopMetrics struct{}

func (noopMetrics) AgentCall(string, time.Duration, error) {}

func (noopMetrics) RoleFinished(domain.RoleStatus, float64, int, time.Duration) {}

func (noopMetrics) RunStarted() {}

func (noopMetrics) RunFinished(domain.RunStatus) {}
