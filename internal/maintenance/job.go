package maintenance

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the persistence the job cleans up.
type Store interface {
	PruneCheckpoints(cutoff time.Time) (int, error)
	TrimHistory(limit int) (int, error)
}

// RunPruner evicts finished runs from memory.
type RunPruner interface {
	PruneRuns(olderThan time.Duration) int
}

// Report counts what one cleanup pass removed
type Report struct {
	Checkpoints int
	History     int
	Runs        int
}

// Job performs cleanup passes on a cron schedule
type Job struct {
	cfg    Config
	store  Store
	runs   RunPruner
	logger *slog.Logger
	now    func() time.Time

	cron    *cron.Cron
	entry   cron.EntryID
	mu      sync.Mutex
	lastRun time.Time
	last    Report
}

// Option configures a Job.
type Option func(*Job)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

// WithClock sets the time source used for cutoffs.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		j.now = now
	}
}

// NewJob creates a cleanup job. runs may be nil.
func NewJob(cfg Config, store Store, runs RunPruner, opts ...Option) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	j := &Job{
		cfg:    cfg,
		store:  store,
		runs:   runs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// RunOnce performs one cleanup pass. Every step runs even when an earlier
// one fails; the errors are joined.
func (j *Job) RunOnce() (Report, error) {
	var rep Report
	var errs []error

	cutoff := j.now().Add(-j.cfg.CheckpointTTL)
	n, err := j.store.PruneCheckpoints(cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune checkpoints: %w", err))
	}
	rep.Checkpoints = n

	n, err = j.store.TrimHistory(j.cfg.HistoryLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("trim history: %w", err))
	}
	rep.History = n

	if j.runs != nil {
		rep.Runs = j.runs.PruneRuns(j.cfg.RunTTL)
	}

	j.mu.Lock()
	j.lastRun = j.now()
	j.last = rep
	j.mu.Unlock()

	err = errors.Join(errs...)
	if err != nil {
		j.logger.Error("Maintenance failed", "error", err)
	} else {
		j.logger.Info("Maintenance completed",
			"checkpoints", rep.Checkpoints,
			"history", rep.History,
			"runs", rep.Runs)
	}
	return rep, err
}

// Start schedules the job. Overlapping passes are skipped.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return nil
	}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := c.AddFunc(j.cfg.Cron, func() { j.RunOnce() })
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	j.cron = c
	j.entry = id
	c.Start()

	j.logger.Info("Maintenance scheduled", "cron", j.cfg.Cron)
	return nil
}

// Stop stops the schedule and waits for a running pass to finish
func (j *Job) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// NextRun returns the next scheduled pass, or the zero time when stopped
func (j *Job) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron == nil {
		return time.Time{}
	}
	return j.cron.Entry(j.entry).Next
}

// LastRun returns the time and report of the most recent pass
func (j *Job) LastRun() (time.Time, Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.last
}
