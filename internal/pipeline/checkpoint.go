package pipeline

import (
	"sync"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// checkpointManager serializes checkpoint writes per run. Different runs
// write independently.
type checkpointManager struct {
	store CheckpointStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCheckpointManager(store CheckpointStore) *checkpointManager {
	return &checkpointManager{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *checkpointManager) lock(runID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[runID] = l
	}
	return l
}

// save builds the snapshot while holding the run's lock so a snapshot
// taken later is never overwritten by one taken earlier.
func (m *checkpointManager) save(runID string, build func() *domain.Checkpoint) error {
	l := m.lock(runID)
	l.Lock()
	defer l.Unlock()
	return m.store.SaveCheckpoint(build())
}

func (m *checkpointManager) load(runID string) (*domain.Checkpoint, error) {
	l := m.lock(runID)
	l.Lock()
	defer l.Unlock()
	return m.store.LoadCheckpoint(runID)
}

func (m *checkpointManager) delete(runID string) error {
	l := m.lock(runID)
	l.Lock()
	defer l.Unlock()

	err := m.store.DeleteCheckpoint(runID)

	m.mu.Lock()
	delete(m.locks, runID)
	m.mu.Unlock()
	return err
}

func (m *checkpointManager) list() ([]domain.IncompleteRun, error) {
	return m.store.ListCheckpoints(true)
}

func (s *Service) saveCheckpoint(r *run) {
	err := s.checkpoints.save(r.id, func() *domain.Checkpoint {
		return r.checkpoint(s.now())
	})
	if err != nil {
		s.logger.Error("Failed to save checkpoint", "run_id", r.id, "error", err)
	}
}
