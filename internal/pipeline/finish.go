package pipeline

import (
	"context"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/notify"
	"github.com/hochfrequenz/prompt-factory/internal/suite"
)

// complete is the shared tail of RunFull and Resume: dispatch pending
// roles, Test, Assemble. With nothing pending no agent is called and a
// checkpointed test result is reused.
func (s *Service) complete(ctx context.Context, r *run, pending []int, parallel bool) (*domain.Suite, error) {
	if len(pending) > 0 {
		r.setStage(domain.StageGenerate, s.now())
		s.dispatch(ctx, r, pending, parallel)
	}

	if r.isCancelled(ctx) {
		return s.finishCancelled(r)
	}

	prompts, avg := r.acceptedPrompts()
	if len(prompts) == 0 {
		return s.fail(r, ErrNoRolesCompleted)
	}

	if len(pending) > 0 {
		if !r.waitIfPaused(ctx, s.settings.PausePoll) {
			return s.finishCancelled(r)
		}
		tr := s.test(ctx, r, prompts)
		r.update(func(st *domain.RunState) { st.TestResult = tr })
		s.saveCheckpoint(r)

		if r.isCancelled(ctx) {
			return s.finishCancelled(r)
		}
	}

	return s.assemble(r, prompts, avg)
}

// assemble builds the suite, writes it, removes the checkpoint and marks
// the run completed.
func (s *Service) assemble(r *run, prompts []domain.RolePrompt, avg float64) (*domain.Suite, error) {
	r.setStage(domain.StageAssemble, s.now())

	st := r.snapshot()
	out := domain.NewSuite(st.Architecture, prompts)

	if s.writer != nil {
		dir, err := s.writer.WriteFinalArtifact(r.id, &suite.Data{
			Requirement: suite.Requirement{
				Description: st.Description,
				Type:        st.PromptType,
				TargetModel: st.Model,
			},
			Suite:        out,
			TestResult:   st.TestResult,
			AverageScore: avg,
			SavedAt:      s.now(),
		})
		if err != nil {
			s.logger.Error("Failed to write suite", "run_id", r.id, "error", err)
		} else {
			r.emit(domain.EventSuiteSaved, map[string]any{"path": dir})
		}
	}

	if err := s.checkpoints.delete(r.id); err != nil {
		s.logger.Error("Failed to delete checkpoint", "run_id", r.id, "error", err)
	}

	r.update(func(st *domain.RunState) {
		st.Suite = out
		st.Status = domain.RunCompleted
		st.Error = ""
		st.UpdatedAt = s.now()
	})

	if s.history != nil {
		rec := &domain.HistoryRecord{
			RunID:        r.id,
			Description:  st.Description,
			PromptType:   st.PromptType,
			Model:        st.Model,
			SystemName:   out.SystemName,
			TotalRoles:   out.TotalRoles,
			AverageScore: avg,
			ResultDir:    st.ResultDir,
		}
		if err := s.history.AddHistory(rec, s.settings.HistoryLimit); err != nil {
			s.logger.Error("Failed to record history", "run_id", r.id, "error", err)
		}
	}

	s.logger.Info("Run completed",
		"run_id", r.id,
		"roles", out.TotalRoles,
		"average_score", avg)
	r.emit(domain.EventRunCompleted, map[string]any{
		"system_name":   out.SystemName,
		"total_roles":   out.TotalRoles,
		"average_score": avg,
		"result_dir":    st.ResultDir,
	})
	s.notifyRun(r)
	return out, nil
}

// fail ends the run in error. The checkpoint is kept so the run can be
// resumed.
func (s *Service) fail(r *run, err error) (*domain.Suite, error) {
	r.update(func(st *domain.RunState) {
		st.Status = domain.RunError
		st.Error = err.Error()
		st.UpdatedAt = s.now()
	})
	if r.architecture() != nil {
		s.saveCheckpoint(r)
	}

	s.logger.Error("Run failed", "run_id", r.id, "error", err)
	r.emit(domain.EventRunError, map[string]any{"error": err.Error()})
	s.notifyRun(r)
	return nil, err
}

// finishCancelled ends the run as cancelled, once.
func (s *Service) finishCancelled(r *run) (*domain.Suite, error) {
	first := false
	r.update(func(st *domain.RunState) {
		if st.Status == domain.RunCancelled {
			return
		}
		first = true
		st.Status = domain.RunCancelled
		st.UpdatedAt = s.now()
	})
	if !first {
		return nil, ErrRunCancelled
	}

	completed := 0
	if r.architecture() != nil {
		s.saveCheckpoint(r)
		completed = r.snapshot().CompletedRoles()
	}

	s.logger.Warn("Run cancelled", "run_id", r.id, "completed_roles", completed)
	r.emit(domain.EventRunCancelled, map[string]any{"completed_roles": completed})
	s.notifyRun(r)
	return nil, ErrRunCancelled
}

func (s *Service) notifyRun(r *run) {
	if err := s.notifier.Send(notify.ForRun(r.snapshot())); err != nil {
		s.logger.Warn("Failed to send notification", "run_id", r.id, "error", err)
	}
}
