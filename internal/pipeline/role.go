package pipeline

import (
	"context"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// setRoleStatus moves a role to status and emits role_status.
func (s *Service) setRoleStatus(r *run, idx int, status domain.RoleStatus, extra map[string]any) {
	var id, name string
	r.setRole(idx, s.now(), func(rr *domain.RoleRun) {
		rr.Status = status
		id, name = rr.RoleID, rr.RoleName
	})

	payload := map[string]any{
		"role_index": idx,
		"role_id":    id,
		"role_name":  name,
		"status":     string(status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	r.emit(domain.EventRoleStatus, payload)
}

// processRole runs one role from pending to completed or error. It returns
// ErrRunCancelled when cancellation is observed before the role finishes;
// such a role goes back to pending, as in the checkpoint.
func (s *Service) processRole(ctx context.Context, r *run, idx int) (*domain.RolePrompt, error) {
	if r.isCancelled(ctx) {
		return nil, ErrRunCancelled
	}

	arch := r.architecture()
	spec, err := arch.Role(idx)
	if err != nil {
		return nil, err
	}

	start := s.now()
	log := s.logger.With("run_id", r.id, "role", spec.ID)

	s.setRoleStatus(r, idx, domain.RoleGenerating, nil)
	candidate, err := s.generate(ctx, r, arch, spec)
	if err != nil && r.isCancelled(ctx) {
		return s.abandonRole(r, idx)
	}
	if err != nil {
		log.Error("Role generation failed", "error", err)
		r.setRole(idx, s.now(), func(rr *domain.RoleRun) { rr.Error = err.Error() })
		s.setRoleStatus(r, idx, domain.RoleError, map[string]any{"error": err.Error()})
		s.metrics.RoleFinished(domain.RoleError, 0, 0, s.now().Sub(start))
		return nil, err
	}
	r.setRole(idx, s.now(), func(rr *domain.RoleRun) { rr.Prompt = candidate.Prompt })
	r.setStage(domain.StageRefine, s.now())

	var review *domain.ReviewResult
	iterations := 0
	for iterations < s.settings.MaxIterations {
		if r.isCancelled(ctx) {
			return s.abandonRole(r, idx)
		}
		iterations++

		s.setRoleStatus(r, idx, domain.RoleReviewing, map[string]any{"iteration": iterations})
		rv, ok := s.review(ctx, r, candidate)
		if !ok {
			// No reviewer template: accept the candidate unscored instead of
			// spending the remaining iterations.
			break
		}
		review = rv
		r.setRole(idx, s.now(), func(rr *domain.RoleRun) {
			rr.Review = rv
			rr.Iterations = iterations
		})
		log.Debug("Role reviewed", "iteration", iterations, "score", rv.Score)

		if rv.Score >= s.settings.PassScore || iterations >= s.settings.MaxIterations {
			break
		}

		if r.isCancelled(ctx) {
			return s.abandonRole(r, idx)
		}
		s.setRoleStatus(r, idx, domain.RoleOptimizing, map[string]any{
			"iteration": iterations,
			"score":     rv.Score,
		})
		if next, ok := s.optimize(ctx, r, candidate, rv); ok {
			candidate = next
			r.setRole(idx, s.now(), func(rr *domain.RoleRun) { rr.Prompt = next.Prompt })
		}
	}

	score := 0.0
	if review != nil {
		score = review.Score
	} else {
		iterations = 0
	}

	s.completeRole(r, idx, candidate, score, iterations)
	s.metrics.RoleFinished(domain.RoleCompleted, score, iterations, s.now().Sub(start))
	log.Info("Role completed", "score", score, "iterations", iterations)
	return &candidate, nil
}

// abandonRole puts a role interrupted by cancellation back to pending.
func (s *Service) abandonRole(r *run, idx int) (*domain.RolePrompt, error) {
	r.setRole(idx, s.now(), func(rr *domain.RoleRun) {
		rr.Prompt = ""
		rr.Review = nil
		rr.Iterations = 0
	})
	s.setRoleStatus(r, idx, domain.RolePending, nil)
	return nil, ErrRunCancelled
}

// completeRole persists a finished role before announcing it: checkpoint
// first, then the role artifact, then role_saved and the completed status.
func (s *Service) completeRole(r *run, idx int, p domain.RolePrompt, score float64, iterations int) {
	r.accept(idx, domain.CheckpointRole{
		Prompt:     p,
		FinalScore: score,
		Iterations: iterations,
	}, s.now())
	s.saveCheckpoint(r)

	var path string
	if s.writer != nil {
		var err error
		path, err = s.writer.WriteRoleArtifact(r.id, idx, p)
		if err != nil {
			s.logger.Error("Failed to write role artifact", "run_id", r.id, "role", p.RoleID, "error", err)
		}
	}

	r.emit(domain.EventRoleSaved, map[string]any{
		"role_index": idx,
		"role_name":  p.RoleName,
		"path":       path,
	})
	r.emit(domain.EventRoleStatus, map[string]any{
		"role_index": idx,
		"role_id":    p.RoleID,
		"role_name":  p.RoleName,
		"status":     string(domain.RoleCompleted),
		"score":      score,
		"iterations": iterations,
	})
}
