package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

type roleResult struct {
	index int
	ok    bool
	err   error
}

// dispatch runs the pending roles, in parallel when asked and the run's
// limit allows more than one worker. It returns how many roles completed.
func (s *Service) dispatch(ctx context.Context, r *run, pending []int, parallel bool) int {
	limit := r.req.MaxParallel
	if limit <= 0 {
		limit = s.settings.MaxParallel
	}

	s.logger.Info("Dispatching roles",
		"run_id", r.id,
		"pending", len(pending),
		"parallel", parallel,
		"limit", limit)

	if !parallel || limit <= 1 {
		return s.runSequential(ctx, r, pending)
	}
	return s.runPool(ctx, r, pending, limit)
}

func (s *Service) runSequential(ctx context.Context, r *run, pending []int) int {
	done := 0
	for _, idx := range pending {
		if !r.waitIfPaused(ctx, s.settings.PausePoll) {
			break
		}
		if _, err := s.processRole(ctx, r, idx); err == nil {
			done++
		}
	}
	return done
}

// runPool runs roles on at most limit goroutines. Workers hand their
// results to a single collector over a channel. A worker holds its slot
// while it waits out a pause, so no role starts while the run is paused.
func (s *Service) runPool(ctx context.Context, r *run, pending []int, limit int) int {
	results := make(chan roleResult)
	collected := make(map[int]roleResult, len(pending))
	done := make(chan struct{})

	go func() {
		defer close(done)
		for res := range results {
			collected[res.index] = res
			if res.err != nil && !errors.Is(res.err, ErrRunCancelled) {
				s.logger.Warn("Role failed, continuing with the rest",
					"run_id", r.id,
					"role_index", res.index,
					"error", res.err)
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(limit)
	for _, idx := range pending {
		if !r.waitIfPaused(ctx, s.settings.PausePoll) {
			break
		}
		g.Go(func() error {
			// The driver may have blocked in Go for a free slot while the
			// run was paused or cancelled.
			if !r.waitIfPaused(ctx, s.settings.PausePoll) {
				results <- roleResult{index: idx, err: ErrRunCancelled}
				return nil
			}
			p, err := s.processRole(ctx, r, idx)
			results <- roleResult{index: idx, ok: p != nil, err: err}
			// Role failures never cancel siblings.
			return nil
		})
	}
	g.Wait()
	close(results)
	<-done

	completed := 0
	for _, res := range collected {
		if res.ok {
			completed++
		}
	}
	s.logger.Info("Role dispatch finished",
		"run_id", r.id,
		"completed", completed,
		"submitted", len(collected))
	return completed
}
