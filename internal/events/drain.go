package events

import (
	"context"
	"errors"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// DefaultHeartbeat is the idle wait before a heartbeat is forwarded.
const DefaultHeartbeat = 30 * time.Second

// Drain forwards the events of s starting after cursor to fn. When no event
// arrives within heartbeat, fn receives a heartbeat pseudo-event. Drain
// returns nil after forwarding a terminal event, ctx's error when ctx ends,
// or the first error returned by fn.
func Drain(ctx context.Context, s *Stream, cursor int, heartbeat time.Duration, fn func(domain.ProgressEvent) error) error {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, heartbeat)
		evs, err := s.Next(waitCtx, cursor)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				hb := domain.ProgressEvent{
					Kind:      domain.EventHeartbeat,
					RunID:     s.RunID(),
					Timestamp: time.Now(),
				}
				if err := fn(hb); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if len(evs) == 0 {
			// Done and fully read
			return nil
		}
		for _, ev := range evs {
			cursor = ev.Seq
			if err := fn(ev); err != nil {
				return err
			}
			if ev.Kind.IsTerminal() {
				return nil
			}
		}
	}
}
