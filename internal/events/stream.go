// Package events holds the per-run progress event streams. A stream is
// append-only; readers keep their own cursor and never consume events, so any
// number of transports can follow one run.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// Stream is the ordered event log of one run.
type Stream struct {
	runID string
	now   func() time.Time

	mu     sync.Mutex
	events []domain.ProgressEvent
	wake   chan struct{}
	done   bool
}

// NewStream creates an empty stream for a run.
func NewStream(runID string) *Stream {
	return &Stream{
		runID: runID,
		now:   time.Now,
		wake:  make(chan struct{}),
	}
}

// RunID returns the run the stream belongs to.
func (s *Stream) RunID() string {
	return s.runID
}

// Publish appends an event and wakes all waiting readers. Events published
// after a terminal event are dropped.
func (s *Stream) Publish(kind domain.EventKind, payload map[string]any) domain.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := domain.ProgressEvent{
		Kind:      kind,
		RunID:     s.runID,
		Seq:       len(s.events) + 1,
		Payload:   payload,
		Timestamp: s.now(),
	}
	if s.done {
		return ev
	}

	s.events = append(s.events, ev)
	if kind.IsTerminal() {
		s.done = true
	}
	close(s.wake)
	s.wake = make(chan struct{})
	return ev
}

// Len returns the number of published events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Done reports whether a terminal event has been published.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Since returns a copy of the events after cursor.
func (s *Stream) Since(cursor int) []domain.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since(cursor)
}

func (s *Stream) since(cursor int) []domain.ProgressEvent {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(s.events) {
		return nil
	}
	out := make([]domain.ProgressEvent, len(s.events)-cursor)
	copy(out, s.events[cursor:])
	return out
}

// Next blocks until events after cursor exist, the stream is done, or ctx
// ends. It returns the new events; an empty result with a nil error means
// the stream is done and fully read.
func (s *Stream) Next(ctx context.Context, cursor int) ([]domain.ProgressEvent, error) {
	for {
		s.mu.Lock()
		evs := s.since(cursor)
		done := s.done
		wake := s.wake
		s.mu.Unlock()

		if len(evs) > 0 || done {
			return evs, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
