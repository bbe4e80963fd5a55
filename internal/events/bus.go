package events

import (
	"sort"
	"sync"
)

// Bus keeps one stream per run id.
type Bus struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{streams: make(map[string]*Stream)}
}

// Open returns the stream of a run, creating it if needed.
func (b *Bus) Open(runID string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.streams[runID]; ok {
		return s
	}
	s := NewStream(runID)
	b.streams[runID] = s
	return s
}

// Reset replaces a run's stream with an empty one. Used when a finished run
// is resumed so new readers do not stop at the old terminal event.
func (b *Bus) Reset(runID string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := NewStream(runID)
	b.streams[runID] = s
	return s
}

// Get returns the stream of a run if one exists.
func (b *Bus) Get(runID string) (*Stream, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.streams[runID]
	return s, ok
}

// Remove drops a run's stream. Readers holding it keep working.
func (b *Bus) Remove(runID string) {
	b.mu.Lock()
	delete(b.streams, runID)
	b.mu.Unlock()
}

// RunIDs lists the runs with a stream.
func (b *Bus) RunIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.streams))
	for id := range b.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
