package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
)

// streamCursor reads the resume position from the cursor query parameter
// or the Last-Event-ID header.
func streamCursor(r *http.Request) int {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, id int, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// sseHandler streams a run's events: a connected event, every event after
// the cursor, heartbeats while idle, and closes after a terminal event.
func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := r.URL.Query().Get("run_id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run_id required")
			return
		}
		stream, err := s.pipeline.Events(id)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		writeSSE(w, 0, "connected", map[string]string{"run_id": id})
		flusher.Flush()

		err = events.Drain(r.Context(), stream, streamCursor(r), s.heartbeat, func(ev domain.ProgressEvent) error {
			if err := writeSSE(w, ev.Seq, string(ev.Kind), ev); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
		if err != nil && r.Context().Err() == nil {
			s.logger.Warn("Event stream ended", "run_id", id, "error", err)
		}
	}
}
