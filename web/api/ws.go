package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
)

const wsWriteTimeout = 10 * time.Second

// wsHandler streams a run's events over a WebSocket as JSON messages. The
// connection is closed after a terminal event.
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("WebSocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The read loop only notices the client going away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						s.logger.Debug("WebSocket read error", "run_id", id, "error", err)
					}
					return
				}
			}
		}()

		err = events.Drain(ctx, stream, streamCursor(r), s.heartbeat, func(ev domain.ProgressEvent) error {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return conn.WriteJSON(ev)
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("WebSocket stream ended", "run_id", id, "error", err)
			return
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
	}
}
