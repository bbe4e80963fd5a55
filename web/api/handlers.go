package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/pipeline"
	"github.com/hochfrequenz/prompt-factory/internal/suite"
)

// StartRequest is the body of POST /api/pipeline/start
type StartRequest struct {
	Description string `json:"description"`
	PromptType  string `json:"prompt_type,omitempty"`
	Model       string `json:"model,omitempty"`
	Stream      bool   `json:"stream"`
	Parallel    *bool  `json:"parallel,omitempty"`
	MaxParallel int    `json:"max_parallel,omitempty"`
}

// RunRequest is the body of the run control endpoints
type RunRequest struct {
	RunID    string `json:"run_id"`
	Parallel *bool  `json:"parallel,omitempty"`
}

// RunResponse acknowledges a control request
type RunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// errorStatus maps pipeline errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound), errors.Is(err, suite.ErrSuiteNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotResumable), errors.Is(err, pipeline.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyDescription):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) parallelOr(p *bool) bool {
	if p == nil {
		return s.parallel
	}
	return *p
}

func (s *Server) startHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var body StartRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req := domain.RunRequest{
			Description: body.Description,
			PromptType:  body.PromptType,
			Model:       body.Model,
			Stream:      body.Stream,
			Parallel:    s.parallelOr(body.Parallel),
			MaxParallel: body.MaxParallel,
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		id, err := s.pipeline.Launch(r.Context(), req)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		s.logger.Info("Run launched via API", "run_id", id)
		writeJSON(w, RunResponse{RunID: id, Status: string(domain.RunRunning)})
	}
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (RunRequest, bool) {
	var body RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return body, false
	}
	if body.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return body, false
	}
	return body, true
}

// controlHandler serves pause, resume and cancel.
func (s *Server) controlHandler(status string, action func(runID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		if err := action(body.RunID); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		writeJSON(w, RunResponse{RunID: body.RunID, Status: status})
	}
}

func (s *Server) recoverHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}
		if err := s.pipeline.Recover(r.Context(), body.RunID, s.parallelOr(body.Parallel)); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		s.logger.Info("Run recovery started via API", "run_id", body.RunID)
		writeJSON(w, RunResponse{RunID: body.RunID, Status: "recovering"})
	}
}

// stateHandler returns one run when run_id is given, else every run.
func (s *Server) stateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := r.URL.Query().Get("run_id")
		if id == "" {
			writeJSON(w, s.pipeline.Runs())
			return
		}

		state, err := s.pipeline.State(id)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, state)
	}
}

func (s *Server) incompleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.pipeline.ListIncomplete()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []domain.IncompleteRun{}
		}
		writeJSON(w, runs)
	}
}

func (s *Server) listSuitesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		list, err := s.suites.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []suite.Summary{}
		}
		writeJSON(w, list)
	}
}

func (s *Server) getSuiteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// Extract suite name from path: /api/suites/{name}
		name := strings.TrimPrefix(r.URL.Path, "/api/suites/")
		if name == "" {
			writeError(w, http.StatusBadRequest, "suite name required")
			return
		}

		data, err := s.suites.Get(name)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, data)
	}
}

// historyHandler lists history on GET and clears it on DELETE.
func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			recs, err := s.history.ListHistory()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if recs == nil {
				recs = []*domain.HistoryRecord{}
			}
			writeJSON(w, recs)
		case http.MethodDelete:
			if err := s.history.ClearHistory(); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, map[string]string{"status": "cleared"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) deleteHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/history/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "history id required")
			return
		}

		found, err := s.history.DeleteHistory(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "history record not found")
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func (s *Server) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.metrics.GetMetrics())
	}
}
