package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
	"github.com/hochfrequenz/prompt-factory/internal/observer"
	"github.com/hochfrequenz/prompt-factory/internal/suite"
)

// Pipeline is the run control surface the API exposes
type Pipeline interface {
	Launch(ctx context.Context, req domain.RunRequest) (string, error)
	Pause(runID string) error
	ResumeRun(runID string) error
	Cancel(runID string) error
	Recover(ctx context.Context, runID string, parallel bool) error
	State(runID string) (*domain.RunState, error)
	Runs() []*domain.RunState
	Events(runID string) (*events.Stream, error)
	ListIncomplete() ([]domain.IncompleteRun, error)
}

// Suites lists and reads saved suites
type Suites interface {
	List() ([]suite.Summary, error)
	Get(name string) (*suite.Data, error)
}

// History reads and deletes history records
type History interface {
	ListHistory() ([]*domain.HistoryRecord, error)
	DeleteHistory(id string) (bool, error)
	ClearHistory() error
}

// Metrics exposes the observer snapshot and its Prometheus handler
type Metrics interface {
	GetMetrics() observer.Metrics
	Handler() http.Handler
}

// Server is the HTTP API server
type Server struct {
	pipeline  Pipeline
	suites    Suites
	history   History
	metrics   Metrics
	addr      string
	mux       *http.ServeMux
	server    *http.Server
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	parallel  bool
	logger    *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSuites enables the /api/suites routes
func WithSuites(suites Suites) Option {
	return func(s *Server) {
		s.suites = suites
	}
}

// WithHistory enables the /api/history routes
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithMetrics enables /api/metrics and /metrics
func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithHeartbeat sets the idle interval after which streams send a heartbeat
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}

// WithDefaultParallel sets whether runs use the worker pool when a request
// does not say
func WithDefaultParallel(parallel bool) Option {
	return func(s *Server) {
		s.parallel = parallel
	}
}

// NewServer creates a new API server
func NewServer(pipeline Pipeline, addr string, opts ...Option) *Server {
	s := &Server{
		pipeline:  pipeline,
		addr:      addr,
		mux:       http.NewServeMux(),
		heartbeat: events.DefaultHeartbeat,
		parallel:  true,
		logger:    slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Pipeline control
	s.mux.HandleFunc("/api/pipeline/start", s.startHandler())
	s.mux.HandleFunc("/api/pipeline/pause", s.controlHandler("paused", s.pipeline.Pause))
	s.mux.HandleFunc("/api/pipeline/resume", s.controlHandler("running", s.pipeline.ResumeRun))
	s.mux.HandleFunc("/api/pipeline/cancel", s.controlHandler("cancelled", s.pipeline.Cancel))
	s.mux.HandleFunc("/api/pipeline/recover", s.recoverHandler())
	s.mux.HandleFunc("/api/pipeline/state", s.stateHandler())
	s.mux.HandleFunc("/api/pipeline/incomplete", s.incompleteHandler())

	// Progress streams
	s.mux.HandleFunc("/api/pipeline/stream", s.sseHandler())
	s.mux.HandleFunc("/api/pipeline/ws", s.wsHandler())

	if s.suites != nil {
		s.mux.HandleFunc("/api/suites", s.listSuitesHandler())
		s.mux.HandleFunc("/api/suites/", s.getSuiteHandler())
	}
	if s.history != nil {
		s.mux.HandleFunc("/api/history", s.historyHandler())
		s.mux.HandleFunc("/api/history/", s.deleteHistoryHandler())
	}
	if s.metrics != nil {
		s.mux.HandleFunc("/api/metrics", s.metricsHandler())
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
