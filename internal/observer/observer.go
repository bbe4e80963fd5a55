// Package observer collects pipeline metrics: an in-process snapshot for the
// JSON API and TUI, and Prometheus collectors for scraping.
package observer

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

const namespace = "prompt_factory"

// Observer records agent calls, role outcomes and run lifecycles
type Observer struct {
	stuckThreshold time.Duration

	registry      *prometheus.Registry
	agentCalls    *prometheus.CounterVec
	agentDuration *prometheus.HistogramVec
	roles         *prometheus.CounterVec
	roleScore     prometheus.Histogram
	roleIters     prometheus.Histogram
	runs          *prometheus.CounterVec
	activeRuns    prometheus.Gauge

	completions []completion
	agentTotals map[string]int
	agentErrors map[string]int
	runTotals   map[domain.RunStatus]int
	active      int
	mu          sync.RWMutex
}

type completion struct {
	Status      domain.RoleStatus
	Score       float64
	Iterations  int
	Duration    time.Duration
	CompletedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	RolesCompleted int            `json:"roles_completed"`
	RolesFailed    int            `json:"roles_failed"`
	AvgScore       float64        `json:"avg_score"`
	AvgIterations  float64        `json:"avg_iterations"`
	AvgDuration    time.Duration  `json:"avg_duration_ns"`
	AgentCalls     map[string]int `json:"agent_calls"`
	AgentErrors    map[string]int `json:"agent_errors"`
	RunsCompleted  int            `json:"runs_completed"`
	RunsFailed     int            `json:"runs_failed"`
	RunsCancelled  int            `json:"runs_cancelled"`
	ActiveRuns     int            `json:"active_runs"`
}

// New creates an Observer with its own Prometheus registry
func New(stuckThreshold time.Duration) *Observer {
	o := &Observer{
		stuckThreshold: stuckThreshold,
		registry:       prometheus.NewRegistry(),
		agentCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Agent calls by agent and outcome.",
		}, []string{"agent", "outcome"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Duration of agent calls.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"agent"}),
		roles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roles_total",
			Help:      "Roles finished by final status.",
		}, []string{"status"}),
		roleScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "role_final_score",
			Help:      "Final review score of completed roles.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		roleIters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "role_iterations",
			Help:      "Review iterations used by completed roles.",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs finished by final status.",
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
		agentTotals: make(map[string]int),
		agentErrors: make(map[string]int),
		runTotals:   make(map[domain.RunStatus]int),
	}

	o.registry.MustRegister(
		o.agentCalls, o.agentDuration,
		o.roles, o.roleScore, o.roleIters,
		o.runs, o.activeRuns,
	)
	return o
}

// Registry exposes the collectors.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handler serves the collectors in the Prometheus text format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// IsStuck returns true if a role has been in a working state for longer
// than the stuck threshold
func (o *Observer) IsStuck(role domain.RoleRun, since time.Time) bool {
	switch role.Status {
	case domain.RoleGenerating, domain.RoleReviewing, domain.RoleOptimizing:
	default:
		return false
	}
	if since.IsZero() {
		return false
	}
	return time.Since(since) > o.stuckThreshold
}

// AgentCall records one agent invocation
func (o *Observer) AgentCall(agent string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.agentCalls.WithLabelValues(agent, outcome).Inc()
	o.agentDuration.WithLabelValues(agent).Observe(d.Seconds())

	o.mu.Lock()
	defer o.mu.Unlock()
	o.agentTotals[agent]++
	if err != nil {
		o.agentErrors[agent]++
	}
}

// RoleFinished records a role that reached completed or error
func (o *Observer) RoleFinished(status domain.RoleStatus, score float64, iterations int, d time.Duration) {
	o.roles.WithLabelValues(string(status)).Inc()
	if status == domain.RoleCompleted {
		o.roleScore.Observe(score)
		o.roleIters.Observe(float64(iterations))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.completions = append(o.completions, completion{
		Status:      status,
		Score:       score,
		Iterations:  iterations,
		Duration:    d,
		CompletedAt: time.Now(),
	})
}

// RunStarted marks a run as executing
func (o *Observer) RunStarted() {
	o.activeRuns.Inc()

	o.mu.Lock()
	o.active++
	o.mu.Unlock()
}

// RunFinished records the terminal status of a run started with RunStarted
func (o *Observer) RunFinished(status domain.RunStatus) {
	o.activeRuns.Dec()
	o.runs.WithLabelValues(string(status)).Inc()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.active--
	o.runTotals[status]++
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	metrics := Metrics{
		AgentCalls:    make(map[string]int, len(o.agentTotals)),
		AgentErrors:   make(map[string]int, len(o.agentErrors)),
		RunsCompleted: o.runTotals[domain.RunCompleted],
		RunsFailed:    o.runTotals[domain.RunError],
		RunsCancelled: o.runTotals[domain.RunCancelled],
		ActiveRuns:    o.active,
	}
	for k, v := range o.agentTotals {
		metrics.AgentCalls[k] = v
	}
	for k, v := range o.agentErrors {
		metrics.AgentErrors[k] = v
	}

	var totalDuration time.Duration
	var totalScore float64
	var totalIters int
	for _, c := range o.completions {
		if c.Status != domain.RoleCompleted {
			metrics.RolesFailed++
			continue
		}
		metrics.RolesCompleted++
		totalScore += c.Score
		totalIters += c.Iterations
		totalDuration += c.Duration
	}

	if metrics.RolesCompleted > 0 {
		n := metrics.RolesCompleted
		metrics.AvgScore = totalScore / float64(n)
		metrics.AvgIterations = float64(totalIters) / float64(n)
		metrics.AvgDuration = totalDuration / time.Duration(n)
	}

	return metrics
}

// GetRecentCompletions returns how many roles finished within the last duration
func (o *Observer) GetRecentCompletions(since time.Duration) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	n := 0
	for _, c := range o.completions {
		if c.CompletedAt.After(cutoff) {
			n++
		}
	}
	return n
}
