package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/config"
	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPipelineSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.MaxIterations = 5
	cfg.Pipeline.PassScore = 7.5
	cfg.Pipeline.MaxParallel = 2
	cfg.Pipeline.PausePollMS = 250
	cfg.Maintenance.HistoryLimit = 20

	s := pipelineSettings(cfg)
	if s.MaxIterations != 5 || s.PassScore != 7.5 || s.MaxParallel != 2 {
		t.Errorf("settings = %+v", s)
	}
	if s.PausePoll != 250*time.Millisecond {
		t.Errorf("PausePoll = %v, want 250ms", s.PausePoll)
	}
	if s.HistoryLimit != 20 || s.MaxTokens != cfg.LLM.MaxTokens {
		t.Errorf("settings = %+v", s)
	}
}

func TestMaintenanceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Maintenance.CheckpointTTLHours = 24

	mc := maintenanceConfig(cfg)
	if mc.Cron != cfg.Maintenance.Cron {
		t.Errorf("Cron = %q", mc.Cron)
	}
	if mc.CheckpointTTL != 24*time.Hour {
		t.Errorf("CheckpointTTL = %v, want 24h", mc.CheckpointTTL)
	}
	if err := mc.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRetryConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.MaxRetries = 5
	if got := retryConfig(cfg).MaxAttempts; got != 5 {
		t.Errorf("MaxAttempts = %d, want 5", got)
	}

	cfg.LLM.MaxRetries = 0
	if got := retryConfig(cfg).MaxAttempts; got <= 0 {
		t.Errorf("MaxAttempts = %d, want the default", got)
	}
}

func TestPrintEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.ProgressEvent
		want string
	}{
		{
			name: "chunk is printed raw",
			ev:   domain.ProgressEvent{Kind: domain.EventAgentOutput, Payload: map[string]any{"chunk": "partial"}},
			want: "partial",
		},
		{
			name: "stage",
			ev:   domain.ProgressEvent{Kind: domain.EventStageChanged, Payload: map[string]any{"name": "refine"}},
			want: "== refine",
		},
		{
			name: "role completed",
			ev: domain.ProgressEvent{Kind: domain.EventRoleStatus, Payload: map[string]any{
				"role_name": "Intake", "status": "completed", "score": 8.5, "iterations": 2,
			}},
			want: "Intake completed (score 8.5, 2 iterations)",
		},
		{
			name: "role error",
			ev: domain.ProgressEvent{Kind: domain.EventRoleStatus, Payload: map[string]any{
				"role_name": "Intake", "status": "error", "error": "timeout",
			}},
			want: "Intake failed: timeout",
		},
		{
			name: "agent failure",
			ev:   domain.ProgressEvent{Kind: domain.EventAgentCompleted, Payload: map[string]any{"agent": "tester", "success": false}},
			want: "tester failed",
		},
		{
			name: "heartbeat is silent",
			ev:   domain.ProgressEvent{Kind: domain.EventHeartbeat},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEvent(&buf, tt.ev)
			got := buf.String()
			if tt.want == "" {
				if got != "" {
					t.Errorf("printed %q, want nothing", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("printed %q, want %q", got, tt.want)
			}
		})
	}
}
