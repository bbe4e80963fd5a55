package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/config"
	"github.com/hochfrequenz/prompt-factory/internal/llm"
	"github.com/hochfrequenz/prompt-factory/internal/maintenance"
	"github.com/hochfrequenz/prompt-factory/internal/notify"
	"github.com/hochfrequenz/prompt-factory/internal/observer"
	"github.com/hochfrequenz/prompt-factory/internal/pipeline"
	"github.com/hochfrequenz/prompt-factory/internal/prompts"
	"github.com/hochfrequenz/prompt-factory/internal/store"
	"github.com/hochfrequenz/prompt-factory/internal/suite"
)

// stuckThreshold is how long a role may stay in one status before the
// dashboard flags it.
const stuckThreshold = 10 * time.Minute

// app bundles the wired components every command works with
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	loader   *prompts.Loader
	writer   *suite.Writer
	observer *observer.Observer
	pipeline *pipeline.Service
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func pipelineSettings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		MaxIterations: cfg.Pipeline.MaxIterations,
		PassScore:     cfg.Pipeline.PassScore,
		MaxParallel:   cfg.Pipeline.MaxParallel,
		PausePoll:     cfg.PausePoll(),
		MaxTokens:     cfg.LLM.MaxTokens,
		HistoryLimit:  cfg.Maintenance.HistoryLimit,
	}
}

func maintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		Cron:          cfg.Maintenance.Cron,
		CheckpointTTL: cfg.CheckpointTTL(),
		HistoryLimit:  cfg.Maintenance.HistoryLimit,
	}
}

func retryConfig(cfg *config.Config) llm.RetryConfig {
	rc := llm.DefaultRetryConfig()
	if cfg.LLM.MaxRetries > 0 {
		rc.MaxAttempts = cfg.LLM.MaxRetries
	}
	return rc
}

// newApp loads config and wires storage, templates, the LLM client and the
// pipeline service. Callers must call close.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.General.LogLevel)

	if err := os.MkdirAll(cfg.General.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	loader := prompts.NewLoader(cfg.Prompts.Language, cfg.Prompts.OverrideDirs...)
	loader.SetVars(prompts.Vars{
		PassScore:     cfg.Pipeline.PassScore,
		MaxIterations: cfg.Pipeline.MaxIterations,
	})

	client := llm.NewClient(llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.APIKey(),
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.Timeout(),
	}, llm.WithRetryConfig(retryConfig(cfg)), llm.WithLogger(logger))

	writer := suite.NewWriter(cfg.General.ResultDir, suite.WithLogger(logger))
	obs := observer.New(stuckThreshold)
	notifier := notify.NewMultiNotifier(
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
	)

	svc := pipeline.NewService(client, loader, st,
		pipeline.WithSettings(pipelineSettings(cfg)),
		pipeline.WithSuiteWriter(writer),
		pipeline.WithHistory(st),
		pipeline.WithMetrics(obs),
		pipeline.WithNotifier(notifier),
		pipeline.WithLogger(logger),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		loader:   loader,
		writer:   writer,
		observer: obs,
		pipeline: svc,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
}

// openStore opens only the database, for commands that need no pipeline.
func openStore() (*config.Config, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, st, nil
}
