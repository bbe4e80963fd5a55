package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
	LLM           LLMConfig           `toml:"llm"`
	Prompts       PromptsConfig       `toml:"prompts"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`
	Maintenance   MaintenanceConfig   `toml:"maintenance"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DataDir      string `toml:"data_dir"`
	DatabasePath string `toml:"database_path"`
	ResultDir    string `toml:"result_dir"`
	LogLevel     string `toml:"log_level"`
}

// PipelineConfig holds the review loop and worker pool settings
type PipelineConfig struct {
	MaxIterations int     `toml:"max_iterations"`
	PassScore     float64 `toml:"pass_score"`
	MaxParallel   int     `toml:"max_parallel"`
	Parallel      bool    `toml:"parallel"`
	PausePollMS   int     `toml:"pause_poll_ms"`
}

// LLMConfig holds the OpenAI-compatible endpoint settings
type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKeyEnv      string `toml:"api_key_env"`
	Model          string `toml:"model"`
	Stream         bool   `toml:"stream"`
	MaxTokens      int    `toml:"max_tokens"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// PromptsConfig holds agent template settings
type PromptsConfig struct {
	Language     string   `toml:"language"`
	OverrideDirs []string `toml:"override_dirs"`
	Watch        bool     `toml:"watch"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port             int    `toml:"port"`
	Host             string `toml:"host"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// MaintenanceConfig holds the cleanup schedule
type MaintenanceConfig struct {
	Cron               string `toml:"cron"`
	CheckpointTTLHours int    `toml:"checkpoint_ttl_hours"`
	HistoryLimit       int    `toml:"history_limit"`
}

// Languages are the template languages shipped with the binary.
var Languages = []string{"en", "cn"}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".prompt-factory")
	return &Config{
		General: GeneralConfig{
			DataDir:      dataDir,
			DatabasePath: filepath.Join(dataDir, "prompt-factory.db"),
			ResultDir:    filepath.Join(dataDir, "results"),
			LogLevel:     "info",
		},
		Pipeline: PipelineConfig{
			MaxIterations: 3,
			PassScore:     8.0,
			MaxParallel:   3,
			Parallel:      true,
			PausePollMS:   100,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			Model:          "gpt-4o",
			Stream:         true,
			MaxTokens:      4096,
			TimeoutSeconds: 180,
			MaxRetries:     3,
		},
		Prompts: PromptsConfig{
			Language: "en",
			Watch:    true,
		},
		Web: WebConfig{
			Port:             8080,
			Host:             "127.0.0.1",
			HeartbeatSeconds: 30,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Maintenance: MaintenanceConfig{
			Cron:               "0 * * * *",
			CheckpointTTLHours: 7 * 24,
			HistoryLimit:       100,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Expand paths
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.ResultDir = ExpandPath(cfg.General.ResultDir)
	for i, dir := range cfg.Prompts.OverrideDirs {
		cfg.Prompts.OverrideDirs[i] = ExpandPath(dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.PassScore < 0 || c.Pipeline.PassScore > 10 {
		errs = append(errs, fmt.Errorf("pipeline.pass_score must be within 0-10, got %v", c.Pipeline.PassScore))
	}
	if c.Pipeline.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_iterations must be positive, got %d", c.Pipeline.MaxIterations))
	}
	if c.Pipeline.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_parallel must be positive, got %d", c.Pipeline.MaxParallel))
	}
	if !knownLanguage(c.Prompts.Language) {
		errs = append(errs, fmt.Errorf("prompts.language %q is not one of %s", c.Prompts.Language, strings.Join(Languages, ", ")))
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port %d out of range", c.Web.Port))
	}
	return errors.Join(errs...)
}

func knownLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// PausePoll returns how often a paused run checks for resume
func (c *Config) PausePoll() time.Duration {
	return time.Duration(c.Pipeline.PausePollMS) * time.Millisecond
}

// Timeout returns the per-request LLM timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Heartbeat returns the idle interval after which streams send a heartbeat
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Web.HeartbeatSeconds) * time.Second
}

// CheckpointTTL returns how long an untouched checkpoint is kept
func (c *Config) CheckpointTTL() time.Duration {
	return time.Duration(c.Maintenance.CheckpointTTLHours) * time.Hour
}

// APIKey reads the API key from the configured environment variable
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// Addr returns the host:port the web API listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// LocalConfigName is the per-project config file searched for upward from
// the working directory.
const LocalConfigName = ".prompt-factory.toml"

// FindLocalConfig walks up from the working directory and returns the first
// LocalConfigName found, or "".
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads path when given, else the nearest local
// config, else the default config path.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "prompt-factory", "config.toml")
}
