// Package maintenance runs the periodic cleanup job: stale checkpoints,
// history beyond its cap, and finished runs kept in memory.
package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the cleanup schedule and retention
type Config struct {
	Cron          string
	CheckpointTTL time.Duration
	HistoryLimit  int
	RunTTL        time.Duration
}

// DefaultConfig returns hourly cleanup with a one week checkpoint TTL
func DefaultConfig() Config {
	return Config{
		Cron:          "0 * * * *",
		CheckpointTTL: 7 * 24 * time.Hour,
		HistoryLimit:  100,
		RunTTL:        time.Hour,
	}
}

// Validate checks if the config is valid and fills defaults
func (c *Config) Validate() error {
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.CheckpointTTL <= 0 {
		c.CheckpointTTL = 7 * 24 * time.Hour
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.RunTTL <= 0 {
		c.RunTTL = time.Hour
	}
	return nil
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}
