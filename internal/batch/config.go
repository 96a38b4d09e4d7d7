package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/lake-orchestrator/internal/args"
)

// DefaultMaxDuration bounds a scheduled batch when the schedule sets no limit.
const DefaultMaxDuration = 12 * time.Hour

// BatchConfig represents a scheduled batch configuration
type BatchConfig struct {
	Name        string   `toml:"name"`
	Cron        string   `toml:"cron"`
	Base        string   `toml:"base"`
	Overrides   []string `toml:"overrides"`
	MaxDuration string   `toml:"max_duration"`
	Disabled    bool     `toml:"disabled"`

	maxDuration time.Duration
}

// ScheduleConfig holds all batch configurations
type ScheduleConfig struct {
	Batches []BatchConfig `toml:"batch"`
}

// Validate checks if the config is valid
func (c *BatchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.Base == "" {
		return fmt.Errorf("batch %s: base argument file is required", c.Name)
	}
	if _, err := args.ParseOverrides(c.Overrides); err != nil {
		return fmt.Errorf("batch %s: %w", c.Name, err)
	}
	c.maxDuration = DefaultMaxDuration
	if c.MaxDuration != "" {
		d, err := time.ParseDuration(c.MaxDuration)
		if err != nil || d <= 0 {
			return fmt.Errorf("batch %s: invalid max_duration %q", c.Name, c.MaxDuration)
		}
		c.maxDuration = d
	}
	return nil
}

// Timeout returns the validated max_duration.
func (c BatchConfig) Timeout() time.Duration {
	if c.maxDuration <= 0 {
		return DefaultMaxDuration
	}
	return c.maxDuration
}

// LoadScheduleConfig loads batch configuration from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}
	return ParseScheduleConfig(data)
}

// ParseScheduleConfig decodes and validates a schedule.
func ParseScheduleConfig(data []byte) (*ScheduleConfig, error) {
	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for i := range cfg.Batches {
		if err := cfg.Batches[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if seen[cfg.Batches[i].Name] {
			return nil, fmt.Errorf("batch %d: duplicate name %q", i, cfg.Batches[i].Name)
		}
		seen[cfg.Batches[i].Name] = true
	}

	return &cfg, nil
}
