package config

import (
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
	Engine        EngineConfig        `toml:"engine"`
	Providers     ProvidersConfig     `toml:"providers"`
	Storage       StorageConfig       `toml:"storage"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ArgsDir      string `toml:"args_dir"`
	RegistryPath string `toml:"registry_path"`
	DatabasePath string `toml:"database_path"` // sqlite file or postgres:// DSN
	ScheduleFile string `toml:"schedule_file"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
}

// EngineConfig describes how the simulation engine is launched
type EngineConfig struct {
	Mode      string   `toml:"mode"` // "docker" or "command"
	DockerBin string   `toml:"docker_bin"`
	Image     string   `toml:"image"`
	Command   []string `toml:"command"`
	RunAsUser bool     `toml:"run_as_user"`
	LogTail   int      `toml:"log_tail"`
}

// ProvidersConfig holds forcing data API settings
type ProvidersConfig struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// StorageConfig holds object store credentials for publication
type StorageConfig struct {
	S3Region       string `toml:"s3_region"`
	S3Endpoint     string `toml:"s3_endpoint"`
	S3AccessKey    string `toml:"s3_access_key"`
	S3SecretKey    string `toml:"s3_secret_key"`
	S3PathStyle    bool   `toml:"s3_path_style"`
	MinIOAccessKey string `toml:"minio_access_key"`
	MinIOSecretKey string `toml:"minio_secret_key"`
	MinIOUseSSL    bool   `toml:"minio_use_ssl"`
	MinIORegion    string `toml:"minio_region"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
	OnlyFailures bool   `toml:"only_failures"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			ArgsDir:      "args",
			RegistryPath: filepath.Join("static", "lake_parameters.json"),
			DatabasePath: filepath.Join(home, ".lakesim", "runs.db"),
			ScheduleFile: filepath.Join(home, ".config", "lakesim", "schedule.toml"),
			LogLevel:     "info",
			LogFormat:    "text",
		},
		Engine: EngineConfig{
			Mode:      "docker",
			DockerBin: "docker",
			Image:     "eawag/simstrat",
			RunAsUser: true,
			LogTail:   40,
		},
		Providers: ProvidersConfig{
			TimeoutSeconds: 60,
			UserAgent:      "lakesim",
		},
		Storage: StorageConfig{
			S3Region:    "eu-central-1",
			MinIOUseSSL: true,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// Credentials may be supplied through LAKESIM_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.ArgsDir = ExpandPath(cfg.General.ArgsDir)
	cfg.General.RegistryPath = ExpandPath(cfg.General.RegistryPath)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.ScheduleFile = ExpandPath(cfg.General.ScheduleFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case "docker":
		if c.Engine.Image == "" {
			return fmt.Errorf("engine.image is required in docker mode")
		}
	case "command":
		if len(c.Engine.Command) == 0 {
			return fmt.Errorf("engine.command is required in command mode")
		}
	default:
		return fmt.Errorf("engine.mode must be docker or command, got %q", c.Engine.Mode)
	}
	if c.Providers.TimeoutSeconds <= 0 {
		return fmt.Errorf("providers.timeout_seconds must be positive")
	}
	return nil
}

// ProviderTimeout returns the HTTP timeout for forcing providers.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Providers.TimeoutSeconds) * time.Second
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lakesim", "config.toml")
}
