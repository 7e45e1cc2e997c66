// Package config loads the service configuration from a TOML file layered
// with environment variable overrides, following the precedence and
// resolution order used by the retrieval pack's specmcp config loader:
// environment variables > config file > built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the story book generation core.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	HTTP       HTTPConfig       `toml:"http"`
	Guardrails GuardrailsConfig `toml:"guardrails"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Providers  ProvidersConfig  `toml:"providers"`
	Log        LogConfig        `toml:"log"`
}

// DatabaseConfig holds Postgres connection details for the Job Store.
type DatabaseConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
}

// HTTPConfig holds the request-tier listener settings.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// GuardrailsConfig holds the admission-time, non-billing preconditions.
type GuardrailsConfig struct {
	DailyJobLimitPerUser int `toml:"daily_job_limit_per_user"`
	MaxPendingJobs       int `toml:"max_pending_jobs"`
}

// RateLimitConfig holds the sliding-window per-user request limiter settings.
type RateLimitConfig struct {
	WindowSeconds int `toml:"window_seconds"`
	Limit         int `toml:"limit"`
}

// PipelineConfig holds per-stage tunables that are not already fixed by the
// stage budget table (spec.md §4.2).
type PipelineConfig struct {
	ImageMaxConcurrent int `toml:"image_max_concurrent"`
	SLASeconds         int `toml:"sla_seconds"`
}

// MonitorConfig holds the Job Monitor sweep cadence and thresholds.
type MonitorConfig struct {
	IntervalSeconds     int `toml:"interval_seconds"`
	StuckTimeoutSeconds int `toml:"stuck_timeout_seconds"`
	MaxRetries          int `toml:"max_retries"`
}

// ProvidersConfig holds capability-port endpoint/credential configuration.
type ProvidersConfig struct {
	LLM struct {
		BaseURL        string `toml:"base_url"`
		APIKey         string `toml:"api_key"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"llm"`
	Image struct {
		BaseURL        string `toml:"base_url"`
		APIKey         string `toml:"api_key"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"image"`
	Moderation struct {
		BaseURL        string `toml:"base_url"`
		APIKey         string `toml:"api_key"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"moderation"`
	ObjectStore struct {
		Bucket        string `toml:"bucket"`
		Region        string `toml:"region"`
		PublicURLBase string `toml:"public_url_base"`
	} `toml:"object_store"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load creates a Config from defaults, layers a TOML file on top, then
// applies environment variable overrides (which always win).
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Database.MaxOpenConns = 20
	cfg.Database.MaxIdleConns = 5
	cfg.HTTP.Addr = ":8080"
	cfg.Guardrails.DailyJobLimitPerUser = 20
	cfg.Guardrails.MaxPendingJobs = 100
	cfg.RateLimit.WindowSeconds = 60
	cfg.RateLimit.Limit = 10
	cfg.Pipeline.ImageMaxConcurrent = 3
	cfg.Pipeline.SLASeconds = 600
	cfg.Monitor.IntervalSeconds = 300
	cfg.Monitor.StuckTimeoutSeconds = 900
	cfg.Monitor.MaxRetries = 3
	cfg.Providers.LLM.TimeoutSeconds = 30
	cfg.Providers.Image.TimeoutSeconds = 45
	cfg.Providers.Moderation.TimeoutSeconds = 10
	cfg.Log.Level = "info"
	return cfg
}

func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // config file is optional; defaults + env suffice.
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("STORYBOOK_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("storybook.toml"); err == nil {
		return "storybook.toml"
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/storybook-forge/storybook.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) applyEnv() {
	envOverride("STORYBOOK_DATABASE_DSN", &c.Database.DSN)
	envOverride("STORYBOOK_HTTP_ADDR", &c.HTTP.Addr)
	envOverride("STORYBOOK_LOG_LEVEL", &c.Log.Level)
	envOverride("STORYBOOK_LLM_BASE_URL", &c.Providers.LLM.BaseURL)
	envOverride("STORYBOOK_LLM_API_KEY", &c.Providers.LLM.APIKey)
	envOverride("STORYBOOK_IMAGE_BASE_URL", &c.Providers.Image.BaseURL)
	envOverride("STORYBOOK_IMAGE_API_KEY", &c.Providers.Image.APIKey)
	envOverride("STORYBOOK_MODERATION_BASE_URL", &c.Providers.Moderation.BaseURL)
	envOverride("STORYBOOK_MODERATION_API_KEY", &c.Providers.Moderation.APIKey)
	envOverride("STORYBOOK_OBJECT_STORE_BUCKET", &c.Providers.ObjectStore.Bucket)
	envOverride("STORYBOOK_OBJECT_STORE_PUBLIC_URL", &c.Providers.ObjectStore.PublicURLBase)

	envOverrideInt("STORYBOOK_DAILY_JOB_LIMIT", &c.Guardrails.DailyJobLimitPerUser)
	envOverrideInt("STORYBOOK_MAX_PENDING_JOBS", &c.Guardrails.MaxPendingJobs)
	envOverrideInt("STORYBOOK_IMAGE_MAX_CONCURRENT", &c.Pipeline.ImageMaxConcurrent)
	envOverrideInt("STORYBOOK_SLA_SECONDS", &c.Pipeline.SLASeconds)
	envOverrideInt("STORYBOOK_MONITOR_INTERVAL_SECONDS", &c.Monitor.IntervalSeconds)
	envOverrideInt("STORYBOOK_STUCK_TIMEOUT_SECONDS", &c.Monitor.StuckTimeoutSeconds)
}

// Validate checks that required fields are present and internally consistent.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required: set STORYBOOK_DATABASE_DSN or [database] dsn in the config file")
	}
	if c.Pipeline.ImageMaxConcurrent < 1 {
		return fmt.Errorf("pipeline.image_max_concurrent must be >= 1")
	}
	if c.Guardrails.DailyJobLimitPerUser < 1 {
		return fmt.Errorf("guardrails.daily_job_limit_per_user must be >= 1")
	}
	return nil
}

// SLA returns the pipeline's total wall-clock budget as a time.Duration.
func (c *Config) SLA() time.Duration {
	return time.Duration(c.Pipeline.SLASeconds) * time.Second
}

// StuckTimeout returns the Monitor's running-job staleness threshold.
func (c *Config) StuckTimeout() time.Duration {
	return time.Duration(c.Monitor.StuckTimeoutSeconds) * time.Second
}

// MonitorInterval returns the Monitor's sweep cadence.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// RateLimitWindow returns the sliding window duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}
