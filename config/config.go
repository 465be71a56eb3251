package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Portal     PortalConfig     `yaml:"portal"`
	Browser    BrowserConfig    `yaml:"browser"`
	Solver     SolverConfig     `yaml:"solver"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Push       PushConfig       `yaml:"push"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the operator API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// LogConfig controls log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PortalConfig identifies the booking portal the bot drives.
type PortalConfig struct {
	BaseURL  string `yaml:"base_url"`
	Timezone string `yaml:"timezone"`
}

// BrowserConfig controls the browsing engine behaviour.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	SessionRestore bool   `yaml:"session_restore"`
	UserAgent      string `yaml:"user_agent"`
	// Think-time bounds for paced navigation steps. The slot-found booking
	// path ignores these and runs unpaced.
	ThinkMinMillis int `yaml:"think_min_ms"`
	ThinkMaxMillis int `yaml:"think_max_ms"`
	// Hours a persisted session token stays restorable.
	SessionTTLHours int `yaml:"session_ttl_hours"`
}

// SolverConfig holds the external challenge-solving service settings.
// Every solve costs real money; MaxSolves and RatePerMinute bound the
// process-wide spend.
type SolverConfig struct {
	APIURL              string `yaml:"api_url"`
	APIKey              string `yaml:"api_key"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
	MaxSolves           int    `yaml:"max_solves"`
	RatePerMinute       int    `yaml:"rate_per_minute"`
}

// MonitorConfig controls polling cadence and backoff behaviour.
type MonitorConfig struct {
	Enabled            bool          `yaml:"enabled"`
	IntervalSeconds    int           `yaml:"interval_seconds"`
	Interval           time.Duration `yaml:"-"`
	BackoffMinSeconds  int           `yaml:"backoff_min_seconds"`
	BackoffMaxSeconds  int           `yaml:"backoff_max_seconds"`
	BackoffMin         time.Duration `yaml:"-"`
	BackoffMax         time.Duration `yaml:"-"`
	DegradedThreshold  int           `yaml:"degraded_threshold"`
	StepTimeoutSeconds int           `yaml:"step_timeout_seconds"`
	StepTimeout        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// TelegramConfig holds the Telegram notification channel settings.
// Leaving both fields empty disables the channel.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Portal.BaseURL == "" {
		return nil, fmt.Errorf("portal.base_url is required")
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in every unset field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Portal.Timezone == "" {
		cfg.Portal.Timezone = "UTC"
	}

	if cfg.Browser.ThinkMinMillis <= 0 {
		cfg.Browser.ThinkMinMillis = 500
	}
	if cfg.Browser.ThinkMaxMillis <= cfg.Browser.ThinkMinMillis {
		cfg.Browser.ThinkMaxMillis = cfg.Browser.ThinkMinMillis + 1000
	}
	if cfg.Browser.SessionTTLHours <= 0 {
		cfg.Browser.SessionTTLHours = 4
	}

	if cfg.Solver.TimeoutSeconds <= 0 {
		cfg.Solver.TimeoutSeconds = 120
	}
	if cfg.Solver.PollIntervalSeconds <= 0 {
		cfg.Solver.PollIntervalSeconds = 5
	}
	if cfg.Solver.MaxRetries <= 0 {
		cfg.Solver.MaxRetries = 3
	}
	if cfg.Solver.MaxSolves <= 0 {
		cfg.Solver.MaxSolves = 100
	}
	if cfg.Solver.RatePerMinute <= 0 {
		cfg.Solver.RatePerMinute = 10
	}

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 30
	}
	if cfg.Monitor.BackoffMinSeconds <= 0 {
		cfg.Monitor.BackoffMinSeconds = 10
	}
	if cfg.Monitor.BackoffMaxSeconds <= cfg.Monitor.BackoffMinSeconds {
		cfg.Monitor.BackoffMaxSeconds = cfg.Monitor.BackoffMinSeconds * 30
	}
	if cfg.Monitor.DegradedThreshold <= 0 {
		cfg.Monitor.DegradedThreshold = 3
	}
	if cfg.Monitor.StepTimeoutSeconds <= 0 {
		cfg.Monitor.StepTimeoutSeconds = 60
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second
	cfg.Monitor.BackoffMin = time.Duration(cfg.Monitor.BackoffMinSeconds) * time.Second
	cfg.Monitor.BackoffMax = time.Duration(cfg.Monitor.BackoffMaxSeconds) * time.Second
	cfg.Monitor.StepTimeout = time.Duration(cfg.Monitor.StepTimeoutSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}
