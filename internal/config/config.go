// Package config loads and validates the agentdesk YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szaher/agentdesk/internal/secrets"
)

// DefaultFile is the config filename looked up when no --config flag is given.
const DefaultFile = "agentdesk.yaml"

// Config is the full agentdesk configuration tree.
type Config struct {
	Server   Server   `yaml:"server"`
	LLM      LLM      `yaml:"llm"`
	Agents   Agents   `yaml:"agents"`
	Sessions Sessions `yaml:"sessions"`
	Logging  Logging  `yaml:"logging"`
}

// Server configures the HTTP API listener.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// APIKey, when set, is required on every request except the health
	// check. Accepts an env(NAME) secret reference or ${NAME} expansion.
	APIKey string `yaml:"api_key,omitempty"`
}

// LLM selects the model provider. Provider API keys are read from the
// environment (ANTHROPIC_API_KEY, OPENAI_API_KEY), never from the file.
type LLM struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// Agents tunes the query pipelines.
type Agents struct {
	// DefaultType is the pipeline used when a query names none.
	DefaultType string `yaml:"default_type"`

	// MaxSteps caps the research pipeline's workflow steps.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// TokenBudget caps total tokens per research run. 0 means unlimited.
	TokenBudget int `yaml:"token_budget,omitempty"`
}

// Sessions configures the session store and its cleanup schedule.
type Sessions struct {
	// StorageType is one of memory, sqlite, durable (alias for sqlite),
	// or postgres.
	StorageType string `yaml:"storage_type"`

	// DBPath locates the SQLite database file.
	DBPath string `yaml:"db_path,omitempty"`

	// PostgresDSN is the postgres connection string. Accepts an env(NAME)
	// secret reference or ${NAME} expansion.
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`

	TimeoutHours           float64 `yaml:"timeout_hours"`
	CleanupIntervalMinutes float64 `yaml:"cleanup_interval_minutes"`
	MaxSessionsPerUser     int     `yaml:"max_sessions_per_user"`
}

// Logging selects the log verbosity.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: Server{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LLM: LLM{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.5,
		},
		Agents: Agents{
			DefaultType: "research",
			MaxSteps:    8,
		},
		Sessions: Sessions{
			StorageType:            "memory",
			DBPath:                 "sessions.db",
			TimeoutHours:           24,
			CleanupIntervalMinutes: 60,
			MaxSessionsPerUser:     10,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the configuration at path. An empty path falls back to
// DefaultFile when that exists, and to Default() when it does not. A path
// given explicitly must exist.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return Default(), nil
		}
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	var err error
	if cfg.Server.APIKey, err = resolveSecret(cfg.Server.APIKey); err != nil {
		return Config{}, fmt.Errorf("config: server api_key: %w", err)
	}
	if cfg.Sessions.PostgresDSN, err = resolveSecret(cfg.Sessions.PostgresDSN); err != nil {
		return Config{}, fmt.Errorf("config: sessions postgres_dsn: %w", err)
	}
	cfg.LLM.BaseURL = secrets.Expand(cfg.LLM.BaseURL)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveSecret resolves env(NAME) references strictly (unset is an
// error) and otherwise applies lenient ${NAME} expansion.
func resolveSecret(s string) (string, error) {
	if secrets.IsRef(s) {
		return secrets.Resolve(s)
	}
	return secrets.Expand(s), nil
}

// Validate checks every section for values that would fail at runtime.
// Errors here are fatal at startup.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config: llm model is required")
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("config: llm max_tokens must be positive")
	}
	if c.Agents.DefaultType == "" {
		return fmt.Errorf("config: agents default_type is required")
	}
	if c.Agents.MaxSteps < 1 {
		return fmt.Errorf("config: agents max_steps must be positive")
	}
	if c.Agents.TokenBudget < 0 {
		return fmt.Errorf("config: agents token_budget cannot be negative")
	}
	if err := c.Sessions.validate(); err != nil {
		return err
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (s Sessions) validate() error {
	switch s.StorageType {
	case "memory":
	case "sqlite", "durable":
		if s.DBPath == "" {
			return fmt.Errorf("config: sessions db_path is required for %s storage", s.StorageType)
		}
	case "postgres":
		if s.PostgresDSN == "" {
			return fmt.Errorf("config: sessions postgres_dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown sessions storage_type %q", s.StorageType)
	}
	if s.TimeoutHours <= 0 {
		return fmt.Errorf("config: sessions timeout_hours must be positive")
	}
	if s.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("config: sessions cleanup_interval_minutes must be positive")
	}
	if s.MaxSessionsPerUser < 0 {
		return fmt.Errorf("config: sessions max_sessions_per_user cannot be negative")
	}
	return nil
}

// Timeout converts timeout_hours to a duration.
func (s Sessions) Timeout() time.Duration {
	return time.Duration(s.TimeoutHours * float64(time.Hour))
}

// CleanupInterval converts cleanup_interval_minutes to a duration.
func (s Sessions) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMinutes * float64(time.Minute))
}

// SlogLevel maps the configured level name to a slog.Level.
func (l Logging) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", l.Level)
	}
}

