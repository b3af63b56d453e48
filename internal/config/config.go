// Package config loads and validates flowsmith configuration. The loaded
// Config is immutable and injected into every component at construction;
// nothing reads ambient global state.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Completer CompleterConfig `mapstructure:"completer"`
	Slots     SlotsConfig     `mapstructure:"slots"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	Session   SessionConfig   `mapstructure:"session"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // sqlite, postgres
	Path    string `mapstructure:"path"`    // sqlite file path
	DSN     string `mapstructure:"dsn"`     // postgres connection string
}

// EngineConfig configures the external workflow engine client.
type EngineConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CompleterConfig configures the text-completion collaborator.
type CompleterConfig struct {
	Provider    string        `mapstructure:"provider"` // openai, anthropic, ollama
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SlotsConfig configures the tenant slot pool dimensions.
type SlotsConfig struct {
	Projects        int `mapstructure:"projects"`
	SlotsPerProject int `mapstructure:"slots_per_project"`
}

// DeployConfig configures the deployment retry policy.
type DeployConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
}

// SessionConfig configures conversation session handling.
type SessionConfig struct {
	Deadline       time.Duration `mapstructure:"deadline"`
	MaxHistory     int           `mapstructure:"max_history"`
	ExtractTimeout time.Duration `mapstructure:"extract_timeout"`
}
