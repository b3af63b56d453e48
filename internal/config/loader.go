package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "FLOWSMITH",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "FLOWSMITH",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFileUsed returns the file viper actually read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (FLOWSMITH_*)
// 3. Project config (.flowsmith.yaml in current directory)
// 4. User config (~/.config/flowsmith/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".flowsmith")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "flowsmith"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.addr", ":8084")
	l.v.SetDefault("server.request_timeout", "60s")
	l.v.SetDefault("server.shutdown_timeout", "15s")
	l.v.SetDefault("server.allowed_origins", []string{"*"})

	l.v.SetDefault("storage.backend", "sqlite")
	l.v.SetDefault("storage.path", ".flowsmith/flowsmith.db")
	l.v.SetDefault("storage.dsn", "")

	l.v.SetDefault("engine.base_url", "http://localhost:5678")
	l.v.SetDefault("engine.api_key", "")
	l.v.SetDefault("engine.request_timeout", "30s")

	l.v.SetDefault("completer.provider", "openai")
	l.v.SetDefault("completer.base_url", "")
	l.v.SetDefault("completer.api_key", "")
	l.v.SetDefault("completer.model", "gpt-4o-mini")
	l.v.SetDefault("completer.max_tokens", 1024)
	l.v.SetDefault("completer.temperature", 0.2)
	l.v.SetDefault("completer.timeout", "45s")

	l.v.SetDefault("slots.projects", 4)
	l.v.SetDefault("slots.slots_per_project", 8)

	l.v.SetDefault("deploy.max_attempts", 3)
	l.v.SetDefault("deploy.base_delay", "1s")
	l.v.SetDefault("deploy.max_delay", "30s")
	l.v.SetDefault("deploy.multiplier", 2.0)
	l.v.SetDefault("deploy.jitter_factor", 0.2)

	l.v.SetDefault("session.deadline", "5m")
	l.v.SetDefault("session.max_history", 200)
	l.v.SetDefault("session.extract_timeout", "20s")
}
