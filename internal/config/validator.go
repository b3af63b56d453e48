package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateStorage(&cfg.Storage)
	v.validateEngine(&cfg.Engine)
	v.validateCompleter(&cfg.Completer)
	v.validateSlots(&cfg.Slots)
	v.validateDeploy(&cfg.Deploy)
	v.validateSession(&cfg.Session)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of auto, text, json")
	}
}

func (v *Validator) validateStorage(cfg *StorageConfig) {
	switch cfg.Backend {
	case "sqlite":
		if cfg.Path == "" {
			v.addError("storage.path", cfg.Path, "required for sqlite backend")
		}
	case "postgres":
		if cfg.DSN == "" {
			v.addError("storage.dsn", cfg.DSN, "required for postgres backend")
		}
	default:
		v.addError("storage.backend", cfg.Backend, "must be sqlite or postgres")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	if cfg.BaseURL == "" {
		v.addError("engine.base_url", cfg.BaseURL, "required")
		return
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("engine.base_url", cfg.BaseURL, "must be an absolute URL")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("engine.request_timeout", cfg.RequestTimeout, "must be positive")
	}
}

func (v *Validator) validateCompleter(cfg *CompleterConfig) {
	// An empty provider disables completion-based extraction entirely.
	switch cfg.Provider {
	case "":
		return
	case "openai", "anthropic", "ollama":
	default:
		v.addError("completer.provider", cfg.Provider, "must be one of openai, anthropic, ollama or empty")
	}
	if cfg.Model == "" {
		v.addError("completer.model", cfg.Model, "required")
	}
	if cfg.MaxTokens <= 0 {
		v.addError("completer.max_tokens", cfg.MaxTokens, "must be positive")
	}
	if cfg.Timeout <= 0 {
		v.addError("completer.timeout", cfg.Timeout, "must be positive")
	}
}

func (v *Validator) validateSlots(cfg *SlotsConfig) {
	if cfg.Projects <= 0 {
		v.addError("slots.projects", cfg.Projects, "must be positive")
	}
	if cfg.SlotsPerProject <= 0 {
		v.addError("slots.slots_per_project", cfg.SlotsPerProject, "must be positive")
	}
}

func (v *Validator) validateDeploy(cfg *DeployConfig) {
	if cfg.MaxAttempts < 1 {
		v.addError("deploy.max_attempts", cfg.MaxAttempts, "must be at least 1")
	}
	if cfg.BaseDelay <= 0 {
		v.addError("deploy.base_delay", cfg.BaseDelay, "must be positive")
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		v.addError("deploy.max_delay", cfg.MaxDelay, "must be >= base_delay")
	}
	if cfg.Multiplier < 1 {
		v.addError("deploy.multiplier", cfg.Multiplier, "must be >= 1")
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		v.addError("deploy.jitter_factor", cfg.JitterFactor, "must be between 0 and 1")
	}
}

func (v *Validator) validateSession(cfg *SessionConfig) {
	if cfg.Deadline <= 0 {
		v.addError("session.deadline", cfg.Deadline, "must be positive")
	}
	if cfg.MaxHistory < 2 {
		v.addError("session.max_history", cfg.MaxHistory, "must allow at least one exchange")
	}
	if cfg.ExtractTimeout <= 0 {
		v.addError("session.extract_timeout", cfg.ExtractTimeout, "must be positive")
	}
}
