package config

import (
	"fmt"
	"strings"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateSession(); err != nil {
		return fmt.Errorf("session validation failed: %w", err)
	}

	if err := v.validateTasks(); err != nil {
		return fmt.Errorf("tasks validation failed: %w", err)
	}

	if err := v.validateHistory(); err != nil {
		return fmt.Errorf("history validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s == nil {
		return NewValidationError("server", "", ErrMissingRequiredField)
	}
	if strings.TrimSpace(s.HTTPAddr) == "" {
		return NewValidationError("server", "http_addr", ErrMissingRequiredField)
	}
	if s.WSWriteTimeout <= 0 {
		return NewValidationError("server", "ws_write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.GracefulShutdownTimeout <= 0 {
		return NewValidationError("server", "graceful_shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	for _, origin := range s.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return NewValidationError("server", "allowed_origins", fmt.Errorf("%w: empty origin pattern", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateSession() error {
	s := v.cfg.Session
	if s == nil {
		return NewValidationError("session", "", ErrMissingRequiredField)
	}
	if strings.TrimSpace(s.DefaultTaskType) == "" {
		return NewValidationError("session", "default_task_type", ErrMissingRequiredField)
	}
	if s.ProgressMaxPerSecond < 0 {
		return NewValidationError("session", "progress_max_per_second", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if s.ShutdownTimeout <= 0 {
		return NewValidationError("session", "shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.MaxRecordedEvents < 0 {
		return NewValidationError("session", "max_recorded_events", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateTasks() error {
	if v.cfg.Tasks == nil || v.cfg.Tasks.Backup == nil {
		return NewValidationError("tasks.backup", "", ErrMissingRequiredField)
	}
	b := v.cfg.Tasks.Backup
	if b.Steps < 1 {
		return NewValidationError("tasks.backup", "steps", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.InitialDelay < 0 || b.StepDelay < 0 {
		return NewValidationError("tasks.backup", "", fmt.Errorf("%w: delays must not be negative", ErrInvalidValue))
	}
	if b.BackgroundLogLines < 0 {
		return NewValidationError("tasks.backup", "background_log_lines", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if b.BackgroundLogLines > 0 && b.BackgroundLogInterval <= 0 {
		return NewValidationError("tasks.backup", "background_log_interval", fmt.Errorf("%w: must be positive when background logging is on", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateHistory() error {
	h := v.cfg.History
	if h == nil {
		return NewValidationError("history", "", ErrMissingRequiredField)
	}
	if h.ListLimit < 1 {
		return NewValidationError("history", "list_limit", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}
