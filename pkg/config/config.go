package config

import "time"

// Config is the umbrella configuration object returned by Initialize.
// Every section is resolved: built-in defaults merged with taskstream.yaml.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Listener and transport settings
	Server *ServerConfig

	// Per-session behaviour
	Session *SessionConfig

	// Settings for built-in task types
	Tasks *TasksConfig

	// Run history persistence
	History *HistoryConfig
}

// ServerConfig holds listener and transport settings.
type ServerConfig struct {
	// HTTPAddr serves the REST API, /metrics and the WebSocket endpoint.
	HTTPAddr string `yaml:"http_addr"`

	// GRPCAddr serves the TaskService bidi stream. Empty disables gRPC.
	GRPCAddr string `yaml:"grpc_addr"`

	// WSWriteTimeout bounds a single WebSocket frame write.
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`

	// AllowedOrigins are extra WebSocket origin patterns accepted besides
	// same-origin requests.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// GracefulShutdownTimeout bounds how long the server waits for live
	// sessions to drain on SIGTERM.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// SessionConfig holds per-session behaviour.
type SessionConfig struct {
	// DefaultTaskType is started when StartTask carries no task type.
	DefaultTaskType string `yaml:"default_task_type"`

	// ProgressMaxPerSecond caps progress frames per session. 0 = unlimited.
	ProgressMaxPerSecond float64 `yaml:"progress_max_per_second"`

	// ShutdownTimeout bounds session teardown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxRecordedEvents caps the events stored with a history record.
	MaxRecordedEvents int `yaml:"max_recorded_events"`
}

// TasksConfig groups settings for built-in task types.
type TasksConfig struct {
	Backup *BackupTaskConfig `yaml:"backup"`
}

// BackupTaskConfig controls the pacing of the reference backup task.
type BackupTaskConfig struct {
	// InitialDelay is the wait between the first progress report and the
	// confirmation dialog.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// Steps is how many work steps run after confirmation (5% → 95%).
	Steps int `yaml:"steps"`

	// StepDelay is the duration of one work step.
	StepDelay time.Duration `yaml:"step_delay"`

	// BackgroundLogLines is how many lines the background logger emits.
	BackgroundLogLines int `yaml:"background_log_lines"`

	// BackgroundLogInterval is the pause between background log lines.
	BackgroundLogInterval time.Duration `yaml:"background_log_interval"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	// Enabled turns on persistence of finished runs to PostgreSQL.
	Enabled bool

	// ListLimit is the default page size for GET /api/v1/runs.
	ListLimit int
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
