package config

import "time"

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPAddr:                ":8080",
		GRPCAddr:                ":50051",
		WSWriteTimeout:          10 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// DefaultSessionConfig returns the built-in session defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		DefaultTaskType:   "backup",
		ShutdownTimeout:   10 * time.Second,
		MaxRecordedEvents: 1000,
	}
}

// DefaultBackupTaskConfig returns the pacing of the reference backup task.
func DefaultBackupTaskConfig() *BackupTaskConfig {
	return &BackupTaskConfig{
		InitialDelay:          1 * time.Second,
		Steps:                 10,
		StepDelay:             200 * time.Millisecond,
		BackgroundLogLines:    10,
		BackgroundLogInterval: 1 * time.Second,
	}
}

// DefaultHistoryConfig returns the built-in history defaults.
func DefaultHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		Enabled:   false,
		ListLimit: 50,
	}
}
