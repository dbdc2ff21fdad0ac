package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the configuration file name looked up in the config dir.
const ConfigFile = "taskstream.yaml"

// TaskstreamYAMLConfig represents the complete taskstream.yaml file structure
type TaskstreamYAMLConfig struct {
	Server  *ServerConfig      `yaml:"server"`
	Session *SessionConfig     `yaml:"session"`
	Tasks   *TasksConfig       `yaml:"tasks"`
	History *HistoryYAMLConfig `yaml:"history"`
}

// HistoryYAMLConfig holds run history settings from YAML.
type HistoryYAMLConfig struct {
	Enabled   *bool `yaml:"enabled,omitempty"`
	ListLimit int   `yaml:"list_limit,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load taskstream.yaml from configDir (optional; defaults apply when absent)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user sections over built-in defaults
//  5. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"default_task_type", cfg.Session.DefaultTaskType,
		"history_enabled", cfg.History.Enabled)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	fileConfig, err := loader.loadTaskstreamYAML()
	switch {
	case errors.Is(err, ErrConfigNotFound):
		slog.Info("No configuration file found, using built-in defaults",
			"file", filepath.Join(configDir, ConfigFile))
		fileConfig = &TaskstreamYAMLConfig{}
	case err != nil:
		return nil, NewLoadError(ConfigFile, err)
	}

	server, err := mergeSection("server", DefaultServerConfig(), fileConfig.Server)
	if err != nil {
		return nil, err
	}
	session, err := mergeSection("session", DefaultSessionConfig(), fileConfig.Session)
	if err != nil {
		return nil, err
	}

	var userBackup *BackupTaskConfig
	if fileConfig.Tasks != nil {
		userBackup = fileConfig.Tasks.Backup
	}
	backup, err := mergeSection("tasks.backup", DefaultBackupTaskConfig(), userBackup)
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir: configDir,
		Server:    server,
		Session:   session,
		Tasks:     &TasksConfig{Backup: backup},
		History:   resolveHistoryConfig(fileConfig.History),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadTaskstreamYAML() (*TaskstreamYAMLConfig, error) {
	var config TaskstreamYAMLConfig
	if err := l.loadYAML(ConfigFile, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
