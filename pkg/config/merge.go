package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeSection merges a user-provided section over its defaults. Non-zero
// user values override; unset fields keep the default.
func mergeSection[T any](section string, defaults, user *T) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", section, err)
	}
	return defaults, nil
}

// resolveHistoryConfig applies YAML history settings over the defaults.
// Enabled is a pointer in YAML so an explicit false is distinguishable
// from "not set".
func resolveHistoryConfig(y *HistoryYAMLConfig) *HistoryConfig {
	cfg := DefaultHistoryConfig()
	if y == nil {
		return cfg
	}
	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.ListLimit > 0 {
		cfg.ListLimit = y.ListLimit
	}
	return cfg
}
