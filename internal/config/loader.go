package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*SchedulerConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.meshsched/config.json
// Project: .meshsched/config.json (relative to cwd)
func LoadDefault() (*SchedulerConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".meshsched", "config.json")
	projectPath := filepath.Join(".meshsched", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *SchedulerConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded SchedulerConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Concurrency > 0 {
		base.Concurrency = loaded.Concurrency
	}
	if loaded.Attempts > 0 {
		base.Attempts = loaded.Attempts
	}
	if loaded.RetryBackoff.InitialInterval != "" {
		base.RetryBackoff = loaded.RetryBackoff
	}
	for name, worker := range loaded.Workers {
		base.Workers[name] = worker
	}

	return nil
}
