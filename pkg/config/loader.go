package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads hlcs.yaml from the given directory, merges it over the built-in
// defaults, applies HLCS_ environment overrides, and validates the result.
// A missing file is not an error; defaults plus environment apply.
func Load(configDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(configDir, "hlcs.yaml")
	user, err := loadYAML(path)
	if err != nil {
		return nil, err
	}
	if user != nil {
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging config %s: %w", path, err)
		}
		slog.Info("Loaded configuration file", "path", path)
	} else {
		slog.Info("No configuration file found, using defaults", "path", path)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML parses one YAML file with ${VAR} expansion. Returns (nil, nil)
// when the file does not exist.
func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}
