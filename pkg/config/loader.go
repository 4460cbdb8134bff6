package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound indicates the YAML file at the given path did not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// Load reads, environment-expands, parses, and validates the YAML file at
// path, returning a ready-to-use Config. This is the only place in the
// module that touches the filesystem for configuration (spec.md §6: the
// core itself never reads files, environment variables, or flags).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := NewValidator(&cfg).ValidateAll(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
