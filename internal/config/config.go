// Package config loads the hit merging configuration: the pointing
// thresholds shared by every geometry evaluation and the ordered list of
// algorithms to run per event.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/hitmerge.defaults.json"

// ErrConfiguration marks malformed or out-of-range configuration values.
var ErrConfiguration = errors.New("configuration error")

// Config is the root configuration document.
type Config struct {
	Pointing   *PointingConfig   `json:"pointing,omitempty"`
	Algorithms []AlgorithmConfig `json:"algorithms"`
}

// AlgorithmConfig names an algorithm type and carries its raw settings.
// Settings are decoded by the algorithm itself.
type AlgorithmConfig struct {
	Type     string          `json:"type"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be at most 1MB. Unknown fields
// are rejected.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", ErrConfiguration, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrConfiguration, fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes and validates a JSON configuration document.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config JSON: %w", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the pointing thresholds and algorithm entries.
func (c *Config) Validate() error {
	if err := c.Pointing.Validate(); err != nil {
		return err
	}
	for i, a := range c.Algorithms {
		if a.Type == "" {
			return fmt.Errorf("%w: algorithms[%d] has no type", ErrConfiguration, i)
		}
	}
	return nil
}

// PointingParams resolves the pointing thresholds, applying defaults.
func (c *Config) PointingParams() PointingParams {
	return c.Pointing.Params()
}
