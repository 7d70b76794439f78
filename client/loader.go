package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvEndpoint = "JOBWIRE_ENDPOINT"
	EnvToken    = "JOBWIRE_TOKEN"
)

// ConfigProcessor is a function that can modify or extend a Config after loading
type ConfigProcessor func(*Config) error

// LoadFromFile loads a configuration from a file path. Files ending in .yaml
// or .yml are parsed as YAML, anything else as JSON.
// The optional processor callback can be used to customize the loaded config
func LoadFromFile(path string, processor ConfigProcessor) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadFromYAML(data, processor)
	default:
		return LoadFromJSON(data, processor)
	}
}

// LoadFromJSON parses a configuration from JSON data
func LoadFromJSON(data []byte, processor ConfigProcessor) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&config, processor)
}

// LoadFromYAML parses a configuration from YAML data
func LoadFromYAML(data []byte, processor ConfigProcessor) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&config, processor)
}

// LoadFromEnv returns the default configuration with environment overrides.
func LoadFromEnv(processor ConfigProcessor) (*Config, error) {
	return finish(&Config{}, processor)
}

func finish(config *Config, processor ConfigProcessor) (*Config, error) {
	ApplyEnv(config)
	config.ApplyDefaults()

	// Apply processor if provided
	if processor != nil {
		if err := processor(config); err != nil {
			return nil, fmt.Errorf("error in config processor: %w", err)
		}
	}
	return config, nil
}

// ApplyEnv overrides config fields from the environment.
func ApplyEnv(config *Config) {
	if v := os.Getenv(EnvEndpoint); v != "" {
		config.Endpoint = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		config.Auth.Token = v
	}
}

