package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"irisctl/pkg/logging"
)

const (
	userConfigDir  = ".config/irisctl"
	configFileName = "config.yaml"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigPath returns ~/.config/irisctl/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// means DefaultConfigPath. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	config := GetDefaultConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", path)
			return config, nil
		}
		return Config{}, NewConfigurationError(path, "io", err.Error())
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, parseError(path, err)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return config, nil
}

// parseError turns a yaml error into a ConfigurationError with a line number
// when one is available.
func parseError(path string, err error) error {
	cfgErr := NewConfigurationError(path, "parse", err.Error())

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		cfgErr.Suggestions = append(cfgErr.Suggestions, "check field types, durations use Go syntax such as 30s or 5m")
	}
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		cfgErr.LineNumber = line
	}
	return cfgErr
}
