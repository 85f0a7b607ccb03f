package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"nexus/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/nexus"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns $HOME/.config/nexus, the directory
// nexus reads config.yaml from when --config-path is not given.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from a single specified directory, falling
// back to defaults for anything the file does not set.
func LoadConfig(configPath string) (NexusConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "no config.yaml found at %s, using defaults", configFilePath)
			return cfg, nil
		}
		return NexusConfig{}, fmt.Errorf("reading %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NexusConfig{}, fmt.Errorf("parsing %s: %w", configFilePath, err)
	}
	logging.Info("Config", "loaded configuration from %s", configFilePath)

	return cfg, nil
}
