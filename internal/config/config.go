package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"dwflow/pkg/models"
)

// GetConfigPath returns the directory holding the dwflow config file.
func GetConfigPath() string {
	if configPath := os.Getenv("DWFLOW_CONFIG"); configPath != "" {
		return filepath.Dir(configPath)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dwflow")
}

// GetConfigFile returns the path of the config file, honoring DWFLOW_CONFIG.
func GetConfigFile() string {
	if configFile := os.Getenv("DWFLOW_CONFIG"); configFile != "" {
		return filepath.Clean(configFile)
	}
	return filepath.Join(GetConfigPath(), "config.yaml")
}

// Load reads the config file. A missing file yields an empty config so the
// setup command can populate it.
func Load() (*models.Config, error) {
	configFile := GetConfigFile()

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return &models.Config{Tuning: models.DefaultTuning()}, nil
	}

	data, err := os.ReadFile(configFile) // #nosec G304 - path is cleaned above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Tuning = config.Tuning.Normalize()
	applyDefaults(&config)
	return &config, nil
}

// Save writes the config file, creating the config directory if needed.
func Save(config *models.Config) error {
	configPath := GetConfigPath()
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(GetConfigFile(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists reports whether a config file is present.
func Exists() bool {
	_, err := os.Stat(GetConfigFile())
	return err == nil
}

// Validate checks that both connections are usable.
func Validate(config *models.Config) error {
	if config.OLTP.Driver == "" {
		return fmt.Errorf("oltp.driver is required")
	}
	if config.OLTP.DSN == "" {
		return fmt.Errorf("oltp.dsn is required")
	}
	if config.Warehouse.Driver == "" {
		return fmt.Errorf("warehouse.driver is required")
	}
	if config.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse.dsn is required")
	}
	return nil
}

func applyDefaults(config *models.Config) {
	if config.OLTP.Timeout == 0 {
		config.OLTP.Timeout = 30 * time.Second
	}
	if config.Warehouse.Timeout == 0 {
		config.Warehouse.Timeout = 30 * time.Second
	}
}
