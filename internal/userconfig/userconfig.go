// Package userconfig stores per-user CLI preferences under
// ~/.config/todocloud/config.yaml. These are the settings edited by
// the settings page; server-side configuration lives in env vars.
package userconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = "todocloud"
	configFileName = "config.yaml"
)

// UserConfig represents the user's local preferences
type UserConfig struct {
	// DefaultRoute overrides the post-login destination
	DefaultRoute string `yaml:"default_route,omitempty"`

	// Output selects the list rendering: table or json
	Output string `yaml:"output,omitempty"`

	// APIURL overrides the configured backend for this user
	APIURL string `yaml:"api_url,omitempty"`
}

// GetConfigPath returns the path to the user config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", configDirName)
	return filepath.Join(configDir, configFileName), nil
}

// Load reads the user configuration file
func Load() (*UserConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	// If config doesn't exist, return empty config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return &UserConfig{}, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read user config file: %w", err)
	}

	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the user configuration to a file
func Save(cfg *UserConfig) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Create config directory if it doesn't exist
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}

	return nil
}

// Keys lists the setting names accepted by Set and Get
func Keys() []string {
	keys := []string{"default_route", "output", "api_url"}
	sort.Strings(keys)
	return keys
}

// Get returns the current value of a setting
func (c *UserConfig) Get(key string) (string, error) {
	switch key {
	case "default_route":
		return c.DefaultRoute, nil
	case "output":
		return c.Output, nil
	case "api_url":
		return c.APIURL, nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}

// Set updates a setting value in place
func (c *UserConfig) Set(key, value string) error {
	switch key {
	case "default_route":
		c.DefaultRoute = value
	case "output":
		if value != "" && value != "table" && value != "json" {
			return fmt.Errorf("output must be table or json")
		}
		c.Output = value
	case "api_url":
		c.APIURL = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
