// Package model defines the data structures for restfile's configuration, command definitions and results.
package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the conventional config filename inside the restfile directory.
const ConfigFileName = "config.yaml"

type Config struct {
	Commands map[string]CommandConfig `yaml:"rest_file_command"`
	Logging  LoggingConfig            `yaml:"logging"`
	Daemon   DaemonConfig             `yaml:"daemon"`
	API      APIConfig                `yaml:"api"`
	State    StateConfig              `yaml:"state"`
}

// CommandConfig is one entry under rest_file_command as written in config.yaml.
type CommandConfig struct {
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Username    string            `yaml:"username,omitempty"`
	Password    *string           `yaml:"password,omitempty"`
	Timeout     *float64          `yaml:"timeout,omitempty"`
	ContentType string            `yaml:"content_type,omitempty"`
	VerifySSL   *bool             `yaml:"verify_ssl,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int   `yaml:"shutdown_timeout_sec"`
	WatchConfig        *bool `yaml:"watch_config,omitempty"`
}

// WatchEnabled reports whether config.yaml changes trigger a reload. Defaults to true.
func (c DaemonConfig) WatchEnabled() bool {
	return c.WatchConfig == nil || *c.WatchConfig
}

type APIConfig struct {
	Listen      string `yaml:"listen"`
	TokenSecret string `yaml:"token_secret"`
}

type StateConfig struct {
	Persist *bool `yaml:"persist,omitempty"`
}

// PersistEnabled reports whether last results are written to disk. Defaults to true.
func (c StateConfig) PersistEnabled() bool {
	return c.Persist == nil || *c.Persist
}

// LoadConfig reads and parses a config file. It does not validate commands;
// call BuildCommands for that.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", ConfigFileName, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}
	return cfg, nil
}
