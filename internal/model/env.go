package model

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are environment variables that take precedence over config.yaml.
type EnvOverrides struct {
	Dir         string `env:"RESTFILE_DIR"`
	LogLevel    string `env:"RESTFILE_LOG_LEVEL"`
	APIListen   string `env:"RESTFILE_API_LISTEN"`
	TokenSecret string `env:"RESTFILE_TOKEN_SECRET"`
}

func ParseEnv() (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// Apply copies every non-empty override onto cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.APIListen != "" {
		cfg.API.Listen = o.APIListen
	}
	if o.TokenSecret != "" {
		cfg.API.TokenSecret = o.TokenSecret
	}
}
