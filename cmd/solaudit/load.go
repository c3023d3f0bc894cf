package main

import (
	"github.com/exploopio/solaudit/pkg/config"
	"github.com/exploopio/solaudit/pkg/core"
)

// loadConfig reads --config, or falls back to the defaults.
func loadConfig() (*config.Config, core.Logger, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, nil, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Logger(), nil
}
