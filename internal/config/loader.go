// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mousetraptech/productionhub/internal/log"
)

// Load reads the YAML document at path, merges it over Defaults, applies
// HUB_* environment overrides, and validates the result. A missing file is
// not an error: the defaults (plus environment) are returned and a warning
// is logged, so a bare binary still starts with an empty driver table.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	logger := log.WithComponent("config")

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn().Str("path", path).Msg("config file not found, using defaults")
		case err != nil:
			return AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return AppConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// applyEnv layers HUB_* environment variables over the file-derived config.
// Environment always wins, matching the precedence the deployment docs
// promise (defaults < file < environment).
func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("HUB_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("HUB_HTTP"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("HUB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("HUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HUB_MACRO_FILE"); v != "" {
		cfg.MacroFile = v
	}
	if v := os.Getenv("HUB_SHOW_FILE"); v != "" {
		cfg.ShowFile = v
	}
	if v := os.Getenv("HUB_RECONNECT_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconnect.Base = d
		}
	}
	if v := os.Getenv("HUB_RECONNECT_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconnect.Max = d
		}
	}
	if v := os.Getenv("HUB_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconnect.MaxAttempts = n
		}
	}
	if v := os.Getenv("HUB_HEARTBEAT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconnect.Heartbeat = d
		}
	}
}
