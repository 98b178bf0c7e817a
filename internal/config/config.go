// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates, and hot-reloads the hub's configuration:
// a YAML document merged over built-in defaults, with environment overrides
// applied last. Validation is strict; a config that fails validation is
// rejected wholesale and the previous one stays active.
package config

import (
	"fmt"
	"time"
)

// AppConfig is the fully merged, validated runtime configuration.
type AppConfig struct {
	// ListenAddr is the UDP address the message socket binds, e.g. ":9000".
	ListenAddr string `yaml:"listen"`

	// HTTPAddr is the optional HTTP side-channel bind address. Empty
	// disables the HTTP server.
	HTTPAddr string `yaml:"http"`

	// DataDir is where shows and deck profiles persist.
	DataDir string `yaml:"data_dir"`

	// MacroFile / ShowFile are optional template documents loaded at
	// startup and re-loaded whenever the config file itself is reloaded.
	// Absence is a warning, not an error.
	MacroFile string `yaml:"macro_file"`
	ShowFile  string `yaml:"show_file"`

	// HTTPProbes are external URLs the systems check fans out to.
	HTTPProbes []string `yaml:"http_probes"`

	LogLevel string `yaml:"log_level"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	Drivers []DriverConfig `yaml:"drivers"`
}

// ReconnectConfig is the shared backoff schedule for driver reconnects.
type ReconnectConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = retry forever
	Heartbeat   time.Duration `yaml:"heartbeat"`    // stream transports only
}

// DriverConfig declares one device driver to register at startup.
type DriverConfig struct {
	Name     string `yaml:"name"`
	Prefix   string `yaml:"prefix"`
	Type     string `yaml:"type"` // mixer | streaming | ptz | lighting | visual | emulator
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	URL      string `yaml:"url"`      // streaming only (WebSocket endpoint)
	Password string `yaml:"password"` // streaming only
}

// Defaults returns the built-in configuration a missing or partial file is
// merged over.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr: ":9000",
		HTTPAddr:   "",
		DataDir:    "data",
		LogLevel:   "info",
		Reconnect: ReconnectConfig{
			Base:        time.Second,
			Max:         30 * time.Second,
			MaxAttempts: 0,
			Heartbeat:   5 * time.Second,
		},
	}
}

// driverTypes is the closed set of driver families the hub can construct.
var driverTypes = map[string]bool{
	"mixer":     true,
	"streaming": true,
	"ptz":       true,
	"lighting":  true,
	"visual":    true,
	"emulator":  true,
}

// Validate checks the merged configuration. It returns the first error
// found; a non-nil error means the whole document is rejected.
func (c AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.Reconnect.Base <= 0 {
		return fmt.Errorf("config: reconnect.base must be positive, got %s", c.Reconnect.Base)
	}
	if c.Reconnect.Max > 0 && c.Reconnect.Max < c.Reconnect.Base {
		return fmt.Errorf("config: reconnect.max (%s) below reconnect.base (%s)", c.Reconnect.Max, c.Reconnect.Base)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("config: reconnect.max_attempts must not be negative")
	}

	seenPrefix := make(map[string]string)
	seenName := make(map[string]bool)
	for i, d := range c.Drivers {
		if d.Name == "" {
			return fmt.Errorf("config: drivers[%d]: name must not be empty", i)
		}
		if seenName[d.Name] {
			return fmt.Errorf("config: duplicate driver name %q", d.Name)
		}
		seenName[d.Name] = true

		if d.Prefix == "" || d.Prefix[0] != '/' {
			return fmt.Errorf("config: driver %q: prefix must start with '/', got %q", d.Name, d.Prefix)
		}
		lower := lowerASCII(d.Prefix)
		if other, dup := seenPrefix[lower]; dup {
			return fmt.Errorf("config: driver %q: prefix %q already used by %q", d.Name, d.Prefix, other)
		}
		seenPrefix[lower] = d.Name

		if !driverTypes[d.Type] {
			return fmt.Errorf("config: driver %q: unknown type %q", d.Name, d.Type)
		}
		if d.Type == "streaming" && d.URL == "" {
			return fmt.Errorf("config: driver %q: streaming drivers require url", d.Name)
		}
		if (d.Type == "mixer" || d.Type == "ptz") && d.Host == "" {
			return fmt.Errorf("config: driver %q: %s drivers require host", d.Name, d.Type)
		}
		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("config: driver %q: port %d out of range", d.Name, d.Port)
		}
	}
	return nil
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
