// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mousetraptech/productionhub/internal/config"
	"github.com/mousetraptech/productionhub/internal/log"
)

// PerformStartupChecks validates the environment before the hub binds its
// socket: the data directory must be writable, every configured address
// parseable, and every systems-check probe URL well-formed. Template files
// are checked but their absence only warns.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := checkDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Info().Str("path", cfg.DataDir).Msg("data directory is writable")

	if err := checkListenAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if cfg.HTTPAddr != "" {
		if err := checkListenAddr(cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http address check failed: %w", err)
		}
	}

	for _, probe := range cfg.HTTPProbes {
		u, err := url.Parse(probe)
		if err != nil {
			return fmt.Errorf("invalid systems-check probe URL %q: %w", probe, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("systems-check probe %q: scheme must be http or https", probe)
		}
	}

	warnMissingTemplate(logger, "macro_file", cfg.MacroFile)
	warnMissingTemplate(logger, "show_file", cfg.ShowFile)

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", path, err)
	}
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q in %q", port, addr)
	}
	return nil
}

func warnMissingTemplate(logger zerolog.Logger, kind, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn().Str(kind, path).Msg("template file not found, continuing with empty state")
	}
}
