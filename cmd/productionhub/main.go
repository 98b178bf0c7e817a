// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mousetraptech/productionhub/internal/config"
	"github.com/mousetraptech/productionhub/internal/conn"
	"github.com/mousetraptech/productionhub/internal/cue"
	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/driver/lighting"
	"github.com/mousetraptech/productionhub/internal/driver/mixer"
	"github.com/mousetraptech/productionhub/internal/driver/ptz"
	"github.com/mousetraptech/productionhub/internal/driver/streaming"
	"github.com/mousetraptech/productionhub/internal/driver/visual"
	"github.com/mousetraptech/productionhub/internal/emulator"
	"github.com/mousetraptech/productionhub/internal/health"
	"github.com/mousetraptech/productionhub/internal/httpapi"
	"github.com/mousetraptech/productionhub/internal/hub"
	hublog "github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/msg"
	"github.com/mousetraptech/productionhub/internal/persist"
	"github.com/mousetraptech/productionhub/internal/telemetry"
	"github.com/mousetraptech/productionhub/internal/value"
	"github.com/mousetraptech/productionhub/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	hublog.Configure(hublog.Config{Level: "info", Service: "productionhub", Version: version.Version})
	logger := hublog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("configuration invalid")
		return 1
	}
	hublog.Configure(hublog.Config{Level: cfg.LogLevel, Service: "productionhub", Version: version.Version})

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("startup checks failed")
		return 1
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    "productionhub",
		ServiceVersion: version.Version,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("tracing unavailable")
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = tracing.Shutdown(flushCtx)
		}()
	}

	socket, err := msg.NewSocket(cfg.ListenAddr)
	if err != nil {
		logger.Error().Err(err).Str("listen", cfg.ListenAddr).Msg("cannot bind message socket")
		return 1
	}
	defer func() { _ = socket.Close() }()

	store, err := persist.New(cfg.DataDir)
	if err != nil {
		logger.Error().Err(err).Msg("cannot open data directory")
		return 1
	}

	// Named cue actions resolve against the persisted macro table: an action
	// ID is matched case-insensitively against macro trigger addresses (macro
	// names are not matched) and expanded to that macro's (delay-free)
	// command list.
	var h *hub.Hub
	resolver := func(actionID string) ([]cue.OSCPayload, bool) {
		m, ok := h.Macros().Lookup(actionID)
		if !ok {
			return nil, false
		}
		out := make([]cue.OSCPayload, 0, len(m.Actions))
		for _, a := range m.Actions {
			args := make([]value.Value, 0, len(a.Args))
			for _, raw := range a.Args {
				args = append(args, value.FromAny(raw))
			}
			out = append(out, cue.OSCPayload{Address: a.Address, Args: args})
		}
		return out, true
	}
	h = hub.New(socket, resolver, hub.Config{HTTPProbes: cfg.HTTPProbes})

	if err := registerDrivers(h, cfg); err != nil {
		logger.Error().Err(err).Msg("driver registration failed")
		return 1
	}

	loadTemplates(ctx, h, cfg, logger)

	holder := config.NewHolder(cfg, *configPath)
	holder.OnReload(func(next config.AppConfig) {
		// Drivers and sockets are fixed for the process lifetime; a reload
		// refreshes the macro table and show template only. The panic macro
		// is a builtin and survives every reload.
		loadTemplates(ctx, h, next, logger)
	})
	if err := holder.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watch unavailable, live reload disabled")
	}

	h.Start(ctx)
	h.StartDrivers(ctx)

	var api *httpapi.Server
	if cfg.HTTPAddr != "" {
		hm := health.NewManager(version.Version)
		hm.RegisterChecker(health.NewFileChecker("macro_file", cfg.MacroFile))
		hm.RegisterChecker(health.NewFileChecker("show_file", cfg.ShowFile))
		api = httpapi.New(cfg.HTTPAddr, h, hm)
		go func() {
			if err := api.Start(); err != nil {
				logger.Error().Err(err).Msg("http side channel failed")
			}
		}()
	}

	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("http", cfg.HTTPAddr).
		Int("drivers", len(cfg.Drivers)).
		Msg("production hub running")

	if err := socket.Receive(ctx, h.Dispatch); err != nil {
		logger.Error().Err(err).Msg("message socket receive loop failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if api != nil {
		_ = api.Shutdown(shutdownCtx)
	}
	h.Shutdown()

	if state := h.Cues().State(); state.Name != "" {
		if err := store.SaveShow(state.Name, state); err != nil {
			logger.Warn().Err(err).Msg("could not persist show state")
		}
	}
	logger.Info().Msg("clean shutdown")
	return 0
}

// registerDrivers constructs and registers every configured driver. A
// duplicate prefix aborts startup: better a hard failure at boot than a
// silently unreachable device mid-show.
func registerDrivers(h *hub.Hub, cfg config.AppConfig) error {
	backoff := conn.Backoff{
		Base:        cfg.Reconnect.Base,
		Max:         cfg.Reconnect.Max,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}

	for _, dc := range cfg.Drivers {
		var (
			d         driver.Driver
			transport driver.Transport
			heartbeat time.Duration
		)
		switch dc.Type {
		case "mixer":
			d = mixer.New(dc.Name, dc.Prefix, dc.Host, dc.Port, h.Fades())
			transport = driver.TransportStreamTCP
			heartbeat = cfg.Reconnect.Heartbeat
		case "streaming":
			d = streaming.New(dc.Name, dc.Prefix, dc.URL, dc.Password)
			transport = driver.TransportStreamWebSocket
			heartbeat = cfg.Reconnect.Heartbeat
		case "ptz":
			d = ptz.New(dc.Name, dc.Prefix, dc.Host, dc.Port)
			transport = driver.TransportStreamTCP
			heartbeat = cfg.Reconnect.Heartbeat
		case "lighting":
			d = lighting.New(dc.Name, dc.Prefix, msg.NewClient(dc.Host, dc.Port))
			transport = driver.TransportDatagram
		case "visual":
			d = visual.New(dc.Name, dc.Prefix, msg.NewClient(dc.Host, dc.Port))
			transport = driver.TransportDatagram
		case "emulator":
			d = emulator.New(dc.Name, dc.Prefix)
			transport = driver.TransportDatagram
		default:
			return fmt.Errorf("unknown driver type %q", dc.Type)
		}
		if err := h.Register(dc.Name, dc.Prefix, d, transport, backoff, heartbeat); err != nil {
			return err
		}
	}
	return nil
}

// loadTemplates loads the optional macro and show template files. Absence
// warns and leaves the corresponding engine empty.
func loadTemplates(ctx context.Context, h *hub.Hub, cfg config.AppConfig, logger zerolog.Logger) {
	if cfg.MacroFile != "" {
		macros, ok, err := persist.LoadMacroFile(cfg.MacroFile)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("path", cfg.MacroFile).Msg("macro template unreadable")
		case !ok:
			logger.Warn().Str("path", cfg.MacroFile).Msg("macro template missing")
		default:
			h.Macros().Load(ctx, macros)
		}
	}
	if cfg.ShowFile != "" {
		show, ok, err := persist.LoadShowFile(cfg.ShowFile)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("path", cfg.ShowFile).Msg("show template unreadable")
		case !ok:
			logger.Warn().Str("path", cfg.ShowFile).Msg("show template missing")
		default:
			h.Cues().LoadState(show)
		}
	}
}
