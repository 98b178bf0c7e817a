// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/mousetraptech/productionhub/internal/log"
)

// Holder holds the active configuration with atomic hot-reload. Readers get
// a consistent snapshot via Get; Reload swaps in a new validated config or
// keeps the old one on failure.
type Holder struct {
	reloadOpMu sync.Mutex
	current    atomic.Pointer[AppConfig]
	configPath string
	logger     zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []func(AppConfig)

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewHolder wraps an initial configuration loaded from configPath.
func NewHolder(initial AppConfig, configPath string) *Holder {
	h := &Holder{
		configPath: configPath,
		logger:     log.WithComponent("config"),
	}
	cfg := initial
	h.current.Store(&cfg)
	return h
}

// Get returns the active configuration.
func (h *Holder) Get() AppConfig {
	return *h.current.Load()
}

// OnReload registers a callback invoked with the new configuration after
// every successful reload. Callbacks run on the reload goroutine and must
// not block.
func (h *Holder) OnReload(fn func(AppConfig)) {
	h.listenerMu.Lock()
	h.listeners = append(h.listeners, fn)
	h.listenerMu.Unlock()
}

// Reload re-reads the config file. If the new document fails to parse or
// validate, the active configuration is left unchanged and the error is
// returned.
func (h *Holder) Reload(_ context.Context) error {
	h.reloadOpMu.Lock()
	defer h.reloadOpMu.Unlock()

	cfg, err := Load(h.configPath)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping previous config")
		return err
	}
	h.current.Store(&cfg)
	h.logger.Info().Str("path", h.configPath).Msg("configuration reloaded")

	h.listenerMu.RLock()
	listeners := append(([]func(AppConfig))(nil), h.listeners...)
	h.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Watch starts an fsnotify watcher on the config file's directory and
// reloads on every write/create event touching the file. Editors that
// rename-replace still trigger, since the directory is watched rather than
// the file inode. Watch returns once the watcher is running; it stops when
// ctx is cancelled.
func (h *Holder) Watch(ctx context.Context) error {
	if h.configPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	dir := filepath.Dir(h.configPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	h.watcher = watcher
	h.watchDone = make(chan struct{})

	target := filepath.Clean(h.configPath)
	go func() {
		defer close(h.watchDone)
		defer func() { _ = watcher.Close() }()

		// Debounce: editors fire several events per save.
		var pending *time.Timer
		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(250*time.Millisecond, func() {
					_ = h.Reload(ctx)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
