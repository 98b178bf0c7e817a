// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package macro implements the macro engine: named, ordered
// command bundles triggered by an address, with per-action delay
// scheduling, `$$N` trigger-argument substitution, and cycle-safe recursive
// macro dispatch.
package macro

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/metrics"
	"github.com/mousetraptech/productionhub/internal/value"
)

// Action is one step of a macro: an address plus argument templates (which
// may contain `$$N` placeholders) and an optional delay.
type Action struct {
	Address string
	Args    []any // string, int, float64, bool, or a $$N placeholder string
	DelayMs int
}

// Macro is a named, ordered list of actions triggered by Address.
type Macro struct {
	Address string
	Name    string
	Actions []Action
}

// Dispatcher sends a fully-resolved address+args pair onward (typically the
// hub's inbound dispatch, so a macro action addressed at a driver prefix
// reaches that driver, and a non-macro, non-prefixed address is dropped the
// same way an externally-received one would be).
type Dispatcher func(ctx context.Context, address string, args []value.Value)

var placeholderRe = regexp.MustCompile(`^\$\$([1-9][0-9]*)$`)

// Engine owns the macro table and every macro's pending delay timers.
type Engine struct {
	dispatch Dispatcher

	mu       sync.Mutex
	macros   map[string]Macro // user-configurable, replaced wholesale by Load
	builtins map[string]Macro // never touched by Load; e.g. /hub/panic
	timers   map[*time.Timer]struct{}
}

// New builds an Engine that forwards non-macro addresses to dispatch.
func New(dispatch Dispatcher) *Engine {
	return &Engine{
		dispatch: dispatch,
		macros:   make(map[string]Macro),
		builtins: make(map[string]Macro),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Load replaces the user-configurable macro table. Two definitions sharing
// the same trigger address (case-insensitively) log a warning; the last one
// in defs wins.
func (e *Engine) Load(ctx context.Context, defs []Macro) {
	logger := log.WithComponentFromContext(ctx, "macro")
	table := make(map[string]Macro, len(defs))
	for _, d := range defs {
		key := strings.ToLower(d.Address)
		if _, exists := table[key]; exists {
			logger.Warn().Str("address", d.Address).Msg("duplicate macro trigger, last definition wins")
		}
		table[key] = d
	}
	e.mu.Lock()
	e.macros = table
	e.mu.Unlock()
}

// RegisterBuiltin installs a macro that Load can never remove or override.
func (e *Engine) RegisterBuiltin(m Macro) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builtins[strings.ToLower(m.Address)] = m
}

// Lookup returns the macro registered at address (builtins take priority
// over user-configured ones of the same address), case-insensitively.
func (e *Engine) Lookup(address string) (Macro, bool) {
	key := strings.ToLower(address)
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.builtins[key]; ok {
		return m, true
	}
	m, ok := e.macros[key]
	return m, ok
}

// Execute runs the macro registered at address, if any, with triggerArgs
// available for `$$N` substitution.
func (e *Engine) Execute(ctx context.Context, address string, triggerArgs []value.Value) {
	e.executeChain(ctx, address, triggerArgs, map[string]bool{})
}

func (e *Engine) executeChain(ctx context.Context, address string, triggerArgs []value.Value, visited map[string]bool) {
	key := strings.ToLower(address)
	logger := log.WithComponentFromContext(ctx, "macro")

	m, ok := e.Lookup(key)
	if !ok {
		return
	}
	if visited[key] {
		logger.Warn().Str("address", address).Msg("macro cycle detected, aborting branch")
		metrics.MacroCycleAborts.Inc()
		return
	}
	// Each branch gets its own copy so sibling branches remain independent.
	chain := make(map[string]bool, len(visited)+1)
	for k := range visited {
		chain[k] = true
	}
	chain[key] = true

	for _, action := range m.Actions {
		resolved := resolveArgs(action.Args, triggerArgs)
		if action.DelayMs > 0 {
			e.scheduleAction(ctx, action.Address, resolved, time.Duration(action.DelayMs)*time.Millisecond, chain)
		} else {
			e.dispatchAction(ctx, action.Address, resolved, chain)
		}
	}
}

func (e *Engine) scheduleAction(ctx context.Context, address string, args []value.Value, delay time.Duration, chain map[string]bool) {
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, timer)
		e.mu.Unlock()
		e.dispatchAction(ctx, address, args, chain)
	})
	e.mu.Lock()
	e.timers[timer] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) dispatchAction(ctx context.Context, address string, args []value.Value, chain map[string]bool) {
	if _, isMacro := e.Lookup(address); isMacro {
		e.executeChain(ctx, address, args, chain)
		return
	}
	if e.dispatch != nil {
		e.dispatch(ctx, address, args)
	}
}

// resolveArgs substitutes `$$N` placeholders with the N-th (1-based)
// trigger arg, unwrapping tagged values. Placeholders with no matching
// trigger arg are left as the literal string.
func resolveArgs(templates []any, triggerArgs []value.Value) []value.Value {
	out := make([]value.Value, 0, len(templates))
	for _, t := range templates {
		if s, ok := t.(string); ok {
			if m := placeholderRe.FindStringSubmatch(s); m != nil {
				n, _ := strconv.Atoi(m[1])
				if n >= 1 && n <= len(triggerArgs) {
					out = append(out, triggerArgs[n-1])
					continue
				}
				out = append(out, value.String(s))
				continue
			}
		}
		out = append(out, value.FromAny(t))
	}
	return out
}

// Shutdown cancels every pending delay timer and clears the macro table.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for timer := range e.timers {
		timer.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})
	e.macros = make(map[string]Macro)
}
