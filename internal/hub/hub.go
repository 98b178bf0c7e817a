// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hub implements the central message router: the single point
// every inbound control-surface message passes through on its way to a
// built-in command, the macro engine, or a registered device driver, and
// the single point every outbound driver feedback event passes through on
// its way back to clients.
package hub

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mousetraptech/productionhub/internal/bus"
	"github.com/mousetraptech/productionhub/internal/conn"
	"github.com/mousetraptech/productionhub/internal/cue"
	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/fade"
	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/macro"
	"github.com/mousetraptech/productionhub/internal/metrics"
	"github.com/mousetraptech/productionhub/internal/msg"
	"github.com/mousetraptech/productionhub/internal/persist"
	"github.com/mousetraptech/productionhub/internal/value"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// registration is one driver's bookkeeping entry in the hub's driver table.
type registration struct {
	name      string
	prefix    string // lowercased, leading slash, no trailing slash
	driver    driver.Driver
	transport driver.Transport
	health    *conn.Manager
}

// Config configures a Hub at construction.
type Config struct {
	// HTTPProbes is an optional list of URLs the systems check fans out to
	// alongside the registered drivers' own connection state.
	HTTPProbes []string
	// CheckRateLimit bounds how often /system/check may run; additional
	// requests inside the interval are dropped rather than queued.
	CheckRateLimit rate.Limit
}

// Hub owns the message socket, the fade/macro/cue engines, and the table of
// registered device drivers. Exactly one Hub exists per process.
type Hub struct {
	socket     *msg.Socket
	fades      *fade.Engine
	macros     *macro.Engine
	cues       *cue.Engine
	httpProbes []string

	checkLimiter *rate.Limiter
	checkGroup   singleflight.Group
	httpClient   *http.Client

	started   time.Time
	routed    atomic.Uint64
	dropped   atomic.Uint64
	statusBus *bus.MemoryBus[DriverStatus]

	mu            sync.RWMutex
	byPrefix      map[string]*registration
	byName        map[string]*registration
	everConnected map[string]bool
	readyFired    bool
}

// New builds a Hub bound to socket, with resolver used by the cue engine to
// expand registered action IDs into wire commands.
func New(socket *msg.Socket, resolver cue.ActionResolver, cfg Config) *Hub {
	limit := cfg.CheckRateLimit
	if limit <= 0 {
		limit = rate.Every(5 * time.Second)
	}

	h := &Hub{
		socket:        socket,
		httpProbes:    cfg.HTTPProbes,
		checkLimiter:  rate.NewLimiter(limit, 1),
		httpClient:    &http.Client{Timeout: 3 * time.Second},
		started:       time.Now(),
		statusBus:     bus.New[DriverStatus](),
		byPrefix:      make(map[string]*registration),
		byName:        make(map[string]*registration),
		everConnected: make(map[string]bool),
	}

	h.fades = fade.NewEngine(h.onFadeValue, h.onFadeComplete)
	h.macros = macro.New(h.dispatchBuiltinOrDriver)
	h.cues = cue.New(resolver, h.HandleInbound)

	h.macros.RegisterBuiltin(macro.Macro{
		Address: "/hub/panic",
		Name:    "panic",
		Actions: []macro.Action{
			{Address: "/fade/stop"},
			{Address: "/hub/stop"},
		},
	})

	return h
}

// Fades returns the shared fade engine, for drivers/tests that need to hand
// it to a driver constructor.
func (h *Hub) Fades() *fade.Engine { return h.fades }

// Macros returns the macro engine, so a config loader can call Load.
func (h *Hub) Macros() *macro.Engine { return h.macros }

// Cues returns the cue engine, so a config loader can call LoadTemplate or
// LoadState.
func (h *Hub) Cues() *cue.Engine { return h.cues }

// Start launches the fade engine tick loop. Call Register for every driver
// first, then Start, then StartDrivers.
func (h *Hub) Start(ctx context.Context) {
	h.fades.Start(ctx)
}

// Shutdown stops the fade engine, every driver's connection manager, the
// macro engine's timers, and the cue engine's timers. No further callback
// fires after Shutdown returns.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	regs := make([]*registration, 0, len(h.byName))
	for _, r := range h.byName {
		regs = append(regs, r)
	}
	h.mu.RUnlock()

	for _, r := range regs {
		r.health.Shutdown()
		_ = r.driver.Disconnect()
	}
	h.macros.Shutdown()
	h.cues.Shutdown()
	h.fades.Stop()
}

// Register adds a driver to the table under name/prefix and wires its
// connection-health manager. Prefixes are matched case-insensitively and
// must be unique; registering a duplicate prefix is a hard error and the
// table is left unchanged. The driver table is written only here and in
// Unregister/Shutdown, never from the routing path.
func (h *Hub) Register(name, prefix string, d driver.Driver, transport driver.Transport, backoff conn.Backoff, heartbeat time.Duration) error {
	normPrefix := strings.ToLower(strings.TrimSuffix(prefix, "/"))
	if normPrefix == "" || !strings.HasPrefix(normPrefix, "/") {
		return fmt.Errorf("hub: invalid prefix %q for driver %q", prefix, name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byPrefix[normPrefix]; exists {
		return fmt.Errorf("hub: prefix %q already registered", prefix)
	}
	if _, exists := h.byName[name]; exists {
		return fmt.Errorf("hub: driver name %q already registered", name)
	}

	reg := &registration{name: name, prefix: normPrefix, driver: d, transport: transport}
	reg.health = conn.New(d, transport, backoff, heartbeat, driver.Callbacks{
		OnFeedback: func(evt driver.FeedbackEvent) { h.relayFeedback(prefix, evt) },
	}, conn.WithStateChangeHandler(func(old, new conn.State) {
		h.onDriverStateChange(name, old, new)
	}))

	h.byPrefix[normPrefix] = reg
	h.byName[name] = reg
	return nil
}

// Unregister shuts down and removes a driver from the table.
func (h *Hub) Unregister(name string) {
	h.mu.Lock()
	reg, ok := h.byName[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.byName, name)
	delete(h.byPrefix, reg.prefix)
	delete(h.everConnected, name)
	h.mu.Unlock()

	reg.health.Shutdown()
	_ = reg.driver.Disconnect()
}

// StartDrivers issues the initial connect for every registered driver.
func (h *Hub) StartDrivers(ctx context.Context) {
	h.mu.RLock()
	regs := make([]*registration, 0, len(h.byName))
	for _, r := range h.byName {
		regs = append(regs, r)
	}
	h.mu.RUnlock()
	for _, r := range regs {
		r.health.Start(ctx)
	}
}

// Dispatch is the msg.Handler the hub's UDP read loop is run with: it adds
// the sender as a reply target and routes the message.
func (h *Hub) Dispatch(from *net.UDPAddr, m msg.Message) {
	h.socket.AddReplyTarget(from)
	ctx := log.ContextWithCorrelationID(context.Background(), m.Address)
	h.HandleInbound(ctx, m.Address, m.Args)
}

// HandleInbound is the single entry point for every inbound address,
// whether it arrived over the socket or from a macro/cue action. It checks
// the built-in commands first, then the macro table, then routes to a
// driver by longest matching prefix.
func (h *Hub) HandleInbound(ctx context.Context, address string, args []value.Value) {
	lower := strings.ToLower(strings.TrimRight(address, "/"))

	if handled := h.handleBuiltin(ctx, lower, args); handled {
		return
	}
	h.dispatchMacroAware(ctx, address, args)
}

// dispatchMacroAware is used for every top-level inbound address after
// built-ins: it runs the address as a macro if one is registered, otherwise
// routes it to a driver.
func (h *Hub) dispatchMacroAware(ctx context.Context, address string, args []value.Value) {
	if _, ok := h.macros.Lookup(address); ok {
		h.macros.Execute(ctx, address, args)
		return
	}
	h.dispatchToDriver(ctx, address, args)
}

// dispatchBuiltinOrDriver is the Dispatcher handed to the macro engine: a
// macro action that is itself another macro's trigger address is already
// resolved recursively by macro.Engine before this is called, so what
// remains is either a hub built-in (the panic macro's /fade/stop and
// /hub/stop land here) or a driver-prefixed address.
func (h *Hub) dispatchBuiltinOrDriver(ctx context.Context, address string, args []value.Value) {
	lower := strings.ToLower(strings.TrimRight(address, "/"))
	if h.handleBuiltin(ctx, lower, args) {
		return
	}
	h.dispatchToDriver(ctx, address, args)
}

// dispatchToDriver performs prefix-based driver routing.
func (h *Hub) dispatchToDriver(ctx context.Context, address string, args []value.Value) {
	logger := log.WithComponentFromContext(ctx, "hub")
	lower := strings.ToLower(strings.TrimRight(address, "/"))

	reg := h.matchPrefix(lower)
	if reg == nil {
		logger.Warn().Str("address", address).Msg("hub: no driver for address")
		h.dropped.Add(1)
		metrics.IncDropped("unmatched_prefix")
		return
	}

	remainder := address[len(reg.prefix):]
	if remainder == "" {
		remainder = "/"
	}
	reg.health.Touch()
	h.routed.Add(1)
	metrics.IncRouted(reg.name)
	reg.driver.HandleMessage(ctx, remainder, args)
}

// matchPrefix returns the registration whose prefix is the longest
// segment-aligned, case-insensitive match for lower (a pre-lowercased,
// trailing-slash-trimmed address). "/a" matches "/a" and "/a/b" but not
// "/ab"; among multiple registered prefixes the longest wins.
func (h *Hub) matchPrefix(lower string) *registration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var best *registration
	bestLen := -1
	for p, reg := range h.byPrefix {
		if lower == p {
			if len(p) > bestLen {
				best, bestLen = reg, len(p)
			}
			continue
		}
		if strings.HasPrefix(lower, p+"/") && len(p) > bestLen {
			best, bestLen = reg, len(p)
		}
	}
	return best
}

// handleBuiltin processes the hub's own addresses. lower is already
// lowercased and trailing-slash-trimmed.
func (h *Hub) handleBuiltin(ctx context.Context, lower string, args []value.Value) bool {
	switch {
	case lower == "/fade/stop":
		h.handleFadeStop(args)
		return true
	case lower == "/system/check":
		h.runSystemsCheck(ctx)
		return true
	case lower == "/hub/go":
		h.cues.Go(ctx)
		return true
	case lower == "/hub/standby":
		h.cues.Standby()
		return true
	case lower == "/hub/panic":
		h.macros.Execute(ctx, "/hub/panic", args)
		return true
	case lower == "/hub/stop":
		h.sendToClients("/hub/stopped", value.Int(1))
		return true
	case lower == "/hub/macro":
		h.handleMacroDispatch(ctx, args)
		return true
	}
	return false
}

// handleFadeStop implements /fade/stop: with no args it cancels every
// active fade silently; with a string arg it cancels and snaps that one
// key.
func (h *Hub) handleFadeStop(args []value.Value) {
	if len(args) == 0 {
		h.fades.CancelAll()
		return
	}
	key, ok := args[0].AsString()
	if !ok {
		h.fades.CancelAll()
		return
	}
	h.fades.CancelFade(key, true)
}

// handleMacroDispatch implements /hub/macro <address> [args...]: runs the
// macro registered at address (the first string arg), passing the
// remaining args as its trigger args.
func (h *Hub) handleMacroDispatch(ctx context.Context, args []value.Value) {
	if len(args) == 0 {
		return
	}
	addr, ok := args[0].AsString()
	if !ok {
		return
	}
	h.macros.Execute(ctx, addr, args[1:])
}

// onFadeValue is the fade engine's per-tick value callback: every
// registered driver sees every tick (most drivers no-op HandleFadeTick;
// the owning driver recognises its own key format and ignores the rest).
func (h *Hub) onFadeValue(key string, v float64) {
	h.mu.RLock()
	regs := make([]*registration, 0, len(h.byName))
	for _, r := range h.byName {
		regs = append(regs, r)
	}
	h.mu.RUnlock()
	for _, r := range regs {
		r.driver.HandleFadeTick(key, v)
	}
	metrics.FadeActiveCount.Set(float64(h.fades.ActiveCount()))
}

func (h *Hub) onFadeComplete(key string) {
	metrics.FadeActiveCount.Set(float64(h.fades.ActiveCount()))
}

// relayFeedback forwards a driver's feedback event to every reply target,
// prepending the driver's registered prefix.
func (h *Hub) relayFeedback(prefix string, evt driver.FeedbackEvent) {
	h.sendToClients(prefix+evt.Address, evt.Args...)
}

func (h *Hub) sendToClients(address string, args ...value.Value) {
	metrics.MessagesSent.Inc()
	h.socket.Broadcast(msg.Message{Address: address, Args: args})
}

// onDriverStateChange emits /system/driver/<sanitised-name>/status on every
// transition and /system/ready exactly once, the first time every
// registered driver has reached StateConnected at least once.
func (h *Hub) onDriverStateChange(name string, old, new conn.State) {
	connected := new == conn.StateConnected
	metrics.SetDriverConnected(name, connected)
	h.sendToClients(fmt.Sprintf("/system/driver/%s/status", persist.SanitizeName(name)), boolToInt(connected))
	h.publishStatus(name)

	if !connected {
		return
	}

	h.mu.Lock()
	h.everConnected[name] = true
	allConnected := len(h.everConnected) >= len(h.byName)
	fireReady := allConnected && !h.readyFired
	if fireReady {
		h.readyFired = true
	}
	h.mu.Unlock()

	if fireReady {
		h.sendToClients("/system/ready", value.Int(1))
	}
}

// runSystemsCheck asynchronously pings every registered driver's last-known
// connection state plus any configured HTTP probes, pushing results back
// to reply targets. Triggers beyond the rate limit are dropped; a trigger
// that arrives while a check is running joins it via singleflight.
func (h *Hub) runSystemsCheck(ctx context.Context) {
	if !h.checkLimiter.Allow() {
		log.WithComponentFromContext(ctx, "hub").Debug().Msg("hub: systems check rate-limited")
		return
	}
	go func() {
		_, _, _ = h.checkGroup.Do("systems-check", func() (interface{}, error) {
			h.mu.RLock()
			regs := make([]*registration, 0, len(h.byName))
			for _, r := range h.byName {
				regs = append(regs, r)
			}
			probes := append([]string(nil), h.httpProbes...)
			h.mu.RUnlock()

			for _, r := range regs {
				h.sendToClients(fmt.Sprintf("/system/check/%s", persist.SanitizeName(r.name)), boolToInt(r.driver.IsConnected()))
			}

			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			for _, url := range probes {
				ok := h.probeHTTP(probeCtx, url)
				h.sendToClients(fmt.Sprintf("/system/check/http/%s", persist.SanitizeName(url)), boolToInt(ok))
			}

			h.sendToClients("/system/check/done", value.Int(1))
			return nil, nil
		})
	}()
}

func (h *Hub) probeHTTP(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func boolToInt(b bool) value.Value {
	if b {
		return value.Int(1)
	}
	return value.Int(0)
}

// DriverStatus is one driver's row in the operator-facing status snapshot.
type DriverStatus struct {
	Name              string    `json:"name"`
	Prefix            string    `json:"prefix"`
	State             string    `json:"state"`
	Connected         bool      `json:"connected"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
}

// Drivers returns a point-in-time status snapshot of every registered
// driver, sorted order unspecified.
func (h *Hub) Drivers() []DriverStatus {
	h.mu.RLock()
	regs := make([]*registration, 0, len(h.byName))
	for _, r := range h.byName {
		regs = append(regs, r)
	}
	h.mu.RUnlock()

	out := make([]DriverStatus, 0, len(regs))
	for _, r := range regs {
		out = append(out, statusFor(r))
	}
	return out
}

func statusFor(r *registration) DriverStatus {
	state := r.health.State()
	return DriverStatus{
		Name:              r.name,
		Prefix:            r.prefix,
		State:             string(state),
		Connected:         state == conn.StateConnected,
		ReconnectAttempts: r.health.ReconnectAttempts(),
		LastSeenAt:        r.health.LastSeenAt(),
	}
}

// publishStatus pushes a driver's fresh status row onto the status bus for
// any live WebSocket subscribers. Drops are acceptable: the row is a
// snapshot, and a slow subscriber only misses intermediate transitions.
func (h *Hub) publishStatus(name string) {
	h.mu.RLock()
	reg := h.byName[name]
	h.mu.RUnlock()
	if reg == nil {
		return
	}
	// A stalled subscriber must not block the state-change path.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = h.statusBus.Publish(ctx, StatusTopic, statusFor(reg))
}

// StatusTopic is the status bus topic driver-state rows are published on.
const StatusTopic = "driver-status"

// StatusBus exposes the live driver-status feed for the HTTP side channel's
// WebSocket push.
func (h *Hub) StatusBus() *bus.MemoryBus[DriverStatus] { return h.statusBus }

// Uptime reports how long ago this hub was constructed.
func (h *Hub) Uptime() time.Duration { return time.Since(h.started) }

// MessageCounts reports how many inbound messages were routed to a driver
// and how many were dropped for want of a prefix match.
func (h *Hub) MessageCounts() (routed, dropped uint64) {
	return h.routed.Load(), h.dropped.Load()
}

// TriggerSystemsCheck runs the same systems check the /system/check address
// does, for the HTTP side channel.
func (h *Hub) TriggerSystemsCheck(ctx context.Context) {
	h.runSystemsCheck(ctx)
}
