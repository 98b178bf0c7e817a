// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package conn implements the per-driver connection-health manager:
// a state machine with exponential-backoff reconnect and, for
// stream-oriented transports, heartbeat-timeout liveness detection. Each
// Manager is fully isolated from every other; a stalled driver never
// delays another driver's I/O or reconnect attempts.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/fsm"
	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/metrics"
)

// State is one of the five connection states a driver may be in.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

type event string

const (
	evConnect      event = "connect"
	evConnected    event = "connected"
	evDisconnected event = "disconnected"
	evError        event = "error"
	evSchedule     event = "schedule"
	evGiveUp       event = "giveup"
	evTimerFired   event = "timer_fired"
	evShutdown     event = "shutdown"
)

// Backoff configures the reconnect delay schedule: delay = base*2^(attempt-1),
// clamped to max. MaxAttempts == 0 means retry forever.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (b Backoff) delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager wraps one driver.Driver and owns its connection state machine.
type Manager struct {
	d         driver.Driver
	transport driver.Transport
	backoff   Backoff
	heartbeat time.Duration // 0 disables heartbeat liveness detection
	clock     Clock
	forward   driver.Callbacks // the hub-side callbacks this manager forwards to

	machine *fsm.Machine[State, event]

	mu                sync.Mutex
	ctx               context.Context
	reconnectAttempts int
	lastSeenAt        time.Time
	reconnectTimer    *time.Timer
	heartbeatTicker   *time.Ticker
	heartbeatStop     chan struct{}
	onStateChange     func(old, new State)
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock overrides the time source (for tests).
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithStateChangeHandler registers a callback fired on every state
// transition, used by the hub to emit `/system/driver/<name>/status`.
func WithStateChangeHandler(fn func(old, new State)) Option {
	return func(m *Manager) { m.onStateChange = fn }
}

// New builds a Manager for d. forward receives the driver's
// connected/disconnected/error/feedback events after the manager has
// updated its own state and last-seen bookkeeping.
func New(d driver.Driver, transport driver.Transport, backoff Backoff, heartbeatInterval time.Duration, forward driver.Callbacks, opts ...Option) *Manager {
	m := &Manager{
		d:         d,
		transport: transport,
		backoff:   backoff,
		heartbeat: heartbeatInterval,
		clock:     realClock{},
		forward:   forward,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport != driver.TransportStreamTCP && m.transport != driver.TransportStreamWebSocket {
		m.heartbeat = 0
	}

	machine, err := fsm.New(StateDisconnected, []fsm.Transition[State, event]{
		{From: StateDisconnected, Event: evConnect, To: StateConnecting},
		{From: StateConnecting, Event: evConnected, To: StateConnected},
		{From: StateConnecting, Event: evError, To: StateError},
		{From: StateConnected, Event: evDisconnected, To: StateDisconnected},
		{From: StateError, Event: evSchedule, To: StateReconnecting},
		{From: StateDisconnected, Event: evSchedule, To: StateReconnecting},
		{From: StateError, Event: evGiveUp, To: StateError},
		{From: StateDisconnected, Event: evGiveUp, To: StateError},
		{From: StateReconnecting, Event: evTimerFired, To: StateConnecting},
		{From: StateDisconnected, Event: evShutdown, To: StateDisconnected},
		{From: StateConnecting, Event: evShutdown, To: StateDisconnected},
		{From: StateConnected, Event: evShutdown, To: StateDisconnected},
		{From: StateReconnecting, Event: evShutdown, To: StateDisconnected},
		{From: StateError, Event: evShutdown, To: StateDisconnected},
	})
	if err != nil {
		panic(err) // transition table is a fixed literal; a build error here is a programmer error
	}
	m.machine = machine

	d.(driver.EventSource).SetCallbacks(driver.Callbacks{
		OnConnected:    m.onDriverConnected,
		OnDisconnected: m.onDriverDisconnected,
		OnError:        m.onDriverError,
		OnFeedback:     m.onDriverFeedback,
	})

	return m
}

// State returns the manager's current connection state.
func (m *Manager) State() State { return m.machine.State() }

// ReconnectAttempts returns the number of reconnect attempts since the last
// successful connection.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// LastSeenAt returns the last time feedback or any byte-level data was
// observed from the driver.
func (m *Manager) LastSeenAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeenAt
}

// Start issues the initial connect.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	m.fire(ctx, evConnect)
	if m.machine.State() == StateConnecting {
		m.doConnect(ctx)
	}
}

// Touch records that data was observed from the driver just now. Callers
// are the hub's inbound-dispatch path (messages addressed to this driver)
// and the feedback relay.
func (m *Manager) Touch() {
	m.mu.Lock()
	m.lastSeenAt = m.clock.Now()
	m.mu.Unlock()
}

// Shutdown cancels every live timer and transitions to disconnected. No
// callback fires after Shutdown returns.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = m.fire(ctx, evShutdown)
}

func (m *Manager) fire(ctx context.Context, ev event) State {
	old := m.machine.State()
	to, err := m.machine.Fire(ctx, ev)
	if err != nil {
		return old
	}
	if to != old && m.onStateChange != nil {
		m.onStateChange(old, to)
	}
	return to
}

func (m *Manager) doConnect(ctx context.Context) {
	go func() {
		if err := m.d.Connect(ctx); err != nil {
			m.onDriverError(err)
		}
	}()
}

func (m *Manager) onDriverConnected() {
	m.mu.Lock()
	m.reconnectAttempts = 0
	m.lastSeenAt = m.clock.Now()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	m.fire(ctx, evConnected)
	m.startHeartbeat(ctx)

	if m.forward.OnConnected != nil {
		m.forward.OnConnected()
	}
}

func (m *Manager) onDriverDisconnected() {
	ctx := m.currentCtx()
	m.stopHeartbeat()
	m.fire(ctx, evDisconnected)
	m.scheduleOrGiveUp(ctx)
	if m.forward.OnDisconnected != nil {
		m.forward.OnDisconnected()
	}
}

func (m *Manager) onDriverError(err error) {
	ctx := m.currentCtx()
	state := m.machine.State()
	if state == StateConnecting {
		m.fire(ctx, evError)
		m.scheduleOrGiveUp(ctx)
	}
	if m.forward.OnError != nil {
		m.forward.OnError(err)
	}
}

func (m *Manager) onDriverFeedback(evt driver.FeedbackEvent) {
	m.Touch()
	if m.forward.OnFeedback != nil {
		m.forward.OnFeedback(evt)
	}
}

func (m *Manager) currentCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// scheduleOrGiveUp increments the attempt counter and either starts a
// reconnect timer or, once MaxAttempts is exceeded, terminates in error.
func (m *Manager) scheduleOrGiveUp(ctx context.Context) {
	m.mu.Lock()
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	m.mu.Unlock()

	if m.backoff.MaxAttempts > 0 && attempt > m.backoff.MaxAttempts {
		m.fire(ctx, evGiveUp)
		return
	}

	delay := m.backoff.delay(attempt)
	metrics.DriverReconnects.WithLabelValues(m.d.Name()).Inc()
	m.fire(ctx, evSchedule)

	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.fire(ctx, evTimerFired)
		m.doConnect(ctx)
	})
	m.mu.Unlock()
}

func (m *Manager) startHeartbeat(ctx context.Context) {
	if m.heartbeat <= 0 {
		return
	}
	m.mu.Lock()
	m.stopHeartbeatLocked()
	stop := make(chan struct{})
	m.heartbeatStop = stop
	ticker := time.NewTicker(m.heartbeat)
	m.heartbeatTicker = ticker
	m.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "conn")
	go func() {
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				m.mu.Lock()
				last := m.lastSeenAt
				m.mu.Unlock()
				if last.IsZero() {
					continue
				}
				if now.Sub(last) > 3*m.heartbeat {
					logger.Warn().Str("driver", m.d.Name()).Msg("heartbeat timeout, disconnecting")
					m.stopHeartbeat()
					// Disconnect is expected to emit its own "disconnected"
					// event (Base.EmitDisconnected), which drives reconnect
					// via onDriverDisconnected. Calling it here directly
					// too would double-count reconnect attempts.
					_ = m.d.Disconnect()
					return
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeat() {
	m.mu.Lock()
	m.stopHeartbeatLocked()
	m.mu.Unlock()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatTicker != nil {
		m.heartbeatTicker.Stop()
		m.heartbeatTicker = nil
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}
