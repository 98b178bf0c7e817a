// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package driver defines the uniform contract every device driver
// implements and a small composable Base that concrete drivers
// embed for their log ring and event emission, in place of a class
// hierarchy: the contract is a capability-set interface, shared behaviour
// is composition.
package driver

import (
	"context"
	"sync"

	"github.com/mousetraptech/productionhub/internal/ring"
	"github.com/mousetraptech/productionhub/internal/value"
)

// Transport names the wire transport a driver uses. The connection-health
// manager only applies heartbeat-timeout liveness detection to stream
// transports; datagram drivers rely solely on explicit disconnect/error
// events.
type Transport int

const (
	TransportDatagram Transport = iota
	TransportStreamTCP
	TransportStreamWebSocket
)

// FeedbackEvent is a relative (prefix-stripped) address plus arguments,
// emitted by a driver whenever device state changes. The hub prepends the
// driver's registered prefix before relaying it to clients.
type FeedbackEvent struct {
	Address string
	Args    []value.Value
}

// Callbacks is the event surface every driver emits. Exactly one of
// OnConnected/OnDisconnected/OnError reflects the driver's own view of its
// connection; OnFeedback may fire any number of times while connected.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnError        func(err error)
	OnFeedback     func(FeedbackEvent)
}

// Driver is the capability set every device driver satisfies.
type Driver interface {
	Name() string
	Prefix() string
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	HandleMessage(ctx context.Context, address string, args []value.Value)
	HandleFadeTick(key string, v float64)
}

// EventSource is implemented by any driver that wants its events observed
// (by the connection-health manager, normally). Base implements it, so any
// driver embedding Base gets it for free.
type EventSource interface {
	SetCallbacks(cb Callbacks)
}

// Base is embedded by concrete drivers. It owns the driver's activity log
// ring and the plumbing for emitting connected/disconnected/error/feedback
// events to whatever currently holds its Callbacks (normally a
// internal/conn.Manager).
type Base struct {
	name   string
	prefix string
	Log    *ring.Buffer

	mu        sync.RWMutex
	connected bool
	callbacks Callbacks
}

// NewBase constructs a Base with a log ring of the given capacity.
func NewBase(name, prefix string, logCapacity int) *Base {
	return &Base{name: name, prefix: prefix, Log: ring.New(logCapacity)}
}

func (b *Base) Name() string   { return b.name }
func (b *Base) Prefix() string { return b.prefix }

// IsConnected reports the driver's last known connection state as observed
// through EmitConnected/EmitDisconnected.
func (b *Base) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// SetCallbacks installs the event sink. Only one sink is supported at a
// time; installing a new one replaces the previous.
func (b *Base) SetCallbacks(cb Callbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = cb
}

// EmitConnected marks the driver connected and notifies the sink.
func (b *Base) EmitConnected() {
	b.mu.Lock()
	b.connected = true
	cb := b.callbacks.OnConnected
	b.mu.Unlock()
	b.Log.Add("connected", "")
	if cb != nil {
		cb()
	}
}

// EmitDisconnected marks the driver disconnected and notifies the sink.
func (b *Base) EmitDisconnected() {
	b.mu.Lock()
	b.connected = false
	cb := b.callbacks.OnDisconnected
	b.mu.Unlock()
	b.Log.Add("disconnected", "")
	if cb != nil {
		cb()
	}
}

// EmitError notifies the sink of a non-fatal driver error. It does not by
// itself change connection state.
func (b *Base) EmitError(err error) {
	b.mu.RLock()
	cb := b.callbacks.OnError
	b.mu.RUnlock()
	if err != nil {
		b.Log.Add("error", err.Error())
	}
	if cb != nil {
		cb(err)
	}
}

// EmitFeedback notifies the sink of a relative feedback address.
func (b *Base) EmitFeedback(address string, args ...value.Value) {
	b.mu.RLock()
	cb := b.callbacks.OnFeedback
	b.mu.RUnlock()
	if cb != nil {
		cb(FeedbackEvent{Address: address, Args: args})
	}
}

var _ EventSource = (*Base)(nil)
