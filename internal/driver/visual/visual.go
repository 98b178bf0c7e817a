// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package visual implements the generic visual-programming endpoint
// driver: a datagram pass-through that forwards every received message
// verbatim to the endpoint (e.g. a TouchDesigner or vvvv patch) and
// tracks the last-seen value per address for operator-UI introspection.
package visual

import (
	"context"
	"strings"
	"sync"

	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/value"
)

// Sender transmits a raw address+args payload onward over the endpoint's
// own datagram transport.
type Sender interface {
	Send(ctx context.Context, address string, args []value.Value) error
}

// Snapshot is the last-seen message this driver forwarded.
type Snapshot struct {
	Address string
	Args    []value.Value
}

// Driver is the pass-through translator: every address/args pair is
// forwarded verbatim (no address parsing), with {parameters, lastMessage,
// messageCount} tracked locally.
type Driver struct {
	*driver.Base

	sender Sender

	mu           sync.Mutex
	parameters   map[string]value.Value
	lastMessage  Snapshot
	messageCount int
}

// New builds a visual-programming driver. sender may be nil for a pure
// state-tracking test double.
func New(name, prefix string, sender Sender) *Driver {
	return &Driver{
		Base:       driver.NewBase(name, prefix, 200),
		sender:     sender,
		parameters: make(map[string]value.Value),
	}
}

// Connect marks the driver connected; this family has no handshake.
func (d *Driver) Connect(ctx context.Context) error {
	d.EmitConnected()
	return nil
}

// Disconnect marks the driver disconnected.
func (d *Driver) Disconnect() error {
	d.EmitDisconnected()
	return nil
}

// HandleFadeTick is a no-op: the endpoint owns its own parameter
// interpolation, if any.
func (d *Driver) HandleFadeTick(key string, v float64) {}

// HandleMessage forwards address+args verbatim and records them as the
// last-seen parameter/message.
func (d *Driver) HandleMessage(ctx context.Context, address string, args []value.Value) {
	d.mu.Lock()
	key := strings.ToLower(address)
	if len(args) > 0 {
		d.parameters[key] = args[0]
	}
	d.lastMessage = Snapshot{Address: address, Args: append([]value.Value(nil), args...)}
	d.messageCount++
	d.mu.Unlock()

	if d.sender == nil {
		return
	}
	if err := d.sender.Send(ctx, address, args); err != nil {
		d.EmitError(err)
	}
}

// Parameter returns the last-seen scalar value at address, if any.
func (d *Driver) Parameter(address string) (value.Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.parameters[strings.ToLower(address)]
	return v, ok
}

// LastMessage returns the most recently forwarded message.
func (d *Driver) LastMessage() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastMessage
}

// MessageCount returns the total number of messages forwarded.
func (d *Driver) MessageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.messageCount
}

var _ driver.Driver = (*Driver)(nil)
