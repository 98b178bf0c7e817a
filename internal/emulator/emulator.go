// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package emulator provides in-memory driver.Driver test doubles:
// a configurable fake that records every inbound message and fade
// tick and lets a test script the driver's connect outcome and emitted
// feedback, so the hub, macro engine, and cue engine can be exercised
// end-to-end without a real TCP/UDP/WebSocket peer.
package emulator

import (
	"context"
	"sync"

	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/value"
)

// Received is one HandleMessage call the emulator recorded.
type Received struct {
	Address string
	Args    []value.Value
}

// FadeTick is one HandleFadeTick call the emulator recorded.
type FadeTick struct {
	Key   string
	Value float64
}

// Driver is a scriptable stand-in for a real device-driver translator. The
// zero value (via New) connects successfully and records everything it
// receives; tests configure ConnectErr to simulate a dial failure.
type Driver struct {
	*driver.Base

	ConnectErr error

	mu          sync.Mutex
	received    []Received
	fadeTicks   []FadeTick
	connects    int
	disconnects int
}

// New builds an emulator driver registered under name/prefix.
func New(name, prefix string) *Driver {
	return &Driver{Base: driver.NewBase(name, prefix, 200)}
}

// Connect emits connected unless ConnectErr is set, in which case it emits
// an error and returns it without changing connection state.
func (d *Driver) Connect(ctx context.Context) error {
	if d.ConnectErr != nil {
		d.EmitError(d.ConnectErr)
		return d.ConnectErr
	}
	d.mu.Lock()
	d.connects++
	d.mu.Unlock()
	d.EmitConnected()
	return nil
}

// Disconnect emits disconnected.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	d.disconnects++
	d.mu.Unlock()
	d.EmitDisconnected()
	return nil
}

// HandleMessage records address+args verbatim.
func (d *Driver) HandleMessage(ctx context.Context, address string, args []value.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, Received{Address: address, Args: append([]value.Value(nil), args...)})
}

// HandleFadeTick records key+value verbatim.
func (d *Driver) HandleFadeTick(key string, v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fadeTicks = append(d.fadeTicks, FadeTick{Key: key, Value: v})
}

// Feedback emits a feedback event through the driver's Base, as if the
// simulated device had just reported a state change.
func (d *Driver) Feedback(address string, args ...value.Value) {
	d.EmitFeedback(address, args...)
}

// Received returns a snapshot of every HandleMessage call recorded so far.
func (d *Driver) Received() []Received {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Received(nil), d.received...)
}

// FadeTicks returns a snapshot of every HandleFadeTick call recorded so far.
func (d *Driver) FadeTicks() []FadeTick {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FadeTick(nil), d.fadeTicks...)
}

// LastReceived returns the most recently recorded message, if any.
func (d *Driver) LastReceived() (Received, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.received) == 0 {
		return Received{}, false
	}
	return d.received[len(d.received)-1], true
}

// Connects reports how many times Connect has succeeded.
func (d *Driver) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Disconnects reports how many times Disconnect has been called.
func (d *Driver) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

var _ driver.Driver = (*Driver)(nil)
