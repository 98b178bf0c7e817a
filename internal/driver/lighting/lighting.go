// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lighting implements the lighting-console driver: a
// datagram pass-through translator for playback go/level, exec, and release
// addresses, with a local map of playback state.
package lighting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/value"
)

// Sender transmits a raw address+args payload to the lighting console over
// its own (datagram) transport. Production consoles speak OSC/sACN-adjacent
// control protocols that vary by vendor; the driver only needs a send sink,
// which the registered connection supplies.
type Sender interface {
	Send(ctx context.Context, address string, args []value.Value) error
}

// Playback is one playback fader's tracked state.
type Playback struct {
	Level  float64
	Active bool
}

// Driver is the lighting-console protocol translator.
type Driver struct {
	*driver.Base

	sender Sender

	mu          sync.Mutex
	playbacks   map[string]Playback // keyed by "X/Y"
	lastExec    int
	lastRelease int
}

// New builds a lighting driver. sender may be nil for a pure state-tracking
// test double.
func New(name, prefix string, sender Sender) *Driver {
	return &Driver{
		Base:      driver.NewBase(name, prefix, 200),
		sender:    sender,
		playbacks: make(map[string]Playback),
	}
}

// Connect marks the driver connected. Lighting desks in this family are
// addressed over a fire-and-forget datagram transport with no handshake, so
// there is nothing to dial.
func (d *Driver) Connect(ctx context.Context) error {
	d.EmitConnected()
	return nil
}

// Disconnect marks the driver disconnected.
func (d *Driver) Disconnect() error {
	d.EmitDisconnected()
	return nil
}

// HandleFadeTick is a no-op: the lighting driver does not use the fade
// engine directly (console-side playback fades are handled on the console).
func (d *Driver) HandleFadeTick(key string, v float64) {}

// HandleMessage implements driver.Driver. Recognised forms:
//
//	/pb/X/Y           playback go
//	/pb/X/Y/level     set level (arg: float 0..1)
//	/exec/N           fire executor N
//	/release/N        release executor N
func (d *Driver) HandleMessage(ctx context.Context, address string, args []value.Value) {
	segs := strings.Split(strings.Trim(strings.ToLower(address), "/"), "/")
	logger := log.WithComponentFromContext(ctx, "lighting")
	if len(segs) == 0 {
		return
	}

	switch segs[0] {
	case "pb":
		d.handlePlayback(ctx, segs, args)
	case "exec":
		if len(segs) < 2 {
			return
		}
		n, err := strconv.Atoi(segs[1])
		if err != nil {
			logger.Warn().Str("address", address).Msg("lighting: non-numeric executor")
			return
		}
		d.mu.Lock()
		d.lastExec = n
		d.mu.Unlock()
		d.forward(ctx, address, args)
	case "release":
		if len(segs) < 2 {
			return
		}
		n, err := strconv.Atoi(segs[1])
		if err != nil {
			logger.Warn().Str("address", address).Msg("lighting: non-numeric release target")
			return
		}
		d.mu.Lock()
		d.lastRelease = n
		for key, pb := range d.playbacks {
			if key == segs[1] || strings.HasPrefix(key, segs[1]+"/") {
				pb.Active = false
				d.playbacks[key] = pb
			}
		}
		d.mu.Unlock()
		d.forward(ctx, address, args)
		d.EmitFeedback(fmt.Sprintf("/pb/%s", segs[1]), value.Bool(false))
	default:
		logger.Warn().Str("address", address).Msg("lighting: unknown address")
	}
}

func (d *Driver) handlePlayback(ctx context.Context, segs []string, args []value.Value) {
	if len(segs) < 3 {
		return
	}
	key := fmt.Sprintf("%s/%s", segs[1], segs[2])

	if len(segs) == 4 && segs[3] == "level" {
		v, ok := floatArg(args)
		if !ok {
			return
		}
		d.mu.Lock()
		pb := d.playbacks[key]
		pb.Level = v
		d.playbacks[key] = pb
		d.mu.Unlock()
		d.forward(ctx, fmt.Sprintf("/pb/%s/level", key), args)
		return
	}

	if len(segs) == 3 {
		d.mu.Lock()
		pb := d.playbacks[key]
		pb.Active = true
		d.playbacks[key] = pb
		d.mu.Unlock()
		d.forward(ctx, fmt.Sprintf("/pb/%s", key), args)
	}
}

func (d *Driver) forward(ctx context.Context, address string, args []value.Value) {
	if d.sender == nil {
		return
	}
	if err := d.sender.Send(ctx, address, args); err != nil {
		d.EmitError(err)
	}
}

// Playback returns a snapshot of one playback's tracked state.
func (d *Driver) Playback(key string) Playback {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playbacks[key]
}

// LastExec returns the most recently fired executor number.
func (d *Driver) LastExec() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastExec
}

// LastRelease returns the most recently released executor number.
func (d *Driver) LastRelease() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRelease
}

func floatArg(args []value.Value) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	return args[0].AsFloat()
}

var _ driver.Driver = (*Driver)(nil)
