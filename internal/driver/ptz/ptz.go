// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ptz implements the PTZ-camera driver: translates
// pan/tilt/zoom/preset/power/focus addresses to VISCA-over-TCP command
// bytes. The driver emits no feedback; cameras in this family are
// write-only over VISCA.
package ptz

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/value"
)

// DefaultPort is the conventional VISCA-over-IP control port.
const DefaultPort = 5678

// visca camera address 1, the only camera addressed per TCP connection.
const viscaCameraAddr = 0x80

// State is the driver's locally tracked view of the camera (the device
// itself is the source of truth for anything not explicitly tracked here).
type State struct {
	PresetIndex int
	PanSpeed    float64 // -1..1
	TiltSpeed   float64 // -1..1
	ZoomSpeed   float64 // -1..1
	ZoomPos     float64 // 0..1
	PoweredOn   bool
	FocusAuto   bool
	Presets     map[int]bool
}

// Driver is the PTZ protocol translator.
type Driver struct {
	*driver.Base

	host string
	port int

	mu    sync.Mutex
	conn  net.Conn
	state State
}

// New builds a PTZ driver dialing host:port (DefaultPort if port is 0).
func New(name, prefix, host string, port int) *Driver {
	if port == 0 {
		port = DefaultPort
	}
	return &Driver{
		Base:  driver.NewBase(name, prefix, 200),
		host:  host,
		port:  port,
		state: State{Presets: make(map[int]bool)},
	}
}

// Connect dials the camera's VISCA-over-IP control port.
func (d *Driver) Connect(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", d.host, d.port), 5*time.Second)
	if err != nil {
		d.EmitError(fmt.Errorf("ptz: dial %s:%d: %w", d.host, d.port, err))
		return err
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	d.EmitConnected()
	return nil
}

// Disconnect closes the VISCA connection.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	d.EmitDisconnected()
	return err
}

// HandleFadeTick is a no-op: PTZ speeds are set directly, not interpolated.
func (d *Driver) HandleFadeTick(key string, v float64) {}

// HandleMessage implements driver.Driver.
func (d *Driver) HandleMessage(ctx context.Context, address string, args []value.Value) {
	segs := strings.Split(strings.Trim(strings.ToLower(address), "/"), "/")
	logger := log.WithComponentFromContext(ctx, "ptz")
	if len(segs) == 0 {
		return
	}

	switch segs[0] {
	case "preset":
		d.handlePreset(segs, args)
	case "home":
		d.send(viscaHome())
	case "pan":
		if len(segs) >= 2 && segs[1] == "speed" {
			d.setSpeed(args, func(v float64) { d.state.PanSpeed = v }, func(v float64) []byte { return viscaPanTiltSpeed(v, d.state.TiltSpeed) })
		}
	case "tilt":
		if len(segs) >= 2 && segs[1] == "speed" {
			d.setSpeed(args, func(v float64) { d.state.TiltSpeed = v }, func(v float64) []byte { return viscaPanTiltSpeed(d.state.PanSpeed, v) })
		}
	case "pantilt":
		if len(segs) >= 2 && segs[1] == "stop" {
			d.mu.Lock()
			d.state.PanSpeed, d.state.TiltSpeed = 0, 0
			d.mu.Unlock()
			d.send(viscaPanTiltStop())
		} else if len(segs) >= 2 && segs[1] == "speed" && len(args) >= 2 {
			pan, ok1 := args[0].AsFloat()
			tilt, ok2 := args[1].AsFloat()
			if ok1 && ok2 {
				d.mu.Lock()
				d.state.PanSpeed, d.state.TiltSpeed = pan, tilt
				d.mu.Unlock()
				d.send(viscaPanTiltSpeed(pan, tilt))
			}
		}
	case "zoom":
		d.handleZoom(segs, args)
	case "power":
		if len(segs) >= 2 {
			on := segs[1] == "on"
			d.mu.Lock()
			d.state.PoweredOn = on
			d.mu.Unlock()
			d.send(viscaPower(on))
		}
	case "focus":
		if len(segs) >= 2 {
			auto := segs[1] == "auto"
			d.mu.Lock()
			d.state.FocusAuto = auto
			d.mu.Unlock()
			d.send(viscaFocusMode(auto))
		}
	default:
		logger.Warn().Str("address", address).Msg("ptz: unknown address")
	}
}

func (d *Driver) handlePreset(segs []string, args []value.Value) {
	if len(segs) < 3 {
		return
	}
	n, err := strconv.Atoi(segs[2])
	if err != nil {
		return
	}
	switch segs[1] {
	case "recall":
		d.mu.Lock()
		d.state.PresetIndex = n
		d.mu.Unlock()
		d.send(viscaPresetRecall(n))
	case "store":
		d.mu.Lock()
		d.state.Presets[n] = true
		d.mu.Unlock()
		d.send(viscaPresetStore(n))
	}
}

func (d *Driver) handleZoom(segs []string, args []value.Value) {
	if len(segs) < 2 {
		return
	}
	switch segs[1] {
	case "speed":
		v, ok := floatArg(args)
		if !ok {
			return
		}
		d.mu.Lock()
		d.state.ZoomSpeed = v
		d.mu.Unlock()
		d.send(viscaZoomSpeed(v))
	case "direct":
		v, ok := floatArg(args)
		if !ok {
			return
		}
		d.mu.Lock()
		d.state.ZoomPos = v
		d.mu.Unlock()
		d.send(viscaZoomDirect(v))
	case "stop":
		d.mu.Lock()
		d.state.ZoomSpeed = 0
		d.mu.Unlock()
		d.send(viscaZoomStop())
	}
}

func (d *Driver) setSpeed(args []value.Value, apply func(float64), encode func(float64) []byte) {
	v, ok := floatArg(args)
	if !ok {
		return
	}
	d.mu.Lock()
	apply(v)
	d.mu.Unlock()
	d.send(encode(v))
}

func (d *Driver) send(b []byte) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(b); err != nil {
		d.EmitError(fmt.Errorf("ptz: write: %w", err))
	}
}

// State returns a snapshot of the driver's tracked camera state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	presets := make(map[int]bool, len(d.state.Presets))
	for k, v := range d.state.Presets {
		presets[k] = v
	}
	s := d.state
	s.Presets = presets
	return s
}

func floatArg(args []value.Value) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	return args[0].AsFloat()
}

var _ driver.Driver = (*Driver)(nil)
