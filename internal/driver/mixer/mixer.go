// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mixer implements the audio-mixer driver: the translator between
// path addresses and the binary MIDI-over-TCP control protocol the console
// speaks, using the fade engine for every timed parameter change.
package mixer

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/fade"
	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/midi"
	"github.com/mousetraptech/productionhub/internal/value"
)

// WirePort is the console's fixed MIDI-over-TCP control port.
const WirePort = 51325

// FadeEngine is the subset of fade.Engine the mixer driver depends on.
type FadeEngine interface {
	SetCurrentValue(key string, v float64)
	StartFade(key string, startValue, endValue float64, duration time.Duration, easing fade.Easing)
}

// Driver is the audio-mixer protocol translator.
type Driver struct {
	*driver.Base

	host  string
	port  int
	fades FadeEngine

	mu     sync.Mutex
	strips map[string]Strip
	scene  int
	conn   net.Conn

	dialCtx    context.Context
	cancelRead context.CancelFunc
}

// New builds a mixer driver registered under name/prefix, dialing host:port
// (WirePort if port is 0) when Connect is called.
func New(name, prefix, host string, port int, fades FadeEngine) *Driver {
	if port == 0 {
		port = WirePort
	}
	return &Driver{
		Base:   driver.NewBase(name, prefix, 200),
		host:   host,
		port:   port,
		fades:  fades,
		strips: make(map[string]Strip),
	}
}

// Connect dials the mixer's TCP control port and starts the inbound MIDI
// read loop. It blocks until the dial completes or fails; the caller
// (internal/conn.Manager) runs it in its own goroutine.
func (d *Driver) Connect(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", d.host, d.port), 5*time.Second)
	if err != nil {
		d.EmitError(fmt.Errorf("mixer: dial %s:%d: %w", d.host, d.port, err))
		return err
	}

	readCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.conn = conn
	d.cancelRead = cancel
	d.mu.Unlock()

	go d.readLoop(readCtx, conn)

	d.EmitConnected()
	return nil
}

// Disconnect closes the TCP connection and stops the read loop.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	conn := d.conn
	cancel := d.cancelRead
	d.conn = nil
	d.cancelRead = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	d.EmitDisconnected()
	return err
}

func (d *Driver) readLoop(ctx context.Context, conn net.Conn) {
	logger := log.WithComponentFromContext(ctx, "mixer")
	parser := midi.NewParser()
	buf := make([]byte, 1024)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		n, err := conn.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Warn().Err(err).Str("driver", d.Name()).Msg("mixer read loop error")
			d.EmitError(err)
			return
		}
		for _, ev := range parser.Feed(buf[:n]) {
			d.handleInboundMIDI(ev)
		}
	}
}

func (d *Driver) send(b []byte) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(b); err != nil {
		d.EmitError(fmt.Errorf("mixer: write: %w", err))
	}
}

// HandleMessage implements driver.Driver. address is the prefix-stripped,
// lowercased remainder, e.g. "/ch/1/mix/fader" or "/dca/3/mute" (DCA short
// form).
func (d *Driver) HandleMessage(ctx context.Context, address string, args []value.Value) {
	segs := strings.Split(strings.Trim(strings.ToLower(address), "/"), "/")
	logger := log.WithComponentFromContext(ctx, "mixer")

	switch segs[0] {
	case "scene":
		d.handleScene(ctx, segs, args)
		return
	case string(familyMain):
		// /main/mix/<param> or /main/<param>
		param := lastSegment(segs, "mix")
		d.handleParam(ctx, familyMain, 1, param, args)
		return
	case string(familyCh), string(familyDCA):
		f := family(segs[0])
		if len(segs) < 2 {
			return
		}
		n, err := strconv.Atoi(segs[1])
		if err != nil {
			logger.Warn().Str("address", address).Msg("mixer: non-numeric strip number")
			return
		}
		param := lastSegment(segs[2:], "mix")
		d.handleParam(ctx, f, n, param, args)
	default:
		logger.Warn().Str("address", address).Msg("mixer: unknown address")
	}
}

// lastSegment returns the final path segment, skipping an optional "mix"
// separator segment (the long form is ".../mix/<param>"; DCAs also accept
// the short form ".../  <param>" with no "mix").
func lastSegment(segs []string, skip string) string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s == skip {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return ""
	}
	return out[len(out)-1]
}

func (d *Driver) handleParam(ctx context.Context, f family, n int, param string, args []value.Value) {
	key := stripKey(f, n)
	logger := log.WithComponentFromContext(ctx, "mixer")

	d.mu.Lock()
	s := d.strips[key]
	d.mu.Unlock()

	switch param {
	case "fader":
		v, ok := floatArg(args)
		if !ok {
			return
		}
		s.Fader = v
		d.setStrip(key, s)
		if d.fades != nil {
			d.fades.SetCurrentValue(paramKey(f, n, "fader"), v)
		}
		d.send(encodeFader(f, n, v))
		d.EmitFeedback(addressFor(f, n, "fader"), value.Float(float32(v)))

	case "pan":
		v, ok := floatArg(args)
		if !ok {
			return
		}
		s.Pan = v
		d.setStrip(key, s)
		if d.fades != nil {
			d.fades.SetCurrentValue(paramKey(f, n, "pan"), v)
		}
		d.send(encodePan(f, n, v))
		d.EmitFeedback(addressFor(f, n, "pan"), value.Float(float32(v)))

	case "mute":
		muted, ok := boolArg(args)
		if !ok {
			return
		}
		s.Muted = muted
		d.setStrip(key, s)
		d.send(encodeMute(f, n, muted))
		d.EmitFeedback(addressFor(f, n, "mute"), value.Bool(muted))

	case "fade":
		d.handleFade(f, n, args)

	default:
		logger.Warn().Str("param", param).Str("strip", key).Msg("mixer: unknown parameter")
	}
}

// handleFade parses [target, seconds, easingName] and starts a fade on this
// strip's fader. Pan is not faded through this path. The duration is
// rounded to whole milliseconds.
func (d *Driver) handleFade(f family, n int, args []value.Value) {
	if len(args) < 3 {
		return
	}
	target, ok := args[0].AsFloat()
	if !ok {
		return
	}
	seconds, ok := args[1].AsFloat()
	if !ok {
		return
	}
	name, _ := args[2].AsString()
	easing := parseEasing(name)

	if d.fades == nil {
		return
	}
	key := paramKey(f, n, "fader")
	d.fades.StartFade(key, 0, target, time.Duration(math.Round(seconds*1000))*time.Millisecond, easing)
}

// parseEasing falls back to scurve for any unrecognised name.
func parseEasing(name string) fade.Easing {
	switch fade.Easing(strings.ToLower(name)) {
	case fade.Linear:
		return fade.Linear
	case fade.EaseIn:
		return fade.EaseIn
	case fade.EaseOut:
		return fade.EaseOut
	default:
		return fade.SCurve
	}
}

// HandleFadeTick implements driver.Driver: the fade engine calls this on
// every tick for a key this driver owns, so device state and wire I/O stay
// in lockstep with the tracked value.
func (d *Driver) HandleFadeTick(key string, v float64) {
	f, n, param, ok := parseFadeKey(key)
	if !ok {
		return
	}
	sk := stripKey(f, n)
	d.mu.Lock()
	s := d.strips[sk]
	switch param {
	case "fader":
		s.Fader = v
	case "pan":
		s.Pan = v
	}
	d.strips[sk] = s
	d.mu.Unlock()

	switch param {
	case "fader":
		d.send(encodeFader(f, n, v))
	case "pan":
		d.send(encodePan(f, n, v))
	}
	d.EmitFeedback(addressFor(f, n, param), value.Float(float32(v)))
}

// parseFadeKey reverses paramKey/fadeFamily to recover the strip + param a
// fade-engine key addresses.
func parseFadeKey(key string) (family, int, string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) == 2 && parts[0] == "main" {
		return familyMain, 1, parts[1], true
	}
	if len(parts) != 3 {
		return "", 0, "", false
	}
	f := family(parts[0])
	if f == "input" {
		f = familyCh
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", false
	}
	return f, n, parts[2], true
}

func (d *Driver) handleScene(ctx context.Context, segs []string, args []value.Value) {
	logger := log.WithComponentFromContext(ctx, "mixer")
	if len(segs) < 2 {
		return
	}
	n, err := strconv.Atoi(segs[1])
	if err != nil {
		logger.Warn().Strs("segments", segs).Msg("mixer: non-numeric scene")
		return
	}
	d.recallScene(n)
}

// recallScene resets all tracked strip state to defaults, sends the
// bank-select/program-change sequence, and emits /scene/current feedback
// for UI echo.
func (d *Driver) recallScene(n int) {
	d.mu.Lock()
	for k := range d.strips {
		d.strips[k] = defaultStrip()
	}
	d.scene = n
	d.mu.Unlock()

	d.send(encodeSceneRecall(familyMain.midiChannel(), n))
	d.EmitFeedback("/scene/current", value.Int(int32(n)))
}

func (d *Driver) setStrip(key string, s Strip) {
	d.mu.Lock()
	d.strips[key] = s
	d.mu.Unlock()
}

// Strip returns a snapshot of a tracked strip's state, defaulting to the
// scene-reset defaults for a strip never touched.
func (d *Driver) Strip(key string) Strip {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.strips[key]; ok {
		return s
	}
	return defaultStrip()
}

// Scene returns the last-recalled scene index.
func (d *Driver) Scene() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scene
}

func addressFor(f family, n int, param string) string {
	if f == familyMain {
		return fmt.Sprintf("/main/mix/%s", param)
	}
	return fmt.Sprintf("/%s/%d/mix/%s", f, n, param)
}

func floatArg(args []value.Value) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	return args[0].AsFloat()
}

func boolArg(args []value.Value) (bool, bool) {
	if len(args) == 0 {
		return false, false
	}
	if b, ok := args[0].AsBool(); ok {
		return b, true
	}
	if i, ok := args[0].AsInt(); ok {
		return i != 0, true
	}
	return false, false
}

// handleInboundMIDI reverse-maps a decoded MIDI event (channel + strip hex)
// back to a (family, user-facing number) pair and emits the equivalent
// feedback address.
func (d *Driver) handleInboundMIDI(ev midi.Event) {
	f, ok := familyForChannel(ev.Channel)
	if !ok {
		return
	}

	switch ev.Kind {
	case midi.EventNRPN:
		n := int(ev.ParamMSB) + 1
		switch ev.ParamLSB {
		case lsbFader:
			v := midiToFloat(byte(ev.Value))
			d.updateStripField(f, n, func(s *Strip) { s.Fader = v })
			if d.fades != nil {
				d.fades.SetCurrentValue(paramKey(f, n, "fader"), v)
			}
			d.EmitFeedback(addressFor(f, n, "fader"), value.Float(float32(v)))
		case lsbPan:
			v := midiToFloat(byte(ev.Value))
			d.updateStripField(f, n, func(s *Strip) { s.Pan = v })
			if d.fades != nil {
				d.fades.SetCurrentValue(paramKey(f, n, "pan"), v)
			}
			d.EmitFeedback(addressFor(f, n, "pan"), value.Float(float32(v)))
		}

	case midi.EventNoteOn:
		n := noteToStripNumber(f, ev.Note)
		if n <= 0 {
			return
		}
		muted := ev.Velocity >= 0x40
		d.updateStripField(f, n, func(s *Strip) { s.Muted = muted })
		d.EmitFeedback(addressFor(f, n, "mute"), value.Bool(muted))

	case midi.EventProgramChange:
		if f == familyMain {
			d.mu.Lock()
			d.scene = ev.Program
			d.mu.Unlock()
			d.EmitFeedback("/scene/current", value.Int(int32(ev.Program)))
		}
	}
}

func familyForChannel(ch int) (family, bool) {
	switch ch {
	case familyCh.midiChannel():
		return familyCh, true
	case familyDCA.midiChannel():
		return familyDCA, true
	case familyMain.midiChannel():
		return familyMain, true
	default:
		return "", false
	}
}

func noteToStripNumber(f family, note int) int {
	switch f {
	case familyCh:
		return note + 1
	case familyDCA:
		return note - 64 + 1
	case familyMain:
		return 1
	default:
		return 0
	}
}

func (d *Driver) updateStripField(f family, n int, mutate func(*Strip)) {
	key := stripKey(f, n)
	d.mu.Lock()
	s := d.strips[key]
	mutate(&s)
	d.strips[key] = s
	d.mu.Unlock()
}

var _ driver.Driver = (*Driver)(nil)
