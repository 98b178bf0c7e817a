// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/value"
)

// Conn is the minimal surface the driver needs from a WebSocket connection,
// abstracted so tests can substitute an in-memory double instead of a real
// socket.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// gorillaConn adapts *websocket.Conn to Conn.
type gorillaConn struct{ c *websocket.Conn }

func (g gorillaConn) ReadJSON(v any) error  { return g.c.ReadJSON(v) }
func (g gorillaConn) WriteJSON(v any) error { return g.c.WriteJSON(v) }
func (g gorillaConn) Close() error          { return g.c.Close() }

// Dialer opens a connection to a streaming-engine WebSocket endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DefaultDialer dials with gorilla/websocket's default dialer.
func DefaultDialer(ctx context.Context, rawURL string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return gorillaConn{c}, nil
}

// pendingRequest is an outbound request, either queued for the
// post-Identified drain or about to be sent.
type pendingRequest struct {
	requestType string
	data        any
}

// Driver is the streaming-engine (OBS-family) WebSocket JSON-RPC client.
type Driver struct {
	*driver.Base

	wsURL    string
	password string
	dial     Dialer

	mu       sync.Mutex
	conn     Conn
	identified bool
	queue    []pendingRequest
	nextID   atomic.Int64

	scene       string
	previewScene string
	streaming   bool
	recording   bool
	virtualCam  bool
	transition  string
	transitionDurationMs int
	sources     map[string]bool
}

// Option configures a Driver at construction.
type Option func(*Driver)

// WithDialer overrides the connection dialer (for tests).
func WithDialer(d Dialer) Option {
	return func(drv *Driver) { drv.dial = d }
}

// New builds a streaming-engine driver that dials wsURL on Connect,
// authenticating with password if the server's Hello challenges it.
func New(name, prefix, wsURL, password string, opts ...Option) *Driver {
	d := &Driver{
		Base:     driver.NewBase(name, prefix, 200),
		wsURL:    wsURL,
		password: password,
		dial:     DefaultDialer,
		sources:  make(map[string]bool),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connect dials the endpoint, reads the Hello frame and writes Identify,
// then returns; the read loop it starts marks the driver connected once the
// Identified frame arrives.
func (d *Driver) Connect(ctx context.Context) error {
	conn, err := d.dial(ctx, d.wsURL)
	if err != nil {
		d.EmitError(fmt.Errorf("streaming: dial: %w", err))
		return err
	}

	d.mu.Lock()
	d.conn = conn
	d.identified = false
	d.mu.Unlock()

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		d.EmitError(fmt.Errorf("streaming: read hello: %w", err))
		_ = conn.Close()
		return err
	}
	if hello.Op != opHello {
		err := fmt.Errorf("streaming: expected Hello (op 0), got op %d", hello.Op)
		d.EmitError(err)
		_ = conn.Close()
		return err
	}
	var hd helloData
	_ = json.Unmarshal(hello.D, &hd)

	ident := identifyData{RPCVersion: 1, EventSubscriptions: eventSubscriptionsAll}
	if hd.Authentication != nil {
		ident.Authentication = computeAuthResponse(d.password, hd.Authentication.Salt, hd.Authentication.Challenge)
	}
	identD, _ := json.Marshal(ident)
	if err := conn.WriteJSON(frame{Op: opIdentify, D: identD}); err != nil {
		d.EmitError(fmt.Errorf("streaming: write identify: %w", err))
		_ = conn.Close()
		return err
	}

	go d.readLoop(ctx, conn)
	return nil
}

// Disconnect closes the WebSocket connection.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.identified = false
	d.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	d.EmitDisconnected()
	return err
}

// HandleFadeTick is a no-op: streaming-engine parameters are not faded.
func (d *Driver) HandleFadeTick(key string, v float64) {}

func (d *Driver) readLoop(ctx context.Context, conn Conn) {
	logger := log.WithComponentFromContext(ctx, "streaming")
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			logger.Warn().Err(err).Str("driver", d.Name()).Msg("streaming read loop ended")
			d.EmitError(err)
			return
		}
		switch f.Op {
		case opIdentified:
			d.onIdentified()
		case opEvent:
			var ed eventData
			if err := json.Unmarshal(f.D, &ed); err == nil {
				d.handleEvent(ed)
			}
		}
	}
}

// onIdentified marks the driver connected and drains the pre-identification
// outgoing queue in FIFO order.
func (d *Driver) onIdentified() {
	d.mu.Lock()
	d.identified = true
	queued := d.queue
	d.queue = nil
	conn := d.conn
	d.mu.Unlock()

	d.EmitConnected()

	for _, req := range queued {
		d.sendRequest(conn, req)
	}
}

func (d *Driver) sendRequest(conn Conn, req pendingRequest) {
	if conn == nil {
		return
	}
	data, _ := json.Marshal(req.data)
	rd := requestData{
		RequestType: req.requestType,
		RequestID:   strconv.FormatInt(d.nextID.Add(1), 10),
		RequestData: data,
	}
	rdJSON, _ := json.Marshal(rd)
	_ = conn.WriteJSON(frame{Op: opRequest, D: rdJSON})
}

// request enqueues or sends req.requestType immediately, depending on
// whether the handshake has completed.
func (d *Driver) request(reqType string, data any) {
	d.mu.Lock()
	if !d.identified {
		d.queue = append(d.queue, pendingRequest{requestType: reqType, data: data})
		d.mu.Unlock()
		return
	}
	conn := d.conn
	d.mu.Unlock()
	d.sendRequest(conn, pendingRequest{requestType: reqType, data: data})
}

// HandleMessage dispatches the recognised relative addresses; anything
// else is silently ignored.
func (d *Driver) HandleMessage(ctx context.Context, address string, args []value.Value) {
	trimmed := strings.Trim(address, "/")
	if trimmed == "" {
		return
	}
	// segs preserves the caller's case (scene/source names are case-sensitive
	// on the streaming engine); segsLower is used only to match the fixed
	// keyword segments below.
	segs := strings.Split(trimmed, "/")
	segsLower := make([]string, len(segs))
	for i, s := range segs {
		segsLower[i] = strings.ToLower(s)
	}
	logger := log.WithComponentFromContext(ctx, "streaming")

	switch segsLower[0] {
	case "scene":
		if len(segsLower) >= 2 && segsLower[1] == "preview" {
			if len(segs) < 3 {
				return
			}
			name := decodeName(segs[2:])
			d.mu.Lock()
			d.previewScene = name
			d.mu.Unlock()
			d.request("SetCurrentPreviewScene", map[string]any{"sceneName": name})
			return
		}
		if len(segs) < 2 {
			return
		}
		name := decodeName(segs[1:])
		d.mu.Lock()
		d.scene = name
		d.mu.Unlock()
		d.request("SetCurrentProgramScene", map[string]any{"sceneName": name})

	case "stream":
		if len(segsLower) < 2 {
			return
		}
		if req := reqNameFor("Stream", segsLower[1]); req != "" {
			d.request(req, nil)
		}

	case "record":
		if len(segsLower) < 2 {
			return
		}
		if req := reqNameFor("Record", segsLower[1]); req != "" {
			d.request(req, nil)
		}

	case "transition":
		if len(segsLower) < 2 {
			return
		}
		if segsLower[1] == "duration" {
			ms, ok := intArg(args)
			if !ok {
				return
			}
			d.mu.Lock()
			d.transitionDurationMs = ms
			d.mu.Unlock()
			d.request("SetCurrentSceneTransitionDuration", map[string]any{"transitionDuration": ms})
			return
		}
		name := decodeName(segs[1:])
		d.mu.Lock()
		d.transition = name
		d.mu.Unlock()
		d.request("SetCurrentSceneTransition", map[string]any{"transitionName": name})

	case "virtualcam":
		if len(segsLower) < 2 {
			return
		}
		switch segsLower[1] {
		case "start":
			d.mu.Lock()
			d.virtualCam = true
			d.mu.Unlock()
			d.request("StartVirtualCam", nil)
		case "stop":
			d.mu.Lock()
			d.virtualCam = false
			d.mu.Unlock()
			d.request("StopVirtualCam", nil)
		}

	case "source":
		if len(segs) < 3 || segsLower[len(segsLower)-1] != "visible" {
			return
		}
		name := decodeName(segs[1 : len(segs)-1])
		enabled, ok := boolArg(args)
		if !ok {
			return
		}
		d.mu.Lock()
		d.sources[name] = enabled
		d.mu.Unlock()
		d.request("SetSceneItemEnabled", map[string]any{"sourceName": name, "sceneItemEnabled": enabled})

	default:
		logger.Debug().Str("address", address).Msg("streaming: ignoring unrecognised address")
	}
}

func reqNameFor(domain, action string) string {
	switch action {
	case "start":
		return "Start" + domain
	case "stop":
		return "Stop" + domain
	case "toggle":
		return "Toggle" + domain
	default:
		return ""
	}
}

func decodeName(segs []string) string {
	joined := strings.Join(segs, "/")
	if decoded, err := url.PathUnescape(joined); err == nil {
		return decoded
	}
	return joined
}

func (d *Driver) handleEvent(ed eventData) {
	switch ed.EventType {
	case "CurrentProgramSceneChanged":
		var payload struct {
			SceneName string `json:"sceneName"`
		}
		if json.Unmarshal(ed.EventData, &payload) == nil {
			d.mu.Lock()
			d.scene = payload.SceneName
			d.mu.Unlock()
			d.EmitFeedback("/scene/current", value.String(payload.SceneName))
		}
	case "StreamStateChanged":
		var payload struct {
			OutputActive bool `json:"outputActive"`
		}
		if json.Unmarshal(ed.EventData, &payload) == nil {
			d.mu.Lock()
			d.streaming = payload.OutputActive
			d.mu.Unlock()
			d.EmitFeedback("/stream/status", boolToInt(payload.OutputActive))
		}
	case "RecordStateChanged":
		var payload struct {
			OutputActive bool `json:"outputActive"`
		}
		if json.Unmarshal(ed.EventData, &payload) == nil {
			d.mu.Lock()
			d.recording = payload.OutputActive
			d.mu.Unlock()
			d.EmitFeedback("/record/status", boolToInt(payload.OutputActive))
		}
	}
}

func boolToInt(b bool) value.Value {
	if b {
		return value.Int(1)
	}
	return value.Int(0)
}

func intArg(args []value.Value) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	return args[0].AsInt()
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

// CurrentScene returns the last commanded or reported program scene name.
func (d *Driver) CurrentScene() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scene
}

// Streaming reports the last known stream-output state.
func (d *Driver) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Recording reports the last known record-output state.
func (d *Driver) Recording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording
}

// SourceVisible reports the last-commanded visibility of a named source.
func (d *Driver) SourceVisible(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources[name]
}

var _ driver.Driver = (*Driver)(nil)
