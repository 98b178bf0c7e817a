// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streaming

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/value"
)

// fakeWS scripts the server side of the WebSocket conversation.
type fakeWS struct {
	incoming chan frame

	mu     sync.Mutex
	closed bool
	sent   []frame
}

func newFakeWS() *fakeWS {
	return &fakeWS{incoming: make(chan frame, 16)}
}

func (f *fakeWS) serverSend(op int, data any) {
	d, _ := json.Marshal(data)
	f.incoming <- frame{Op: op, D: d}
}

func (f *fakeWS) ReadJSON(v any) error {
	fr, ok := <-f.incoming
	if !ok {
		return errors.New("closed")
	}
	b, _ := json.Marshal(fr)
	return json.Unmarshal(b, v)
}

func (f *fakeWS) WriteJSON(v any) error {
	b, _ := json.Marshal(v)
	var fr frame
	if err := json.Unmarshal(b, &fr); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.incoming)
	}
	return nil
}

func (f *fakeWS) sentFrames() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.sent...)
}

func (f *fakeWS) requests(t *testing.T) []requestData {
	t.Helper()
	var out []requestData
	for _, fr := range f.sentFrames() {
		if fr.Op != opRequest {
			continue
		}
		var rd requestData
		require.NoError(t, json.Unmarshal(fr.D, &rd))
		out = append(out, rd)
	}
	return out
}

func newConnectedDriver(t *testing.T, password string) (*Driver, *fakeWS, chan struct{}) {
	t.Helper()
	ws := newFakeWS()
	d := New("obs", "/obs", "ws://example.invalid:4455", password,
		WithDialer(func(context.Context, string) (Conn, error) { return ws, nil }))

	connected := make(chan struct{}, 1)
	d.SetCallbacks(driver.Callbacks{OnConnected: func() { connected <- struct{}{} }})
	return d, ws, connected
}

func waitConnected(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("driver never emitted connected")
	}
}

func TestHandshakeWithChallenge(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "p")
	ws.serverSend(opHello, helloData{
		RPCVersion:     1,
		Authentication: &authenticationChallenge{Challenge: "c", Salt: "s"},
	})

	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()

	frames := ws.sentFrames()
	require.Len(t, frames, 1)
	require.Equal(t, opIdentify, frames[0].Op)

	var ident identifyData
	require.NoError(t, json.Unmarshal(frames[0].D, &ident))
	require.Equal(t, 1, ident.RPCVersion)
	require.Equal(t, 0x01FF, ident.EventSubscriptions)

	secretHash := sha256.Sum256([]byte("p" + "s"))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])
	authHash := sha256.Sum256([]byte(secret + "c"))
	require.Equal(t, base64.StdEncoding.EncodeToString(authHash[:]), ident.Authentication)

	// Connected fires only after Identified arrives.
	require.False(t, d.IsConnected())
	ws.serverSend(opIdentified, map[string]int{"negotiatedRpcVersion": 1})
	waitConnected(t, connected)
	require.True(t, d.IsConnected())
}

func TestHandshakeWithoutChallengeOmitsAuth(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "unused")
	ws.serverSend(opHello, helloData{RPCVersion: 1})

	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()

	var ident identifyData
	require.NoError(t, json.Unmarshal(ws.sentFrames()[0].D, &ident))
	require.Empty(t, ident.Authentication)

	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)
}

func TestPreIdentifyQueueDrainsInOrderWithDistinctIDs(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "")
	ws.serverSend(opHello, helloData{RPCVersion: 1})

	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()

	// Not yet identified: these are queued, not written.
	d.HandleMessage(context.Background(), "/stream/start", nil)
	d.HandleMessage(context.Background(), "/record/start", nil)
	require.Empty(t, ws.requests(t))

	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)

	var reqs []requestData
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reqs = ws.requests(t)
		if len(reqs) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, reqs, 2)
	require.Equal(t, "StartStream", reqs[0].RequestType)
	require.Equal(t, "StartRecord", reqs[1].RequestType)
	require.NotEqual(t, reqs[0].RequestID, reqs[1].RequestID)
}

func TestSceneNamePreservesCaseAndDecodes(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "")
	ws.serverSend(opHello, helloData{RPCVersion: 1})
	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()
	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)

	d.HandleMessage(context.Background(), "/scene/Main%20Stage/Wide", nil)

	reqs := ws.requests(t)
	require.Len(t, reqs, 1)
	require.Equal(t, "SetCurrentProgramScene", reqs[0].RequestType)

	var payload struct {
		SceneName string `json:"sceneName"`
	}
	require.NoError(t, json.Unmarshal(reqs[0].RequestData, &payload))
	require.Equal(t, "Main Stage/Wide", payload.SceneName)
}

func TestPreviewSceneDispatch(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "")
	ws.serverSend(opHello, helloData{RPCVersion: 1})
	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()
	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)

	d.HandleMessage(context.Background(), "/scene/preview/Backstage", nil)

	reqs := ws.requests(t)
	require.Len(t, reqs, 1)
	require.Equal(t, "SetCurrentPreviewScene", reqs[0].RequestType)
}

func TestSourceVisibilityDispatch(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "")
	ws.serverSend(opHello, helloData{RPCVersion: 1})
	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()
	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)

	d.HandleMessage(context.Background(), "/source/Camera%201/visible", []value.Value{value.Int(1)})

	reqs := ws.requests(t)
	require.Len(t, reqs, 1)
	require.Equal(t, "SetSceneItemEnabled", reqs[0].RequestType)
	require.True(t, d.SourceVisible("Camera 1"))
}

func TestIncompleteAndUnknownAddressesIgnored(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "")
	ws.serverSend(opHello, helloData{RPCVersion: 1})
	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()
	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)

	d.HandleMessage(context.Background(), "/", nil)
	d.HandleMessage(context.Background(), "/stream", nil)
	d.HandleMessage(context.Background(), "/scene", nil)
	d.HandleMessage(context.Background(), "/does/not/exist", nil)

	require.Empty(t, ws.requests(t))
}

func TestTransitionDuration(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "")
	ws.serverSend(opHello, helloData{RPCVersion: 1})
	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()
	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)

	d.HandleMessage(context.Background(), "/transition/duration", []value.Value{value.Int(500)})

	reqs := ws.requests(t)
	require.Len(t, reqs, 1)
	require.Equal(t, "SetCurrentSceneTransitionDuration", reqs[0].RequestType)
}

func TestEventsBecomeFeedback(t *testing.T) {
	d, ws, connected := newConnectedDriver(t, "")

	var mu sync.Mutex
	var feedback []driver.FeedbackEvent
	d.SetCallbacks(driver.Callbacks{
		OnConnected: func() { connected <- struct{}{} },
		OnFeedback: func(evt driver.FeedbackEvent) {
			mu.Lock()
			feedback = append(feedback, evt)
			mu.Unlock()
		},
	})

	ws.serverSend(opHello, helloData{RPCVersion: 1})
	require.NoError(t, d.Connect(context.Background()))
	defer func() { _ = d.Disconnect() }()
	ws.serverSend(opIdentified, map[string]int{})
	waitConnected(t, connected)

	ws.serverSend(opEvent, eventData{EventType: "CurrentProgramSceneChanged", EventData: mustJSON(map[string]string{"sceneName": "Act Two"})})
	ws.serverSend(opEvent, eventData{EventType: "StreamStateChanged", EventData: mustJSON(map[string]bool{"outputActive": true})})
	ws.serverSend(opEvent, eventData{EventType: "RecordStateChanged", EventData: mustJSON(map[string]bool{"outputActive": false})})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(feedback)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, feedback, 3)
	require.Equal(t, "/scene/current", feedback[0].Address)
	name, _ := feedback[0].Args[0].AsString()
	require.Equal(t, "Act Two", name)
	require.Equal(t, "/stream/status", feedback[1].Address)
	active, _ := feedback[1].Args[0].AsInt()
	require.Equal(t, 1, active)
	require.Equal(t, "/record/status", feedback[2].Address)
	require.Equal(t, "Act Two", d.CurrentScene())
	require.True(t, d.Streaming())
	require.False(t, d.Recording())
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
