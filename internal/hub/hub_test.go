// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hub

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mousetraptech/productionhub/internal/conn"
	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/emulator"
	"github.com/mousetraptech/productionhub/internal/fade"
	"github.com/mousetraptech/productionhub/internal/macro"
	"github.com/mousetraptech/productionhub/internal/msg"
	"github.com/mousetraptech/productionhub/internal/value"
)

// testClient captures every message the hub broadcasts to reply targets.
type testClient struct {
	socket *msg.Socket
	cancel context.CancelFunc

	mu       sync.Mutex
	messages []msg.Message
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	socket, err := msg.NewSocket("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c := &testClient{socket: socket, cancel: cancel}
	go func() {
		_ = socket.Receive(ctx, func(_ *net.UDPAddr, m msg.Message) {
			c.mu.Lock()
			c.messages = append(c.messages, m)
			c.mu.Unlock()
		})
	}()
	t.Cleanup(func() {
		cancel()
		_ = socket.Close()
	})
	return c
}

func (c *testClient) addr() *net.UDPAddr {
	return c.socket.LocalAddr().(*net.UDPAddr)
}

func (c *testClient) snapshot() []msg.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]msg.Message(nil), c.messages...)
}

// waitFor polls until pred returns true or the deadline expires.
func (c *testClient) waitFor(t *testing.T, pred func([]msg.Message) bool) []msg.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := c.snapshot()
		if pred(got) {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := c.snapshot()
	t.Fatalf("condition never satisfied; got %d messages: %v", len(got), got)
	return nil
}

func newTestHub(t *testing.T) (*Hub, *testClient) {
	t.Helper()
	socket, err := msg.NewSocket("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = socket.Close() })

	client := newTestClient(t)
	socket.AddReplyTarget(client.addr())

	h := New(socket, nil, Config{})
	t.Cleanup(h.Shutdown)
	return h, client
}

func register(t *testing.T, h *Hub, name, prefix string) *emulator.Driver {
	t.Helper()
	d := emulator.New(name, prefix)
	require.NoError(t, h.Register(name, prefix, d, driver.TransportDatagram, conn.Backoff{Base: 10 * time.Millisecond}, 0))
	return d
}

func TestRouteStripsPrefix(t *testing.T) {
	h, _ := newTestHub(t)
	d := register(t, h, "deck", "/test")

	h.HandleInbound(context.Background(), "/test/foo/bar", []value.Value{value.Int(1)})

	recv := d.Received()
	require.Len(t, recv, 1)
	require.Equal(t, "/foo/bar", recv[0].Address)
}

func TestRouteIsCaseInsensitive(t *testing.T) {
	h, _ := newTestHub(t)
	d := register(t, h, "deck", "/test")

	h.HandleInbound(context.Background(), "/TEST/Foo", nil)

	recv := d.Received()
	require.Len(t, recv, 1)
	require.Equal(t, "/foo", strings.ToLower(recv[0].Address))
}

func TestLongestPrefixWins(t *testing.T) {
	h, _ := newTestHub(t)
	a := register(t, h, "a", "/a")
	b := register(t, h, "b", "/a/b")

	h.HandleInbound(context.Background(), "/a/b/c", nil)
	h.HandleInbound(context.Background(), "/a/c", nil)

	require.Len(t, b.Received(), 1)
	require.Equal(t, "/c", b.Received()[0].Address)
	require.Len(t, a.Received(), 1)
	require.Equal(t, "/c", a.Received()[0].Address)
}

func TestPrefixMatchIsSegmentAligned(t *testing.T) {
	h, _ := newTestHub(t)
	d := register(t, h, "deck", "/test")

	h.HandleInbound(context.Background(), "/testing/foo", nil)

	require.Empty(t, d.Received())
	_, dropped := h.MessageCounts()
	require.Equal(t, uint64(1), dropped)
}

func TestDuplicatePrefixFails(t *testing.T) {
	h, _ := newTestHub(t)
	first := register(t, h, "first", "/lights")

	err := h.Register("second", "/LIGHTS", emulator.New("second", "/LIGHTS"), driver.TransportDatagram, conn.Backoff{Base: 10 * time.Millisecond}, 0)
	require.Error(t, err)

	// The table is unchanged: messages still reach the original driver only.
	h.HandleInbound(context.Background(), "/lights/go", nil)
	require.Len(t, h.Drivers(), 1)
	require.Len(t, first.Received(), 1)
}

func TestFeedbackRelayPrependsPrefix(t *testing.T) {
	h, client := newTestHub(t)
	d := register(t, h, "lights", "/lights")

	d.Feedback("/intensity", value.Float(0.5))

	got := client.waitFor(t, func(ms []msg.Message) bool {
		for _, m := range ms {
			if m.Address == "/lights/intensity" {
				return true
			}
		}
		return false
	})
	count := 0
	for _, m := range got {
		if m.Address == "/lights/intensity" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestFeedbackRelayPreservesOrder(t *testing.T) {
	h, client := newTestHub(t)
	d := register(t, h, "lights", "/lights")

	for i := 0; i < 5; i++ {
		d.Feedback("/step", value.Int(int32(i)))
	}

	got := client.waitFor(t, func(ms []msg.Message) bool {
		n := 0
		for _, m := range ms {
			if m.Address == "/lights/step" {
				n++
			}
		}
		return n == 5
	})
	var steps []int
	for _, m := range got {
		if m.Address == "/lights/step" {
			n, ok := m.Args[0].AsInt()
			require.True(t, ok)
			steps = append(steps, n)
		}
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, steps)
}

func TestFadeStopCancelsAll(t *testing.T) {
	h, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	h.Fades().SetCurrentValue("a/1/fader", 0)
	h.Fades().SetCurrentValue("b/1/fader", 0)
	h.Fades().StartFade("a/1/fader", 0, 1, time.Second, fade.Linear)
	h.Fades().StartFade("b/1/fader", 0, 1, time.Second, fade.Linear)
	require.Equal(t, 2, h.Fades().ActiveCount())

	h.HandleInbound(ctx, "/fade/stop", nil)
	require.Equal(t, 0, h.Fades().ActiveCount())
}

func TestFadeStopWithKeySnapsToTarget(t *testing.T) {
	h, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	h.Fades().SetCurrentValue("a/1/fader", 0)
	h.Fades().StartFade("a/1/fader", 0, 0.9, time.Second, fade.Linear)

	h.HandleInbound(ctx, "/fade/stop", []value.Value{value.String("a/1/fader")})

	require.Equal(t, 0, h.Fades().ActiveCount())
	v, ok := h.Fades().GetCurrentValue("a/1/fader")
	require.True(t, ok)
	require.Equal(t, 0.9, v)
}

func TestPanicCancelsFadesAndEmitsStop(t *testing.T) {
	h, client := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	h.Fades().SetCurrentValue("a/1/fader", 0)
	h.Fades().SetCurrentValue("b/2/pan", 0)
	h.Fades().StartFade("a/1/fader", 0, 1, time.Second, fade.Linear)
	h.Fades().StartFade("b/2/pan", 0, 1, time.Second, fade.SCurve)
	require.Equal(t, 2, h.Fades().ActiveCount())

	h.HandleInbound(ctx, "/hub/panic", nil)

	require.Equal(t, 0, h.Fades().ActiveCount())
	client.waitFor(t, func(ms []msg.Message) bool {
		for _, m := range ms {
			if m.Address == "/hub/stopped" {
				return true
			}
		}
		return false
	})
}

func TestDriverStatusAndReadyBroadcast(t *testing.T) {
	h, client := newTestHub(t)
	register(t, h, "deck one", "/deck")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartDrivers(ctx)

	got := client.waitFor(t, func(ms []msg.Message) bool {
		status, ready := false, false
		for _, m := range ms {
			if m.Address == "/system/driver/deck_one/status" {
				status = true
			}
			if m.Address == "/system/ready" {
				ready = true
			}
		}
		return status && ready
	})

	ready := 0
	for _, m := range got {
		if m.Address == "/system/ready" {
			ready++
		}
	}
	require.Equal(t, 1, ready)
}

func TestSystemsCheckReportsDrivers(t *testing.T) {
	h, client := newTestHub(t)
	register(t, h, "deck", "/deck")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartDrivers(ctx)

	h.HandleInbound(ctx, "/system/check", nil)

	client.waitFor(t, func(ms []msg.Message) bool {
		check, done := false, false
		for _, m := range ms {
			if m.Address == "/system/check/deck" {
				check = true
			}
			if m.Address == "/system/check/done" {
				done = true
			}
		}
		return check && done
	})
}

func TestMacroDispatchThroughHub(t *testing.T) {
	h, _ := newTestHub(t)
	d := register(t, h, "deck", "/deck")

	h.Macros().Load(context.Background(), []macro.Macro{
		{Address: "/go", Name: "go", Actions: []macro.Action{{Address: "/deck/cue/1"}}},
	})

	h.HandleInbound(context.Background(), "/go", nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(d.Received()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	recv := d.Received()
	require.Len(t, recv, 1)
	require.Equal(t, "/cue/1", recv[0].Address)
}
