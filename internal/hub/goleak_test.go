// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mousetraptech/productionhub/internal/conn"
	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/emulator"
	"github.com/mousetraptech/productionhub/internal/fade"
	"github.com/mousetraptech/productionhub/internal/msg"
)

func TestHub_StartShutdown_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	socket, err := msg.NewSocket("127.0.0.1:0")
	require.NoError(t, err)
	defer socket.Close()

	h := New(socket, nil, Config{})
	d := emulator.New("deck", "/deck")
	require.NoError(t, h.Register("deck", "/deck", d, driver.TransportDatagram, conn.Backoff{Base: 10 * time.Millisecond}, 0))

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	h.StartDrivers(ctx)

	h.Fades().SetCurrentValue("k", 0)
	h.Fades().StartFade("k", 0, 1, 50*time.Millisecond, fade.Linear)
	time.Sleep(30 * time.Millisecond)

	cancel()
	h.Shutdown()
	// The fade ticker and driver managers must be fully drained by now.
	time.Sleep(50 * time.Millisecond)
}
