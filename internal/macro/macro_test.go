package macro

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mousetraptech/productionhub/internal/value"
	"github.com/stretchr/testify/require"
)

type dispatchRecorder struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	address string
	args    []value.Value
}

func (r *dispatchRecorder) dispatch(ctx context.Context, address string, args []value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{address: address, args: args})
}

func (r *dispatchRecorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func TestExecuteSubstitutesPlaceholders(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.Load(context.Background(), []Macro{
		{Address: "/m", Name: "m", Actions: []Action{
			{Address: "/avantis/ch/1/mix/fader", Args: []any{"$$1"}},
		}},
	})

	e.Execute(context.Background(), "/m", []value.Value{value.Float(0.85)})

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "/avantis/ch/1/mix/fader", calls[0].address)
	f, ok := calls[0].args[0].AsFloat()
	require.True(t, ok)
	// value.Float carries a float32, so the trigger arg reads back at that precision.
	require.InDelta(t, float64(float32(0.85)), f, 1e-9)
}

func TestExecuteLeavesUnmatchedPlaceholderLiteral(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.Load(context.Background(), []Macro{
		{Address: "/m", Actions: []Action{{Address: "/x", Args: []any{"$$5"}}}},
	})

	e.Execute(context.Background(), "/m", []value.Value{value.Float(1)})
	calls := rec.snapshot()
	require.Len(t, calls, 1)
	s, ok := calls[0].args[0].AsString()
	require.True(t, ok)
	require.Equal(t, "$$5", s)
}

func TestExecuteActionsInOrder(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.Load(context.Background(), []Macro{
		{Address: "/m", Actions: []Action{
			{Address: "/a"},
			{Address: "/b"},
			{Address: "/c"},
		}},
	})
	e.Execute(context.Background(), "/m", nil)
	calls := rec.snapshot()
	require.Len(t, calls, 3)
	require.Equal(t, "/a", calls[0].address)
	require.Equal(t, "/b", calls[1].address)
	require.Equal(t, "/c", calls[2].address)
}

func TestCycleDetectionAbortsBranch(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.Load(context.Background(), []Macro{
		{Address: "/a", Actions: []Action{{Address: "/b"}}},
		{Address: "/b", Actions: []Action{{Address: "/a"}, {Address: "/leaf"}}},
	})

	e.Execute(context.Background(), "/a", nil)
	calls := rec.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "/leaf", calls[0].address)
}

func TestSiblingBranchesFireIndependently(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.Load(context.Background(), []Macro{
		{Address: "/root", Actions: []Action{{Address: "/shared"}, {Address: "/shared"}}},
		{Address: "/shared", Actions: []Action{{Address: "/leaf"}}},
	})

	e.Execute(context.Background(), "/root", nil)
	calls := rec.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, "/leaf", calls[0].address)
	require.Equal(t, "/leaf", calls[1].address)
}

func TestDelayedActionDispatchesAfterDelay(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.Load(context.Background(), []Macro{
		{Address: "/m", Actions: []Action{{Address: "/a", DelayMs: 30}}},
	})
	e.Execute(context.Background(), "/m", nil)
	require.Empty(t, rec.snapshot())

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBuiltinSurvivesLoad(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.RegisterBuiltin(Macro{Address: "/hub/panic", Actions: []Action{{Address: "/fade/stop"}, {Address: "/hub/stop"}}})
	e.Load(context.Background(), []Macro{{Address: "/other", Actions: []Action{{Address: "/x"}}}})

	e.Execute(context.Background(), "/hub/panic", nil)
	calls := rec.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, "/fade/stop", calls[0].address)
	require.Equal(t, "/hub/stop", calls[1].address)
}

func TestShutdownCancelsPendingTimers(t *testing.T) {
	rec := &dispatchRecorder{}
	e := New(rec.dispatch)
	e.Load(context.Background(), []Macro{
		{Address: "/m", Actions: []Action{{Address: "/a", DelayMs: 50}}},
	})
	e.Execute(context.Background(), "/m", nil)
	e.Shutdown()
	time.Sleep(80 * time.Millisecond)
	require.Empty(t, rec.snapshot())
}
