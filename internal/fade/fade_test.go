package fade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	values    map[string][]float64
	completes map[string]int
}

func newRecorder() *recorder {
	return &recorder{values: make(map[string][]float64), completes: make(map[string]int)}
}

func (r *recorder) onValue(key string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = append(r.values[key], v)
}

func (r *recorder) onComplete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes[key]++
}

func (r *recorder) last(key string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs := r.values[key]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[len(vs)-1], true
}

func (r *recorder) completeCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes[key]
}

func TestColdStartSnapsWithoutCreatingFade(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)

	e.StartFade("input/1/fader", 0, 0.8, 200*time.Millisecond, Linear)

	v, ok := e.GetCurrentValue("input/1/fader")
	require.True(t, ok)
	require.Equal(t, 0.8, v)
	require.Equal(t, 0, e.ActiveCount())

	last, ok := rec.last("input/1/fader")
	require.True(t, ok)
	require.Equal(t, 0.8, last)
	require.Equal(t, 1, rec.completeCount("input/1/fader"))
}

func TestWarmStartIgnoresCallerStartValue(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.SetCurrentValue("input/1/fader", 0.2)
	e.StartFade("input/1/fader", 0.9, 1.0, 200*time.Millisecond, Linear)

	time.Sleep(100 * time.Millisecond)
	v, ok := e.GetCurrentValue("input/1/fader")
	require.True(t, ok)
	require.InDelta(t, 0.2+0.5*(1.0-0.2), v, 0.15)

	time.Sleep(200 * time.Millisecond)
	v, ok = e.GetCurrentValue("input/1/fader")
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	require.Equal(t, 0, e.ActiveCount())
	require.Equal(t, 1, rec.completeCount("input/1/fader"))
}

func TestReplacingFadeFiresOnlyOneCompletion(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.SetCurrentValue("k", 0)
	e.StartFade("k", 0, 1, 500*time.Millisecond, Linear)
	time.Sleep(40 * time.Millisecond)
	e.StartFade("k", 0, 0.5, 40*time.Millisecond, Linear)
	time.Sleep(150 * time.Millisecond)

	require.Equal(t, 1, rec.completeCount("k"))
	v, ok := e.GetCurrentValue("k")
	require.True(t, ok)
	require.Equal(t, 0.5, v)
}

func TestCancelFadeSnap(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.SetCurrentValue("k", 0)
	e.StartFade("k", 0, 1, time.Second, Linear)
	time.Sleep(30 * time.Millisecond)

	before := len(rec.values["k"])
	e.CancelFade("k", true)
	time.Sleep(30 * time.Millisecond)

	rec.mu.Lock()
	after := len(rec.values["k"])
	rec.mu.Unlock()
	require.Equal(t, before+1, after)

	v, ok := e.GetCurrentValue("k")
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	require.Equal(t, 0, e.ActiveCount())
}

func TestCancelFadeNoSnapEmitsNoEvent(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)

	e.SetCurrentValue("k", 0)
	e.StartFade("k", 0, 1, time.Second, Linear)

	rec.mu.Lock()
	before := len(rec.values["k"])
	rec.mu.Unlock()

	e.CancelFade("k", false)

	rec.mu.Lock()
	after := len(rec.values["k"])
	rec.mu.Unlock()
	require.Equal(t, before, after)
	require.Equal(t, 0, e.ActiveCount())
}

func TestCancelAllDropsEverythingSilently(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)

	e.SetCurrentValue("a", 0)
	e.SetCurrentValue("b", 0)
	e.StartFade("a", 0, 1, time.Second, Linear)
	e.StartFade("b", 0, 1, time.Second, Linear)
	require.Equal(t, 2, e.ActiveCount())

	e.CancelAll()
	require.Equal(t, 0, e.ActiveCount())
}

func TestZeroDurationCompletesOnNextTick(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.SetCurrentValue("k", 0)
	e.StartFade("k", 0, 1, 0, Linear)
	time.Sleep(60 * time.Millisecond)

	v, ok := e.GetCurrentValue("k")
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	require.Equal(t, 1, rec.completeCount("k"))
}

func TestIndependentKeysDoNotBlockEachOther(t *testing.T) {
	rec := newRecorder()
	e := NewEngine(rec.onValue, rec.onComplete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	e.SetCurrentValue("a", 0)
	e.SetCurrentValue("b", 0)
	e.StartFade("a", 0, 1, 60*time.Millisecond, Linear)
	e.StartFade("b", 0, 1, 300*time.Millisecond, Linear)

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 1, rec.completeCount("a"))
	require.Equal(t, 0, rec.completeCount("b"))
}

func TestEasingCurvesAtHalfway(t *testing.T) {
	require.Equal(t, 0.5, apply(Linear, 0.5))
	require.Equal(t, 0.25, apply(EaseIn, 0.5))
	require.Equal(t, 0.75, apply(EaseOut, 0.5))
	require.InDelta(t, 0.5, apply(SCurve, 0.5), 1e-9)
}
