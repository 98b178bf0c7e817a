// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fade implements the 50Hz multiplexed interpolation scheduler:
// it tracks the authoritative last-known value of every named
// parameter key, runs concurrent fades against those keys on a fixed tick,
// and emits per-tick value updates plus a completion signal per fade.
package fade

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/metrics"
)

// TickInterval is the fade scheduler's fixed tick period (20ms -> 50Hz).
const TickInterval = 20 * time.Millisecond

// Easing names one of the four closed-form interpolation curves.
type Easing string

const (
	Linear  Easing = "linear"
	EaseIn  Easing = "easein"
	EaseOut Easing = "easeout"
	SCurve  Easing = "scurve"
)

func apply(e Easing, t float64) float64 {
	switch e {
	case EaseIn:
		return t * t
	case EaseOut:
		return t * (2 - t)
	case SCurve:
		return (1 - math.Cos(math.Pi*t)) / 2
	case Linear:
		fallthrough
	default:
		return t
	}
}

type activeFade struct {
	startValue float64
	endValue   float64
	startTime  time.Time
	duration   time.Duration
	easing     Easing
}

// Engine is the single writer of tracked-value state for every fading
// driver; it must be constructed once per process and shared.
type Engine struct {
	onValue    func(key string, v float64)
	onComplete func(key string)

	mu      sync.Mutex
	tracked map[string]float64
	active  map[string]*activeFade

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds a fade engine. onValue is called for every emitted
// per-tick value (including the cold-start snap); onComplete is called
// exactly once per completed or snapped fade. Both callbacks are invoked
// without any internal lock held, so they may safely call back into the
// engine (e.g. a driver's handleFadeTick starting a new fade).
func NewEngine(onValue func(key string, v float64), onComplete func(key string)) *Engine {
	return &Engine{
		onValue:    onValue,
		onComplete: onComplete,
		tracked:    make(map[string]float64),
		active:     make(map[string]*activeFade),
	}
}

// Start launches the tick goroutine. It returns immediately; call Stop (or
// cancel ctx) to shut it down.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		logger := log.WithComponentFromContext(ctx, "fade")
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							logger.Error().Interface("panic", r).Msg("fade tick recovered from panic")
						}
					}()
					start := time.Now()
					e.tick(now)
					metrics.ObserveFadeTick(time.Since(start))
				}()
			}
		}
	}()
}

// Stop drains the tick goroutine before returning; no further value or
// completion callbacks fire after Stop returns.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// GetCurrentValue returns the tracked value for key, if any has been
// recorded.
func (e *Engine) GetCurrentValue(key string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.tracked[key]
	return v, ok
}

// SetCurrentValue directly sets the tracked value for key, bypassing the
// fade scheduler. Drivers call this on direct (non-fade) parameter writes
// so a subsequent startFade picks up from the right place.
func (e *Engine) SetCurrentValue(key string, v float64) {
	e.mu.Lock()
	e.tracked[key] = v
	e.mu.Unlock()
}

// ActiveCount reports the number of in-flight fades.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// StartFade begins or replaces the fade on key. On a cold start (no tracked
// value for key yet) it does not create a fade at all: it snaps directly to
// endValue, emitting exactly one value event and one completion event, to
// avoid an audible zero-to-target jump on first use. On a warm start the
// effective start value is always the current tracked value; the caller's
// startValue is ignored. A fade already running on key is replaced
// atomically so only the new one is observed on subsequent ticks and only
// one fadeComplete fires for the merged lifetime.
func (e *Engine) StartFade(key string, startValue, endValue float64, duration time.Duration, easing Easing) {
	e.mu.Lock()
	_, warm := e.tracked[key]
	if !warm {
		e.tracked[key] = endValue
		e.mu.Unlock()
		e.emitValue(key, endValue)
		e.emitComplete(key)
		return
	}

	effectiveStart := e.tracked[key]
	e.active[key] = &activeFade{
		startValue: effectiveStart,
		endValue:   endValue,
		startTime:  time.Now(),
		duration:   duration,
		easing:     easing,
	}
	e.mu.Unlock()
}

// CancelFade removes any active fade on key. If snap is true it emits one
// terminal value event at the fade's endValue and updates the tracked
// value; otherwise it removes the fade silently.
func (e *Engine) CancelFade(key string, snap bool) {
	e.mu.Lock()
	f, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, key)
	if snap {
		e.tracked[key] = f.endValue
	}
	e.mu.Unlock()

	if snap {
		e.emitValue(key, f.endValue)
	}
}

// CancelAll drops every active fade without emitting any events.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	e.active = make(map[string]*activeFade)
	e.mu.Unlock()
}

func (e *Engine) tick(now time.Time) {
	type update struct {
		key      string
		value    float64
		complete bool
	}

	e.mu.Lock()
	updates := make([]update, 0, len(e.active))
	for key, f := range e.active {
		var progress float64
		if f.duration <= 0 {
			// Zero or negative duration: complete on the next tick.
			progress = 1
		} else {
			elapsed := now.Sub(f.startTime)
			progress = float64(elapsed) / float64(f.duration)
			if progress > 1 {
				progress = 1
			}
			if progress < 0 {
				progress = 0
			}
		}
		eased := apply(f.easing, progress)
		v := f.startValue + eased*(f.endValue-f.startValue)
		e.tracked[key] = v

		done := progress >= 1
		if done {
			delete(e.active, key)
		}
		updates = append(updates, update{key: key, value: v, complete: done})
	}
	e.mu.Unlock()

	for _, u := range updates {
		e.emitValue(u.key, u.value)
		if u.complete {
			e.emitComplete(u.key)
		}
	}
}

func (e *Engine) emitValue(key string, v float64) {
	if e.onValue != nil {
		e.onValue(key, v)
	}
}

func (e *Engine) emitComplete(key string) {
	if e.onComplete != nil {
		e.onComplete(key)
	}
}
