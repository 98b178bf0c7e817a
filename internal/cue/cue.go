// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cue implements the cue engine: an editable, ordered
// show state with go/standby firing semantics, per-action delay scheduling,
// and auto-follow.
package cue

import (
	"context"
	"sync"
	"time"

	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/metrics"
	"github.com/mousetraptech/productionhub/internal/value"
)

// NoActiveCue is the sentinel for ShowState.ActiveCueIndex / a "none" index.
const NoActiveCue = -1

// OSCPayload is an inline address+args wire-protocol command.
type OSCPayload struct {
	Address string
	Args    []value.Value
}

// Action is one step of a cue: either a reference into the action registry
// (resolved to a list of wire commands) or an inline payload, fired after
// an optional delay.
type Action struct {
	ActionID string
	OSC      *OSCPayload
	DelayMs  int
}

// Cue is one ordered list of actions, optionally auto-advancing to the next
// cue after AutoFollowMs.
type Cue struct {
	ID           string
	Name         string
	Actions      []Action
	AutoFollowMs int
}

// ShowState is the complete editable state of the cue engine.
type ShowState struct {
	Name            string
	Cues            []Cue
	ActiveCueIndex  int
	FiredCueIndices map[int]bool
}

// ActionResolver expands a registered action ID into concrete wire-protocol
// commands.
type ActionResolver func(actionID string) ([]OSCPayload, bool)

// Dispatcher sends a resolved address+args pair onward (the hub's inbound
// dispatch).
type Dispatcher func(ctx context.Context, address string, args []value.Value)

// Engine owns the ShowState and every pending action-delay and
// auto-follow timer.
type Engine struct {
	resolver ActionResolver
	dispatch Dispatcher

	mu              sync.Mutex
	state           ShowState
	autoFollowTimer *time.Timer
	delayTimers     map[*time.Timer]struct{}
}

// New builds an Engine with an empty show.
func New(resolver ActionResolver, dispatch Dispatcher) *Engine {
	return &Engine{
		resolver: resolver,
		dispatch: dispatch,
		state:    ShowState{ActiveCueIndex: NoActiveCue, FiredCueIndices: map[int]bool{}},
		delayTimers: make(map[*time.Timer]struct{}),
	}
}

// LoadTemplate replaces the cue list and resets playback position.
func (e *Engine) LoadTemplate(name string, cues []Cue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelAutoFollowLocked()
	e.cancelDelaysLocked()
	e.state = ShowState{Name: name, Cues: append([]Cue(nil), cues...), ActiveCueIndex: NoActiveCue, FiredCueIndices: map[int]bool{}}
}

// LoadState replaces the entire show state verbatim, e.g. restoring a
// persisted snapshot.
func (e *Engine) LoadState(state ShowState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelAutoFollowLocked()
	e.cancelDelaysLocked()
	fired := make(map[int]bool, len(state.FiredCueIndices))
	for k, v := range state.FiredCueIndices {
		fired[k] = v
	}
	e.state = ShowState{
		Name:            state.Name,
		Cues:            append([]Cue(nil), state.Cues...),
		ActiveCueIndex:  state.ActiveCueIndex,
		FiredCueIndices: fired,
	}
}

// State returns a snapshot of the current show state.
func (e *Engine) State() ShowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	fired := make(map[int]bool, len(e.state.FiredCueIndices))
	for k, v := range e.state.FiredCueIndices {
		fired[k] = v
	}
	return ShowState{
		Name:            e.state.Name,
		Cues:            append([]Cue(nil), e.state.Cues...),
		ActiveCueIndex:  e.state.ActiveCueIndex,
		FiredCueIndices: fired,
	}
}

// Go advances to the next cue (or cue 0 if none is active), dispatches its
// actions, and arms auto-follow if configured. Any pending auto-follow
// timer is always cancelled first, whether or not a new cue fires.
func (e *Engine) Go(ctx context.Context) {
	e.mu.Lock()
	e.cancelAutoFollowLocked()

	next := 0
	if e.state.ActiveCueIndex != NoActiveCue {
		next = e.state.ActiveCueIndex + 1
	}
	if next < 0 || next >= len(e.state.Cues) {
		logger := log.WithComponentFromContext(ctx, "cue")
		e.mu.Unlock()
		logger.Warn().Int("index", next).Msg("go: no cue at index, ignoring")
		return
	}

	if e.state.ActiveCueIndex != NoActiveCue {
		e.state.FiredCueIndices[e.state.ActiveCueIndex] = true
	}
	e.state.ActiveCueIndex = next
	fired := e.state.Cues[next]
	hasNext := next+1 < len(e.state.Cues)
	e.mu.Unlock()

	for _, action := range fired.Actions {
		if action.DelayMs > 0 {
			e.scheduleAction(ctx, action, time.Duration(action.DelayMs)*time.Millisecond)
		} else {
			e.dispatchAction(ctx, action)
		}
	}

	if fired.AutoFollowMs > 0 && hasNext {
		e.armAutoFollow(ctx, time.Duration(fired.AutoFollowMs)*time.Millisecond)
	}
}

// Standby (a.k.a. reset) clears the active cue and fired-cue history
// without touching the cue list itself.
func (e *Engine) Standby() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelAutoFollowLocked()
	e.state.ActiveCueIndex = NoActiveCue
	e.state.FiredCueIndices = map[int]bool{}
}

// AddCue appends a cue to the show.
func (e *Engine) AddCue(c Cue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Cues = append(e.state.Cues, c)
}

// RemoveCue deletes the cue at index, re-pointing ActiveCueIndex and every
// FiredCueIndices entry to the same cue identities (or to none if the
// active cue itself was removed).
func (e *Engine) RemoveCue(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.state.Cues) {
		return
	}
	activeID, firedIDs := e.snapshotIdentitiesLocked()

	e.state.Cues = append(e.state.Cues[:index:index], e.state.Cues[index+1:]...)

	e.reindexLocked(activeID, firedIDs)
}

// MoveCue relocates the cue at from to position to, re-pointing
// ActiveCueIndex / FiredCueIndices to the same cue identities.
func (e *Engine) MoveCue(from, to int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if from < 0 || from >= len(e.state.Cues) || to < 0 || to >= len(e.state.Cues) || from == to {
		return
	}
	activeID, firedIDs := e.snapshotIdentitiesLocked()

	c := e.state.Cues[from]
	without := append([]Cue(nil), e.state.Cues[:from]...)
	without = append(without, e.state.Cues[from+1:]...)

	out := make([]Cue, 0, len(without)+1)
	out = append(out, without[:to]...)
	out = append(out, c)
	out = append(out, without[to:]...)
	e.state.Cues = out

	e.reindexLocked(activeID, firedIDs)
}

// UpdateCue replaces the cue at index in place (identity-preserving only if
// the caller keeps the same ID).
func (e *Engine) UpdateCue(index int, c Cue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.state.Cues) {
		return
	}
	e.state.Cues[index] = c
}

// AddAction appends an action to the cue at cueIndex.
func (e *Engine) AddAction(cueIndex int, a Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cueIndex < 0 || cueIndex >= len(e.state.Cues) {
		return
	}
	e.state.Cues[cueIndex].Actions = append(e.state.Cues[cueIndex].Actions, a)
}

// RemoveAction removes the action at actionIndex from the cue at cueIndex.
func (e *Engine) RemoveAction(cueIndex, actionIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cueIndex < 0 || cueIndex >= len(e.state.Cues) {
		return
	}
	actions := e.state.Cues[cueIndex].Actions
	if actionIndex < 0 || actionIndex >= len(actions) {
		return
	}
	e.state.Cues[cueIndex].Actions = append(actions[:actionIndex:actionIndex], actions[actionIndex+1:]...)
}

// Shutdown cancels every pending action-delay and auto-follow timer.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelAutoFollowLocked()
	e.cancelDelaysLocked()
}

func (e *Engine) snapshotIdentitiesLocked() (string, map[int]string) {
	activeID := ""
	if e.state.ActiveCueIndex != NoActiveCue && e.state.ActiveCueIndex < len(e.state.Cues) {
		activeID = e.state.Cues[e.state.ActiveCueIndex].ID
	}
	firedIDs := make(map[int]string, len(e.state.FiredCueIndices))
	for idx := range e.state.FiredCueIndices {
		if idx >= 0 && idx < len(e.state.Cues) {
			firedIDs[idx] = e.state.Cues[idx].ID
		}
	}
	return activeID, firedIDs
}

func (e *Engine) reindexLocked(activeID string, firedIDsByOldIndex map[int]string) {
	idToNewIndex := make(map[string]int, len(e.state.Cues))
	for i, c := range e.state.Cues {
		idToNewIndex[c.ID] = i
	}

	if activeID == "" {
		e.state.ActiveCueIndex = NoActiveCue
	} else if idx, ok := idToNewIndex[activeID]; ok {
		e.state.ActiveCueIndex = idx
	} else {
		e.state.ActiveCueIndex = NoActiveCue
	}

	newFired := make(map[int]bool, len(firedIDsByOldIndex))
	for _, id := range firedIDsByOldIndex {
		if idx, ok := idToNewIndex[id]; ok {
			newFired[idx] = true
		}
	}
	e.state.FiredCueIndices = newFired
}

func (e *Engine) armAutoFollow(ctx context.Context, delay time.Duration) {
	e.mu.Lock()
	e.cancelAutoFollowLocked()
	e.autoFollowTimer = time.AfterFunc(delay, func() {
		metrics.CueAutoFollows.Inc()
		e.Go(ctx)
	})
	e.mu.Unlock()
}

func (e *Engine) cancelAutoFollowLocked() {
	if e.autoFollowTimer != nil {
		e.autoFollowTimer.Stop()
		e.autoFollowTimer = nil
	}
}

func (e *Engine) cancelDelaysLocked() {
	for timer := range e.delayTimers {
		timer.Stop()
	}
	e.delayTimers = make(map[*time.Timer]struct{})
}

func (e *Engine) scheduleAction(ctx context.Context, action Action, delay time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.delayTimers, timer)
		e.mu.Unlock()
		e.dispatchAction(ctx, action)
	})
	e.mu.Lock()
	e.delayTimers[timer] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) dispatchAction(ctx context.Context, action Action) {
	if action.OSC != nil {
		e.send(ctx, action.OSC.Address, action.OSC.Args)
		return
	}
	if action.ActionID == "" || e.resolver == nil {
		return
	}
	commands, ok := e.resolver(action.ActionID)
	if !ok {
		log.WithComponentFromContext(ctx, "cue").Warn().Str("action_id", action.ActionID).Msg("unresolved cue action")
		return
	}
	for _, cmd := range commands {
		e.send(ctx, cmd.Address, cmd.Args)
	}
}

func (e *Engine) send(ctx context.Context, address string, args []value.Value) {
	if e.dispatch != nil {
		e.dispatch(ctx, address, args)
	}
}
