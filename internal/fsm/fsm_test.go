package fsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type state string
type event string

const (
	stateIdle    state = "idle"
	stateRunning state = "running"
	stateDone    state = "done"
)

const (
	eventStart event = "start"
	eventFin   event = "finish"
)

func TestFireAppliesTransition(t *testing.T) {
	m, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning},
		{From: stateRunning, Event: eventFin, To: stateDone},
	})
	require.NoError(t, err)

	to, err := m.Fire(context.Background(), eventStart)
	require.NoError(t, err)
	require.Equal(t, stateRunning, to)
	require.Equal(t, stateRunning, m.State())
}

func TestFireRejectsUnknownTransition(t *testing.T) {
	m, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), eventFin)
	require.Error(t, err)
	require.Equal(t, stateIdle, m.State())
}

func TestGuardRejectionLeavesStateUnchanged(t *testing.T) {
	m, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning, Guard: func(ctx context.Context, from state, e event) error {
			return context.DeadlineExceeded
		}},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), eventStart)
	require.Error(t, err)
	require.Equal(t, stateIdle, m.State())
}

func TestNewRejectsDuplicateTransitions(t *testing.T) {
	_, err := New(stateIdle, []Transition[state, event]{
		{From: stateIdle, Event: eventStart, To: stateRunning},
		{From: stateIdle, Event: eventStart, To: stateDone},
	})
	require.Error(t, err)
}
