package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateForReason_CoversEveryReason(t *testing.T) {
	cases := map[ExitReason]PositionState{
		ExitReasonProfitTarget:   StateClosedProfit,
		ExitReasonStopLoss:       StateClosedLoss,
		ExitReasonTime:           StateClosedTime,
		ExitReasonForcedEOD:      StateClosedForcedEOD,
		ExitReasonRegimeReversal: StateClosedRegimeReversal,
	}
	for reason, want := range cases {
		got, err := StateForReason(reason)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := StateForReason("made_up")
	assert.Error(t, err)
}

func TestStateMachine_OpensIntoEveryTerminalState(t *testing.T) {
	for _, tr := range ValidTransitions {
		sm := NewStateMachine()
		require.NoError(t, sm.Transition(tr.To, tr.Reason))
		assert.Equal(t, tr.To, sm.GetCurrentState())
		assert.Equal(t, StateOpen, sm.GetPreviousState())
		assert.True(t, sm.GetCurrentState().IsTerminal())
	}
}

func TestStateMachine_TerminalStatesAreOneWay(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.Transition(StateClosedProfit, ExitReasonProfitTarget))

	err := sm.Transition(StateOpen, "")
	assert.Error(t, err)
	err = sm.Transition(StateClosedLoss, ExitReasonStopLoss)
	assert.Error(t, err)
	assert.Equal(t, StateClosedProfit, sm.GetCurrentState())
}

func TestStateMachine_ReasonMustMatchTarget(t *testing.T) {
	sm := NewStateMachine()
	err := sm.Transition(StateClosedProfit, ExitReasonStopLoss)
	assert.Error(t, err)
	assert.Equal(t, StateOpen, sm.GetCurrentState())
}

func TestNewStateMachineFromState_EmptyMeansOpen(t *testing.T) {
	sm := NewStateMachineFromState("")
	assert.Equal(t, StateOpen, sm.GetCurrentState())

	sm = NewStateMachineFromState(StateClosedTime)
	assert.Equal(t, StateClosedTime, sm.GetCurrentState())
	assert.Error(t, sm.Transition(StateClosedProfit, ExitReasonProfitTarget))
}
