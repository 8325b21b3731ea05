package models

import (
	"fmt"
	"time"
)

// PositionState represents the lifecycle state of a position.
type PositionState string

const (
	// StateOpen means the position holds market risk and is evaluated each tick.
	StateOpen PositionState = "open"
	// StateClosedProfit means the profit target was reached.
	StateClosedProfit PositionState = "closed_profit"
	// StateClosedLoss means the stop loss was breached.
	StateClosedLoss PositionState = "closed_loss"
	// StateClosedTime means the maximum hold duration elapsed.
	StateClosedTime PositionState = "closed_time"
	// StateClosedForcedEOD means the end-of-day buffer forced the unwind.
	StateClosedForcedEOD PositionState = "closed_forced_eod"
	// StateClosedRegimeReversal means the regime flipped against the position.
	StateClosedRegimeReversal PositionState = "closed_regime_reversal"
)

// IsTerminal reports whether the state is a closed (terminal) state.
// Every closed state is terminal; reopening a position is never valid.
func (s PositionState) IsTerminal() bool {
	switch s {
	case StateClosedProfit, StateClosedLoss, StateClosedTime,
		StateClosedForcedEOD, StateClosedRegimeReversal:
		return true
	default:
		return false
	}
}

// StateForReason maps an exit reason to its terminal state.
func StateForReason(reason ExitReason) (PositionState, error) {
	switch reason {
	case ExitReasonProfitTarget:
		return StateClosedProfit, nil
	case ExitReasonStopLoss:
		return StateClosedLoss, nil
	case ExitReasonTime:
		return StateClosedTime, nil
	case ExitReasonForcedEOD:
		return StateClosedForcedEOD, nil
	case ExitReasonRegimeReversal:
		return StateClosedRegimeReversal, nil
	default:
		return "", fmt.Errorf("no terminal state for exit reason %q", reason)
	}
}

// StateTransition defines a valid state transition.
type StateTransition struct {
	From        PositionState
	To          PositionState
	Reason      ExitReason
	Description string
}

// ValidTransitions enumerates every legal transition. The open state is the
// only non-terminal state; all paths out of it are one-way.
var ValidTransitions = []StateTransition{
	{StateOpen, StateClosedProfit, ExitReasonProfitTarget, "Profit target reached"},
	{StateOpen, StateClosedLoss, ExitReasonStopLoss, "Stop loss breached"},
	{StateOpen, StateClosedTime, ExitReasonTime, "Maximum hold duration elapsed"},
	{StateOpen, StateClosedForcedEOD, ExitReasonForcedEOD, "End-of-day buffer reached"},
	{StateOpen, StateClosedRegimeReversal, ExitReasonRegimeReversal, "Regime reversed against position"},
}

// StateMachine manages position state transitions.
type StateMachine struct {
	currentState   PositionState
	previousState  PositionState
	transitionTime time.Time
}

// NewStateMachine creates a state machine for a freshly opened position.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:   StateOpen,
		previousState:  StateOpen,
		transitionTime: time.Now().UTC(),
	}
}

// NewStateMachineFromState rebuilds a state machine from a persisted state.
func NewStateMachineFromState(state PositionState) *StateMachine {
	if state == "" {
		state = StateOpen
	}
	return &StateMachine{
		currentState:   state,
		previousState:  state,
		transitionTime: time.Now().UTC(),
	}
}

// GetCurrentState returns the current state.
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.currentState
}

// GetPreviousState returns the previous state.
func (sm *StateMachine) GetPreviousState() PositionState {
	return sm.previousState
}

// IsValidTransition checks whether moving to the target state with the given
// reason is legal from the current state.
func (sm *StateMachine) IsValidTransition(to PositionState, reason ExitReason) error {
	if sm.currentState.IsTerminal() {
		return fmt.Errorf("position already closed (%s); terminal states cannot transition", sm.currentState)
	}
	for _, t := range ValidTransitions {
		if t.From == sm.currentState && t.To == to && t.Reason == reason {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with reason %q", sm.currentState, to, reason)
}

// Transition moves to a new state.
func (sm *StateMachine) Transition(to PositionState, reason ExitReason) error {
	if err := sm.IsValidTransition(to, reason); err != nil {
		return err
	}
	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	return nil
}

// GetStateDescription returns a human-readable description of the current state.
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateOpen:
		return "Position open, evaluated for exit rules each tick"
	case StateClosedProfit:
		return "Closed at profit target"
	case StateClosedLoss:
		return "Closed at stop loss"
	case StateClosedTime:
		return "Closed at maximum hold duration"
	case StateClosedForcedEOD:
		return "Closed at end-of-day buffer before expiry"
	case StateClosedRegimeReversal:
		return "Closed on regime reversal"
	default:
		return "Unknown state"
	}
}
