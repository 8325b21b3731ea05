// Package models provides data structures and state management for spread positions.
package models

import (
	"fmt"
	"math"
	"time"
)

// SharesPerContract is the standard US equity option multiplier.
const SharesPerContract = 100.0

// StructureType identifies an option structure the engine can trade.
type StructureType string

const (
	// StructureBuyCall is a single-leg long call.
	StructureBuyCall StructureType = "buy_call"
	// StructureBuyPut is a single-leg long put.
	StructureBuyPut StructureType = "buy_put"
	// StructureBullPutSpread is a short put vertical collected for credit.
	StructureBullPutSpread StructureType = "bull_put_spread"
	// StructureBearCallSpread is a short call vertical collected for credit.
	StructureBearCallSpread StructureType = "bear_call_spread"
	// StructureIronCondor is a four-leg neutral credit structure.
	StructureIronCondor StructureType = "iron_condor"
)

// Valid returns true if the StructureType is one of the defined constants.
func (s StructureType) Valid() bool {
	switch s {
	case StructureBuyCall, StructureBuyPut, StructureBullPutSpread,
		StructureBearCallSpread, StructureIronCondor:
		return true
	default:
		return false
	}
}

// IsCredit reports whether the structure collects net premium at entry.
func (s StructureType) IsCredit() bool {
	switch s {
	case StructureBullPutSpread, StructureBearCallSpread, StructureIronCondor:
		return true
	default:
		return false
	}
}

// Bias is the directional exposure of a structure or regime.
type Bias string

const (
	// BiasBullish profits from the underlying rising.
	BiasBullish Bias = "bullish"
	// BiasBearish profits from the underlying falling.
	BiasBearish Bias = "bearish"
	// BiasNeutral profits from the underlying staying in a range.
	BiasNeutral Bias = "neutral"
)

// Bias returns the directional bias of the structure.
func (s StructureType) Bias() Bias {
	switch s {
	case StructureBuyCall, StructureBullPutSpread:
		return BiasBullish
	case StructureBuyPut, StructureBearCallSpread:
		return BiasBearish
	default:
		return BiasNeutral
	}
}

// LegSide indicates whether a leg is held long or sold short.
type LegSide string

const (
	// SideLong is a bought leg.
	SideLong LegSide = "long"
	// SideShort is a sold leg.
	SideShort LegSide = "short"
)

// Sign returns +1 for long legs and -1 for short legs.
func (s LegSide) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Leg is one option contract within a structure. EntryPrice is per share.
type Leg struct {
	Strike     float64    `json:"strike"`
	OptionType OptionType `json:"option_type"`
	Side       LegSide    `json:"side"`
	EntryPrice float64    `json:"entry_price"`
}

// ExitReason records why a position left the open state.
type ExitReason string

const (
	// ExitReasonProfitTarget fires when unrealized P&L reaches the profit target.
	ExitReasonProfitTarget ExitReason = "profit_target"
	// ExitReasonStopLoss fires when unrealized P&L breaches the stop level.
	ExitReasonStopLoss ExitReason = "stop_loss"
	// ExitReasonTime fires at the maximum hold duration.
	ExitReasonTime ExitReason = "time_limit"
	// ExitReasonForcedEOD fires at the end-of-day close buffer. Same-day
	// options must be flat before expiry; this deadline is never renegotiated.
	ExitReasonForcedEOD ExitReason = "forced_eod"
	// ExitReasonRegimeReversal fires when the market regime flips against the
	// position's directional bias with high confidence.
	ExitReasonRegimeReversal ExitReason = "regime_reversal"
)

// Position is an open (or closed) spread position with lifecycle state.
type Position struct {
	StateMachine *StateMachine `json:"-"`     // Runtime only, excluded from JSON
	State        PositionState `json:"state"` // Canonical persisted state

	ID        string        `json:"id"`
	Symbol    string        `json:"symbol"`
	Structure StructureType `json:"structure"`
	Legs      []Leg         `json:"legs"`
	Contracts int           `json:"contracts"`

	// NetPremium is per-share and signed: positive for credit received,
	// negative for debit paid.
	NetPremium float64 `json:"net_premium"`

	// Dollar amounts (contract multiplier applied).
	CashAtRisk float64 `json:"cash_at_risk"`
	MaxProfit  float64 `json:"max_profit"`
	MaxLoss    float64 `json:"max_loss"`
	// ProfitTarget and StopLoss are absolute dollar thresholds derived from
	// the configured fractions at entry.
	ProfitTarget  float64 `json:"profit_target"`
	StopLoss      float64 `json:"stop_loss"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`

	EntryTime       time.Time `json:"entry_time"`
	EntryUnderlying float64   `json:"entry_underlying"`
	EntryVol        float64   `json:"entry_vol"`

	// ForcedExitDeadline = min(entryTime+maxHold, market close buffer),
	// fixed at entry.
	ForcedExitDeadline time.Time `json:"forced_exit_deadline"`
	Expiry             time.Time `json:"expiry"`

	ExitTime       time.Time  `json:"exit_time,omitempty"`
	ExitReason     ExitReason `json:"exit_reason,omitempty"`
	ExitUnderlying float64    `json:"exit_underlying,omitempty"`

	// StaleTicks counts consecutive evaluation ticks skipped for missing
	// market data.
	StaleTicks int `json:"-"`
}

// NewPosition creates a new open position with an initialized state machine.
func NewPosition(id, symbol string, structure StructureType, legs []Leg, contracts int) *Position {
	return &Position{
		ID:           id,
		Symbol:       symbol,
		Structure:    structure,
		Legs:         legs,
		Contracts:    contracts,
		StateMachine: NewStateMachine(),
		State:        StateOpen,
	}
}

// IsCredit reports whether the position collected premium at entry.
func (p *Position) IsCredit() bool {
	return p.NetPremium > 0
}

// TotalPremium returns the entry premium in dollars, signed like NetPremium.
func (p *Position) TotalPremium() float64 {
	return p.NetPremium * float64(p.Contracts) * SharesPerContract
}

// ProfitPercent returns unrealized P&L as a percentage of max profit.
func (p *Position) ProfitPercent() float64 {
	if p.MaxProfit == 0 {
		return 0
	}
	return (p.UnrealizedPnL / math.Abs(p.MaxProfit)) * 100
}

// HoldDuration returns how long the position has been (or was) held.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	if !p.ExitTime.IsZero() {
		return p.ExitTime.Sub(p.EntryTime)
	}
	return now.Sub(p.EntryTime)
}

// TransitionState moves the position to a new state and stamps exit metadata.
func (p *Position) TransitionState(to PositionState, reason ExitReason) error {
	if err := p.ensureMachine().Transition(to, reason); err != nil {
		return fmt.Errorf("position %s state transition failed: %w", p.ID, err)
	}
	p.State = to
	if to.IsTerminal() {
		p.ExitReason = reason
	}
	return nil
}

// GetCurrentState returns the canonical persisted state.
func (p *Position) GetCurrentState() PositionState {
	return p.State
}

// IsOpen reports whether the position still holds market risk.
func (p *Position) IsOpen() bool {
	return !p.State.IsTerminal()
}

// ensureMachine ensures the StateMachine is initialized from persisted state.
func (p *Position) ensureMachine() *StateMachine {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachineFromState(p.State)
	}
	return p.StateMachine
}

// ValidateState checks the position data against strong per-state invariants.
func (p *Position) ValidateState() error {
	if !p.Structure.Valid() {
		return fmt.Errorf("position %s: invalid structure %q", p.ID, p.Structure)
	}
	if p.Contracts <= 0 {
		return fmt.Errorf("position %s: contracts must be > 0 (current: %d)", p.ID, p.Contracts)
	}
	if len(p.Legs) == 0 {
		return fmt.Errorf("position %s: must have at least one leg", p.ID)
	}
	if p.CashAtRisk < 0 {
		return fmt.Errorf("position %s: CashAtRisk cannot be negative (current: %.2f)", p.ID, p.CashAtRisk)
	}
	for i, leg := range p.Legs {
		if !leg.OptionType.Valid() {
			return fmt.Errorf("position %s leg %d: invalid option type %q", p.ID, i, leg.OptionType)
		}
		if leg.Strike <= 0 {
			return fmt.Errorf("position %s leg %d: strike must be positive (current: %.2f)", p.ID, i, leg.Strike)
		}
	}

	switch {
	case p.State == StateOpen:
		if p.EntryTime.IsZero() {
			return fmt.Errorf("position %s in state %s: EntryTime must be set", p.ID, p.State)
		}
		if !p.ExitTime.IsZero() {
			return fmt.Errorf("position %s in state %s: ExitTime must be zero (current: %v)", p.ID, p.State, p.ExitTime)
		}
		if p.ExitReason != "" {
			return fmt.Errorf("position %s in state %s: ExitReason must be empty (current: %s)", p.ID, p.State, p.ExitReason)
		}
		if p.ForcedExitDeadline.IsZero() {
			return fmt.Errorf("position %s in state %s: ForcedExitDeadline must be set", p.ID, p.State)
		}
	case p.State.IsTerminal():
		if p.EntryTime.IsZero() {
			return fmt.Errorf("position %s in state %s: EntryTime must be set", p.ID, p.State)
		}
		if p.ExitTime.IsZero() {
			return fmt.Errorf("position %s in state %s: ExitTime must be set", p.ID, p.State)
		}
		if p.ExitReason == "" {
			return fmt.Errorf("position %s in state %s: ExitReason must be set", p.ID, p.State)
		}
		if !p.EntryTime.Before(p.ExitTime) {
			return fmt.Errorf("position %s in state %s: EntryTime (%v) must be before ExitTime (%v)",
				p.ID, p.State, p.EntryTime, p.ExitTime)
		}
	}
	return nil
}

// TradeRecord is the structured record emitted per closed position.
// Formatting (CSV, console, dashboards) lives outside the engine.
type TradeRecord struct {
	PositionID      string        `json:"position_id"`
	Symbol          string        `json:"symbol"`
	Structure       StructureType `json:"structure"`
	Legs            []Leg         `json:"legs"`
	Contracts       int           `json:"contracts"`
	NetPremium      float64       `json:"net_premium"`
	EntryTime       time.Time     `json:"entry_time"`
	ExitTime        time.Time     `json:"exit_time"`
	EntryUnderlying float64       `json:"entry_underlying"`
	ExitUnderlying  float64       `json:"exit_underlying"`
	RealizedPnL     float64       `json:"realized_pnl"`
	ExitReason      ExitReason    `json:"exit_reason"`
}

// Record builds the TradeRecord for a closed position.
func (p *Position) Record() TradeRecord {
	return TradeRecord{
		PositionID:      p.ID,
		Symbol:          p.Symbol,
		Structure:       p.Structure,
		Legs:            p.Legs,
		Contracts:       p.Contracts,
		NetPremium:      p.NetPremium,
		EntryTime:       p.EntryTime,
		ExitTime:        p.ExitTime,
		EntryUnderlying: p.EntryUnderlying,
		ExitUnderlying:  p.ExitUnderlying,
		RealizedPnL:     p.RealizedPnL,
		ExitReason:      p.ExitReason,
	}
}
