package strategy

import (
	"fmt"
	"sort"
	"time"
)

// Params are the tunable knobs of strike selection, sizing and exits. One
// engine, many parameter sets: variants replace per-experiment forks.
type Params struct {
	// Strike placement.
	SingleLegOffsetPct float64 `yaml:"single_leg_offset_pct"`
	ShortOffsetPct     float64 `yaml:"short_offset_pct"`
	WingWidthPct       float64 `yaml:"wing_width_pct"`
	ExpectedMoveFactor float64 `yaml:"expected_move_factor"`
	CondorWingFactor   float64 `yaml:"condor_wing_factor"`
	// SnapWindowPct bounds how far from a target a strike may snap.
	SnapWindowPct float64 `yaml:"snap_window_pct"`

	// Liquidity and economics floors.
	MinLegVolume   int64   `yaml:"min_leg_volume"`
	MinLegPrice    float64 `yaml:"min_leg_price"`
	MaxSpreadWidth float64 `yaml:"max_spread_width"`
	MinNetCredit   float64 `yaml:"min_net_credit"`

	// Sizing.
	RiskFraction     float64 `yaml:"risk_fraction"`
	DefaultContracts int     `yaml:"default_contracts"`
	HardCapContracts int     `yaml:"hard_cap_contracts"`

	// Exits.
	ProfitTargetPct       float64       `yaml:"profit_target_pct"`
	StopLossPct           float64       `yaml:"stop_loss_pct"`
	MaxHoldDuration       time.Duration `yaml:"max_hold_duration"`
	ReversalExit          bool          `yaml:"reversal_exit"`
	MinReversalConfidence float64       `yaml:"min_reversal_confidence"`
}

// Validate checks every knob is in a workable range.
func (p Params) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{p.SingleLegOffsetPct > 0 && p.SingleLegOffsetPct < 0.1, "single_leg_offset_pct must be in (0, 0.1)"},
		{p.ShortOffsetPct > 0 && p.ShortOffsetPct < 0.2, "short_offset_pct must be in (0, 0.2)"},
		{p.WingWidthPct > 0 && p.WingWidthPct < 0.2, "wing_width_pct must be in (0, 0.2)"},
		{p.ExpectedMoveFactor > 0 && p.ExpectedMoveFactor <= 2, "expected_move_factor must be in (0, 2]"},
		{p.CondorWingFactor > 1, "condor_wing_factor must exceed 1"},
		{p.SnapWindowPct > 0, "snap_window_pct must be positive"},
		{p.MinLegVolume >= 0, "min_leg_volume must not be negative"},
		{p.MinLegPrice >= 0, "min_leg_price must not be negative"},
		{p.MaxSpreadWidth > 0, "max_spread_width must be positive"},
		{p.MinNetCredit >= 0, "min_net_credit must not be negative"},
		{p.RiskFraction > 0 && p.RiskFraction <= 0.1, "risk_fraction must be in (0, 0.1]"},
		{p.DefaultContracts >= 1, "default_contracts must be at least 1"},
		{p.HardCapContracts >= p.DefaultContracts, "hard_cap_contracts must be >= default_contracts"},
		{p.ProfitTargetPct > 0 && p.ProfitTargetPct <= 1, "profit_target_pct must be in (0, 1]"},
		{p.StopLossPct > 0 && p.StopLossPct <= 1, "stop_loss_pct must be in (0, 1]"},
		{p.MaxHoldDuration > 0, "max_hold_duration must be positive"},
		{!p.ReversalExit || p.MinReversalConfidence > 0, "min_reversal_confidence required when reversal_exit is on"},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("invalid strategy params: %s", c.msg)
		}
	}
	return nil
}

// DefaultParams is the balanced production baseline.
func DefaultParams() Params {
	return Params{
		SingleLegOffsetPct: 0.01,
		ShortOffsetPct:     0.025,
		WingWidthPct:       0.025,
		ExpectedMoveFactor: 0.80,
		CondorWingFactor:   1.5,
		SnapWindowPct:      0.005,

		MinLegVolume:   10,
		MinLegPrice:    0.05,
		MaxSpreadWidth: 25,
		MinNetCredit:   0.30,

		RiskFraction:     0.02,
		DefaultContracts: 2,
		HardCapContracts: 10,

		ProfitTargetPct:       0.50,
		StopLossPct:           0.50,
		MaxHoldDuration:       4 * time.Hour,
		ReversalExit:          true,
		MinReversalConfidence: 65,
	}
}

// Variant is a named parameter preset.
type Variant struct {
	Name        string
	Description string
	Params      Params
}

// variants is the built-in registry. Presets cover the parameter spread the
// original experiments explored; everything stays overridable via config.
var variants = map[string]Variant{
	"balanced": {
		Name:        "balanced",
		Description: "production baseline: 2% risk, 50/50 exits, 4h hold",
		Params:      DefaultParams(),
	},
	"conservative": {
		Name:        "conservative",
		Description: "smaller risk, earlier profit-taking, tighter stop",
		Params: func() Params {
			p := DefaultParams()
			p.RiskFraction = 0.01
			p.DefaultContracts = 1
			p.HardCapContracts = 5
			p.ProfitTargetPct = 0.25
			p.StopLossPct = 0.35
			p.MinNetCredit = 0.40
			p.MaxHoldDuration = 3 * time.Hour
			p.MinReversalConfidence = 55
			return p
		}(),
	},
	"aggressive": {
		Name:        "aggressive",
		Description: "wider risk budget, lets winners run to the time stop",
		Params: func() Params {
			p := DefaultParams()
			p.RiskFraction = 0.03
			p.DefaultContracts = 3
			p.ProfitTargetPct = 0.75
			p.StopLossPct = 0.75
			p.MinNetCredit = 0.20
			p.MaxHoldDuration = 5 * time.Hour
			p.ReversalExit = false
			return p
		}(),
	},
}

// LookupVariant resolves a preset by name.
func LookupVariant(name string) (Variant, error) {
	v, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown strategy variant %q (have: %v)", name, VariantNames())
	}
	return v, nil
}

// VariantNames lists the registered presets in stable order.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
