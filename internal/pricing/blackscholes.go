// Package pricing provides closed-form option valuation for the engine.
//
// Every mark the engine uses, at entry and during the holding period, comes
// from this package. P&L is never simulated from random draws.
package pricing

import (
	"fmt"
	"math"

	"github.com/raftroch1/odte-engine/internal/models"
)

const (
	// MinTick is the minimum premium any valuation can return.
	MinTick = 0.01
	// DefaultVolatility substitutes for unusable volatility inputs.
	DefaultVolatility = 0.20
	// timeEpsilon is the time-to-expiry floor below which valuation falls
	// back to intrinsic value. Roughly 30 seconds in year units.
	timeEpsilon = 1e-6
)

// InvalidInputError reports a pricing input the closed form cannot accept.
// Callers should substitute DefaultVolatility rather than propagate.
type InvalidInputError struct {
	Field string
	Value float64
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid pricing input: %s=%v", e.Field, e.Value)
}

// Greeks holds the first-order sensitivities of a single option.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// Pricer values vanilla options with the standard lognormal closed form.
// It is a pure function of its inputs and is safe for concurrent use.
type Pricer struct {
	// RiskFreeRate is annualized. Same-day positions are nearly rate
	// insensitive, so zero is an acceptable configuration.
	RiskFreeRate float64
}

// NewPricer creates a Pricer with the given annualized risk-free rate.
func NewPricer(riskFreeRate float64) *Pricer {
	return &Pricer{RiskFreeRate: riskFreeRate}
}

// Price returns the fair value per share of a vanilla option. The result is
// never below MinTick. Near expiry (t <= epsilon) the value collapses to
// intrinsic to avoid numerical blow-up as time goes to zero.
func (p *Pricer) Price(spot, strike, timeToExpiryYears, volatility float64, optionType models.OptionType) (float64, error) {
	if err := validateInputs(spot, strike, timeToExpiryYears, volatility, optionType); err != nil {
		return 0, err
	}

	if timeToExpiryYears <= timeEpsilon {
		return clampTick(intrinsic(spot, strike, optionType)), nil
	}

	sqrtT := math.Sqrt(timeToExpiryYears)
	d1 := (math.Log(spot/strike) + (p.RiskFreeRate+0.5*volatility*volatility)*timeToExpiryYears) /
		(volatility * sqrtT)
	d2 := d1 - volatility*sqrtT
	discount := math.Exp(-p.RiskFreeRate * timeToExpiryYears)

	var value float64
	if optionType == models.OptionTypeCall {
		value = spot*normCDF(d1) - strike*discount*normCDF(d2)
	} else {
		value = strike*discount*normCDF(-d2) - spot*normCDF(-d1)
	}
	return clampTick(value), nil
}

// PriceWithGreeks returns fair value plus delta, gamma, theta and vega.
func (p *Pricer) PriceWithGreeks(spot, strike, timeToExpiryYears, volatility float64, optionType models.OptionType) (float64, Greeks, error) {
	value, err := p.Price(spot, strike, timeToExpiryYears, volatility, optionType)
	if err != nil {
		return 0, Greeks{}, err
	}
	if timeToExpiryYears <= timeEpsilon {
		// At expiry the option is pure intrinsic; sensitivities degenerate.
		g := Greeks{}
		if optionType == models.OptionTypeCall && spot > strike {
			g.Delta = 1
		} else if optionType == models.OptionTypePut && spot < strike {
			g.Delta = -1
		}
		return value, g, nil
	}

	sqrtT := math.Sqrt(timeToExpiryYears)
	d1 := (math.Log(spot/strike) + (p.RiskFreeRate+0.5*volatility*volatility)*timeToExpiryYears) /
		(volatility * sqrtT)
	d2 := d1 - volatility*sqrtT
	discount := math.Exp(-p.RiskFreeRate * timeToExpiryYears)
	pdf := normPDF(d1)

	g := Greeks{
		Gamma: pdf / (spot * volatility * sqrtT),
		Vega:  spot * pdf * sqrtT / 100, // per 1 vol point
	}
	if optionType == models.OptionTypeCall {
		g.Delta = normCDF(d1)
		g.Theta = (-spot*pdf*volatility/(2*sqrtT) -
			p.RiskFreeRate*strike*discount*normCDF(d2)) / 365
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = (-spot*pdf*volatility/(2*sqrtT) +
			p.RiskFreeRate*strike*discount*normCDF(-d2)) / 365
	}
	return value, g, nil
}

// SpreadValue returns the net per-share value of a multi-leg structure from
// the holder's perspective: long legs add, short legs subtract. Each leg is
// individually clamped to MinTick before signing, so a deep worthless short
// leg still costs one tick to close.
func (p *Pricer) SpreadValue(spot float64, legs []models.Leg, timeToExpiryYears, volatility float64) (float64, error) {
	if len(legs) == 0 {
		return 0, &InvalidInputError{Field: "legs", Value: 0}
	}
	var net float64
	for _, leg := range legs {
		v, err := p.Price(spot, leg.Strike, timeToExpiryYears, volatility, leg.OptionType)
		if err != nil {
			return 0, err
		}
		net += leg.Side.Sign() * v
	}
	return net, nil
}

// CostToClose returns the per-share debit required to unwind the structure.
// For credit structures (net short premium) this is positive.
func (p *Pricer) CostToClose(spot float64, legs []models.Leg, timeToExpiryYears, volatility float64) (float64, error) {
	v, err := p.SpreadValue(spot, legs, timeToExpiryYears, volatility)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

func validateInputs(spot, strike, t, vol float64, optionType models.OptionType) error {
	switch {
	case !optionType.Valid():
		return &InvalidInputError{Field: "optionType", Value: 0}
	case spot <= 0 || math.IsNaN(spot) || math.IsInf(spot, 0):
		return &InvalidInputError{Field: "spot", Value: spot}
	case strike <= 0 || math.IsNaN(strike) || math.IsInf(strike, 0):
		return &InvalidInputError{Field: "strike", Value: strike}
	case t < 0 || math.IsNaN(t):
		return &InvalidInputError{Field: "timeToExpiry", Value: t}
	case vol <= 0 || math.IsNaN(vol) || math.IsInf(vol, 0):
		return &InvalidInputError{Field: "volatility", Value: vol}
	}
	return nil
}

func intrinsic(spot, strike float64, optionType models.OptionType) float64 {
	if optionType == models.OptionTypeCall {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

func clampTick(v float64) float64 {
	if v < MinTick {
		return MinTick
	}
	return v
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
