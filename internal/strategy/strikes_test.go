package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/pricing"
)

// fairChain builds a chain with pricer-derived mids so structure economics
// are internally consistent. Volume is uniform, so strike snapping resolves
// by distance.
func fairChain(t *testing.T, spot, vol, years, interval, span float64) *models.ChainSnapshot {
	t.Helper()
	pricer := pricing.NewPricer(0)
	expiry := time.Date(2026, 3, 16, 16, 0, 0, 0, time.UTC)
	chain := &models.ChainSnapshot{Symbol: "SPX", Timestamp: expiry.Add(-4 * time.Hour)}

	for strike := spot - span; strike <= spot+span; strike += interval {
		for _, optType := range []models.OptionType{models.OptionTypeCall, models.OptionTypePut} {
			mid, err := pricer.Price(spot, strike, years, vol, optType)
			require.NoError(t, err)
			chain.Quotes = append(chain.Quotes, models.OptionQuote{
				Symbol:     "SPX",
				Strike:     strike,
				OptionType: optType,
				Bid:        mid - 0.02,
				Ask:        mid + 0.02,
				Volume:     500,
				Expiry:     expiry,
			})
		}
	}
	return chain
}

func testMarket(t *testing.T) Market {
	t.Helper()
	// sigma*sqrt(t) = 0.015625 puts the ATM straddle near 6.23, so the
	// 0.8-scaled expected move lands right at 5 points.
	return Market{
		Chain:        fairChain(t, 500, 0.15625, 0.01, 2.5, 30),
		Spot:         500,
		TimeToExpiry: 0.01,
		Volatility:   0.15625,
	}
}

func newTestStrikeSelector() *StrikeSelector {
	return NewStrikeSelector(pricing.NewPricer(0), DefaultParams(), nil)
}

func TestExpectedMove(t *testing.T) {
	sel := newTestStrikeSelector()
	m := testMarket(t)

	move, err := sel.ExpectedMove(m.Chain, m.Spot)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, move, 0.3, "0.8 x ATM straddle")
}

func TestBuildCondor_StrikePlacement(t *testing.T) {
	sel := newTestStrikeSelector()
	m := testMarket(t)

	condor, err := sel.BuildCondor(m)
	require.NoError(t, err)

	strikes := map[string]float64{}
	for _, leg := range condor.Legs {
		key := string(leg.Side) + "_" + string(leg.OptionType)
		strikes[key] = leg.Strike
	}
	assert.Equal(t, 495.0, strikes["short_put"])
	assert.Equal(t, 505.0, strikes["short_call"])
	assert.Equal(t, 492.5, strikes["long_put"])
	assert.Equal(t, 507.5, strikes["long_call"])

	assert.Greater(t, condor.NetPremium, 0.0, "condor collects credit")
	assert.GreaterOrEqual(t, condor.NetPremium, DefaultParams().MinNetCredit)
	assert.Greater(t, condor.MaxLossPerShare, 0.0)
	assert.InDelta(t, 2.5, condor.PutWidth, 1e-9)
	assert.InDelta(t, 2.5, condor.CallWidth, 1e-9)
	assert.InDelta(t, condor.PutWidth-condor.NetPremium, condor.MaxLossPerShare, 1e-9)
	assert.Equal(t, models.StructureIronCondor, condor.Structure)
	assert.True(t, condor.ProbabilityOfProfit > 0 && condor.ProbabilityOfProfit < 1)
}

func TestBuildCondor_RejectsThinCredit(t *testing.T) {
	params := DefaultParams()
	params.MinNetCredit = 50 // impossible floor
	sel := NewStrikeSelector(pricing.NewPricer(0), params, nil)

	_, err := sel.BuildCondor(testMarket(t))
	require.ErrorIs(t, err, ErrStructureRejected)
}

func TestBuildCondor_RejectsIlliquidChain(t *testing.T) {
	sel := newTestStrikeSelector()
	m := testMarket(t)
	for i := range m.Chain.Quotes {
		m.Chain.Quotes[i].Volume = 0
	}

	_, err := sel.BuildCondor(m)
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestBuildVertical_BullPut(t *testing.T) {
	sel := newTestStrikeSelector()
	m := testMarket(t)

	spread, err := sel.BuildVertical(m, models.StructureBullPutSpread)
	require.NoError(t, err)

	require.Len(t, spread.Legs, 2)
	short, long := spread.Legs[0], spread.Legs[1]
	assert.Equal(t, models.SideShort, short.Side)
	assert.Equal(t, models.SideLong, long.Side)
	assert.Equal(t, models.OptionTypePut, short.OptionType)
	assert.Less(t, long.Strike, short.Strike, "protection sits further OTM")
	assert.Less(t, short.Strike, m.Spot)

	assert.Greater(t, spread.NetPremium, 0.0)
	assert.InDelta(t, spread.Width-spread.NetPremium, spread.MaxLossPerShare, 1e-9)
	assert.Equal(t, spread.NetPremium, spread.MaxProfitPerShare)
}

func TestBuildVertical_BearCall(t *testing.T) {
	sel := newTestStrikeSelector()
	m := testMarket(t)

	spread, err := sel.BuildVertical(m, models.StructureBearCallSpread)
	require.NoError(t, err)

	short, long := spread.Legs[0], spread.Legs[1]
	assert.Greater(t, short.Strike, m.Spot)
	assert.Greater(t, long.Strike, short.Strike)
	assert.Greater(t, spread.NetPremium, 0.0)
}

func TestBuildVertical_WidthCap(t *testing.T) {
	params := DefaultParams()
	params.MaxSpreadWidth = 2 // tighter than one strike interval
	sel := NewStrikeSelector(pricing.NewPricer(0), params, nil)

	_, err := sel.BuildVertical(testMarket(t), models.StructureBullPutSpread)
	require.ErrorIs(t, err, ErrStructureRejected)
}

func TestBuildSingleLeg(t *testing.T) {
	sel := newTestStrikeSelector()
	m := testMarket(t)

	tests := []struct {
		structure models.StructureType
		optType   models.OptionType
		wantAbove bool
	}{
		{models.StructureBuyCall, models.OptionTypeCall, true},
		{models.StructureBuyPut, models.OptionTypePut, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.structure), func(t *testing.T) {
			leg, err := sel.BuildSingleLeg(m, tt.structure)
			require.NoError(t, err)

			require.Len(t, leg.Legs, 1)
			assert.Equal(t, tt.optType, leg.Legs[0].OptionType)
			assert.Equal(t, models.SideLong, leg.Legs[0].Side)
			if tt.wantAbove {
				assert.Greater(t, leg.Legs[0].Strike, m.Spot)
			} else {
				assert.Less(t, leg.Legs[0].Strike, m.Spot)
			}
			assert.Negative(t, leg.NetPremium, "long options pay a debit")
			assert.Equal(t, -leg.NetPremium, leg.MaxLossPerShare, "whole debit at risk")
		})
	}
}

func TestSizeContracts(t *testing.T) {
	sel := newTestStrikeSelector() // risk 2%, default 2, cap 10

	tests := []struct {
		name            string
		maxLossPerShare float64
		equity          float64
		want            int
	}{
		{"budget allows default", 1.38, 25000, 2},
		{"budget binds below default", 4.0, 25000, 1},
		{"budget below one contract", 10.0, 25000, 0},
		{"zero loss is unsizeable", 0, 25000, 0},
		{"zero equity is unsizeable", 1.0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sel.SizeContracts(tt.maxLossPerShare, tt.equity))
		})
	}
}

func TestSizeContracts_HardCap(t *testing.T) {
	params := DefaultParams()
	params.RiskFraction = 0.1
	params.DefaultContracts = 80
	params.HardCapContracts = 50
	sel := NewStrikeSelector(pricing.NewPricer(0), params, nil)

	// Budget affords 100 contracts and the default wants 80; the hard cap
	// still holds the size to 50.
	assert.Equal(t, 50, sel.SizeContracts(0.25, 25000))
}
