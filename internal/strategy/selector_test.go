package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/pricing"
	"github.com/raftroch1/odte-engine/internal/regime"
)

// fakeLedger satisfies the Ledger view with fixed numbers.
type fakeLedger struct {
	available float64
	equity    float64
	canOpen   bool
}

func (f *fakeLedger) AvailableCash() float64 { return f.available }
func (f *fakeLedger) TotalEquity() float64   { return f.equity }
func (f *fakeLedger) CanOpen() bool          { return f.canOpen }

var _ Ledger = (*fakeLedger)(nil)

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	params := DefaultParams()
	strikes := NewStrikeSelector(pricing.NewPricer(0), params, nil)
	sel, err := NewSelector(DefaultMatrix(), strikes, params, nil)
	require.NoError(t, err)
	return sel
}

func TestSelect_NeutralRegimePicksCondor(t *testing.T) {
	sel := newTestSelector(t)
	m := testMarket(t)
	ledger := &fakeLedger{available: 23000, equity: 25000, canOpen: true}

	assessment := regime.Assessment{
		Primary:    regime.RegimeNeutral,
		Confidence: 55,
		VolBucket:  regime.VolMedium,
	}

	rec := sel.Select(assessment, m, ledger)
	require.Equal(t, KindFourLegNeutral, rec.Kind())

	plan, ok := PlanOf(rec)
	require.True(t, ok)
	assert.Equal(t, models.StructureIronCondor, plan.Structure)
	assert.GreaterOrEqual(t, plan.Contracts, 1)
	assert.Greater(t, plan.CashRequired, 0.0)
	assert.LessOrEqual(t, plan.CashRequired, ledger.available)
	assert.Greater(t, plan.Score, 0.0)
	assert.NotEmpty(t, rec.Reason())
}

func TestSelect_BullishRegimeMatchesBias(t *testing.T) {
	sel := newTestSelector(t)
	m := testMarket(t)
	ledger := &fakeLedger{available: 23000, equity: 25000, canOpen: true}

	assessment := regime.Assessment{
		Primary:    regime.RegimeBullish,
		Confidence: 80,
		VolBucket:  regime.VolMedium,
	}

	rec := sel.Select(assessment, m, ledger)
	plan, ok := PlanOf(rec)
	require.True(t, ok, "expected a trade, got %s: %s", rec.Kind(), rec.Reason())
	assert.Equal(t, models.BiasBullish, plan.Structure.Bias())
}

func TestSelect_NoSlotIsNoTrade(t *testing.T) {
	sel := newTestSelector(t)
	rec := sel.Select(regime.Assessment{Primary: regime.RegimeNeutral, VolBucket: regime.VolLow},
		testMarket(t), &fakeLedger{available: 23000, equity: 25000, canOpen: false})

	require.Equal(t, KindNoTrade, rec.Kind())
	assert.Contains(t, rec.Reason(), "slots")
}

func TestSelect_InsufficientCashFallsThroughToNoTrade(t *testing.T) {
	sel := newTestSelector(t)
	m := testMarket(t)
	// Equity keeps sizing normal but almost no cash is free.
	ledger := &fakeLedger{available: 10, equity: 25000, canOpen: true}

	rec := sel.Select(regime.Assessment{
		Primary:    regime.RegimeNeutral,
		Confidence: 50,
		VolBucket:  regime.VolMedium,
	}, m, ledger)

	require.Equal(t, KindNoTrade, rec.Kind())
	assert.Contains(t, rec.Reason(), "no candidate survived")
}

func TestSelect_EmptyChainIsNoTrade(t *testing.T) {
	sel := newTestSelector(t)
	rec := sel.Select(regime.Assessment{Primary: regime.RegimeNeutral, VolBucket: regime.VolLow},
		Market{Chain: &models.ChainSnapshot{}}, &fakeLedger{available: 1000, equity: 1000, canOpen: true})

	require.Equal(t, KindNoTrade, rec.Kind())
}

func TestMatrix_Validate(t *testing.T) {
	require.NoError(t, DefaultMatrix().Validate())

	missing := DefaultMatrix()
	delete(missing[regime.RegimeNeutral], regime.VolHigh)
	require.Error(t, missing.Validate())

	bogus := DefaultMatrix()
	bogus[regime.RegimeBullish][regime.VolLow] = []models.StructureType{"straddle_strangle"}
	require.Error(t, bogus.Validate())

	crowded := DefaultMatrix()
	crowded[regime.RegimeBullish][regime.VolLow] = []models.StructureType{
		models.StructureBuyCall, models.StructureBuyCall,
		models.StructureBuyCall, models.StructureBuyCall,
	}
	require.Error(t, crowded.Validate())
}

func TestScore_AlignmentAndVolBonuses(t *testing.T) {
	sel := newTestSelector(t)

	plan := TradePlan{
		Structure:           models.StructureBullPutSpread,
		MaxProfitPerShare:   1.0,
		MaxLossPerShare:     1.5,
		ProbabilityOfProfit: 0.70,
	}

	aligned := sel.score(plan, regime.Assessment{
		Primary: regime.RegimeBullish, Confidence: 80, VolBucket: regime.VolMedium})
	misaligned := sel.score(plan, regime.Assessment{
		Primary: regime.RegimeBearish, Confidence: 80, VolBucket: regime.VolMedium})
	assert.InDelta(t, 20.0, aligned-misaligned, 1e-9, "alignment bonus is confidence-scaled")

	highVol := sel.score(plan, regime.Assessment{
		Primary: regime.RegimeBullish, Confidence: 80, VolBucket: regime.VolHigh})
	assert.InDelta(t, 10.0, highVol-aligned, 1e-9, "credit structure gets the high-vol bonus")
}

func TestScore_RiskRewardBonusIsCapped(t *testing.T) {
	sel := newTestSelector(t)
	assessment := regime.Assessment{Primary: regime.RegimeNeutral, VolBucket: regime.VolMedium}

	lopsided := TradePlan{
		Structure:           models.StructureIronCondor,
		MaxProfitPerShare:   100,
		MaxLossPerShare:     1,
		ProbabilityOfProfit: 0.5,
	}
	modest := lopsided
	modest.MaxProfitPerShare = 1

	// modest earns rr*10 = 10; lopsided would earn 1000 uncapped but the
	// bonus tops out at 20.
	capped := sel.score(lopsided, assessment)
	base := sel.score(modest, assessment)
	assert.InDelta(t, 60.0, base, 1e-9)
	assert.InDelta(t, 70.0, capped, 1e-9)
}

func TestLookupVariant(t *testing.T) {
	for _, name := range []string{"balanced", "conservative", "aggressive"} {
		v, err := LookupVariant(name)
		require.NoError(t, err)
		assert.Equal(t, name, v.Name)
		require.NoError(t, v.Params.Validate(), "preset %s must validate", name)
	}

	_, err := LookupVariant("yolo")
	require.Error(t, err)
	assert.Equal(t, []string{"aggressive", "balanced", "conservative"}, VariantNames())
}
