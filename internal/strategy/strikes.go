package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/pricing"
)

// ErrInsufficientLiquidity means no strike near a target passed the volume
// and price filters. The candidate structure is skipped, not the whole tick.
var ErrInsufficientLiquidity = errors.New("no qualifying strike candidate")

// ErrStructureRejected means the legs were found but the resulting economics
// failed a configured floor or cap.
var ErrStructureRejected = errors.New("structure rejected")

// StrikeSelector builds concrete legs for each structure type from a chain
// snapshot. It is stateless apart from configuration.
type StrikeSelector struct {
	pricer *pricing.Pricer
	params Params
	logger *logrus.Logger
}

// NewStrikeSelector wires a selector. A nil logger uses the logrus default.
func NewStrikeSelector(pricer *pricing.Pricer, params Params, logger *logrus.Logger) *StrikeSelector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StrikeSelector{pricer: pricer, params: params, logger: logger}
}

// Market is the pricing context for one build call.
type Market struct {
	Chain        *models.ChainSnapshot
	Spot         float64
	TimeToExpiry float64 // years
	Volatility   float64
}

// BuildSingleLeg buys a slightly-OTM option in the regime's direction:
// a call about 1% above spot for bullish, a put about 1% below for bearish.
func (s *StrikeSelector) BuildSingleLeg(m Market, structure models.StructureType) (*SingleLeg, error) {
	var optType models.OptionType
	var target float64
	switch structure {
	case models.StructureBuyCall:
		optType = models.OptionTypeCall
		target = m.Spot * (1 + s.params.SingleLegOffsetPct)
	case models.StructureBuyPut:
		optType = models.OptionTypePut
		target = m.Spot * (1 - s.params.SingleLegOffsetPct)
	default:
		return nil, fmt.Errorf("not a single-leg structure: %s", structure)
	}

	quote, err := s.pickStrike(m.Chain, optType, target)
	if err != nil {
		return nil, err
	}

	debit := quote.Mid()
	if debit < s.params.MinLegPrice {
		return nil, fmt.Errorf("%w: %s %.0f mid %.2f below price floor", ErrStructureRejected,
			optType, quote.Strike, debit)
	}

	pop := s.probabilityITM(m, quote.Strike, optType)

	plan := TradePlan{
		Symbol:    m.Chain.Symbol,
		Structure: structure,
		Legs: []models.Leg{
			{Strike: quote.Strike, OptionType: optType, Side: models.SideLong, EntryPrice: debit},
		},
		NetPremium: -debit,
		// A same-day long option targets a full double; the whole debit is
		// at risk.
		MaxProfitPerShare:   debit,
		MaxLossPerShare:     debit,
		ProbabilityOfProfit: pop,
		Expiry:              quote.Expiry,
		Rationale: fmt.Sprintf("long %s %.0f for %.2f debit (target %.2f)",
			optType, quote.Strike, debit, target),
	}
	return &SingleLeg{TradePlan: plan}, nil
}

// BuildVertical sells a two-leg credit vertical: short strike 2-3% OTM, long
// strike a further 2-3% out for protection.
func (s *StrikeSelector) BuildVertical(m Market, structure models.StructureType) (*VerticalSpread, error) {
	var optType models.OptionType
	var shortTarget, longTarget float64
	switch structure {
	case models.StructureBullPutSpread:
		optType = models.OptionTypePut
		shortTarget = m.Spot * (1 - s.params.ShortOffsetPct)
		longTarget = shortTarget * (1 - s.params.WingWidthPct)
	case models.StructureBearCallSpread:
		optType = models.OptionTypeCall
		shortTarget = m.Spot * (1 + s.params.ShortOffsetPct)
		longTarget = shortTarget * (1 + s.params.WingWidthPct)
	default:
		return nil, fmt.Errorf("not a vertical structure: %s", structure)
	}

	shortQuote, err := s.pickStrike(m.Chain, optType, shortTarget)
	if err != nil {
		return nil, err
	}
	longQuote, err := s.pickStrike(m.Chain, optType, longTarget)
	if err != nil {
		return nil, err
	}

	width := math.Abs(shortQuote.Strike - longQuote.Strike)
	if width <= 0 {
		return nil, fmt.Errorf("%w: short and long snapped to the same strike %.0f",
			ErrStructureRejected, shortQuote.Strike)
	}
	if width > s.params.MaxSpreadWidth {
		return nil, fmt.Errorf("%w: width %.1f exceeds cap %.1f", ErrStructureRejected,
			width, s.params.MaxSpreadWidth)
	}

	credit := shortQuote.Mid() - longQuote.Mid()
	if credit < s.params.MinNetCredit {
		return nil, fmt.Errorf("%w: credit %.2f below minimum %.2f", ErrStructureRejected,
			credit, s.params.MinNetCredit)
	}

	// Credit spread wins when the short strike stays OTM.
	pop := 1 - s.probabilityITM(m, shortQuote.Strike, optType)

	plan := TradePlan{
		Symbol:    m.Chain.Symbol,
		Structure: structure,
		Legs: []models.Leg{
			{Strike: shortQuote.Strike, OptionType: optType, Side: models.SideShort, EntryPrice: shortQuote.Mid()},
			{Strike: longQuote.Strike, OptionType: optType, Side: models.SideLong, EntryPrice: longQuote.Mid()},
		},
		NetPremium:          credit,
		MaxProfitPerShare:   credit,
		MaxLossPerShare:     width - credit,
		ProbabilityOfProfit: pop,
		Expiry:              shortQuote.Expiry,
		Rationale: fmt.Sprintf("%s short %.0f / long %.0f width %.1f credit %.2f",
			structure, shortQuote.Strike, longQuote.Strike, width, credit),
	}
	return &VerticalSpread{TradePlan: plan, Width: width}, nil
}

// BuildCondor places short strikes one expected move either side of spot and
// wings at the configured multiple beyond. The expected move comes from the
// ATM straddle scaled by the same-day factor.
func (s *StrikeSelector) BuildCondor(m Market) (*FourLegNeutral, error) {
	move, err := s.ExpectedMove(m.Chain, m.Spot)
	if err != nil {
		return nil, err
	}

	shortPut, err := s.pickStrike(m.Chain, models.OptionTypePut, m.Spot-move)
	if err != nil {
		return nil, fmt.Errorf("short put: %w", err)
	}
	longPut, err := s.pickStrike(m.Chain, models.OptionTypePut, m.Spot-s.params.CondorWingFactor*move)
	if err != nil {
		return nil, fmt.Errorf("long put: %w", err)
	}
	shortCall, err := s.pickStrike(m.Chain, models.OptionTypeCall, m.Spot+move)
	if err != nil {
		return nil, fmt.Errorf("short call: %w", err)
	}
	longCall, err := s.pickStrike(m.Chain, models.OptionTypeCall, m.Spot+s.params.CondorWingFactor*move)
	if err != nil {
		return nil, fmt.Errorf("long call: %w", err)
	}

	putWidth := shortPut.Strike - longPut.Strike
	callWidth := longCall.Strike - shortCall.Strike
	if putWidth <= 0 || callWidth <= 0 {
		return nil, fmt.Errorf("%w: non-positive wing width (put %.1f call %.1f)",
			ErrStructureRejected, putWidth, callWidth)
	}
	if math.Max(putWidth, callWidth) > s.params.MaxSpreadWidth {
		return nil, fmt.Errorf("%w: wing width exceeds cap %.1f", ErrStructureRejected,
			s.params.MaxSpreadWidth)
	}

	credit := shortPut.Mid() + shortCall.Mid() - longPut.Mid() - longCall.Mid()
	if credit < s.params.MinNetCredit {
		return nil, fmt.Errorf("%w: condor credit %.2f below minimum %.2f",
			ErrStructureRejected, credit, s.params.MinNetCredit)
	}

	maxLoss := math.Max(putWidth, callWidth) - credit
	if maxLoss <= 0 {
		return nil, fmt.Errorf("%w: non-positive max loss", ErrStructureRejected)
	}

	// Condor wins when spot stays between the short strikes.
	pop := 1 - s.probabilityITM(m, shortCall.Strike, models.OptionTypeCall) -
		s.probabilityITM(m, shortPut.Strike, models.OptionTypePut)
	pop = math.Max(pop, 0.05)

	plan := TradePlan{
		Symbol:    m.Chain.Symbol,
		Structure: models.StructureIronCondor,
		Legs: []models.Leg{
			{Strike: shortPut.Strike, OptionType: models.OptionTypePut, Side: models.SideShort, EntryPrice: shortPut.Mid()},
			{Strike: longPut.Strike, OptionType: models.OptionTypePut, Side: models.SideLong, EntryPrice: longPut.Mid()},
			{Strike: shortCall.Strike, OptionType: models.OptionTypeCall, Side: models.SideShort, EntryPrice: shortCall.Mid()},
			{Strike: longCall.Strike, OptionType: models.OptionTypeCall, Side: models.SideLong, EntryPrice: longCall.Mid()},
		},
		NetPremium:          credit,
		MaxProfitPerShare:   credit,
		MaxLossPerShare:     maxLoss,
		ProbabilityOfProfit: pop,
		Expiry:              shortCall.Expiry,
		Rationale: fmt.Sprintf("condor shorts %.0f/%.0f wings %.0f/%.0f move %.1f credit %.2f",
			shortPut.Strike, shortCall.Strike, longPut.Strike, longCall.Strike, move, credit),
	}
	return &FourLegNeutral{
		TradePlan:    plan,
		ExpectedMove: move,
		PutWidth:     putWidth,
		CallWidth:    callWidth,
	}, nil
}

// ExpectedMove estimates the one-standard-deviation same-day move from the
// ATM straddle price scaled by the configured empirical factor.
func (s *StrikeSelector) ExpectedMove(chain *models.ChainSnapshot, spot float64) (float64, error) {
	atmCall, errC := s.nearestByStrike(chain.Calls(), spot)
	atmPut, errP := s.nearestByStrike(chain.Puts(), spot)
	if errC != nil || errP != nil {
		return 0, fmt.Errorf("%w: no ATM straddle", ErrInsufficientLiquidity)
	}
	straddle := atmCall.Mid() + atmPut.Mid()
	if straddle <= 0 {
		return 0, fmt.Errorf("%w: ATM straddle priced at zero", ErrInsufficientLiquidity)
	}
	return straddle * s.params.ExpectedMoveFactor, nil
}

// SizeContracts applies the risk-fraction rule: the smallest of the default
// size, what the per-trade risk budget affords and the hard cap.
func (s *StrikeSelector) SizeContracts(maxLossPerShare, accountEquity float64) int {
	if maxLossPerShare <= 0 || accountEquity <= 0 {
		return 0
	}
	maxRisk := accountEquity * s.params.RiskFraction
	affordable := int(math.Floor(maxRisk / (maxLossPerShare * models.SharesPerContract)))

	n := s.params.DefaultContracts
	if affordable < n {
		n = affordable
	}
	if s.params.HardCapContracts > 0 && n > s.params.HardCapContracts {
		n = s.params.HardCapContracts
	}
	return n
}

// pickStrike finds the best quote near target: among candidates inside the
// snap window it prefers the highest traded volume, subject to the minimum
// volume and price floors.
func (s *StrikeSelector) pickStrike(chain *models.ChainSnapshot, optType models.OptionType, target float64) (models.OptionQuote, error) {
	var side []models.OptionQuote
	if optType == models.OptionTypeCall {
		side = chain.Calls()
	} else {
		side = chain.Puts()
	}
	if len(side) == 0 {
		return models.OptionQuote{}, fmt.Errorf("%w: no %s quotes", ErrInsufficientLiquidity, optType)
	}

	window := target * s.params.SnapWindowPct
	var best models.OptionQuote
	found := false
	for _, q := range side {
		if math.Abs(q.Strike-target) > window {
			continue
		}
		if q.Volume < s.params.MinLegVolume || q.Mid() < s.params.MinLegPrice {
			continue
		}
		if !found || q.Volume > best.Volume ||
			(q.Volume == best.Volume && math.Abs(q.Strike-target) < math.Abs(best.Strike-target)) {
			best = q
			found = true
		}
	}
	if !found {
		return models.OptionQuote{}, fmt.Errorf("%w: %s near %.1f", ErrInsufficientLiquidity, optType, target)
	}
	return best, nil
}

func (s *StrikeSelector) nearestByStrike(quotes []models.OptionQuote, target float64) (models.OptionQuote, error) {
	if len(quotes) == 0 {
		return models.OptionQuote{}, ErrInsufficientLiquidity
	}
	sorted := make([]models.OptionQuote, len(quotes))
	copy(sorted, quotes)
	sort.Slice(sorted, func(i, j int) bool {
		return math.Abs(sorted[i].Strike-target) < math.Abs(sorted[j].Strike-target)
	})
	return sorted[0], nil
}

// probabilityITM approximates the finish-in-the-money probability with the
// option's absolute delta.
func (s *StrikeSelector) probabilityITM(m Market, strike float64, optType models.OptionType) float64 {
	vol := m.Volatility
	if vol <= 0 {
		vol = pricing.DefaultVolatility
	}
	_, greeks, err := s.pricer.PriceWithGreeks(m.Spot, strike, m.TimeToExpiry, vol, optType)
	if err != nil {
		s.logger.WithError(err).Debug("delta estimate failed, assuming coin flip")
		return 0.5
	}
	return math.Min(math.Abs(greeks.Delta), 1)
}
