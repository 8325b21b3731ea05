package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/regime"
)

// Matrix maps a regime and volatility bucket to candidate structures, in
// preference order.
type Matrix map[regime.Regime]map[regime.VolBucket][]models.StructureType

// DefaultMatrix is the production lookup table. Credit spreads dominate;
// outright longs appear only when volatility is cheap enough to own.
func DefaultMatrix() Matrix {
	return Matrix{
		regime.RegimeBullish: {
			regime.VolLow:    {models.StructureBullPutSpread, models.StructureBuyCall},
			regime.VolMedium: {models.StructureBullPutSpread, models.StructureBuyCall},
			regime.VolHigh:   {models.StructureBullPutSpread},
		},
		regime.RegimeBearish: {
			regime.VolLow:    {models.StructureBearCallSpread, models.StructureBuyPut},
			regime.VolMedium: {models.StructureBearCallSpread, models.StructureBuyPut},
			regime.VolHigh:   {models.StructureBearCallSpread},
		},
		regime.RegimeNeutral: {
			regime.VolLow:    {models.StructureIronCondor, models.StructureBullPutSpread, models.StructureBearCallSpread},
			regime.VolMedium: {models.StructureIronCondor, models.StructureBullPutSpread, models.StructureBearCallSpread},
			regime.VolHigh:   {models.StructureIronCondor},
		},
	}
}

// Validate checks the matrix covers every regime and bucket with valid
// structures. Runs once at startup so a config typo fails fast.
func (m Matrix) Validate() error {
	regimes := []regime.Regime{regime.RegimeBullish, regime.RegimeBearish, regime.RegimeNeutral}
	buckets := []regime.VolBucket{regime.VolLow, regime.VolMedium, regime.VolHigh}
	for _, r := range regimes {
		row, ok := m[r]
		if !ok {
			return fmt.Errorf("strategy matrix missing regime %s", r)
		}
		for _, b := range buckets {
			candidates, ok := row[b]
			if !ok || len(candidates) == 0 {
				return fmt.Errorf("strategy matrix missing candidates for %s x %s", r, b)
			}
			if len(candidates) > 3 {
				return fmt.Errorf("strategy matrix %s x %s has %d candidates, max 3", r, b, len(candidates))
			}
			for _, c := range candidates {
				if !c.Valid() {
					return fmt.Errorf("strategy matrix %s x %s: unknown structure %q", r, b, c)
				}
			}
		}
	}
	return nil
}

// Ledger is the cash view the selector needs for candidate filtering.
type Ledger interface {
	AvailableCash() float64
	TotalEquity() float64
	CanOpen() bool
}

// Selector scores candidate structures and picks one or declines.
type Selector struct {
	matrix  Matrix
	strikes *StrikeSelector
	params  Params
	logger  *logrus.Logger
}

// NewSelector validates the matrix and wires the selector.
func NewSelector(matrix Matrix, strikes *StrikeSelector, params Params, logger *logrus.Logger) (*Selector, error) {
	if err := matrix.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Selector{matrix: matrix, strikes: strikes, params: params, logger: logger}, nil
}

// Select builds and scores every candidate for the assessed regime, filters
// by available cash, and returns the winner or NoTrade with a reason.
func (s *Selector) Select(assessment regime.Assessment, m Market, ledger Ledger) Recommendation {
	if !ledger.CanOpen() {
		return NoTrade{Why: "all position slots in use"}
	}
	if m.Chain.IsEmpty() {
		return NoTrade{Why: "empty option chain"}
	}

	candidates := s.matrix[assessment.Primary][assessment.VolBucket]
	if len(candidates) == 0 {
		return NoTrade{Why: fmt.Sprintf("no structures for %s x %s", assessment.Primary, assessment.VolBucket)}
	}

	equity := ledger.TotalEquity()
	available := ledger.AvailableCash()

	var best Recommendation
	var bestPlan TradePlan
	var rejections []string

	for _, structure := range candidates {
		rec, err := s.build(m, structure)
		if err != nil {
			if errors.Is(err, ErrInsufficientLiquidity) || errors.Is(err, ErrStructureRejected) {
				rejections = append(rejections, fmt.Sprintf("%s: %v", structure, err))
				continue
			}
			s.logger.WithError(err).WithField("structure", structure).Warn("Candidate build failed")
			rejections = append(rejections, fmt.Sprintf("%s: %v", structure, err))
			continue
		}

		plan, _ := planOf(rec)
		contracts := s.strikes.SizeContracts(plan.MaxLossPerShare, equity)
		if contracts < 1 {
			rejections = append(rejections, fmt.Sprintf("%s: size below 1 contract", structure))
			continue
		}
		plan.Contracts = contracts
		plan.CashRequired = plan.MaxLoss()

		if plan.CashRequired > available {
			rejections = append(rejections, fmt.Sprintf("%s: needs %.2f, have %.2f",
				structure, plan.CashRequired, available))
			continue
		}

		plan.Score = s.score(plan, assessment)
		rec = withPlan(rec, plan)

		if best == nil || plan.Score > bestPlan.Score ||
			(plan.Score == bestPlan.Score && plan.CashRequired < bestPlan.CashRequired) {
			best = rec
			bestPlan = plan
		}
	}

	if best == nil {
		why := "no candidate survived selection"
		if len(rejections) > 0 {
			why = fmt.Sprintf("no candidate survived: %v", rejections)
		}
		return NoTrade{Why: why}
	}

	s.logger.WithFields(logrus.Fields{
		"structure": bestPlan.Structure,
		"score":     bestPlan.Score,
		"contracts": bestPlan.Contracts,
		"cash":      bestPlan.CashRequired,
	}).Info("Structure selected")
	return best
}

func (s *Selector) build(m Market, structure models.StructureType) (Recommendation, error) {
	switch structure {
	case models.StructureBuyCall, models.StructureBuyPut:
		return s.strikes.BuildSingleLeg(m, structure)
	case models.StructureBullPutSpread, models.StructureBearCallSpread:
		return s.strikes.BuildVertical(m, structure)
	case models.StructureIronCondor:
		return s.strikes.BuildCondor(m)
	default:
		return nil, fmt.Errorf("unknown structure %q", structure)
	}
}

// score combines probability of profit with regime alignment, a capped
// risk/reward bonus and a volatility-fit bonus.
func (s *Selector) score(plan TradePlan, assessment regime.Assessment) float64 {
	score := plan.ProbabilityOfProfit * 100

	// Alignment scales with confidence only when the structure's bias
	// matches the regime call.
	if plan.Structure.Bias() == assessment.Primary.Bias() {
		score += assessment.Confidence * 0.25
	}

	if plan.MaxLossPerShare > 0 {
		rr := plan.MaxProfitPerShare / plan.MaxLossPerShare
		score += math.Min(rr*10, 20)
	}

	// Credit structures like expensive premium; debit structures need it
	// cheap.
	switch assessment.VolBucket {
	case regime.VolHigh:
		if plan.Structure.IsCredit() {
			score += 10
		}
	case regime.VolLow:
		if !plan.Structure.IsCredit() {
			score += 5
		}
	}

	return score
}

// withPlan writes the finalized economics back into the variant.
func withPlan(rec Recommendation, plan TradePlan) Recommendation {
	switch r := rec.(type) {
	case *SingleLeg:
		r.TradePlan = plan
		return r
	case *VerticalSpread:
		r.TradePlan = plan
		return r
	case *FourLegNeutral:
		r.TradePlan = plan
		return r
	default:
		return rec
	}
}
