// Package strategy turns a regime assessment and an option chain into a
// concrete trade recommendation: structure, strikes, size and economics.
package strategy

import (
	"fmt"
	"time"

	"github.com/raftroch1/odte-engine/internal/models"
)

// RecommendationKind tags the concrete recommendation variant.
type RecommendationKind string

const (
	// KindNoTrade means no candidate survived selection this tick.
	KindNoTrade RecommendationKind = "no_trade"
	// KindSingleLeg is a long call or long put.
	KindSingleLeg RecommendationKind = "single_leg"
	// KindVerticalSpread is a two-leg credit vertical.
	KindVerticalSpread RecommendationKind = "vertical_spread"
	// KindFourLegNeutral is an iron-condor-style range structure.
	KindFourLegNeutral RecommendationKind = "four_leg_neutral"
)

// Recommendation is the selector's output. Each variant carries only the
// fields that make sense for it; callers switch on Kind.
type Recommendation interface {
	Kind() RecommendationKind
	// Reason is the human-readable audit string for this decision.
	Reason() string
}

// NoTrade declines to trade and says why.
type NoTrade struct {
	Why string
}

// Kind implements Recommendation.
func (NoTrade) Kind() RecommendationKind { return KindNoTrade }

// Reason implements Recommendation.
func (n NoTrade) Reason() string { return n.Why }

// TradePlan holds the economics shared by every tradable variant.
// Per-share amounts use the option quote scale; dollar amounts are
// per-position (contracts × shares-per-contract applied).
type TradePlan struct {
	Symbol    string
	Structure models.StructureType
	Legs      []models.Leg
	Contracts int

	// NetPremium is per share and signed: positive credit, negative debit.
	NetPremium        float64
	MaxProfitPerShare float64
	MaxLossPerShare   float64

	// CashRequired is the dollar reservation the ledger must grant.
	CashRequired float64

	ProbabilityOfProfit float64
	Score               float64
	Rationale           string

	Expiry time.Time
}

// Reason implements Recommendation for all embedding variants.
func (p TradePlan) Reason() string { return p.Rationale }

// MaxProfit is the position-level dollar profit ceiling.
func (p TradePlan) MaxProfit() float64 {
	return p.MaxProfitPerShare * models.SharesPerContract * float64(p.Contracts)
}

// MaxLoss is the position-level dollar loss floor.
func (p TradePlan) MaxLoss() float64 {
	return p.MaxLossPerShare * models.SharesPerContract * float64(p.Contracts)
}

// Describe is a one-line summary for logs.
func (p TradePlan) Describe() string {
	return fmt.Sprintf("%s x%d premium %.2f maxProfit %.2f maxLoss %.2f score %.1f",
		p.Structure, p.Contracts, p.NetPremium, p.MaxProfit(), p.MaxLoss(), p.Score)
}

// SingleLeg is a long option bought for a debit.
type SingleLeg struct {
	TradePlan
}

// Kind implements Recommendation.
func (SingleLeg) Kind() RecommendationKind { return KindSingleLeg }

// VerticalSpread is a defined-risk two-leg credit structure.
type VerticalSpread struct {
	TradePlan
	// Width is the strike distance between the short and long leg.
	Width float64
}

// Kind implements Recommendation.
func (VerticalSpread) Kind() RecommendationKind { return KindVerticalSpread }

// FourLegNeutral is an iron-condor-style structure around the expected move.
type FourLegNeutral struct {
	TradePlan
	ExpectedMove float64
	PutWidth     float64
	CallWidth    float64
}

// Kind implements Recommendation.
func (FourLegNeutral) Kind() RecommendationKind { return KindFourLegNeutral }

// plan extracts the shared economics from any tradable recommendation,
// reporting false for NoTrade.
func planOf(rec Recommendation) (TradePlan, bool) {
	switch r := rec.(type) {
	case SingleLeg:
		return r.TradePlan, true
	case *SingleLeg:
		return r.TradePlan, true
	case VerticalSpread:
		return r.TradePlan, true
	case *VerticalSpread:
		return r.TradePlan, true
	case FourLegNeutral:
		return r.TradePlan, true
	case *FourLegNeutral:
		return r.TradePlan, true
	default:
		return TradePlan{}, false
	}
}

// PlanOf is the exported form of planOf for callers outside the package.
func PlanOf(rec Recommendation) (TradePlan, bool) { return planOf(rec) }
