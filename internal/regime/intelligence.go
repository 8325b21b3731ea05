// Package regime fuses technical, volatility-structure and order-flow
// signals into a market regime assessment that drives structure selection.
package regime

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/models"
)

// Regime classifies the prevailing market direction.
type Regime string

const (
	// RegimeBullish favors upside structures.
	RegimeBullish Regime = "bullish"
	// RegimeBearish favors downside structures.
	RegimeBearish Regime = "bearish"
	// RegimeNeutral favors range-bound structures.
	RegimeNeutral Regime = "neutral"
)

// Bias maps the regime onto the directional bias used by structures.
func (r Regime) Bias() models.Bias {
	switch r {
	case RegimeBullish:
		return models.BiasBullish
	case RegimeBearish:
		return models.BiasBearish
	default:
		return models.BiasNeutral
	}
}

// VolBucket classifies the volatility environment.
type VolBucket string

const (
	// VolLow is a quiet tape (index below the low threshold).
	VolLow VolBucket = "low"
	// VolMedium is a normal tape.
	VolMedium VolBucket = "medium"
	// VolHigh is a stressed tape (index above the high threshold).
	VolHigh VolBucket = "high"
)

// Assessment is the scorer's output. It is immutable and rebuilt fresh on
// every evaluation; bull+bear+neutral always sums to 100.
type Assessment struct {
	BullScore    float64   `json:"bull_score"`
	BearScore    float64   `json:"bear_score"`
	NeutralScore float64   `json:"neutral_score"`
	Primary      Regime    `json:"primary"`
	Confidence   float64   `json:"confidence"`
	VolBucket    VolBucket `json:"vol_bucket"`
	Signals      []string  `json:"signals"`
	Timestamp    time.Time `json:"timestamp"`
}

// Reversed reports whether the assessment opposes the given bias with at
// least the supplied confidence. Neutral positions are never "reversed".
func (a *Assessment) Reversed(bias models.Bias, minConfidence float64) bool {
	if a.Confidence < minConfidence {
		return false
	}
	switch bias {
	case models.BiasBullish:
		return a.Primary == RegimeBearish
	case models.BiasBearish:
		return a.Primary == RegimeBullish
	default:
		return false
	}
}

// Weights are the layer mix. They must sum to 1.
type Weights struct {
	Technical float64 `yaml:"technical"`
	Internals float64 `yaml:"internals"`
	Flow      float64 `yaml:"flow"`
	ML        float64 `yaml:"ml"`
}

// DefaultWeights is the production layer mix.
var DefaultWeights = Weights{Technical: 0.25, Internals: 0.35, Flow: 0.25, ML: 0.15}

// Validate checks the weights sum to 1 within rounding.
func (w Weights) Validate() error {
	sum := w.Technical + w.Internals + w.Flow + w.ML
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("regime weights must sum to 1.0 (got %.4f)", sum)
	}
	if w.Technical < 0 || w.Internals < 0 || w.Flow < 0 || w.ML < 0 {
		return fmt.Errorf("regime weights must be non-negative")
	}
	return nil
}

// VolThresholds map a volatility-index level to a bucket.
type VolThresholds struct {
	LowMax  float64 `yaml:"low_max"`  // below this: LOW
	HighMin float64 `yaml:"high_min"` // above this: HIGH
}

// DefaultVolThresholds follows the usual 15/25 index cut.
var DefaultVolThresholds = VolThresholds{LowMax: 15, HighMin: 25}

// Input is one tick's market data for the scorer. Spot, Term and History are
// optional; the scorer degrades to chain-only signals without them.
type Input struct {
	Chain *models.ChainSnapshot
	// Spot is the underlying price, or zero when unknown.
	Spot             float64
	HasTermStructure bool
	Term             models.TermStructure
	History          []models.PriceBar
}

// Scorer computes regime assessments. It holds configuration only: every
// Evaluate call is a pure function of its input.
type Scorer struct {
	weights    Weights
	thresholds VolThresholds
	model      Model // optional ML layer; nil scores neutral
	logger     *logrus.Logger
}

// NewScorer builds a scorer. A nil model is valid and yields a neutral ML
// layer; a nil logger falls back to the logrus default.
func NewScorer(weights Weights, thresholds VolThresholds, model Model, logger *logrus.Logger) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if thresholds.LowMax <= 0 || thresholds.HighMin <= thresholds.LowMax {
		return nil, fmt.Errorf("invalid vol thresholds: low_max=%.1f high_min=%.1f",
			thresholds.LowMax, thresholds.HighMin)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scorer{weights: weights, thresholds: thresholds, model: model, logger: logger}, nil
}

// triplet is one layer's bull/bear/neutral score, summing to 100.
type triplet struct {
	bull, bear, neutral float64
}

func neutralTriplet() triplet { return triplet{bull: 25, bear: 25, neutral: 50} }

// Evaluate produces a fresh assessment from the input. An empty chain yields
// a fully neutral assessment rather than an error.
func (s *Scorer) Evaluate(in Input) Assessment {
	now := time.Now().UTC()
	if in.Chain != nil && !in.Chain.Timestamp.IsZero() {
		now = in.Chain.Timestamp
	}

	if in.Chain.IsEmpty() {
		t := neutralTriplet()
		return Assessment{
			BullScore:    t.bull,
			BearScore:    t.bear,
			NeutralScore: t.neutral,
			Primary:      RegimeNeutral,
			Confidence:   t.neutral,
			VolBucket:    VolMedium,
			Signals:      []string{"empty chain: defaulting to neutral"},
			Timestamp:    now,
		}
	}

	spot := in.Spot
	var signals []string
	if spot <= 0 {
		spot = s.estimateSpot(in.Chain)
		signals = append(signals, fmt.Sprintf("spot estimated from chain: %.2f", spot))
	}

	technical, techSignals := s.scoreTechnical(in, spot)
	internals, intSignals := s.scoreInternals(in)
	flow, flowSignals := s.scoreFlow(in.Chain, spot)
	ml, mlSignals := s.scoreML(in, spot)

	signals = append(signals, techSignals...)
	signals = append(signals, intSignals...)
	signals = append(signals, flowSignals...)
	signals = append(signals, mlSignals...)

	bull := s.weights.Technical*technical.bull + s.weights.Internals*internals.bull +
		s.weights.Flow*flow.bull + s.weights.ML*ml.bull
	bear := s.weights.Technical*technical.bear + s.weights.Internals*internals.bear +
		s.weights.Flow*flow.bear + s.weights.ML*ml.bear

	bull = clampScore(bull)
	bear = clampScore(bear)
	if bull+bear > 100 {
		// Renormalize so neutral never goes negative.
		scale := 100 / (bull + bear)
		bull *= scale
		bear *= scale
	}
	neutral := 100 - bull - bear

	primary, confidence := classify(bull, bear, neutral)
	bucket, bucketSignal := s.volBucket(in)
	signals = append(signals, bucketSignal)

	return Assessment{
		BullScore:    round1(bull),
		BearScore:    round1(bear),
		NeutralScore: round1(neutral),
		Primary:      primary,
		Confidence:   round1(confidence),
		VolBucket:    bucket,
		Signals:      signals,
		Timestamp:    now,
	}
}

// scoreTechnical covers an RSI proxy, VWAP deviation and moneyness-skew
// momentum. Points accumulate from a neutral base and are normalized into a
// triplet.
func (s *Scorer) scoreTechnical(in Input, spot float64) (triplet, []string) {
	var bullPts, bearPts float64
	var signals []string

	if len(in.History) >= 15 {
		closes := make([]float64, len(in.History))
		for i, bar := range in.History {
			closes[i] = bar.Close
		}
		rsi := computeRSI(closes, 14)
		switch {
		case rsi >= 65:
			bearPts += 1.5 // overbought leans reversion on same-day horizon
			signals = append(signals, fmt.Sprintf("RSI %.0f overbought", rsi))
		case rsi >= 55:
			bullPts += 1
			signals = append(signals, fmt.Sprintf("RSI %.0f bullish momentum", rsi))
		case rsi <= 35:
			bullPts += 1.5
			signals = append(signals, fmt.Sprintf("RSI %.0f oversold", rsi))
		case rsi <= 45:
			bearPts += 1
			signals = append(signals, fmt.Sprintf("RSI %.0f bearish momentum", rsi))
		}

		vwap := computeVWAP(in.History)
		if vwap > 0 && spot > 0 {
			dev := (spot - vwap) / vwap
			if dev > 0.001 {
				bullPts += 1
				signals = append(signals, fmt.Sprintf("spot %.2f%% above VWAP", dev*100))
			} else if dev < -0.001 {
				bearPts += 1
				signals = append(signals, fmt.Sprintf("spot %.2f%% below VWAP", -dev*100))
			}
		}
	}

	// Moneyness-skew momentum: where is the call volume concentrated
	// relative to spot? Upside call interest leans bullish.
	callSkew := volumeWeightedMoneyness(in.Chain.Calls(), spot)
	putSkew := volumeWeightedMoneyness(in.Chain.Puts(), spot)
	if callSkew > 0.002 {
		bullPts += 1
		signals = append(signals, fmt.Sprintf("call volume skewed %.2f%% above spot", callSkew*100))
	}
	if putSkew < -0.002 {
		bearPts += 1
		signals = append(signals, fmt.Sprintf("put volume skewed %.2f%% below spot", -putSkew*100))
	}

	return pointsToTriplet(bullPts, bearPts, 4), signals
}

// scoreInternals covers term-structure slope, put/call volume ratio and the
// overall volume level.
func (s *Scorer) scoreInternals(in Input) (triplet, []string) {
	var bullPts, bearPts float64
	var signals []string

	if in.HasTermStructure {
		slope := in.Term.Slope()
		if slope > 0.5 {
			// Inverted short-dated curve: near-term stress.
			bearPts += 2
			signals = append(signals, fmt.Sprintf("vol term structure inverted (+%.1f)", slope))
		} else if slope < -1.0 {
			bullPts += 1.5
			signals = append(signals, fmt.Sprintf("vol term structure in contango (%.1f)", slope))
		}
	}

	callVol, putVol := chainVolumes(in.Chain)
	if callVol > 0 {
		ratio := float64(putVol) / float64(callVol)
		switch {
		case ratio > 1.3:
			bearPts += 1.5
			signals = append(signals, fmt.Sprintf("put/call ratio %.2f elevated", ratio))
		case ratio > 1.1:
			bearPts += 0.5
		case ratio < 0.7:
			bullPts += 1.5
			signals = append(signals, fmt.Sprintf("put/call ratio %.2f depressed", ratio))
		case ratio < 0.9:
			bullPts += 0.5
		}
	}

	// Heavy chain volume confirms whichever side is already leading.
	total := in.Chain.TotalVolume()
	if total > 250000 {
		if bullPts > bearPts {
			bullPts += 0.5
		} else if bearPts > bullPts {
			bearPts += 0.5
		}
		signals = append(signals, fmt.Sprintf("chain volume heavy (%d)", total))
	}

	return pointsToTriplet(bullPts, bearPts, 4), signals
}

// scoreFlow covers volume, transaction-count proxy and liquidity skew
// between the call and put sides of the book.
func (s *Scorer) scoreFlow(chain *models.ChainSnapshot, spot float64) (triplet, []string) {
	var bullPts, bearPts float64
	var signals []string

	callVol, putVol := chainVolumes(chain)
	if callVol+putVol > 0 {
		callShare := float64(callVol) / float64(callVol+putVol)
		if callShare > 0.58 {
			bullPts += 1.5
			signals = append(signals, fmt.Sprintf("flow %.0f%% in calls", callShare*100))
		} else if callShare < 0.42 {
			bearPts += 1.5
			signals = append(signals, fmt.Sprintf("flow %.0f%% in puts", (1-callShare)*100))
		}
	}

	// Liquidity skew: the tighter side of the book is the one market makers
	// are happier to trade.
	callSpread := averageRelativeSpread(chain.Calls(), spot)
	putSpread := averageRelativeSpread(chain.Puts(), spot)
	if callSpread > 0 && putSpread > 0 {
		if callSpread < putSpread*0.8 {
			bullPts += 1
			signals = append(signals, "call side liquidity tighter")
		} else if putSpread < callSpread*0.8 {
			bearPts += 1
			signals = append(signals, "put side liquidity tighter")
		}
	}

	// Open-interest concentration above vs below spot.
	oiAbove, oiBelow := openInterestSplit(chain, spot)
	if oiAbove+oiBelow > 0 {
		share := float64(oiAbove) / float64(oiAbove+oiBelow)
		if share > 0.6 {
			bullPts += 0.5
		} else if share < 0.4 {
			bearPts += 0.5
		}
	}

	return pointsToTriplet(bullPts, bearPts, 3), signals
}

// scoreML delegates to the optional model; without one the layer is neutral.
func (s *Scorer) scoreML(in Input, spot float64) (triplet, []string) {
	if s.model == nil {
		return neutralTriplet(), nil
	}
	features := FeatureVector(in, spot)
	bull, bear, neutral, err := s.model.Predict(features)
	if err != nil {
		s.logger.WithError(err).Warn("ML regime model failed, scoring layer neutral")
		return neutralTriplet(), []string{"ml model unavailable"}
	}
	t := normalizeTriplet(float64(bull), float64(bear), float64(neutral))
	return t, []string{fmt.Sprintf("ml model: bull %.0f bear %.0f", t.bull, t.bear)}
}

// volBucket derives the volatility environment from the index when present,
// otherwise estimates from chain volume.
func (s *Scorer) volBucket(in Input) (VolBucket, string) {
	if in.HasTermStructure && in.Term.NearTermLevel > 0 {
		level := in.Term.NearTermLevel
		switch {
		case level < s.thresholds.LowMax:
			return VolLow, fmt.Sprintf("vol index %.1f: low bucket", level)
		case level > s.thresholds.HighMin:
			return VolHigh, fmt.Sprintf("vol index %.1f: high bucket", level)
		default:
			return VolMedium, fmt.Sprintf("vol index %.1f: medium bucket", level)
		}
	}

	// No index: a heavy 0DTE chain usually accompanies a volatile tape.
	total := in.Chain.TotalVolume()
	switch {
	case total < 50000:
		return VolLow, fmt.Sprintf("chain volume %d: low vol estimate", total)
	case total > 400000:
		return VolHigh, fmt.Sprintf("chain volume %d: high vol estimate", total)
	default:
		return VolMedium, fmt.Sprintf("chain volume %d: medium vol estimate", total)
	}
}

func (s *Scorer) estimateSpot(chain *models.ChainSnapshot) float64 {
	// ATM sits where call and put mids meet (put-call parity at zero
	// moneyness). Median strike is the last resort.
	byStrike := make(map[float64][2]float64)
	for _, q := range chain.Quotes {
		pair := byStrike[q.Strike]
		if q.OptionType == models.OptionTypeCall {
			pair[0] = q.Mid()
		} else {
			pair[1] = q.Mid()
		}
		byStrike[q.Strike] = pair
	}
	best, bestGap := 0.0, math.MaxFloat64
	var strikes []float64
	for strike, pair := range byStrike {
		strikes = append(strikes, strike)
		if pair[0] <= 0 || pair[1] <= 0 {
			continue
		}
		if gap := math.Abs(pair[0] - pair[1]); gap < bestGap {
			bestGap = gap
			best = strike
		}
	}
	if best > 0 {
		return best
	}
	if len(strikes) == 0 {
		return 0
	}
	sort.Float64s(strikes)
	return strikes[len(strikes)/2]
}

// --- scoring helpers ---

// pointsToTriplet converts directional points into a triplet summing 100.
// maxPts is the saturation point at which a side claims its full share.
func pointsToTriplet(bullPts, bearPts, maxPts float64) triplet {
	// A fully one-sided layer caps at 70 so no single layer can dominate
	// the combined score on its own.
	const maxSide = 70.0
	bull := 25 + (maxSide-25)*math.Min(bullPts/maxPts, 1)
	bear := 25 + (maxSide-25)*math.Min(bearPts/maxPts, 1)
	return normalizeTriplet(bull, bear, 0)
}

// normalizeTriplet scales the scores so they sum to 100, deriving neutral as
// the remainder when it is passed as zero.
func normalizeTriplet(bull, bear, neutral float64) triplet {
	bull = math.Max(bull, 0)
	bear = math.Max(bear, 0)
	neutral = math.Max(neutral, 0)
	if neutral == 0 {
		if bull+bear >= 100 {
			scale := 100 / (bull + bear)
			return triplet{bull: bull * scale, bear: bear * scale}
		}
		return triplet{bull: bull, bear: bear, neutral: 100 - bull - bear}
	}
	sum := bull + bear + neutral
	if sum == 0 {
		return neutralTriplet()
	}
	return triplet{bull: bull / sum * 100, bear: bear / sum * 100, neutral: neutral / sum * 100}
}

func classify(bull, bear, neutral float64) (Regime, float64) {
	switch {
	case bull >= bear && bull >= neutral:
		return RegimeBullish, bull
	case bear >= bull && bear >= neutral:
		return RegimeBearish, bear
	default:
		return RegimeNeutral, neutral
	}
}

func chainVolumes(chain *models.ChainSnapshot) (callVol, putVol int64) {
	for _, q := range chain.Quotes {
		if q.OptionType == models.OptionTypeCall {
			callVol += q.Volume
		} else {
			putVol += q.Volume
		}
	}
	return callVol, putVol
}

func volumeWeightedMoneyness(quotes []models.OptionQuote, spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	var weighted, total float64
	for _, q := range quotes {
		if q.Volume <= 0 {
			continue
		}
		weighted += q.Moneyness(spot) * float64(q.Volume)
		total += float64(q.Volume)
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

func averageRelativeSpread(quotes []models.OptionQuote, spot float64) float64 {
	var sum float64
	var n int
	for _, q := range quotes {
		if q.Bid <= 0 || q.Ask <= q.Bid {
			continue
		}
		// Only near-the-money quotes say anything about liquidity.
		if spot > 0 && math.Abs(q.Moneyness(spot)) > 0.02 {
			continue
		}
		mid := (q.Bid + q.Ask) / 2
		sum += (q.Ask - q.Bid) / mid
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func openInterestSplit(chain *models.ChainSnapshot, spot float64) (above, below int64) {
	for _, q := range chain.Quotes {
		if q.Strike > spot {
			above += q.OpenInterest
		} else {
			below += q.OpenInterest
		}
	}
	return above, below
}

// computeRSI is the standard Wilder RSI over the last period+1 closes.
func computeRSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	closes = closes[len(closes)-period-1:]
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

func computeVWAP(bars []models.PriceBar) float64 {
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * float64(b.Volume)
		vol += float64(b.Volume)
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

func clampScore(x float64) float64 {
	return math.Max(0, math.Min(100, x))
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
