// Package marketdata defines the collaborator interfaces the engine consumes
// for chain snapshots, underlying prices and volatility-index levels, plus a
// circuit-breaker wrapper and a deterministic synthetic provider.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/raftroch1/odte-engine/internal/models"
)

// ErrStaleData signals an empty chain or missing spot. The decision loop
// skips the tick on this error; it never aborts trading.
var ErrStaleData = errors.New("stale or missing market data")

// ErrNoTermStructure signals that no volatility-index data is available.
// The regime scorer falls back to chain-derived estimates.
var ErrNoTermStructure = errors.New("no volatility term structure available")

// ChainProvider supplies point-in-time option-chain snapshots.
// The source (columnar files, REST, broker SDK) is out of engine scope.
type ChainProvider interface {
	GetChainSnapshot(ctx context.Context, at time.Time, symbol string) (*models.ChainSnapshot, error)
}

// PriceProvider supplies the underlying price at a timestamp. When it fails,
// the engine estimates spot from the chain instead.
type PriceProvider interface {
	GetUnderlyingPrice(ctx context.Context, at time.Time, symbol string) (float64, error)
}

// VolatilityIndexProvider optionally supplies a short-dated volatility
// term-structure pair (e.g. a 9-day and a 30-day index level).
type VolatilityIndexProvider interface {
	GetTermStructure(ctx context.Context, at time.Time) (models.TermStructure, error)
}

// HistoryProvider optionally supplies trailing intraday bars for the
// underlying, used by the technical layer of the regime scorer.
type HistoryProvider interface {
	GetPriceHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error)
}

// MarketView bundles one tick's market data for the decision cycle. Any of
// the optional fields may be absent; the scorer degrades gracefully.
type MarketView struct {
	Timestamp time.Time
	Symbol    string
	Chain     *models.ChainSnapshot
	// Spot is zero when no price source was available.
	Spot float64
	// HasTermStructure guards Term; a zero pair is a legal reading.
	HasTermStructure bool
	Term             models.TermStructure
	History          []models.PriceBar
}

// EstimateSpotFromChain estimates the underlying price as the strike whose
// signed moneyness is closest to zero across calls and puts, falling back to
// the median strike when the chain carries no usable quotes.
func EstimateSpotFromChain(chain *models.ChainSnapshot) (float64, error) {
	if chain.IsEmpty() {
		return 0, ErrStaleData
	}

	// The ATM strike is where call and put mids are closest to each other.
	best := -1.0
	bestGap := -1.0
	byStrike := make(map[float64][2]float64) // strike -> [callMid, putMid]
	for _, q := range chain.Quotes {
		pair := byStrike[q.Strike]
		if q.OptionType == models.OptionTypeCall {
			pair[0] = q.Mid()
		} else {
			pair[1] = q.Mid()
		}
		byStrike[q.Strike] = pair
	}
	for strike, pair := range byStrike {
		if pair[0] <= 0 || pair[1] <= 0 {
			continue
		}
		gap := pair[0] - pair[1]
		if gap < 0 {
			gap = -gap
		}
		if bestGap < 0 || gap < bestGap {
			bestGap = gap
			best = strike
		}
	}
	if best > 0 {
		return best, nil
	}

	// Fallback: median strike.
	strikes := make([]float64, 0, len(byStrike))
	for strike := range byStrike {
		strikes = append(strikes, strike)
	}
	if len(strikes) == 0 {
		return 0, ErrStaleData
	}
	sort.Float64s(strikes)
	return strikes[len(strikes)/2], nil
}
