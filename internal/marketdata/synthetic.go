package marketdata

import (
	"context"
	"math"
	"time"

	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/pricing"
)

// SyntheticConfig parameterizes the deterministic chain generator.
type SyntheticConfig struct {
	Symbol         string
	BaseSpot       float64
	Volatility     float64 // annualized, e.g. 0.18
	StrikeInterval float64
	StrikeSpan     float64 // strikes generated at spot +/- span
	// DriftPerDay and SwingPct shape the deterministic intraday spot path.
	DriftPerDay float64
	SwingPct    float64
	// VolIndexLevel feeds the synthetic term structure.
	VolIndexLevel float64
}

// DefaultSyntheticConfig models an SPX-like underlying near 5000.
var DefaultSyntheticConfig = SyntheticConfig{
	Symbol:         "SPX",
	BaseSpot:       5000,
	Volatility:     0.18,
	StrikeInterval: 5,
	StrikeSpan:     150,
	DriftPerDay:    0.001,
	SwingPct:       0.004,
	VolIndexLevel:  17.5,
}

// SyntheticProvider generates option chains, spot prices and term-structure
// readings from the closed-form pricer. It is fully deterministic: the same
// timestamp always produces the same market. Used for paper trading and tests;
// it deliberately contains no randomness so P&L stays reproducible.
type SyntheticProvider struct {
	cfg    SyntheticConfig
	pricer *pricing.Pricer
}

var (
	_ ChainProvider           = (*SyntheticProvider)(nil)
	_ PriceProvider           = (*SyntheticProvider)(nil)
	_ VolatilityIndexProvider = (*SyntheticProvider)(nil)
	_ HistoryProvider         = (*SyntheticProvider)(nil)
)

// NewSyntheticProvider creates a deterministic provider from the config.
func NewSyntheticProvider(cfg SyntheticConfig) *SyntheticProvider {
	if cfg.StrikeInterval <= 0 {
		cfg.StrikeInterval = DefaultSyntheticConfig.StrikeInterval
	}
	if cfg.StrikeSpan <= 0 {
		cfg.StrikeSpan = DefaultSyntheticConfig.StrikeSpan
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = DefaultSyntheticConfig.Volatility
	}
	return &SyntheticProvider{cfg: cfg, pricer: pricing.NewPricer(0)}
}

// SpotAt returns the deterministic spot price at the given time: a slow
// drift plus one intraday swing cycle.
func (s *SyntheticProvider) SpotAt(at time.Time) float64 {
	open := time.Date(at.Year(), at.Month(), at.Day(), 9, 30, 0, 0, at.Location())
	elapsed := at.Sub(open).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	dayFrac := elapsed / 6.5
	drift := s.cfg.DriftPerDay * dayFrac
	swing := s.cfg.SwingPct * math.Sin(2*math.Pi*dayFrac)
	return s.cfg.BaseSpot * (1 + drift + swing)
}

// ExpiryAt returns the same-day 16:00 expiry for a timestamp.
func (s *SyntheticProvider) ExpiryAt(at time.Time) time.Time {
	return time.Date(at.Year(), at.Month(), at.Day(), 16, 0, 0, 0, at.Location())
}

// GetUnderlyingPrice implements PriceProvider.
func (s *SyntheticProvider) GetUnderlyingPrice(_ context.Context, at time.Time, _ string) (float64, error) {
	return s.SpotAt(at), nil
}

// GetTermStructure implements VolatilityIndexProvider. The short-dated leg
// sits slightly below the near-dated one (normal contango).
func (s *SyntheticProvider) GetTermStructure(_ context.Context, _ time.Time) (models.TermStructure, error) {
	return models.TermStructure{
		ShortTermLevel: s.cfg.VolIndexLevel * 0.95,
		NearTermLevel:  s.cfg.VolIndexLevel,
	}, nil
}

// GetChainSnapshot implements ChainProvider. Quote prices come from the
// Black-Scholes pricer; traded volume follows a bell curve around ATM so
// liquidity filters behave like a real 0DTE chain.
func (s *SyntheticProvider) GetChainSnapshot(_ context.Context, at time.Time, symbol string) (*models.ChainSnapshot, error) {
	spot := s.SpotAt(at)
	expiry := s.ExpiryAt(at)
	tYears := expiry.Sub(at).Hours() / 24 / 365
	if tYears < 0 {
		tYears = 0
	}

	first := math.Floor((spot-s.cfg.StrikeSpan)/s.cfg.StrikeInterval) * s.cfg.StrikeInterval
	last := math.Ceil((spot+s.cfg.StrikeSpan)/s.cfg.StrikeInterval) * s.cfg.StrikeInterval

	snapshot := &models.ChainSnapshot{Symbol: symbol, Timestamp: at}
	for strike := first; strike <= last; strike += s.cfg.StrikeInterval {
		for _, optType := range []models.OptionType{models.OptionTypeCall, models.OptionTypePut} {
			mid, err := s.pricer.Price(spot, strike, tYears, s.cfg.Volatility, optType)
			if err != nil {
				return nil, err
			}
			spread := math.Max(0.02, mid*0.04)
			bid := math.Max(0, mid-spread/2)
			snapshot.Quotes = append(snapshot.Quotes, models.OptionQuote{
				Symbol:       symbol,
				Strike:       strike,
				OptionType:   optType,
				Bid:          bid,
				Ask:          mid + spread/2,
				Last:         mid,
				Volume:       syntheticVolume(spot, strike),
				OpenInterest: syntheticVolume(spot, strike) * 4,
				Expiry:       expiry,
			})
		}
	}
	return snapshot, nil
}

// GetPriceHistory implements HistoryProvider with one-minute bars along the
// deterministic spot path.
func (s *SyntheticProvider) GetPriceHistory(_ context.Context, _ string, from, to time.Time) ([]models.PriceBar, error) {
	var bars []models.PriceBar
	for t := from; !t.After(to); t = t.Add(time.Minute) {
		px := s.SpotAt(t)
		bars = append(bars, models.PriceBar{
			Timestamp: t,
			Open:      px,
			High:      px * 1.0002,
			Low:       px * 0.9998,
			Close:     px,
			Volume:    50000,
		})
	}
	return bars, nil
}

// syntheticVolume decays exponentially with distance from spot. ATM strikes
// trade thousands of contracts; far wings go quiet.
func syntheticVolume(spot, strike float64) int64 {
	if spot <= 0 {
		return 0
	}
	dist := math.Abs(strike-spot) / spot
	vol := 8000 * math.Exp(-dist*120)
	return int64(vol)
}
