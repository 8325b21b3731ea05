package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/raftroch1/odte-engine/internal/models"
)

// BreakerSettings configures circuit breaker behavior for market-data calls.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultBreakerSettings suits a once-per-minute tick cadence: trip after
// repeated failures, stay open for half a tick.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// BreakerProvider wraps a ChainProvider and PriceProvider with a shared
// circuit breaker so that a flapping data source trips once, not per call.
type BreakerProvider struct {
	chain   ChainProvider
	price   PriceProvider
	breaker *gobreaker.CircuitBreaker
}

var (
	_ ChainProvider = (*BreakerProvider)(nil)
	_ PriceProvider = (*BreakerProvider)(nil)
)

// NewBreakerProvider wraps the given providers with default settings.
func NewBreakerProvider(chain ChainProvider, price PriceProvider, logger *logrus.Logger) *BreakerProvider {
	return NewBreakerProviderWithSettings(chain, price, logger, DefaultBreakerSettings)
}

// NewBreakerProviderWithSettings wraps the given providers with custom settings.
func NewBreakerProviderWithSettings(chain ChainProvider, price PriceProvider,
	logger *logrus.Logger, settings BreakerSettings) *BreakerProvider {
	if logger == nil {
		logger = logrus.New()
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("market data circuit breaker state changed")
		},
	}
	return &BreakerProvider{
		chain:   chain,
		price:   price,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		// An open circuit is indistinguishable from a failed source to the
		// decision loop: the tick is skipped either way.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errors.Join(ErrStaleData, err)
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetChainSnapshot wraps the underlying provider call with the circuit breaker.
func (b *BreakerProvider) GetChainSnapshot(ctx context.Context, at time.Time, symbol string) (*models.ChainSnapshot, error) {
	return execBreaker(b.breaker, func() (*models.ChainSnapshot, error) {
		return b.chain.GetChainSnapshot(ctx, at, symbol)
	})
}

// GetUnderlyingPrice wraps the underlying provider call with the circuit breaker.
func (b *BreakerProvider) GetUnderlyingPrice(ctx context.Context, at time.Time, symbol string) (float64, error) {
	return execBreaker(b.breaker, func() (float64, error) {
		return b.price.GetUnderlyingPrice(ctx, at, symbol)
	})
}
