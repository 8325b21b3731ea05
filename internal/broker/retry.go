package broker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/models"
)

// ErrTransient marks an executor failure worth retrying. Adapters should
// wrap timeouts and connection drops with it.
var ErrTransient = errors.New("transient execution error")

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultRetryConfig suits a close that must land before the bell.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// RetryExecutor wraps an OrderExecutor with capped exponential backoff and
// jitter. It sits outside the core tick loop: the engine's decision cycle
// never blocks on it.
type RetryExecutor struct {
	inner  OrderExecutor
	logger *logrus.Logger
	config RetryConfig
}

// NewRetryExecutor wraps inner. Pass a config to override the defaults.
func NewRetryExecutor(inner OrderExecutor, logger *logrus.Logger, config ...RetryConfig) *RetryExecutor {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RetryExecutor{inner: inner, logger: logger, config: cfg}
}

// ExecuteOpen implements OrderExecutor. Entry orders get no retries: missing
// an entry costs nothing, double-filling one costs real money.
func (r *RetryExecutor) ExecuteOpen(ctx context.Context, pos *models.Position) (*Confirmation, error) {
	return r.inner.ExecuteOpen(ctx, pos)
}

// ExecuteClose implements OrderExecutor, retrying transient failures until
// the order lands or the budget runs out.
func (r *RetryExecutor) ExecuteClose(ctx context.Context, pos *models.Position, maxDebit float64) (*Confirmation, error) {
	closeCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := closeCtx.Err(); err != nil {
			return nil, fmt.Errorf("close timed out after %v: %w", r.config.Timeout, err)
		}

		conf, err := r.inner.ExecuteClose(closeCtx, pos, maxDebit)
		if err == nil {
			if attempt > 0 {
				r.logger.WithFields(logrus.Fields{
					"position": pos.ID,
					"attempt":  attempt + 1,
					"order":    conf.OrderID,
				}).Info("Close landed after retry")
			}
			return conf, nil
		}

		lastErr = err
		r.logger.WithError(err).WithFields(logrus.Fields{
			"position": pos.ID,
			"attempt":  attempt + 1,
		}).Warn("Close attempt failed")

		if !isTransient(err) || attempt == r.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, r.config.MaxBackoff)
		case <-closeCtx.Done():
			return nil, fmt.Errorf("close timed out during backoff: %w", closeCtx.Err())
		}
	}

	return nil, fmt.Errorf("close failed after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

func isTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "connection reset", "connection refused", "temporarily unavailable", "too many requests"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// nextBackoff grows the delay by half with a random jitter of up to a
// quarter, capped at max.
func nextBackoff(current, max time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		if jitter, err := rand.Int(rand.Reader, big.NewInt(maxJitter)); err == nil {
			backoff += time.Duration(jitter.Int64())
		}
	}
	if backoff > max {
		backoff = max
	}
	return backoff
}

var _ OrderExecutor = (*RetryExecutor)(nil)
