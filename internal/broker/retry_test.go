package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftroch1/odte-engine/internal/models"
)

// flakyExecutor fails a set number of times before succeeding.
type flakyExecutor struct {
	failures int
	err      error
	calls    int
}

func (f *flakyExecutor) ExecuteOpen(ctx context.Context, pos *models.Position) (*Confirmation, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Confirmation{OrderID: "open-1", Side: SideOpen}, nil
}

func (f *flakyExecutor) ExecuteClose(ctx context.Context, pos *models.Position, maxDebit float64) (*Confirmation, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Confirmation{OrderID: "close-1", Side: SideClose, FillPrice: maxDebit}, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func testPosition() *models.Position {
	return models.NewPosition("pos-1", "SPX", models.StructureBullPutSpread,
		[]models.Leg{
			{Strike: 495, OptionType: models.OptionTypePut, Side: models.SideShort, EntryPrice: 1.0},
		}, 1)
}

func TestRetryExecutor_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyExecutor{failures: 2, err: fmt.Errorf("wrapped: %w", ErrTransient)}
	client := NewRetryExecutor(inner, nil, fastRetryConfig())

	conf, err := client.ExecuteClose(context.Background(), testPosition(), 0.25)
	require.NoError(t, err)
	assert.Equal(t, "close-1", conf.OrderID)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryExecutor_StringMatchedTransients(t *testing.T) {
	inner := &flakyExecutor{failures: 1, err: errors.New("dial tcp: connection refused")}
	client := NewRetryExecutor(inner, nil, fastRetryConfig())

	_, err := client.ExecuteClose(context.Background(), testPosition(), 0.25)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryExecutor_PermanentErrorFailsFast(t *testing.T) {
	inner := &flakyExecutor{failures: 10, err: errors.New("order rejected: invalid strike")}
	client := NewRetryExecutor(inner, nil, fastRetryConfig())

	_, err := client.ExecuteClose(context.Background(), testPosition(), 0.25)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "permanent errors must not retry")
}

func TestRetryExecutor_ExhaustsBudget(t *testing.T) {
	inner := &flakyExecutor{failures: 10, err: fmt.Errorf("gateway timeout: %w", ErrTransient)}
	client := NewRetryExecutor(inner, nil, fastRetryConfig())

	_, err := client.ExecuteClose(context.Background(), testPosition(), 0.25)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 4, inner.calls, "initial attempt plus three retries")
}

func TestRetryExecutor_OpenNeverRetries(t *testing.T) {
	inner := &flakyExecutor{failures: 1, err: fmt.Errorf("flap: %w", ErrTransient)}
	client := NewRetryExecutor(inner, nil, fastRetryConfig())

	_, err := client.ExecuteOpen(context.Background(), testPosition())
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestPaperExecutor_FillsImmediately(t *testing.T) {
	exec := NewPaperExecutor(nil)
	pos := testPosition()
	pos.NetPremium = 0.50

	conf, err := exec.ExecuteOpen(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, SideOpen, conf.Side)
	assert.Equal(t, 0.50, conf.FillPrice)
	assert.NotEmpty(t, conf.OrderID)

	closeConf, err := exec.ExecuteClose(context.Background(), pos, 0.10)
	require.NoError(t, err)
	assert.Equal(t, SideClose, closeConf.Side)
	assert.Equal(t, 0.10, closeConf.FillPrice)
}

func TestPaperExecutor_RejectsLeglessPosition(t *testing.T) {
	exec := NewPaperExecutor(nil)
	pos := models.NewPosition("pos-x", "SPX", models.StructureBuyCall, nil, 1)

	_, err := exec.ExecuteOpen(context.Background(), pos)
	require.Error(t, err)
}

func TestPaperExecutor_HonorsCancelledContext(t *testing.T) {
	exec := NewPaperExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ExecuteOpen(ctx, testPosition())
	require.ErrorIs(t, err, context.Canceled)
}
