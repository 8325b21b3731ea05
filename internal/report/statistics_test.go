package report

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftroch1/odte-engine/internal/models"
)

func record(id string, structure models.StructureType, pnl float64, reason models.ExitReason, hold time.Duration) models.TradeRecord {
	entry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return models.TradeRecord{
		PositionID:  id,
		Symbol:      "SPX",
		Structure:   structure,
		RealizedPnL: pnl,
		ExitReason:  reason,
		EntryTime:   entry,
		ExitTime:    entry.Add(hold),
	}
}

func TestCompute_MixedSession(t *testing.T) {
	stats := Compute([]models.TradeRecord{
		record("a", models.StructureIronCondor, 200, models.ExitReasonProfitTarget, time.Hour),
		record("b", models.StructureIronCondor, -100, models.ExitReasonStopLoss, 2*time.Hour),
		record("c", models.StructureBullPutSpread, 50, models.ExitReasonForcedEOD, 3*time.Hour),
	})

	assert.Equal(t, 3, stats.Trades)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 150.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 125.0, stats.AvgWin, 1e-9)
	assert.InDelta(t, -100.0, stats.AvgLoss, 1e-9)
	assert.InDelta(t, 200.0, stats.LargestWin, 1e-9)
	assert.InDelta(t, -100.0, stats.LargestLoss, 1e-9)
	assert.InDelta(t, 2.5, stats.ProfitFactor, 1e-9)
	assert.Equal(t, 2*time.Hour, stats.AvgHold)

	assert.Equal(t, 2, stats.ByStructure[models.StructureIronCondor])
	assert.InDelta(t, 100.0, stats.PnLByStruct[models.StructureIronCondor], 1e-9)
	assert.Equal(t, 1, stats.ByReason[models.ExitReasonForcedEOD])
}

func TestCompute_NoLossesHasInfiniteProfitFactor(t *testing.T) {
	stats := Compute([]models.TradeRecord{
		record("a", models.StructureBuyCall, 80, models.ExitReasonProfitTarget, time.Hour),
	})
	assert.True(t, math.IsInf(stats.ProfitFactor, 1))
	assert.Contains(t, stats.Table(), "inf")
}

func TestCompute_EmptyIsZeroValued(t *testing.T) {
	stats := Compute(nil)
	assert.Zero(t, stats.Trades)
	assert.Zero(t, stats.WinRate)
	assert.Zero(t, stats.ProfitFactor)
	assert.NotPanics(t, func() { _ = stats.Table() })
}

func TestCollector_CopiesRecords(t *testing.T) {
	c := NewCollector()
	c.RecordTrade(record("a", models.StructureIronCondor, 10, models.ExitReasonProfitTarget, time.Hour))

	first := c.Records()
	require.Len(t, first, 1)
	first[0].RealizedPnL = 9999

	second := c.Records()
	assert.InDelta(t, 10.0, second[0].RealizedPnL, 1e-9, "callers must not mutate collector state")
}

func TestMultiSink_FansOut(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	a, b := NewCollector(), NewCollector()
	sink := MultiSink{NewLogSink(logger), a, b}

	sink.RecordTrade(record("a", models.StructureBuyPut, -25, models.ExitReasonStopLoss, time.Hour))
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
