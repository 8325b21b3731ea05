package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftroch1/odte-engine/internal/ledger"
	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/pricing"
	"github.com/raftroch1/odte-engine/internal/regime"
	"github.com/raftroch1/odte-engine/internal/report"
	"github.com/raftroch1/odte-engine/internal/storage"
	"github.com/raftroch1/odte-engine/internal/strategy"
)

var (
	entryTime  = time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	expiryTime = time.Date(2026, 3, 16, 16, 0, 0, 0, time.UTC)
)

type harness struct {
	manager   *Manager
	books     *ledger.CashLedger
	store     *storage.MockStorage
	collector *report.Collector
	pricer    *pricing.Pricer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	books, err := ledger.NewCashLedger(25000, 5, nil)
	require.NoError(t, err)
	store := storage.NewMockStorage()
	collector := report.NewCollector()
	pricer := pricing.NewPricer(0)

	mgr, err := NewManager(cfg, pricer, books, store, collector, nil)
	require.NoError(t, err)

	return &harness{manager: mgr, books: books, store: store, collector: collector, pricer: pricer}
}

func defaultConfig() Config {
	return ConfigFromParams(strategy.DefaultParams())
}

// bullPutRec builds a bull put spread recommendation with a pricer-derived
// entry credit so the position marks flat right after entry.
func (h *harness) bullPutRec(t *testing.T, spot, vol float64) strategy.Recommendation {
	t.Helper()

	years := expiryTime.Sub(entryTime).Hours() / hoursPerYear
	shortVal, err := h.pricer.Price(spot, 495, years, vol, models.OptionTypePut)
	require.NoError(t, err)
	longVal, err := h.pricer.Price(spot, 490, years, vol, models.OptionTypePut)
	require.NoError(t, err)
	credit := shortVal - longVal

	plan := strategy.TradePlan{
		Symbol:    "SPX",
		Structure: models.StructureBullPutSpread,
		Legs: []models.Leg{
			{Strike: 495, OptionType: models.OptionTypePut, Side: models.SideShort, EntryPrice: shortVal},
			{Strike: 490, OptionType: models.OptionTypePut, Side: models.SideLong, EntryPrice: longVal},
		},
		Contracts:         2,
		NetPremium:        credit,
		MaxProfitPerShare: credit,
		MaxLossPerShare:   5 - credit,
		Expiry:            expiryTime,
	}
	plan.CashRequired = plan.MaxLoss()
	return &strategy.VerticalSpread{TradePlan: plan, Width: 5}
}

func TestOpen_ReservesCashAndSetsDeadline(t *testing.T) {
	h := newHarness(t, defaultConfig())

	pos, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	assert.True(t, pos.IsOpen())
	assert.Equal(t, models.StateOpen, pos.GetCurrentState())
	require.NoError(t, pos.ValidateState())

	// 10:00 + 4h hold beats the 15:30 buffer.
	assert.Equal(t, entryTime.Add(4*time.Hour), pos.ForcedExitDeadline)

	assert.Equal(t, 25000-pos.CashAtRisk, h.books.AvailableCash())
	assert.Equal(t, 25000.0, h.books.TotalEquity(), "opening moves no equity")
	assert.Len(t, h.store.GetOpenPositions(), 1)
}

func TestOpen_CloseBufferBindsLateEntries(t *testing.T) {
	h := newHarness(t, defaultConfig())
	lateEntry := time.Date(2026, 3, 16, 13, 0, 0, 0, time.UTC)

	pos, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), lateEntry, 500, 0.20)
	require.NoError(t, err)

	// 13:00 + 4h = 17:00 would outlive the 15:30 buffer.
	assert.Equal(t, time.Date(2026, 3, 16, 15, 30, 0, 0, time.UTC), pos.ForcedExitDeadline)
}

func TestTick_TimeLimitExit(t *testing.T) {
	h := newHarness(t, defaultConfig())
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	// Entry 10:00 with a 4h hold: 14:05 is past deadline, before the close
	// buffer.
	tick := time.Date(2026, 3, 16, 14, 5, 0, 0, time.UTC)
	require.NoError(t, h.manager.Tick(context.Background(), tick, 500, 0.20, nil))

	assert.Zero(t, h.manager.OpenCount(), "past-deadline tick always leaves open state")
	records := h.collector.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.ExitReasonTime, records[0].ExitReason)
	assert.InDelta(t, 25000+records[0].RealizedPnL, h.books.AvailableCash(), 1e-9)
}

func TestTick_ForcedEODExit(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxHoldDuration = 8 * time.Hour // only the buffer can bind
	h := newHarness(t, cfg)
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	tick := time.Date(2026, 3, 16, 15, 31, 0, 0, time.UTC)
	require.NoError(t, h.manager.Tick(context.Background(), tick, 500, 0.20, nil))

	records := h.collector.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.ExitReasonForcedEOD, records[0].ExitReason)
}

func TestTick_DeadlineClosesEvenWithoutMark(t *testing.T) {
	h := newHarness(t, defaultConfig())
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	// Spot unavailable at the deadline: the close still happens, settling
	// at the last known mark.
	tick := time.Date(2026, 3, 16, 14, 5, 0, 0, time.UTC)
	require.NoError(t, h.manager.Tick(context.Background(), tick, 0, 0.20, nil))

	assert.Zero(t, h.manager.OpenCount())
	require.Len(t, h.collector.Records(), 1)
	assert.Equal(t, models.ExitReasonTime, h.collector.Records()[0].ExitReason)
}

func TestTick_ProfitTargetExit(t *testing.T) {
	h := newHarness(t, defaultConfig())
	pos, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	// Spot rallies hard with little time left: the short put side decays
	// to the tick floor and nearly the whole credit is captured.
	tick := time.Date(2026, 3, 16, 13, 0, 0, 0, time.UTC)
	require.NoError(t, h.manager.Tick(context.Background(), tick, 525, 0.20, nil))

	records := h.collector.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.ExitReasonProfitTarget, records[0].ExitReason)
	assert.Greater(t, records[0].RealizedPnL, 0.0)
	assert.GreaterOrEqual(t, records[0].RealizedPnL, pos.ProfitTarget)
	assert.GreaterOrEqual(t, h.books.AvailableCash(), 0.0)
}

func TestTick_StopLossExit(t *testing.T) {
	h := newHarness(t, defaultConfig())
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	// Spot collapses through both strikes close to expiry: the spread is
	// near full width against the position.
	tick := time.Date(2026, 3, 16, 15, 0, 0, 0, time.UTC)
	require.NoError(t, h.manager.Tick(context.Background(), tick, 475, 0.20, nil))

	records := h.collector.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.ExitReasonStopLoss, records[0].ExitReason)
	assert.Negative(t, records[0].RealizedPnL)
	assert.GreaterOrEqual(t, h.books.AvailableCash(), 0.0, "defined risk never overdraws")
}

func TestTick_RegimeReversalExit(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProfitTargetPct = 1.0 // keep the fresh position from exiting on decay
	h := newHarness(t, cfg)
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	reversal := &regime.Assessment{Primary: regime.RegimeBearish, Confidence: 80}
	tick := entryTime.Add(time.Minute)
	require.NoError(t, h.manager.Tick(context.Background(), tick, 500, 0.20, reversal))

	records := h.collector.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.ExitReasonRegimeReversal, records[0].ExitReason)
}

func TestTick_LowConfidenceReversalHolds(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProfitTargetPct = 1.0
	h := newHarness(t, cfg)
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	weak := &regime.Assessment{Primary: regime.RegimeBearish, Confidence: 40}
	require.NoError(t, h.manager.Tick(context.Background(), entryTime.Add(time.Minute), 500, 0.20, weak))

	assert.Equal(t, 1, h.manager.OpenCount())
}

func TestTick_StaleDataSkipsThenForcesOut(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxStaleTicks = 3
	h := newHarness(t, cfg)
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	tick := entryTime.Add(time.Minute)
	for i := 0; i < 2; i++ {
		// No spot: the mark fails and the position is skipped, not closed.
		require.NoError(t, h.manager.Tick(context.Background(), tick, 0, 0.20, nil))
		assert.Equal(t, 1, h.manager.OpenCount())
		tick = tick.Add(time.Minute)
	}

	// Third consecutive stale tick trips the forced exit.
	require.NoError(t, h.manager.Tick(context.Background(), tick, 0, 0.20, nil))
	assert.Zero(t, h.manager.OpenCount())
	require.Len(t, h.collector.Records(), 1)
	assert.Equal(t, models.ExitReasonForcedEOD, h.collector.Records()[0].ExitReason)
}

func TestTick_HaltsOnBrokenBooks(t *testing.T) {
	h := newHarness(t, defaultConfig())
	pos, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	// Pull the reservation out from under the manager: the settlement at
	// close now targets an unknown position, which is a books bug.
	require.NoError(t, h.books.Release(pos.ID, 0))

	tick := time.Date(2026, 3, 16, 14, 5, 0, 0, time.UTC)
	err = h.manager.Tick(context.Background(), tick, 500, 0.20, nil)
	require.ErrorIs(t, err, ErrHalted)
	assert.True(t, h.manager.Halted())

	_, err = h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.ErrorIs(t, err, ErrHalted)
}

func TestRestore_RebuildsOpenPositions(t *testing.T) {
	h := newHarness(t, defaultConfig())
	pos, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)

	// Fresh manager over the same storage and a fresh ledger, as after a
	// process restart.
	books, err := ledger.NewCashLedger(25000, 5, nil)
	require.NoError(t, err)
	restored, err := NewManager(defaultConfig(), h.pricer, books, h.store, report.NewCollector(), nil)
	require.NoError(t, err)
	require.NoError(t, restored.Restore())

	assert.Equal(t, 1, restored.OpenCount())
	assert.Equal(t, 25000-pos.CashAtRisk, books.AvailableCash())
}

func TestCashConservation_AcrossLifecycles(t *testing.T) {
	h := newHarness(t, defaultConfig())

	// Open, win, open, lose: equity always equals available plus reserved,
	// and available never dips below zero.
	_, err := h.manager.Open(h.bullPutRec(t, 500, 0.20), entryTime, 500, 0.20)
	require.NoError(t, err)
	assert.Equal(t, h.books.TotalEquity(), h.books.AvailableCash()+h.books.Snapshot().ReservedCash)

	require.NoError(t, h.manager.Tick(context.Background(),
		time.Date(2026, 3, 16, 13, 0, 0, 0, time.UTC), 525, 0.20, nil))
	assert.GreaterOrEqual(t, h.books.AvailableCash(), 0.0)

	_, err = h.manager.Open(h.bullPutRec(t, 500, 0.20),
		time.Date(2026, 3, 16, 13, 5, 0, 0, time.UTC), 500, 0.20)
	require.NoError(t, err)

	require.NoError(t, h.manager.Tick(context.Background(),
		time.Date(2026, 3, 16, 15, 0, 0, 0, time.UTC), 475, 0.20, nil))
	assert.GreaterOrEqual(t, h.books.AvailableCash(), 0.0)

	snap := h.books.Snapshot()
	assert.Equal(t, snap.TotalEquity, snap.AvailableCash+snap.ReservedCash)
	assert.InDelta(t, 25000+snap.RealizedPnL, snap.TotalEquity, 1e-9)
}
