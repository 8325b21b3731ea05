package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raftroch1/odte-engine/internal/models"
)

func samplePosition(id string) *models.Position {
	pos := models.NewPosition(id, "SPX", models.StructureBullPutSpread,
		[]models.Leg{
			{Strike: 495, OptionType: models.OptionTypePut, Side: models.SideShort, EntryPrice: 1.20},
			{Strike: 490, OptionType: models.OptionTypePut, Side: models.SideLong, EntryPrice: 0.70},
		}, 2)
	pos.NetPremium = 0.50
	pos.CashAtRisk = 900
	pos.EntryTime = time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	pos.ForcedExitDeadline = pos.EntryTime.Add(4 * time.Hour)
	pos.Expiry = time.Date(2026, 3, 16, 16, 0, 0, 0, time.UTC)
	return pos
}

func sampleRecord(id string, pnl float64, exit time.Time) models.TradeRecord {
	return models.TradeRecord{
		PositionID:  id,
		Symbol:      "SPX",
		Structure:   models.StructureBullPutSpread,
		Contracts:   2,
		NetPremium:  0.50,
		EntryTime:   exit.Add(-2 * time.Hour),
		ExitTime:    exit,
		RealizedPnL: pnl,
		ExitReason:  models.ExitReasonProfitTarget,
	}
}

// backends returns each Interface implementation under a fresh temp dir.
func backends(t *testing.T) map[string]Interface {
	t.Helper()

	jsonStore, err := NewJSONStorage(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)

	badgerStore, err := NewBadgerStorage(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	return map[string]Interface{
		"json":   jsonStore,
		"badger": badgerStore,
		"mock":   NewMockStorage(),
	}
}

func TestStorage_OpenCloseRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			pos := samplePosition("pos-1")
			require.NoError(t, store.SavePosition(pos))

			open := store.GetOpenPositions()
			require.Len(t, open, 1)
			assert.Equal(t, "pos-1", open[0].ID)
			assert.Equal(t, models.StructureBullPutSpread, open[0].Structure)
			assert.Len(t, open[0].Legs, 2)

			got, err := store.GetPosition("pos-1")
			require.NoError(t, err)
			assert.Equal(t, pos.NetPremium, got.NetPremium)

			exit := time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)
			require.NoError(t, store.ClosePosition("pos-1", sampleRecord("pos-1", 150, exit)))

			assert.Empty(t, store.GetOpenPositions())
			assert.True(t, store.HasTrade("pos-1"))
			assert.False(t, store.HasTrade("pos-2"))
			require.Len(t, store.GetTradeHistory(), 1)
			assert.Equal(t, 150.0, store.GetDailyPnL("2026-03-16"))
		})
	}
}

func TestStorage_CloseUnknownPosition(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.ClosePosition("ghost", sampleRecord("ghost", 0, time.Now()))
			require.ErrorIs(t, err, ErrPositionNotFound)
		})
	}
}

func TestStorage_DailyPnLAccumulates(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			exit := time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

			require.NoError(t, store.SavePosition(samplePosition("pos-1")))
			require.NoError(t, store.ClosePosition("pos-1", sampleRecord("pos-1", 100, exit)))

			require.NoError(t, store.SavePosition(samplePosition("pos-2")))
			require.NoError(t, store.ClosePosition("pos-2", sampleRecord("pos-2", -40, exit.Add(time.Hour))))

			assert.Equal(t, 60.0, store.GetDailyPnL("2026-03-16"))
			assert.Equal(t, 0.0, store.GetDailyPnL("2026-03-17"))
		})
	}
}

func TestJSONStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")

	store, err := NewJSONStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.SavePosition(samplePosition("pos-1")))
	exit := time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SavePosition(samplePosition("pos-2")))
	require.NoError(t, store.ClosePosition("pos-2", sampleRecord("pos-2", 75, exit)))

	reopened, err := NewJSONStorage(path)
	require.NoError(t, err)

	open := reopened.GetOpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "pos-1", open[0].ID)
	assert.True(t, reopened.HasTrade("pos-2"))
	assert.Equal(t, 75.0, reopened.GetDailyPnL("2026-03-16"))
}

func TestJSONStorage_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	store, err := NewJSONStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Save())

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = NewJSONStorage(path)
	require.Error(t, err)
}

func TestBadgerStorage_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")

	store, err := NewBadgerStorage(dir)
	require.NoError(t, err)
	require.NoError(t, store.SavePosition(samplePosition("pos-1")))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStorage(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	open := reopened.GetOpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "pos-1", open[0].ID)
}
