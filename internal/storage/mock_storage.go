package storage

import (
	"fmt"
	"sync"

	"github.com/raftroch1/odte-engine/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests. It can be
// told to fail on demand to exercise error paths.
type MockStorage struct {
	mu        sync.RWMutex
	positions map[string]models.Position
	history   []models.TradeRecord
	dailyPnL  map[string]float64

	// FailSaves makes every mutating call return an error.
	FailSaves bool
	// SaveCount tracks mutating calls for assertions.
	SaveCount int
}

// NewMockStorage returns an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		positions: make(map[string]models.Position),
		dailyPnL:  make(map[string]float64),
	}
}

// GetOpenPositions implements Interface.
func (m *MockStorage) GetOpenPositions() []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

// GetPosition implements Interface.
func (m *MockStorage) GetPosition(id string) (models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return pos, nil
}

// SavePosition implements Interface.
func (m *MockStorage) SavePosition(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return fmt.Errorf("mock storage: save failure")
	}
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position must have an ID")
	}
	m.SaveCount++
	m.positions[pos.ID] = *pos
	return nil
}

// ClosePosition implements Interface.
func (m *MockStorage) ClosePosition(id string, record models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return fmt.Errorf("mock storage: save failure")
	}
	if _, ok := m.positions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	m.SaveCount++
	delete(m.positions, id)
	m.history = append(m.history, record)
	m.dailyPnL[record.ExitTime.UTC().Format("2006-01-02")] += record.RealizedPnL
	return nil
}

// GetTradeHistory implements Interface.
func (m *MockStorage) GetTradeHistory() []models.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TradeRecord, len(m.history))
	copy(out, m.history)
	return out
}

// HasTrade implements Interface.
func (m *MockStorage) HasTrade(positionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.history {
		if rec.PositionID == positionID {
			return true
		}
	}
	return false
}

// GetDailyPnL implements Interface.
func (m *MockStorage) GetDailyPnL(date string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL[date]
}

// Save implements Interface.
func (m *MockStorage) Save() error {
	if m.FailSaves {
		return fmt.Errorf("mock storage: save failure")
	}
	return nil
}

// Load implements Interface.
func (m *MockStorage) Load() error { return nil }

// Close implements Interface.
func (m *MockStorage) Close() error { return nil }
