// Package storage persists open positions, trade history and daily P&L.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/raftroch1/odte-engine/internal/models"
)

// JSONStorage keeps everything in one JSON file. Writes go through a temp
// file and an atomic rename so a crash never leaves a torn file.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	OpenPositions map[string]models.Position `json:"open_positions"`
	History       []models.TradeRecord       `json:"history"`
	DailyPnL      map[string]float64         `json:"daily_pnl"`
	LastUpdated   time.Time                  `json:"last_updated"`
}

func newStorageData() *storageData {
	return &storageData{
		OpenPositions: make(map[string]models.Position),
		DailyPnL:      make(map[string]float64),
	}
}

// NewJSONStorage opens (and loads, if present) the file at filepath.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data:     newStorageData(),
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load replaces in-memory state with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	data := newStorageData()
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("parsing %s: %w", s.filepath, err)
	}
	if data.OpenPositions == nil {
		data.OpenPositions = make(map[string]models.Position)
	}
	if data.DailyPnL == nil {
		data.DailyPnL = make(map[string]float64)
	}
	s.data = data
	return nil
}

// Save writes the current state to disk atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// GetOpenPositions returns copies of every open position.
func (s *JSONStorage) GetOpenPositions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.data.OpenPositions))
	for _, pos := range s.data.OpenPositions {
		out = append(out, pos)
	}
	return out
}

// GetPosition fetches one open position by ID.
func (s *JSONStorage) GetPosition(id string) (models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.data.OpenPositions[id]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return pos, nil
}

// SavePosition upserts an open position and persists.
func (s *JSONStorage) SavePosition(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position must have an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.OpenPositions[pos.ID] = *pos
	return s.saveLocked()
}

// ClosePosition removes the position and appends its record to history.
func (s *JSONStorage) ClosePosition(id string, record models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.OpenPositions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	delete(s.data.OpenPositions, id)
	s.data.History = append(s.data.History, record)

	day := record.ExitTime.UTC().Format("2006-01-02")
	s.data.DailyPnL[day] += record.RealizedPnL

	return s.saveLocked()
}

// GetTradeHistory returns a copy of the closed-trade log.
func (s *JSONStorage) GetTradeHistory() []models.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TradeRecord, len(s.data.History))
	copy(out, s.data.History)
	return out
}

// HasTrade reports whether the position ID already appears in history.
func (s *JSONStorage) HasTrade(positionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.data.History {
		if rec.PositionID == positionID {
			return true
		}
	}
	return false
}

// GetDailyPnL returns the realized P&L for a YYYY-MM-DD date.
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

// Close flushes the file one last time.
func (s *JSONStorage) Close() error {
	return s.Save()
}
