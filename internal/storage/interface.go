package storage

import (
	"errors"

	"github.com/raftroch1/odte-engine/internal/models"
)

// ErrPositionNotFound is returned when closing or fetching an unknown ID.
var ErrPositionNotFound = errors.New("position not found")

// Interface is the contract for position and trade persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe.
type Interface interface {
	// Open position management. The engine may hold several positions at
	// once, keyed by ID.
	GetOpenPositions() []models.Position
	GetPosition(id string) (models.Position, error)
	SavePosition(pos *models.Position) error
	// ClosePosition removes the open position and appends its trade record
	// to history in one step.
	ClosePosition(id string, record models.TradeRecord) error

	// Historical data and analytics.
	GetTradeHistory() []models.TradeRecord
	HasTrade(positionID string) bool
	GetDailyPnL(date string) float64

	// Data persistence.
	Save() error
	Load() error
	Close() error
}

// NewStorage creates the default (JSON-file) storage backend.
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure the backends implement Interface.
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*BadgerStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
