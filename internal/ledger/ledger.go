// Package ledger tracks trading cash. Every open position reserves its
// maximum defined risk up front, so available cash can never go negative
// while the books balance.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrInsufficientCash rejects a reservation larger than the available cash.
var ErrInsufficientCash = errors.New("insufficient available cash")

// ErrMaxPositions rejects a reservation when every position slot is in use.
var ErrMaxPositions = errors.New("maximum concurrent positions reached")

// ErrUnknownPosition reports a release for a position never reserved.
var ErrUnknownPosition = errors.New("no reservation for position")

// AccountingError reports a broken books invariant. It is not a rejection:
// the caller must halt trading and investigate, because the ledger state can
// no longer be trusted.
type AccountingError struct {
	Op        string
	Position  string
	Delta     float64
	Available float64
}

func (e *AccountingError) Error() string {
	return fmt.Sprintf("accounting invariant violated in %s (position %s): delta %.2f would leave available cash %.2f",
		e.Op, e.Position, e.Delta, e.Available)
}

// CashLedger is safe for concurrent use.
type CashLedger struct {
	mu           sync.Mutex
	startingCash float64
	available    float64
	realizedPnL  float64
	reserved     map[string]float64
	maxPositions int
	logger       *logrus.Logger
}

// NewCashLedger builds a ledger with the given bankroll and position-slot
// limit. maxPositions <= 0 means unlimited.
func NewCashLedger(startingCash float64, maxPositions int, logger *logrus.Logger) (*CashLedger, error) {
	if startingCash <= 0 {
		return nil, fmt.Errorf("starting cash must be positive, got %.2f", startingCash)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CashLedger{
		startingCash: startingCash,
		available:    startingCash,
		reserved:     make(map[string]float64),
		maxPositions: maxPositions,
		logger:       logger,
	}, nil
}

// Reserve earmarks amount dollars of defined risk for a new position. It
// fails with ErrInsufficientCash or ErrMaxPositions without changing state.
func (l *CashLedger) Reserve(positionID string, amount float64) error {
	if positionID == "" {
		return fmt.Errorf("position ID must not be empty")
	}
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %.2f", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.reserved[positionID]; exists {
		return fmt.Errorf("position %s already has a reservation", positionID)
	}
	if l.maxPositions > 0 && len(l.reserved) >= l.maxPositions {
		return ErrMaxPositions
	}
	if amount > l.available {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, amount, l.available)
	}

	l.available -= amount
	l.reserved[positionID] = amount

	l.logger.WithFields(logrus.Fields{
		"position":  positionID,
		"reserved":  amount,
		"available": l.available,
	}).Debug("Cash reserved")
	return nil
}

// Release settles a closed position: the reservation plus its realized P&L
// returns to available cash. A loss deeper than the reserved risk breaks the
// books and surfaces as an AccountingError; the ledger state is left
// untouched so the caller can inspect it.
func (l *CashLedger) Release(positionID string, realizedPnL float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reserved, exists := l.reserved[positionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}

	newAvailable := l.available + reserved + realizedPnL
	if newAvailable < 0 {
		return &AccountingError{
			Op:        "release",
			Position:  positionID,
			Delta:     reserved + realizedPnL,
			Available: newAvailable,
		}
	}

	delete(l.reserved, positionID)
	l.available = newAvailable
	l.realizedPnL += realizedPnL

	l.logger.WithFields(logrus.Fields{
		"position":  positionID,
		"pnl":       realizedPnL,
		"available": l.available,
	}).Debug("Cash released")
	return nil
}

// AvailableCash is the cash free for new reservations. Never negative.
func (l *CashLedger) AvailableCash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// TotalEquity is available cash plus every open reservation.
func (l *CashLedger) TotalEquity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.available
	for _, r := range l.reserved {
		total += r
	}
	return total
}

// RealizedPnL is the cumulative settled P&L since inception.
func (l *CashLedger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedPnL
}

// OpenReservations is the count of positions currently holding cash.
func (l *CashLedger) OpenReservations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reserved)
}

// CanOpen reports whether a slot is free for one more position.
func (l *CashLedger) CanOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxPositions <= 0 || len(l.reserved) < l.maxPositions
}

// Snapshot is a point-in-time copy of the ledger for reporting.
type Snapshot struct {
	StartingCash     float64 `json:"starting_cash"`
	AvailableCash    float64 `json:"available_cash"`
	ReservedCash     float64 `json:"reserved_cash"`
	TotalEquity      float64 `json:"total_equity"`
	RealizedPnL      float64 `json:"realized_pnl"`
	OpenReservations int     `json:"open_reservations"`
}

// Snapshot captures the current books under one lock acquisition.
func (l *CashLedger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	var reserved float64
	for _, r := range l.reserved {
		reserved += r
	}
	return Snapshot{
		StartingCash:     l.startingCash,
		AvailableCash:    l.available,
		ReservedCash:     reserved,
		TotalEquity:      l.available + reserved,
		RealizedPnL:      l.realizedPnL,
		OpenReservations: len(l.reserved),
	}
}
