// Package broker carries position intents to an execution venue. The engine
// treats execution as fire-and-forget for paper trading and backtests; live
// adapters must return a fill confirmation.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/util"
)

// fillTick is the penny increment paper fills are quoted in.
const fillTick = 0.01

// OrderSide distinguishes opening from unwinding a structure.
type OrderSide string

const (
	// SideOpen establishes the structure.
	SideOpen OrderSide = "open"
	// SideClose unwinds it.
	SideClose OrderSide = "close"
)

// Confirmation reports an accepted order.
type Confirmation struct {
	OrderID   string    `json:"order_id"`
	Side      OrderSide `json:"side"`
	FillPrice float64   `json:"fill_price"` // per share, signed like NetPremium
	FilledAt  time.Time `json:"filled_at"`
}

// OrderExecutor accepts finalized position intents.
type OrderExecutor interface {
	// ExecuteOpen places the entry order for the position's legs.
	ExecuteOpen(ctx context.Context, pos *models.Position) (*Confirmation, error)
	// ExecuteClose unwinds the position, paying at most maxDebit per share.
	ExecuteClose(ctx context.Context, pos *models.Position, maxDebit float64) (*Confirmation, error)
}

// PaperExecutor fills every order instantly at the model price. It never
// rejects and never partially fills.
type PaperExecutor struct {
	logger *logrus.Logger
}

// NewPaperExecutor wires a paper venue.
func NewPaperExecutor(logger *logrus.Logger) *PaperExecutor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaperExecutor{logger: logger}
}

// ExecuteOpen implements OrderExecutor.
func (e *PaperExecutor) ExecuteOpen(ctx context.Context, pos *models.Position) (*Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pos.Legs) == 0 {
		return nil, fmt.Errorf("position %s has no legs", pos.ID)
	}

	conf := &Confirmation{
		OrderID:   uuid.NewString(),
		Side:      SideOpen,
		FillPrice: util.RoundToTick(pos.NetPremium, fillTick),
		FilledAt:  time.Now().UTC(),
	}
	e.logger.WithFields(logrus.Fields{
		"order":     conf.OrderID,
		"position":  pos.ID,
		"structure": pos.Structure,
		"fill":      conf.FillPrice,
	}).Info("Paper open filled")
	return conf, nil
}

// ExecuteClose implements OrderExecutor.
func (e *PaperExecutor) ExecuteClose(ctx context.Context, pos *models.Position, maxDebit float64) (*Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := &Confirmation{
		OrderID:   uuid.NewString(),
		Side:      SideClose,
		FillPrice: util.RoundToTick(maxDebit, fillTick),
		FilledAt:  time.Now().UTC(),
	}
	e.logger.WithFields(logrus.Fields{
		"order":    conf.OrderID,
		"position": pos.ID,
		"debit":    maxDebit,
	}).Info("Paper close filled")
	return conf, nil
}

var _ OrderExecutor = (*PaperExecutor)(nil)
