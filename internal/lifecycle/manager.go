// Package lifecycle runs positions through their state machine: entry,
// per-tick evaluation and terminal exit, settling cash on every close.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/raftroch1/odte-engine/internal/ledger"
	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/pricing"
	"github.com/raftroch1/odte-engine/internal/regime"
	"github.com/raftroch1/odte-engine/internal/report"
	"github.com/raftroch1/odte-engine/internal/storage"
	"github.com/raftroch1/odte-engine/internal/strategy"
)

// ErrHalted means a books invariant broke and the manager refuses further
// trading until restarted.
var ErrHalted = errors.New("trading halted after accounting violation")

// hoursPerYear converts remaining clock time to pricing years.
const hoursPerYear = 24 * 365.0

// Config are the exit rules applied to every position.
type Config struct {
	MaxHoldDuration time.Duration
	// CloseBufferHour/Minute is the wall-clock time (in the entry's
	// location) by which every same-day position must be flat.
	CloseBufferHour   int
	CloseBufferMinute int

	ProfitTargetPct       float64
	StopLossPct           float64
	ReversalExit          bool
	MinReversalConfidence float64

	// MaxStaleTicks force-closes a position that could not be marked for
	// this many consecutive ticks. Zero disables.
	MaxStaleTicks int
}

// ConfigFromParams lifts the exit knobs out of the strategy parameters,
// with the standard 15:30 close buffer.
func ConfigFromParams(p strategy.Params) Config {
	return Config{
		MaxHoldDuration:       p.MaxHoldDuration,
		CloseBufferHour:       15,
		CloseBufferMinute:     30,
		ProfitTargetPct:       p.ProfitTargetPct,
		StopLossPct:           p.StopLossPct,
		ReversalExit:          p.ReversalExit,
		MinReversalConfidence: p.MinReversalConfidence,
		MaxStaleTicks:         5,
	}
}

// Validate checks the config is workable.
func (c Config) Validate() error {
	if c.MaxHoldDuration <= 0 {
		return fmt.Errorf("max hold duration must be positive")
	}
	if c.CloseBufferHour < 0 || c.CloseBufferHour > 23 || c.CloseBufferMinute < 0 || c.CloseBufferMinute > 59 {
		return fmt.Errorf("invalid close buffer time %02d:%02d", c.CloseBufferHour, c.CloseBufferMinute)
	}
	if c.ProfitTargetPct <= 0 || c.ProfitTargetPct > 1 {
		return fmt.Errorf("profit target pct must be in (0, 1]")
	}
	if c.StopLossPct <= 0 || c.StopLossPct > 1 {
		return fmt.Errorf("stop loss pct must be in (0, 1]")
	}
	return nil
}

// Manager owns the open-position set. One logical scheduling thread drives
// Open and Tick; the mutex guards against dashboard reads, not concurrent
// ticks.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	pricer *pricing.Pricer
	books  *ledger.CashLedger
	store  storage.Interface
	sink   report.Sink
	logger *logrus.Logger

	positions map[string]*models.Position
	halted    bool
}

// NewManager wires a manager. Store and sink may be nil for backtests that
// only need in-memory state.
func NewManager(cfg Config, pricer *pricing.Pricer, books *ledger.CashLedger,
	store storage.Interface, sink report.Sink, logger *logrus.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pricer == nil || books == nil {
		return nil, fmt.Errorf("pricer and ledger are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		cfg:       cfg,
		pricer:    pricer,
		books:     books,
		store:     store,
		sink:      sink,
		logger:    logger,
		positions: make(map[string]*models.Position),
	}, nil
}

// Restore loads open positions from storage and re-reserves their cash.
// Call once at startup, before the first tick.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.store.GetOpenPositions() {
		p := pos
		if err := p.ValidateState(); err != nil {
			return fmt.Errorf("restoring position %s: %w", p.ID, err)
		}
		if err := m.books.Reserve(p.ID, p.CashAtRisk); err != nil {
			return fmt.Errorf("re-reserving cash for %s: %w", p.ID, err)
		}
		m.positions[p.ID] = &p
		m.logger.WithFields(logrus.Fields{
			"position":  p.ID,
			"structure": p.Structure,
			"deadline":  p.ForcedExitDeadline,
		}).Info("Position restored")
	}
	return nil
}

// Open turns a recommendation into a live position: reserve cash, stamp the
// forced-exit deadline, persist. The deadline is fixed here and never moves.
func (m *Manager) Open(rec strategy.Recommendation, now time.Time, spot, vol float64) (*models.Position, error) {
	plan, ok := strategy.PlanOf(rec)
	if !ok {
		return nil, fmt.Errorf("recommendation %s is not tradable", rec.Kind())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return nil, ErrHalted
	}

	pos := models.NewPosition(uuid.NewString(), plan.Symbol, plan.Structure, plan.Legs, plan.Contracts)
	pos.NetPremium = plan.NetPremium
	pos.CashAtRisk = plan.CashRequired
	pos.MaxProfit = plan.MaxProfit()
	pos.MaxLoss = plan.MaxLoss()
	pos.ProfitTarget = m.cfg.ProfitTargetPct * pos.MaxProfit
	pos.StopLoss = m.cfg.StopLossPct * pos.MaxLoss
	pos.EntryTime = now
	pos.EntryUnderlying = spot
	pos.EntryVol = vol
	pos.Expiry = plan.Expiry
	pos.ForcedExitDeadline = m.forcedExitDeadline(now)

	if err := m.books.Reserve(pos.ID, pos.CashAtRisk); err != nil {
		return nil, fmt.Errorf("reserving cash: %w", err)
	}

	if m.store != nil {
		if err := m.store.SavePosition(pos); err != nil {
			// Undo the reservation so the books stay balanced.
			if relErr := m.books.Release(pos.ID, 0); relErr != nil {
				m.halt(relErr)
				return nil, fmt.Errorf("persisting position: %v (rollback failed: %w)", err, relErr)
			}
			return nil, fmt.Errorf("persisting position: %w", err)
		}
	}

	m.positions[pos.ID] = pos
	m.logger.WithFields(logrus.Fields{
		"position":  pos.ID,
		"structure": pos.Structure,
		"contracts": pos.Contracts,
		"premium":   pos.NetPremium,
		"risk":      pos.CashAtRisk,
		"deadline":  pos.ForcedExitDeadline.Format("15:04"),
	}).Info("Position opened")
	return pos, nil
}

// forcedExitDeadline is min(now+maxHold, same-day close buffer).
func (m *Manager) forcedExitDeadline(now time.Time) time.Time {
	deadline := now.Add(m.cfg.MaxHoldDuration)
	eod := m.closeBuffer(now)
	if eod.Before(deadline) {
		return eod
	}
	return deadline
}

func (m *Manager) closeBuffer(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		m.cfg.CloseBufferHour, m.cfg.CloseBufferMinute, 0, 0, day.Location())
}

// mark is one position's tick-local pricing result.
type mark struct {
	pnl  float64
	spot float64
	err  error
}

// Tick evaluates every open position against the current market. Exit checks
// run in order: forced deadline first, then profit target, stop loss and
// regime reversal off the fresh mark. Pricing runs in parallel (the pricer
// is pure); all state changes happen sequentially afterwards.
func (m *Manager) Tick(ctx context.Context, now time.Time, spot, vol float64, assessment *regime.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return ErrHalted
	}
	if len(m.positions) == 0 {
		return nil
	}

	marks := make(map[string]mark, len(m.positions))
	var marksMu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for _, pos := range m.positions {
		p := pos
		g.Go(func() error {
			pnl, err := m.markToMarket(p, now, spot, vol)
			marksMu.Lock()
			marks[p.ID] = mark{pnl: pnl, spot: spot, err: err}
			marksMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	eod := m.closeBuffer(now)
	for id, pos := range m.positions {
		mk := marks[id]

		if mk.err == nil {
			pos.StaleTicks = 0
			pos.UnrealizedPnL = mk.pnl
		}

		// Deadlines never wait for a clean mark: same-day options must be
		// flat before expiry.
		if !now.Before(eod) {
			if err := m.close(pos, now, spot, models.ExitReasonForcedEOD); err != nil {
				return err
			}
			continue
		}
		if !now.Before(pos.ForcedExitDeadline) {
			if err := m.close(pos, now, spot, models.ExitReasonTime); err != nil {
				return err
			}
			continue
		}

		if mk.err != nil {
			pos.StaleTicks++
			m.logger.WithError(mk.err).WithFields(logrus.Fields{
				"position": pos.ID,
				"stale":    pos.StaleTicks,
			}).Warn("Mark-to-market failed, skipping position this tick")
			if m.cfg.MaxStaleTicks > 0 && pos.StaleTicks >= m.cfg.MaxStaleTicks {
				if err := m.close(pos, now, spot, models.ExitReasonForcedEOD); err != nil {
					return err
				}
			}
			continue
		}

		switch {
		case pos.UnrealizedPnL >= pos.ProfitTarget:
			if err := m.close(pos, now, spot, models.ExitReasonProfitTarget); err != nil {
				return err
			}
		case pos.UnrealizedPnL <= -pos.StopLoss:
			if err := m.close(pos, now, spot, models.ExitReasonStopLoss); err != nil {
				return err
			}
		case m.cfg.ReversalExit && assessment != nil &&
			assessment.Reversed(pos.Structure.Bias(), m.cfg.MinReversalConfidence):
			if err := m.close(pos, now, spot, models.ExitReasonRegimeReversal); err != nil {
				return err
			}
		}
	}
	return nil
}

// markToMarket prices the position's legs at the current market and returns
// unrealized P&L in dollars. Positive NetPremium (credit) plus the holder's
// current spread value nets entry against cost to close.
func (m *Manager) markToMarket(pos *models.Position, now time.Time, spot, vol float64) (float64, error) {
	if spot <= 0 {
		return 0, fmt.Errorf("no spot price")
	}
	if vol <= 0 {
		vol = pos.EntryVol
	}
	if vol <= 0 {
		vol = pricing.DefaultVolatility
	}

	years := pos.Expiry.Sub(now).Hours() / hoursPerYear
	if years < 0 {
		years = 0
	}

	value, err := m.pricer.SpreadValue(spot, pos.Legs, years, vol)
	if err != nil {
		return 0, err
	}
	perShare := pos.NetPremium + value
	return perShare * models.SharesPerContract * float64(pos.Contracts), nil
}

// close runs the full terminal sequence: state machine, cash settlement,
// persistence and trade-record emission. An accounting failure halts the
// manager.
func (m *Manager) close(pos *models.Position, now time.Time, spot float64, reason models.ExitReason) error {
	state, err := models.StateForReason(reason)
	if err != nil {
		return err
	}
	if err := pos.TransitionState(state, reason); err != nil {
		return err
	}

	pos.ExitTime = now
	pos.ExitUnderlying = spot
	pos.RealizedPnL = pos.UnrealizedPnL

	if err := m.books.Release(pos.ID, pos.RealizedPnL); err != nil {
		var acctErr *ledger.AccountingError
		if errors.As(err, &acctErr) {
			m.halt(err)
			return fmt.Errorf("%w: %v", ErrHalted, err)
		}
		if errors.Is(err, ledger.ErrUnknownPosition) {
			m.halt(err)
			return fmt.Errorf("%w: %v", ErrHalted, err)
		}
		return err
	}

	delete(m.positions, pos.ID)

	if m.store != nil {
		if err := m.store.ClosePosition(pos.ID, pos.Record()); err != nil {
			m.logger.WithError(err).WithField("position", pos.ID).
				Error("Failed to persist closed trade")
		}
	}
	if m.sink != nil {
		m.sink.RecordTrade(pos.Record())
	}

	m.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"reason":   reason,
		"pnl":      pos.RealizedPnL,
		"held":     pos.HoldDuration(now).Round(time.Second).String(),
	}).Info("Position closed")
	return nil
}

func (m *Manager) halt(cause error) {
	m.halted = true
	m.logger.WithError(cause).Error("HALTING: accounting invariant violated")
}

// Halted reports whether trading is stopped.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// OpenPositions returns copies of the live positions.
func (m *Manager) OpenPositions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenCount is the number of live positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// TotalUnrealized sums the latest marks across open positions.
func (m *Manager) TotalUnrealized() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, pos := range m.positions {
		total += pos.UnrealizedPnL
	}
	return total
}
