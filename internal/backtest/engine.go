// Package backtest replays the decision cycle over historical (or synthetic)
// trading days and reports performance. It drives exactly the same scorer,
// selector and lifecycle code as the live loop; only the clock differs.
package backtest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/config"
	"github.com/raftroch1/odte-engine/internal/ledger"
	"github.com/raftroch1/odte-engine/internal/lifecycle"
	"github.com/raftroch1/odte-engine/internal/marketdata"
	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/pricing"
	"github.com/raftroch1/odte-engine/internal/regime"
	"github.com/raftroch1/odte-engine/internal/report"
	"github.com/raftroch1/odte-engine/internal/storage"
	"github.com/raftroch1/odte-engine/internal/strategy"
)

// minRemainingSession is how much session must remain for a new entry to be
// worth opening. A position entered later would be force-flattened almost
// immediately at the close buffer.
const minRemainingSession = 30 * time.Minute

// historyLookback is the trailing bar window fed to the technical layer.
const historyLookback = 90 * time.Minute

// Provider is the market data bundle the engine replays against.
// *marketdata.SyntheticProvider satisfies it.
type Provider interface {
	marketdata.ChainProvider
	marketdata.PriceProvider
	marketdata.VolatilityIndexProvider
	marketdata.HistoryProvider
}

// Options control one backtest run.
type Options struct {
	Start time.Time // first trading day; weekends are skipped
	Days  int       // number of trading days to simulate
}

// EquityPoint is one sample of total account equity.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// DaySummary aggregates one simulated trading day.
type DaySummary struct {
	Date       time.Time
	Trades     int
	PnL        float64
	EndEquity  float64
	Assessment regime.Regime
}

// Result is the backtest output.
type Result struct {
	Stats        report.Statistics
	Records      []models.TradeRecord
	Equity       []EquityPoint
	Days         []DaySummary
	StartingCash float64
	FinalEquity  float64
	MaxDrawdown  float64 // fraction of peak equity, e.g. 0.04 = 4%
	Halted       bool
}

// Engine replays the decision cycle tick by tick.
type Engine struct {
	cfg       *config.Config
	params    strategy.Params
	provider  Provider
	scorer    *regime.Scorer
	selector  *strategy.Selector
	manager   *lifecycle.Manager
	books     *ledger.CashLedger
	collector *report.Collector
	logger    *logrus.Logger
}

// NewEngine wires a full engine stack from the config. Storage is in-memory:
// a backtest should leave no files behind.
func NewEngine(cfg *config.Config, provider Provider, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	params, err := cfg.StrategyParams()
	if err != nil {
		return nil, err
	}

	var model regime.Model
	if cfg.Regime.ModelPath != "" {
		model, err = regime.NewONNXModel(cfg.Regime.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("loading regime model: %w", err)
		}
	}
	scorer, err := regime.NewScorer(cfg.Regime.Weights, cfg.Regime.VolThresholds, model, logger)
	if err != nil {
		return nil, err
	}

	pricer := pricing.NewPricer(0)
	strikes := strategy.NewStrikeSelector(pricer, params, logger)
	selector, err := strategy.NewSelector(strategy.DefaultMatrix(), strikes, params, logger)
	if err != nil {
		return nil, err
	}

	books, err := ledger.NewCashLedger(cfg.Account.StartingCash, cfg.Account.MaxPositions, logger)
	if err != nil {
		return nil, err
	}

	collector := report.NewCollector()
	lcCfg := lifecycle.ConfigFromParams(params)
	lcCfg.CloseBufferHour, lcCfg.CloseBufferMinute = cfg.CloseBufferClock()
	manager, err := lifecycle.NewManager(lcCfg, pricer, books, storage.NewMockStorage(), collector, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		params:    params,
		provider:  provider,
		scorer:    scorer,
		selector:  selector,
		manager:   manager,
		books:     books,
		collector: collector,
		logger:    logger,
	}, nil
}

// Run replays opts.Days trading days and returns the aggregated result.
// A ledger halt stops the run immediately with partial results.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Days <= 0 {
		return nil, fmt.Errorf("backtest days must be positive, got %d", opts.Days)
	}
	loc := e.cfg.Location()
	day := opts.Start.In(loc)
	if day.IsZero() {
		return nil, fmt.Errorf("backtest start date is required")
	}

	result := &Result{StartingCash: e.books.TotalEquity()}
	for remaining := opts.Days; remaining > 0; {
		day = nextTradingDay(day)
		if err := e.runDay(ctx, day, result); err != nil {
			if e.manager.Halted() {
				result.Halted = true
				break
			}
			return nil, err
		}
		day = day.AddDate(0, 0, 1)
		remaining--
	}

	result.Records = e.collector.Records()
	result.Stats = report.Compute(result.Records)
	result.FinalEquity = e.books.TotalEquity()
	result.MaxDrawdown = maxDrawdown(result.Equity)
	return result, nil
}

func (e *Engine) runDay(ctx context.Context, day time.Time, result *Result) error {
	sessionStart, sessionEnd, err := e.sessionBounds(day)
	if err != nil {
		return err
	}
	bufferHour, bufferMinute := e.cfg.CloseBufferClock()
	closeBuffer := e.clockOn(day, bufferHour, bufferMinute)
	entryCutoff := closeBuffer.Add(-minRemainingSession)
	interval := e.cfg.TickInterval()

	tradesBefore := len(e.collector.Records())
	equityBefore := e.books.TotalEquity()
	var lastAssessment regime.Assessment

	for now := sessionStart; !now.After(sessionEnd); now = now.Add(interval) {
		if err := ctx.Err(); err != nil {
			return err
		}
		view, err := e.observe(ctx, now)
		if err != nil {
			e.logger.WithError(err).WithField("at", now).Warn("Skipping tick: no market data")
			continue
		}

		assessment := e.scorer.Evaluate(regime.Input{
			Chain:            view.Chain,
			Spot:             view.Spot,
			HasTermStructure: view.HasTermStructure,
			Term:             view.Term,
			History:          view.History,
		})
		lastAssessment = assessment

		vol := e.cfg.Market.Volatility
		if err := e.manager.Tick(ctx, now, view.Spot, vol, &assessment); err != nil {
			return err
		}

		if now.Before(entryCutoff) {
			e.maybeEnter(assessment, view, now, vol)
		}
	}

	result.Equity = append(result.Equity, EquityPoint{Time: sessionEnd, Equity: e.books.TotalEquity()})
	result.Days = append(result.Days, DaySummary{
		Date:       day,
		Trades:     len(e.collector.Records()) - tradesBefore,
		PnL:        e.books.TotalEquity() - equityBefore,
		EndEquity:  e.books.TotalEquity(),
		Assessment: lastAssessment.Primary,
	})
	return nil
}

// observe gathers one tick's market view. A chain failure skips the tick;
// the optional sources degrade silently.
func (e *Engine) observe(ctx context.Context, now time.Time) (*marketdata.MarketView, error) {
	symbol := e.cfg.Market.Symbol
	chain, err := e.provider.GetChainSnapshot(ctx, now, symbol)
	if err != nil {
		return nil, err
	}

	view := &marketdata.MarketView{Timestamp: now, Symbol: symbol, Chain: chain}
	if spot, err := e.provider.GetUnderlyingPrice(ctx, now, symbol); err == nil {
		view.Spot = spot
	} else if est, err := marketdata.EstimateSpotFromChain(chain); err == nil {
		view.Spot = est
	}
	if term, err := e.provider.GetTermStructure(ctx, now); err == nil {
		view.Term = term
		view.HasTermStructure = true
	}
	if bars, err := e.provider.GetPriceHistory(ctx, symbol, now.Add(-historyLookback), now); err == nil {
		view.History = bars
	}
	return view, nil
}

func (e *Engine) maybeEnter(assessment regime.Assessment, view *marketdata.MarketView, now time.Time, vol float64) {
	if view.Chain == nil || len(view.Chain.Quotes) == 0 {
		return
	}
	expiry := view.Chain.Quotes[0].Expiry
	tYears := expiry.Sub(now).Hours() / 24 / 365
	if tYears <= 0 {
		return
	}

	rec := e.selector.Select(assessment, strategy.Market{
		Chain:        view.Chain,
		Spot:         view.Spot,
		TimeToExpiry: tYears,
		Volatility:   vol,
	}, e.books)
	if _, ok := strategy.PlanOf(rec); !ok {
		return
	}

	if _, err := e.manager.Open(rec, now, view.Spot, vol); err != nil {
		e.logger.WithError(err).Warn("Entry rejected")
	}
}

func (e *Engine) sessionBounds(day time.Time) (start, end time.Time, err error) {
	sh, sm, err := splitClock(e.cfg.Schedule.TradingStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eh, em, err := splitClock(e.cfg.Schedule.TradingEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return e.clockOn(day, sh, sm), e.clockOn(day, eh, em), nil
}

func (e *Engine) clockOn(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, e.cfg.Location())
}

func splitClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}

func nextTradingDay(day time.Time) time.Time {
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func maxDrawdown(curve []EquityPoint) float64 {
	var peak, worst float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// WriteReport renders the run summary: the trade statistics table followed by
// equity figures and the per-day breakdown.
func (r *Result) WriteReport(w io.Writer) {
	fmt.Fprintln(w, r.Stats.Table())

	t := table.NewWriter()
	t.SetTitle("Backtest Summary")
	t.AppendRows([]table.Row{
		{"Starting Cash", fmt.Sprintf("%.2f", r.StartingCash)},
		{"Final Equity", fmt.Sprintf("%.2f", r.FinalEquity)},
		{"Net Return", fmt.Sprintf("%.2f%%", (r.FinalEquity/r.StartingCash-1)*100)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", r.MaxDrawdown*100)},
		{"Trading Days", len(r.Days)},
		{"Halted", r.Halted},
	})
	fmt.Fprintln(w, t.Render())

	days := table.NewWriter()
	days.SetTitle("Daily Breakdown")
	days.AppendHeader(table.Row{"Date", "Trades", "P&L", "End Equity", "Last Regime"})
	for _, d := range r.Days {
		days.AppendRow(table.Row{
			d.Date.Format("2006-01-02"), d.Trades,
			fmt.Sprintf("%.2f", d.PnL), fmt.Sprintf("%.2f", d.EndEquity),
			string(d.Assessment),
		})
	}
	fmt.Fprintln(w, days.Render())
}
