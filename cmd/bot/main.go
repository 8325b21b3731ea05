package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/broker"
	"github.com/raftroch1/odte-engine/internal/config"
	"github.com/raftroch1/odte-engine/internal/dashboard"
	"github.com/raftroch1/odte-engine/internal/ledger"
	"github.com/raftroch1/odte-engine/internal/lifecycle"
	"github.com/raftroch1/odte-engine/internal/logging"
	"github.com/raftroch1/odte-engine/internal/marketdata"
	"github.com/raftroch1/odte-engine/internal/pricing"
	"github.com/raftroch1/odte-engine/internal/regime"
	"github.com/raftroch1/odte-engine/internal/report"
	"github.com/raftroch1/odte-engine/internal/storage"
	"github.com/raftroch1/odte-engine/internal/strategy"
)

// Bot wires the full paper-trading stack and drives the tick loop.
type Bot struct {
	cfg       *config.Config
	provider  *marketdata.SyntheticProvider
	market    *marketdata.BreakerProvider
	scorer    *regime.Scorer
	selector  *strategy.Selector
	manager   *lifecycle.Manager
	books     *ledger.CashLedger
	store     storage.Interface
	executor  broker.OrderExecutor
	collector *report.Collector
	logger    *logrus.Logger

	mu     sync.Mutex
	latest *regime.Assessment
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for ${VAR} expansion inside the config file.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.Options{
		Level: cfg.Environment.LogLevel,
		File:  cfg.Environment.LogFile,
	})
	logger.WithFields(logrus.Fields{
		"mode":    cfg.Environment.Mode,
		"symbol":  cfg.Market.Symbol,
		"variant": cfg.Strategy.Variant,
	}).Info("Starting 0DTE engine")

	bot, err := newBot(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer func() {
		if err := bot.store.Close(); err != nil {
			logger.WithError(err).Warn("Storage close failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping")
		cancel()
	}()

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(
			dashboard.Config{ListenAddr: cfg.Dashboard.ListenAddr},
			bot.manager, bot.books, bot.collector, bot.latestAssessment, logger,
		)
		go func() {
			if err := srv.Start(); err != nil {
				logger.WithError(err).Error("Dashboard server stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Dashboard shutdown failed")
			}
		}()
	}

	if err := bot.Run(ctx); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("Engine error")
	}
	logger.Info("Engine stopped")
}

func newBot(cfg *config.Config, logger *logrus.Logger) (*Bot, error) {
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
		logger.WithField("path", cfg.Regime.ModelPath).Info("Regime ML model loaded")
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

	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	collector := report.NewCollector()
	sink := report.MultiSink{report.NewLogSink(logger), collector}

	lcCfg := lifecycle.ConfigFromParams(params)
	lcCfg.CloseBufferHour, lcCfg.CloseBufferMinute = cfg.CloseBufferClock()
	manager, err := lifecycle.NewManager(lcCfg, pricer, books, store, sink, logger)
	if err != nil {
		return nil, err
	}
	if err := manager.Restore(); err != nil {
		return nil, fmt.Errorf("restoring positions: %w", err)
	}

	provider := marketdata.NewSyntheticProvider(marketdata.SyntheticConfig{
		Symbol:        cfg.Market.Symbol,
		BaseSpot:      cfg.Market.BaseSpot,
		Volatility:    cfg.Market.Volatility,
		VolIndexLevel: cfg.Market.VolIndexLevel,
	})

	return &Bot{
		cfg:       cfg,
		provider:  provider,
		market:    marketdata.NewBreakerProvider(provider, provider, logger),
		scorer:    scorer,
		selector:  selector,
		manager:   manager,
		books:     books,
		store:     store,
		executor:  broker.NewRetryExecutor(broker.NewPaperExecutor(logger), logger),
		collector: collector,
		logger:    logger,
	}, nil
}

func openStorage(cfg *config.Config) (storage.Interface, error) {
	switch cfg.Storage.Backend {
	case "badger":
		return storage.NewBadgerStorage(cfg.Storage.Path)
	default:
		return storage.NewJSONStorage(cfg.Storage.Path)
	}
}

// Run drives the tick loop until the context is cancelled or the ledger
// halts. Outside trading hours the loop idles.
func (b *Bot) Run(ctx context.Context) error {
	interval := b.cfg.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.WithField("interval", interval).Info("Entering tick loop")
	b.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.manager.Halted() {
				return lifecycle.ErrHalted
			}
			b.runCycle(ctx)
		}
	}
}

func (b *Bot) runCycle(ctx context.Context) {
	now := time.Now().In(b.cfg.Location())
	if !b.inSession(now) {
		b.logger.WithField("at", now.Format("15:04")).Debug("Outside trading hours")
		return
	}

	view, err := b.observe(ctx, now)
	if err != nil {
		b.logger.WithError(err).Warn("Skipping tick: no market data")
		return
	}

	assessment := b.scorer.Evaluate(regime.Input{
		Chain:            view.Chain,
		Spot:             view.Spot,
		HasTermStructure: view.HasTermStructure,
		Term:             view.Term,
		History:          view.History,
	})
	b.setAssessment(assessment)
	b.logger.WithFields(logrus.Fields{
		"regime":     assessment.Primary,
		"confidence": assessment.Confidence,
		"vol":        assessment.VolBucket,
	}).Debug("Regime assessed")

	vol := b.cfg.Market.Volatility
	if err := b.manager.Tick(ctx, now, view.Spot, vol, &assessment); err != nil {
		b.logger.WithError(err).Error("Tick evaluation failed")
		return
	}

	b.maybeEnter(ctx, assessment, view, now, vol)
}

func (b *Bot) observe(ctx context.Context, now time.Time) (*marketdata.MarketView, error) {
	symbol := b.cfg.Market.Symbol
	chain, err := b.market.GetChainSnapshot(ctx, now, symbol)
	if err != nil {
		return nil, err
	}

	view := &marketdata.MarketView{Timestamp: now, Symbol: symbol, Chain: chain}
	if spot, err := b.market.GetUnderlyingPrice(ctx, now, symbol); err == nil {
		view.Spot = spot
	} else if est, err := marketdata.EstimateSpotFromChain(chain); err == nil {
		view.Spot = est
	}
	if term, err := b.provider.GetTermStructure(ctx, now); err == nil {
		view.Term = term
		view.HasTermStructure = true
	}
	if bars, err := b.provider.GetPriceHistory(ctx, symbol, now.Add(-90*time.Minute), now); err == nil {
		view.History = bars
	}
	return view, nil
}

func (b *Bot) maybeEnter(ctx context.Context, assessment regime.Assessment, view *marketdata.MarketView, now time.Time, vol float64) {
	bufferHour, bufferMinute := b.cfg.CloseBufferClock()
	buffer := time.Date(now.Year(), now.Month(), now.Day(), bufferHour, bufferMinute, 0, 0, now.Location())
	// Entries this close to the forced flat would be churn.
	if !now.Add(30 * time.Minute).Before(buffer) {
		return
	}

	expiry := b.provider.ExpiryAt(now)
	tYears := expiry.Sub(now).Hours() / 24 / 365
	if tYears <= 0 {
		return
	}

	rec := b.selector.Select(assessment, strategy.Market{
		Chain:        view.Chain,
		Spot:         view.Spot,
		TimeToExpiry: tYears,
		Volatility:   vol,
	}, b.books)
	if _, ok := strategy.PlanOf(rec); !ok {
		b.logger.WithField("reason", rec.Reason()).Debug("No trade this tick")
		return
	}

	pos, err := b.manager.Open(rec, now, view.Spot, vol)
	if err != nil {
		b.logger.WithError(err).Warn("Entry rejected")
		return
	}

	conf, err := b.executor.ExecuteOpen(ctx, pos)
	if err != nil {
		b.logger.WithError(err).WithField("position", pos.ID).Warn("Entry order failed")
		return
	}
	b.logger.WithFields(logrus.Fields{
		"position":  pos.ID,
		"order":     conf.OrderID,
		"structure": pos.Structure,
		"contracts": pos.Contracts,
		"premium":   conf.FillPrice,
	}).Info("Position opened")
}

func (b *Bot) inSession(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	start, err := clockOn(now, b.cfg.Schedule.TradingStart)
	if err != nil {
		return false
	}
	end, err := clockOn(now, b.cfg.Schedule.TradingEnd)
	if err != nil {
		return false
	}
	return !now.Before(start) && now.Before(end)
}

func clockOn(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

func (b *Bot) setAssessment(a regime.Assessment) {
	b.mu.Lock()
	b.latest = &a
	b.mu.Unlock()
}

func (b *Bot) latestAssessment() *regime.Assessment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}
