package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/raftroch1/odte-engine/internal/backtest"
	"github.com/raftroch1/odte-engine/internal/config"
	"github.com/raftroch1/odte-engine/internal/logging"
	"github.com/raftroch1/odte-engine/internal/marketdata"
)

func main() {
	var (
		configPath string
		days       int
		startStr   string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.IntVar(&days, "days", 20, "Number of trading days to simulate")
	flag.StringVar(&startStr, "start", "", "First trading day (YYYY-MM-DD), defaults to days ago")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.Options{
		Level: cfg.Environment.LogLevel,
		File:  cfg.Environment.LogFile,
	})

	loc := cfg.Location()
	start := time.Now().In(loc).AddDate(0, 0, -days)
	if startStr != "" {
		start, err = time.ParseInLocation("2006-01-02", startStr, loc)
		if err != nil {
			logger.WithError(err).Fatal("Invalid -start date")
		}
	}

	provider := marketdata.NewSyntheticProvider(marketdata.SyntheticConfig{
		Symbol:        cfg.Market.Symbol,
		BaseSpot:      cfg.Market.BaseSpot,
		Volatility:    cfg.Market.Volatility,
		VolIndexLevel: cfg.Market.VolIndexLevel,
	})

	engine, err := backtest.NewEngine(cfg, provider, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize backtest")
	}

	result, err := engine.Run(context.Background(), backtest.Options{Start: start, Days: days})
	if err != nil {
		logger.WithError(err).Fatal("Backtest failed")
	}

	result.WriteReport(os.Stdout)
	if result.Halted {
		logger.Error("Run halted on an accounting violation; results are partial")
		os.Exit(1)
	}
}
