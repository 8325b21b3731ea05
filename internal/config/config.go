// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/raftroch1/odte-engine/internal/regime"
	"github.com/raftroch1/odte-engine/internal/strategy"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Account     AccountConfig     `yaml:"account"`
	Market      MarketConfig      `yaml:"market"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Regime      RegimeConfig      `yaml:"regime"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the run mode and logging settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | backtest
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`  // empty logs to stderr only
}

// AccountConfig defines the trading bankroll.
type AccountConfig struct {
	StartingCash float64 `yaml:"starting_cash"`
	MaxPositions int     `yaml:"max_positions"`
}

// MarketConfig defines the data source.
type MarketConfig struct {
	Symbol   string `yaml:"symbol"`
	Provider string `yaml:"provider"` // synthetic is the only built-in

	// Synthetic provider tuning; ignored for other providers.
	BaseSpot      float64 `yaml:"base_spot"`
	Volatility    float64 `yaml:"volatility"`
	VolIndexLevel float64 `yaml:"vol_index_level"`
}

// ScheduleConfig defines the tick cadence and session times.
type ScheduleConfig struct {
	TickInterval string `yaml:"tick_interval"` // e.g. "1m"
	Timezone     string `yaml:"timezone"`      // e.g. "America/New_York"
	TradingStart string `yaml:"trading_start"` // "HH:MM"
	TradingEnd   string `yaml:"trading_end"`   // "HH:MM"
	CloseBuffer  string `yaml:"close_buffer"`  // forced-flat time, "HH:MM"
}

// StrategyConfig picks a variant and optionally overrides its knobs.
// Zero-valued overrides keep the variant's setting.
type StrategyConfig struct {
	Variant string `yaml:"variant"`

	ExpectedMoveFactor float64 `yaml:"expected_move_factor"`
	RiskFraction       float64 `yaml:"risk_fraction"`
	DefaultContracts   int     `yaml:"default_contracts"`
	HardCapContracts   int     `yaml:"hard_cap_contracts"`
	MinNetCredit       float64 `yaml:"min_net_credit"`
	MinLegVolume       int64   `yaml:"min_leg_volume"`

	Exit ExitConfig `yaml:"exit"`
}

// ExitConfig overrides the variant's exit rules.
type ExitConfig struct {
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	MaxHold         string  `yaml:"max_hold"` // duration, e.g. "4h"
}

// RegimeConfig tunes the market-intelligence layer mix.
type RegimeConfig struct {
	Weights       regime.Weights       `yaml:"weights"`
	VolThresholds regime.VolThresholds `yaml:"vol_thresholds"`
	ModelPath     string               `yaml:"model_path"` // ONNX file, optional
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // json | badger
	Path    string `yaml:"path"`
}

// DashboardConfig controls the HTTP status API.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses the configuration file from the specified path.
// Environment variables in the file are expanded before parsing; unknown
// keys are rejected.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	config := defaults()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func defaults() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Account:     AccountConfig{StartingCash: 25000, MaxPositions: 5},
		Market: MarketConfig{
			Symbol: "SPX", Provider: "synthetic",
			BaseSpot: 5000, Volatility: 0.18, VolIndexLevel: 17.5,
		},
		Schedule: ScheduleConfig{
			TickInterval: "1m",
			Timezone:     "America/New_York",
			TradingStart: "09:35",
			TradingEnd:   "16:00",
			CloseBuffer:  "15:30",
		},
		Strategy: StrategyConfig{Variant: "balanced"},
		Regime: RegimeConfig{
			Weights:       regime.DefaultWeights,
			VolThresholds: regime.DefaultVolThresholds,
		},
		Storage:   StorageConfig{Backend: "json", Path: "positions.json"},
		Dashboard: DashboardConfig{ListenAddr: "127.0.0.1:8090"},
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "backtest" {
		return fmt.Errorf("environment.mode must be 'paper' or 'backtest'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn or error")
	}

	if c.Account.StartingCash <= 0 {
		return fmt.Errorf("account.starting_cash must be > 0")
	}
	if c.Account.MaxPositions <= 0 {
		return fmt.Errorf("account.max_positions must be > 0")
	}

	if c.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}
	if c.Market.Provider != "synthetic" {
		return fmt.Errorf("market.provider must be 'synthetic' (got %q)", c.Market.Provider)
	}

	if _, err := time.ParseDuration(c.Schedule.TickInterval); err != nil {
		return fmt.Errorf("schedule.tick_interval invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	for name, value := range map[string]string{
		"schedule.trading_start": c.Schedule.TradingStart,
		"schedule.trading_end":   c.Schedule.TradingEnd,
		"schedule.close_buffer":  c.Schedule.CloseBuffer,
	} {
		if _, _, err := parseClock(value); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}

	if _, err := strategy.LookupVariant(c.Strategy.Variant); err != nil {
		return err
	}
	if c.Strategy.Exit.MaxHold != "" {
		if _, err := time.ParseDuration(c.Strategy.Exit.MaxHold); err != nil {
			return fmt.Errorf("strategy.exit.max_hold invalid: %w", err)
		}
	}
	// The merged parameter set must hold together.
	params, err := c.StrategyParams()
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	if err := c.Regime.Weights.Validate(); err != nil {
		return err
	}

	if c.Storage.Backend != "json" && c.Storage.Backend != "badger" {
		return fmt.Errorf("storage.backend must be 'json' or 'badger'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Dashboard.Enabled && c.Dashboard.ListenAddr == "" {
		return fmt.Errorf("dashboard.listen_addr is required when the dashboard is enabled")
	}

	return nil
}

// StrategyParams resolves the variant preset and applies any overrides.
func (c *Config) StrategyParams() (strategy.Params, error) {
	variant, err := strategy.LookupVariant(c.Strategy.Variant)
	if err != nil {
		return strategy.Params{}, err
	}
	p := variant.Params

	if v := c.Strategy.ExpectedMoveFactor; v != 0 {
		p.ExpectedMoveFactor = v
	}
	if v := c.Strategy.RiskFraction; v != 0 {
		p.RiskFraction = v
	}
	if v := c.Strategy.DefaultContracts; v != 0 {
		p.DefaultContracts = v
	}
	if v := c.Strategy.HardCapContracts; v != 0 {
		p.HardCapContracts = v
	}
	if v := c.Strategy.MinNetCredit; v != 0 {
		p.MinNetCredit = v
	}
	if v := c.Strategy.MinLegVolume; v != 0 {
		p.MinLegVolume = v
	}
	if v := c.Strategy.Exit.ProfitTargetPct; v != 0 {
		p.ProfitTargetPct = v
	}
	if v := c.Strategy.Exit.StopLossPct; v != 0 {
		p.StopLossPct = v
	}
	if c.Strategy.Exit.MaxHold != "" {
		d, err := time.ParseDuration(c.Strategy.Exit.MaxHold)
		if err != nil {
			return strategy.Params{}, fmt.Errorf("strategy.exit.max_hold invalid: %w", err)
		}
		p.MaxHoldDuration = d
	}

	return p, nil
}

// CloseBufferClock returns the forced-flat hour and minute.
func (c *Config) CloseBufferClock() (hour, minute int) {
	hour, minute, _ = parseClock(c.Schedule.CloseBuffer)
	return hour, minute
}

// Location resolves the configured timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TickInterval parses the configured tick cadence.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.TickInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

func parseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}
