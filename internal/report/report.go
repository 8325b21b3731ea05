// Package report receives closed-trade records and renders statistics.
// The engine only emits structured records; all formatting lives here.
package report

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/models"
)

// Sink consumes one TradeRecord per closed position.
type Sink interface {
	RecordTrade(models.TradeRecord)
}

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink wires a sink onto the given logger.
func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{logger: logger}
}

// RecordTrade implements Sink.
func (s *LogSink) RecordTrade(rec models.TradeRecord) {
	s.logger.WithFields(logrus.Fields{
		"position":  rec.PositionID,
		"symbol":    rec.Symbol,
		"structure": rec.Structure,
		"contracts": rec.Contracts,
		"premium":   rec.NetPremium,
		"pnl":       rec.RealizedPnL,
		"reason":    rec.ExitReason,
		"held":      rec.ExitTime.Sub(rec.EntryTime).Round(time.Second).String(),
	}).Info("Trade closed")
}

// Collector accumulates records in memory for later statistics. Safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []models.TradeRecord
}

// NewCollector returns an empty collector.
func NewCollector() *Collector { return &Collector{} }

// RecordTrade implements Sink.
func (c *Collector) RecordTrade(rec models.TradeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

// Records returns a copy of everything collected so far.
func (c *Collector) Records() []models.TradeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TradeRecord, len(c.records))
	copy(out, c.records)
	return out
}

// MultiSink fans each record out to every child sink.
type MultiSink []Sink

// RecordTrade implements Sink.
func (m MultiSink) RecordTrade(rec models.TradeRecord) {
	for _, s := range m {
		s.RecordTrade(rec)
	}
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Collector)(nil)
	_ Sink = (MultiSink)(nil)
)
