// Package dashboard exposes a read-only HTTP status API for the engine:
// open positions, cash ledger, trade statistics and the latest regime read.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/raftroch1/odte-engine/internal/ledger"
	"github.com/raftroch1/odte-engine/internal/models"
	"github.com/raftroch1/odte-engine/internal/regime"
	"github.com/raftroch1/odte-engine/internal/report"
)

// PositionSource supplies live position state. *lifecycle.Manager satisfies it.
type PositionSource interface {
	OpenPositions() []models.Position
	TotalUnrealized() float64
	Halted() bool
}

// Books supplies ledger state. *ledger.CashLedger satisfies it.
type Books interface {
	Snapshot() ledger.Snapshot
}

// TradeSource supplies closed-trade records. *report.Collector satisfies it.
type TradeSource interface {
	Records() []models.TradeRecord
}

// RegimeFunc returns the most recent market assessment, or nil before the
// first evaluation.
type RegimeFunc func() *regime.Assessment

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	positions PositionSource
	books     Books
	trades    TradeSource
	regime    RegimeFunc
	logger    *logrus.Logger
	addr      string
	started   time.Time
}

// Config holds server settings.
type Config struct {
	ListenAddr string
}

// NewServer builds the dashboard server. regimeFn may be nil.
func NewServer(cfg Config, positions PositionSource, books Books, trades TradeSource, regimeFn RegimeFunc, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		positions: positions,
		books:     books,
		trades:    trades,
		regime:    regimeFn,
		logger:    logger,
		addr:      cfg.ListenAddr,
		started:   time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/ledger", s.handleLedger)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/regime", s.handleRegime)
	s.router.Get("/api/trades", s.handleTrades)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", s.addr).Info("Starting dashboard server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// PositionView is the wire shape for one open position.
type PositionView struct {
	ID            string               `json:"id"`
	Symbol        string               `json:"symbol"`
	Structure     models.StructureType `json:"structure"`
	State         models.PositionState `json:"state"`
	Contracts     int                  `json:"contracts"`
	NetPremium    float64              `json:"net_premium"`
	CashAtRisk    float64              `json:"cash_at_risk"`
	UnrealizedPnL float64              `json:"unrealized_pnl"`
	ProfitPct     float64              `json:"profit_pct"`
	EntryTime     time.Time            `json:"entry_time"`
	ForcedExitBy  time.Time            `json:"forced_exit_by"`
	HeldMinutes   float64              `json:"held_minutes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if s.positions.Halted() {
		status = "halted"
	}
	s.writeJSON(w, map[string]any{
		"status":         status,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().Unix(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	open := s.positions.OpenPositions()
	views := make([]PositionView, 0, len(open))
	for i := range open {
		pos := &open[i]
		views = append(views, PositionView{
			ID:            pos.ID,
			Symbol:        pos.Symbol,
			Structure:     pos.Structure,
			State:         pos.State,
			Contracts:     pos.Contracts,
			NetPremium:    pos.NetPremium,
			CashAtRisk:    pos.CashAtRisk,
			UnrealizedPnL: pos.UnrealizedPnL,
			ProfitPct:     pos.ProfitPercent(),
			EntryTime:     pos.EntryTime,
			ForcedExitBy:  pos.ForcedExitDeadline,
			HeldMinutes:   pos.HoldDuration(now).Minutes(),
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	snap := s.books.Snapshot()
	s.writeJSON(w, map[string]any{
		"ledger":         snap,
		"unrealized_pnl": s.positions.TotalUnrealized(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, report.Compute(s.trades.Records()))
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	records := s.trades.Records()
	if records == nil {
		records = []models.TradeRecord{}
	}
	s.writeJSON(w, records)
}

func (s *Server) handleRegime(w http.ResponseWriter, _ *http.Request) {
	if s.regime == nil {
		http.Error(w, "regime scoring disabled", http.StatusNotFound)
		return
	}
	assessment := s.regime()
	if assessment == nil {
		http.Error(w, "no assessment yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, assessment)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
