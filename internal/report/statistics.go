package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/raftroch1/odte-engine/internal/models"
)

// Statistics summarizes a set of closed trades.
type Statistics struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgHold      time.Duration `json:"avg_hold"`

	ByReason    map[models.ExitReason]int       `json:"by_reason"`
	ByStructure map[models.StructureType]int    `json:"by_structure"`
	PnLByStruct map[models.StructureType]float64 `json:"pnl_by_structure"`
}

// Compute derives statistics from the given records.
func Compute(records []models.TradeRecord) Statistics {
	stats := Statistics{
		ByReason:    make(map[models.ExitReason]int),
		ByStructure: make(map[models.StructureType]int),
		PnLByStruct: make(map[models.StructureType]float64),
	}

	var grossWin, grossLoss float64
	var totalHold time.Duration
	for _, rec := range records {
		stats.Trades++
		stats.TotalPnL += rec.RealizedPnL
		stats.ByReason[rec.ExitReason]++
		stats.ByStructure[rec.Structure]++
		stats.PnLByStruct[rec.Structure] += rec.RealizedPnL
		totalHold += rec.ExitTime.Sub(rec.EntryTime)

		if rec.RealizedPnL >= 0 {
			stats.Wins++
			grossWin += rec.RealizedPnL
			stats.LargestWin = math.Max(stats.LargestWin, rec.RealizedPnL)
		} else {
			stats.Losses++
			grossLoss += -rec.RealizedPnL
			stats.LargestLoss = math.Min(stats.LargestLoss, rec.RealizedPnL)
		}
	}

	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
		stats.AvgHold = totalHold / time.Duration(stats.Trades)
	}
	if stats.Wins > 0 {
		stats.AvgWin = grossWin / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = -grossLoss / float64(stats.Losses)
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		stats.ProfitFactor = math.Inf(1)
	}

	return stats
}

// Table renders the statistics as a console table.
func (s Statistics) Table() string {
	t := table.NewWriter()
	t.SetTitle("Session Performance")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Trades", s.Trades},
		{"Wins / Losses", fmt.Sprintf("%d / %d", s.Wins, s.Losses)},
		{"Win Rate", fmt.Sprintf("%.1f%%", s.WinRate*100)},
		{"Total P&L", fmt.Sprintf("%.2f", s.TotalPnL)},
		{"Avg Win", fmt.Sprintf("%.2f", s.AvgWin)},
		{"Avg Loss", fmt.Sprintf("%.2f", s.AvgLoss)},
		{"Largest Win", fmt.Sprintf("%.2f", s.LargestWin)},
		{"Largest Loss", fmt.Sprintf("%.2f", s.LargestLoss)},
		{"Profit Factor", formatProfitFactor(s.ProfitFactor)},
		{"Avg Hold", s.AvgHold.Round(time.Second).String()},
	})
	t.AppendSeparator()
	structures := make([]string, 0, len(s.ByStructure))
	for structure := range s.ByStructure {
		structures = append(structures, string(structure))
	}
	sort.Strings(structures)
	for _, name := range structures {
		structure := models.StructureType(name)
		t.AppendRow(table.Row{
			fmt.Sprintf("%s (%d)", structure, s.ByStructure[structure]),
			fmt.Sprintf("%.2f", s.PnLByStruct[structure]),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	return t.Render()
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}
