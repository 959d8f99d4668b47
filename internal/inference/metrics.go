package inference

import (
	"math"
	"sort"
	"time"

	"github.com/ybi-research/scalp-backtest/internal/portfolio"
)

// Metrics summarises a completed backtest's realised trades.
type Metrics struct {
	TotalPnL         float64
	NumTrades        int
	NumWins          int
	NumLosses        int
	NumBreakeven     int
	WinRate          float64
	Expectancy       float64 // mean PnLTotal per trade
	MeanDailyPnL     float64
	StdDailyPnL      float64
	AnnualizedSharpe float64
	MaxDrawdownDollars float64
	MaxDrawdownPct      float64
}

// DailyPnL aggregates trades by exit date into one realised total per
// trading day, including zero-trade days so the daily series lines up
// one-to-one with tradingDays.
func DailyPnL(trades []portfolio.TradeRecord, tradingDays []time.Time) []float64 {
	byDay := map[string]float64{}
	for _, t := range trades {
		key := t.ExitTS.Format("2006-01-02")
		byDay[key] += t.PnLTotal
	}
	out := make([]float64, len(tradingDays))
	for i, d := range tradingDays {
		out[i] = byDay[d.Format("2006-01-02")]
	}
	return out
}

// ComputeMetrics derives summary statistics from the trade ledger and
// the aligned daily P&L series. startingEquity anchors the drawdown
// and Sharpe calculations.
func ComputeMetrics(trades []portfolio.TradeRecord, dailyPnL []float64, startingEquity float64) Metrics {
	m := Metrics{NumTrades: len(trades)}
	for _, t := range trades {
		m.TotalPnL += t.PnLTotal
		switch {
		case t.PnLTotal > 0:
			m.NumWins++
		case t.PnLTotal < 0:
			m.NumLosses++
		default:
			m.NumBreakeven++
		}
	}
	if m.NumTrades > 0 {
		m.WinRate = float64(m.NumWins) / float64(m.NumTrades)
		m.Expectancy = m.TotalPnL / float64(m.NumTrades)
	}

	m.MeanDailyPnL = mean(dailyPnL)
	m.StdDailyPnL = math.Sqrt(variance(dailyPnL, m.MeanDailyPnL))
	if m.StdDailyPnL > 0 {
		// 252 trading days/year; daily Sharpe scaled by sqrt(252).
		m.AnnualizedSharpe = (m.MeanDailyPnL / m.StdDailyPnL) * math.Sqrt(252)
	}

	equity := startingEquity
	peak := startingEquity
	maxDD := 0.0
	maxDDPct := 0.0
	for _, p := range dailyPnL {
		equity += p
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > maxDD {
			maxDD = dd
			if peak > 0 {
				maxDDPct = dd / peak
			}
		}
	}
	m.MaxDrawdownDollars = maxDD
	m.MaxDrawdownPct = maxDDPct

	return m
}

// ReconcileTradesAndFills checks that every trade's booked P&L is
// consistent with the fills that produced it: the sum of signed fill
// cash flows for a trade (entry BUY negative, exit/scale SELL
// positive, minus fees) must equal the trade's PnLTotal within a small
// tolerance. Returns the trade IDs that fail reconciliation.
func ReconcileTradesAndFills(trades []portfolio.TradeRecord, fills []portfolio.FillRecord) []string {
	byTrade := map[string]float64{}
	for _, f := range fills {
		flow := f.Price * float64(f.Qty)
		if f.Side == "BUY" {
			flow = -flow
		}
		byTrade[f.LinkedTradeID] += flow - f.Fee
	}

	const tolerance = 1e-6
	var mismatched []string
	for _, t := range trades {
		if math.Abs(byTrade[t.TradeID]-t.PnLTotal) > tolerance {
			mismatched = append(mismatched, t.TradeID)
		}
	}
	sort.Strings(mismatched)
	return mismatched
}
