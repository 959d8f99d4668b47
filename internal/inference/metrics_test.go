package inference_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ybi-research/scalp-backtest/internal/inference"
	"github.com/ybi-research/scalp-backtest/internal/portfolio"
)

func day(offset int) time.Time {
	return time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestDailyPnL_AlignsToFullCalendarIncludingZeroTradeDays(t *testing.T) {
	trades := []portfolio.TradeRecord{
		{ExitTS: day(0), PnLTotal: 100},
		{ExitTS: day(0), PnLTotal: 50},
		{ExitTS: day(2), PnLTotal: -30},
	}
	days := []time.Time{day(0), day(1), day(2)}

	pnl := inference.DailyPnL(trades, days)
	assert.Equal(t, []float64{150, 0, -30}, pnl)
}

func TestComputeMetrics_WinLossCounts(t *testing.T) {
	trades := []portfolio.TradeRecord{
		{PnLTotal: 100}, {PnLTotal: -50}, {PnLTotal: 0}, {PnLTotal: 25},
	}
	m := inference.ComputeMetrics(trades, []float64{75, 0}, 10000)
	assert.Equal(t, 4, m.NumTrades)
	assert.Equal(t, 2, m.NumWins)
	assert.Equal(t, 1, m.NumLosses)
	assert.Equal(t, 1, m.NumBreakeven)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 75.0/4, m.Expectancy, 1e-9)
}

func TestComputeMetrics_MaxDrawdown(t *testing.T) {
	dailyPnL := []float64{100, -200, 50, -10}
	// equity path: 10100, 9900, 9950, 9940; peak 10100 -> trough 9900 -> dd 200
	m := inference.ComputeMetrics(nil, dailyPnL, 10000)
	assert.InDelta(t, 200, m.MaxDrawdownDollars, 1e-9)
	assert.InDelta(t, 200.0/10100.0, m.MaxDrawdownPct, 1e-9)
}

func TestReconcileTradesAndFills_FlagsMismatch(t *testing.T) {
	trades := []portfolio.TradeRecord{
		{TradeID: "t1", PnLTotal: 10},
		{TradeID: "t2", PnLTotal: 999}, // deliberately wrong
	}
	fills := []portfolio.FillRecord{
		{LinkedTradeID: "t1", Side: "BUY", Qty: 10, Price: 5, Fee: 0},
		{LinkedTradeID: "t1", Side: "SELL", Qty: 10, Price: 6, Fee: 0},
		{LinkedTradeID: "t2", Side: "BUY", Qty: 10, Price: 5, Fee: 0},
		{LinkedTradeID: "t2", Side: "SELL", Qty: 10, Price: 6, Fee: 0},
	}
	mismatched := inference.ReconcileTradesAndFills(trades, fills)
	assert.Equal(t, []string{"t2"}, mismatched)
}

func TestReconcileTradesAndFills_MatchesWithinTolerance(t *testing.T) {
	trades := []portfolio.TradeRecord{{TradeID: "t1", PnLTotal: 9}}
	fills := []portfolio.FillRecord{
		{LinkedTradeID: "t1", Side: "BUY", Qty: 10, Price: 5, Fee: 0},
		{LinkedTradeID: "t1", Side: "SELL", Qty: 10, Price: 6, Fee: 1},
	}
	assert.Empty(t, inference.ReconcileTradesAndFills(trades, fills))
}
