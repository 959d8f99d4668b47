package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/scalp-backtest/internal/config"
	"github.com/ybi-research/scalp-backtest/internal/data"
	"github.com/ybi-research/scalp-backtest/internal/strategy"
)

func minute(m int) time.Time {
	return time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC).Add(time.Duration(m) * time.Minute)
}

func TestMergedTimeline_UnionsAndSortsAcrossTickers(t *testing.T) {
	runtimes := map[string]*tickerRuntime{
		"AAAA": {bars: []data.Bar{{TS: minute(1)}, {TS: minute(3)}}},
		"BBBB": {bars: []data.Bar{{TS: minute(2)}, {TS: minute(3)}}},
	}
	timeline := mergedTimeline(runtimes)
	require.Len(t, timeline, 3)
	assert.True(t, timeline[0].Equal(minute(1)))
	assert.True(t, timeline[1].Equal(minute(2)))
	assert.True(t, timeline[2].Equal(minute(3)))
}

func testEngine() *Engine {
	return &Engine{
		Cfg: &config.Config{
			Risk: config.RiskConfig{
				RiskPerTradePct:        0.01,
				MaxPositionNotionalPct: 0.25,
				MaxTradesPerDay:        3,
				MaxDailyLossDollars:    1000,
			},
			Fills: config.FillsConfig{
				SlippageBps:  0,
				SpreadCents:  0,
				FeesPerTrade: 1,
			},
			Strategy: config.StrategyConfig{ScaleFraction: 0.5},
		},
	}
}

func TestExecuteEntry_RejectsWhenStopNotBelowEntry(t *testing.T) {
	e := testEngine()
	positions := map[string]*Position{}
	tradesTodayPerTicker := map[string]int{}
	var fills []FillRecord
	cash := 10000.0

	pe := &pendingEntry{setupTag: "A", signalTS: minute(0), stopBase: 10}
	bar := data.Bar{TS: minute(1), Open: 10}
	e.executeEntry("AAAA", bar, pe, 10000, positions, tradesTodayPerTicker, &cash, &fills)

	assert.Empty(t, positions)
	assert.Empty(t, fills)
	assert.Equal(t, 10000.0, cash)
}

func TestExecuteEntry_SizesByRiskPerTradeAndFillsBuy(t *testing.T) {
	e := testEngine()
	positions := map[string]*Position{}
	tradesTodayPerTicker := map[string]int{}
	var fills []FillRecord
	cash := 10000.0

	pe := &pendingEntry{setupTag: "A_pmh_breakout_hold", signalTS: minute(0), stopBase: 9}
	bar := data.Bar{TS: minute(1), Open: 10}
	// riskDollars = 0.01 * 10000 = 100; risk/share = 10-9 = 1 -> qty=100
	e.executeEntry("AAAA", bar, pe, 10000, positions, tradesTodayPerTicker, &cash, &fills)

	require.Contains(t, positions, "AAAA")
	pos := positions["AAAA"]
	assert.Equal(t, 100, pos.Qty)
	assert.Equal(t, 100, pos.OriginalQty)
	assert.InDelta(t, 10.0, pos.AvgEntry, 1e-9)
	assert.InDelta(t, 9.0, pos.Stop, 1e-9)
	assert.Equal(t, 1, tradesTodayPerTicker["AAAA"])
	require.Len(t, fills, 1)
	assert.Equal(t, "BUY", fills[0].Side)
	assert.Equal(t, 100, fills[0].Qty)
	assert.InDelta(t, 9000.0, cash, 1e-9)
}

func TestExecuteEntry_RejectsWhenNotionalExceedsCap(t *testing.T) {
	e := testEngine()
	e.Cfg.Risk.MaxPositionNotionalPct = 0.001 // tiny cap forces rejection
	positions := map[string]*Position{}
	tradesTodayPerTicker := map[string]int{}
	var fills []FillRecord
	cash := 10000.0

	pe := &pendingEntry{setupTag: "A", signalTS: minute(0), stopBase: 9}
	bar := data.Bar{TS: minute(1), Open: 10}
	e.executeEntry("AAAA", bar, pe, 10000, positions, tradesTodayPerTicker, &cash, &fills)

	assert.Empty(t, positions)
	assert.Empty(t, fills)
}

func TestExecuteEntry_ScaleFractionReducesRiskDollars(t *testing.T) {
	e := testEngine()
	positions := map[string]*Position{}
	tradesTodayPerTicker := map[string]int{}
	var fills []FillRecord
	cash := 10000.0

	pe := &pendingEntry{setupTag: "D_starter", signalTS: minute(0), stopBase: 9, scaleFraction: 0.5}
	bar := data.Bar{TS: minute(1), Open: 10}
	// riskDollars = 0.01*0.5*10000 = 50; risk/share=1 -> qty=50
	e.executeEntry("AAAA", bar, pe, 10000, positions, tradesTodayPerTicker, &cash, &fills)

	require.Contains(t, positions, "AAAA")
	assert.Equal(t, 50, positions["AAAA"].Qty)
}

func TestExecuteExit_ScaleOutReducesQtyAndRaisesStopToBreakeven(t *testing.T) {
	e := testEngine()
	positions := map[string]*Position{
		"AAAA": {Ticker: "AAAA", Qty: 100, OriginalQty: 100, AvgEntry: 10, Stop: 9, TradeID: "t1"},
	}
	rt := &tickerRuntime{
		machine:    strategy.NewMachine("AAAA", config.StrategyConfig{CooldownMinutes: 5}, config.FeaturesConfig{}),
		pendingExt: &pendingExit{kind: strategy.ScaleOut, reason: "scale_1", signalTS: minute(0)},
	}
	cash := 0.0
	realized := 0.0
	var trades []TradeRecord
	var fills []FillRecord

	bar := data.Bar{TS: minute(5), Open: 12}
	e.executeExit("AAAA", bar, positions["AAAA"], rt, positions, &cash, &realized, &trades, &fills)

	pos := positions["AAAA"]
	require.NotNil(t, pos)
	assert.Equal(t, 50, pos.Qty) // 100 * 0.5 scale fraction
	assert.True(t, pos.ScaledOut)
	assert.InDelta(t, 10.0, pos.Stop, 1e-9, "stop raised to breakeven after scale-out")
	assert.InDelta(t, (12.0-10.0)*50, pos.ScalePnLRealized, 1e-9)
	assert.InDelta(t, 12.0*50, cash, 1e-9)
	require.Len(t, fills, 1)
	assert.Equal(t, "SELL", fills[0].Side)
	assert.Empty(t, trades, "scale-out alone must not emit a closed TradeRecord")
}

func TestExecuteExit_FullExitClosesPositionAndRecordsTrade(t *testing.T) {
	e := testEngine()
	positions := map[string]*Position{
		"AAAA": {Ticker: "AAAA", Qty: 100, OriginalQty: 100, AvgEntry: 10, Stop: 10, EntryTS: minute(1), TradeID: "t1"},
	}
	rt := &tickerRuntime{
		machine:    strategy.NewMachine("AAAA", config.StrategyConfig{CooldownMinutes: 5}, config.FeaturesConfig{}),
		pendingExt: &pendingExit{kind: strategy.Exit, reason: strategy.ReasonEMA8Break, signalTS: minute(9)},
	}
	cash := 0.0
	realized := 0.0
	var trades []TradeRecord
	var fills []FillRecord

	bar := data.Bar{TS: minute(10), Open: 11}
	e.executeExit("AAAA", bar, positions["AAAA"], rt, positions, &cash, &realized, &trades, &fills)

	assert.Empty(t, positions, "full exit must remove the position")
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0].TradeID)
	assert.InDelta(t, (11.0-10.0)*100-1.0, trades[0].PnLTotal, 1e-9)
	assert.InDelta(t, trades[0].PnLTotal, realized, 1e-9)
}

func TestClosePosition_AppliesSlippageAndRoundTripFee(t *testing.T) {
	e := testEngine()
	e.Cfg.Fills.SlippageBps = 10 // 10bps = 0.001
	e.Cfg.Fills.SpreadCents = 0.02
	e.Cfg.Fills.FeesPerTrade = 2

	pos := &Position{Ticker: "AAAA", Qty: 10, OriginalQty: 10, AvgEntry: 5, TradeID: "t9"}
	positions := map[string]*Position{"AAAA": pos}
	cash := 0.0
	realized := 0.0
	var trades []TradeRecord
	var fills []FillRecord

	e.closePosition("AAAA", minute(20), 6, strategy.ReasonForceFlat, true, pos, positions, &cash, &realized, &trades, &fills)

	wantPx := 6*(1-0.001) - 0.01
	require.Len(t, trades, 1)
	assert.InDelta(t, wantPx, trades[0].AvgExitPx, 1e-9)
	assert.InDelta(t, (wantPx-5)*10-2, trades[0].PnLTotal, 1e-9)
	assert.Empty(t, positions)
}

func TestClosePosition_NoSlippageUsesRawPriceForForceFlat(t *testing.T) {
	e := testEngine()
	pos := &Position{Ticker: "AAAA", Qty: 5, OriginalQty: 5, AvgEntry: 8, TradeID: "t1"}
	positions := map[string]*Position{"AAAA": pos}
	cash := 0.0
	realized := 0.0
	var trades []TradeRecord
	var fills []FillRecord

	e.closePosition("AAAA", minute(30), 9, strategy.ReasonForceFlat, false, pos, positions, &cash, &realized, &trades, &fills)

	require.Len(t, trades, 1)
	assert.InDelta(t, 9.0, trades[0].AvgExitPx, 1e-9)
	assert.InDelta(t, (9.0-8.0)*5-1.0, trades[0].PnLTotal, 1e-9) // default fee=1 from testEngine
}
