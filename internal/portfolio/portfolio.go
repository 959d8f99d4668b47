// Package portfolio is the event-driven simulator (C6): a single,
// per-day, time-ordered event loop across every watchlisted ticker,
// owning one mutable cash portfolio. Every timestamp runs four phases
// in a fixed order (mark-to-market, execute pending intents, feature
// and signal generation, intrabar risk check), so the only way an
// intent reaches a fill is through the queue populated one bar
// earlier — same-bar fills are structurally impossible (I2).
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ybi-research/scalp-backtest/internal/calendar"
	"github.com/ybi-research/scalp-backtest/internal/config"
	"github.com/ybi-research/scalp-backtest/internal/data"
	"github.com/ybi-research/scalp-backtest/internal/errs"
	"github.com/ybi-research/scalp-backtest/internal/features"
	"github.com/ybi-research/scalp-backtest/internal/logger"
	"github.com/ybi-research/scalp-backtest/internal/strategy"
	"github.com/ybi-research/scalp-backtest/internal/universe"
)

// Position is a single ticker's open long position, qty > 0 while
// open. Mutated only by scale-outs (reducing qty, raising stop) and
// destroyed on final SELL.
type Position struct {
	Ticker            string
	Qty               int
	OriginalQty       int
	AvgEntry          float64
	Stop              float64
	EntryTS           time.Time
	SignalTS          time.Time
	SetupTag          string
	ScaledOut         bool
	ScalePnLRealized  float64
	BarsHeld          int
	TradeID           string
}

// TradeRecord is a closed round trip.
type TradeRecord struct {
	TradeID         string
	Ticker          string
	SetupTag        string
	EntryTS         time.Time
	ExitTS          time.Time
	SignalTS        time.Time
	EntryPx         float64
	AvgExitPx       float64
	OriginalQty     int
	ScalePnL        float64
	FinalExitPnL    float64
	Fees            float64
	PnLTotal        float64
	ExitReason      string
	StopPxInitial   float64
	BarsHeld        int
}

// FillRecord is one child execution against the cash ledger.
type FillRecord struct {
	TS            time.Time
	Ticker        string
	Side          string // BUY | SELL
	Qty           int
	Price         float64
	Fee           float64
	IntentKind    string
	Reason        string
	LinkedTradeID string
}

// DayAudit records the outcome of simulating a single calendar day.
type DayAudit struct {
	Date   time.Time
	Status string // ok | no_trades | no_watchlist | error | holiday_closed
	Reason string
}

// Result accumulates every artifact produced across the requested date
// range.
type Result struct {
	Watchlist []universe.WatchlistItem
	Trades    []TradeRecord
	Fills     []FillRecord
	DayAudits []DayAudit
}

// Engine runs the per-day simulation loop.
type Engine struct {
	Cfg      *config.Config
	Cal      *calendar.Calendar
	Provider data.Provider
	Universe *universe.Builder
}

type pendingEntry struct {
	setupTag      string
	signalTS      time.Time
	stopBase      float64
	scaleFraction float64 // starter-size hint from Setup D, 0 means full size
}

type pendingExit struct {
	kind     strategy.IntentKind // ScaleOut | Exit
	reason   string
	signalTS time.Time
}

// tickerRuntime bundles the per-ticker mutable state carried across
// the event loop for a single day.
type tickerRuntime struct {
	bars       []data.Bar
	barIdx     map[int64]int // unix ts -> index into bars
	pipeline   *features.Pipeline
	machine    *strategy.Machine
	lastPrice  float64
	lastSnap   features.Snapshot
	haveSnap   bool
	pendingEnt *pendingEntry
	pendingExt *pendingExit
}

// Run simulates every trading day in [start, end] and returns the
// accumulated artifacts. Per-day failures of type ErrDataUnavailable
// are caught and downgraded to a status=error DayAudit rather than
// aborting the run; invariant violations propagate as hard errors.
// Equity compounds across days: the first day starts from
// Cfg.Risk.StartingEquity, and every later day starts from the prior
// day's ending cash (no position ever survives force-flat, so ending
// cash on a traded day is exactly that day's ending equity).
func (e *Engine) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	res := &Result{}
	equity := e.Cfg.Risk.StartingEquity

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !e.Cal.IsTradingDay(d) {
			res.DayAudits = append(res.DayAudits, DayAudit{Date: d, Status: "holiday_closed"})
			continue
		}

		audit, trades, fills, watchlist, endingEquity, err := e.runDay(ctx, d, equity)
		if err != nil {
			return res, err // invariant violations are hard failures
		}
		equity = endingEquity
		res.DayAudits = append(res.DayAudits, audit)
		res.Trades = append(res.Trades, trades...)
		res.Fills = append(res.Fills, fills...)
		res.Watchlist = append(res.Watchlist, watchlist...)
	}

	return res, nil
}

// runDay simulates one calendar day end to end, downgrading
// ErrDataUnavailable to a status=error audit instead of propagating.
// startingEquity seeds the day's cash balance; the returned float64 is
// the day's ending equity, to be threaded into the next trading day.
func (e *Engine) runDay(ctx context.Context, d time.Time, startingEquity float64) (DayAudit, []TradeRecord, []FillRecord, []universe.WatchlistItem, float64, error) {
	watchlist, err := e.Universe.Build(ctx, d)
	if err != nil {
		if !errors.Is(err, errs.ErrDataUnavailable) {
			return DayAudit{}, nil, nil, nil, startingEquity, err
		}
		logger.Errorf("event=day_error date=%s err=%v", d.Format("2006-01-02"), err)
		return DayAudit{Date: d, Status: "error", Reason: err.Error()}, nil, nil, nil, startingEquity, nil
	}
	if len(watchlist) == 0 {
		return DayAudit{Date: d, Status: "no_watchlist"}, nil, nil, nil, startingEquity, nil
	}

	entryStart, entryEnd, err := e.Cal.EntryWindow(d)
	if err != nil {
		return DayAudit{Date: d, Status: "error", Reason: err.Error()}, nil, nil, watchlist, startingEquity, nil
	}
	forceFlatAt, err := e.Cal.ForceFlat(d)
	if err != nil {
		return DayAudit{Date: d, Status: "error", Reason: err.Error()}, nil, nil, watchlist, startingEquity, nil
	}

	runtimes := map[string]*tickerRuntime{}
	for _, item := range watchlist {
		allBars, err := e.Provider.MinuteBars(ctx, item.Ticker, d, true)
		if err != nil {
			logger.Debugf("event=ticker_data_unavailable ticker=%s date=%s err=%v", item.Ticker, d.Format("2006-01-02"), err)
			continue
		}
		if len(allBars) == 0 {
			continue
		}

		prevDate, err := e.Cal.PrevTradingDay(d, nil)
		var pdh, pdl float64
		if err == nil {
			if daily, derr := e.Provider.DailyBars(ctx, item.Ticker, prevDate, prevDate); derr == nil && len(daily) == 1 {
				pdh, pdl = daily[0].High, daily[0].Low
			}
		}

		pipeline := features.NewPipeline(e.Cfg.Features, pdh, pdl)

		var warmup, loop []data.Bar
		for _, b := range allBars {
			if b.TS.Before(entryStart) {
				warmup = append(warmup, b)
			} else {
				loop = append(loop, b)
			}
		}
		pipeline.Warmup(warmup)
		if len(loop) == 0 {
			continue
		}

		idx := make(map[int64]int, len(loop))
		for i, b := range loop {
			idx[b.TS.Unix()] = i
		}

		runtimes[item.Ticker] = &tickerRuntime{
			bars:     loop,
			barIdx:   idx,
			pipeline: pipeline,
			machine:  strategy.NewMachine(item.Ticker, e.Cfg.Strategy, e.Cfg.Features),
		}
	}

	if len(runtimes) == 0 {
		return DayAudit{Date: d, Status: "no_trades"}, nil, nil, watchlist, startingEquity, nil
	}

	timeline := mergedTimeline(runtimes)

	positions := map[string]*Position{}
	cash := startingEquity
	realizedPnLToday := 0.0
	tradesTodayPerTicker := map[string]int{}

	var trades []TradeRecord
	var fills []FillRecord

	for _, ts := range timeline {
		// Phase 1: mark-to-market using prices known at bar open.
		equityAtOpen := cash
		for ticker, pos := range positions {
			rt := runtimes[ticker]
			price := rt.lastPrice
			if i, ok := rt.barIdx[ts.Unix()]; ok {
				price = rt.bars[i].Open
			}
			equityAtOpen += float64(pos.Qty) * price
		}
		for _, rt := range runtimes {
			if i, ok := rt.barIdx[ts.Unix()]; ok {
				rt.lastPrice = rt.bars[i].Open
			}
		}

		// Phase 2: execute pending intents queued from the prior bar.
		// Exits before entries, sorted by ticker, to avoid spurious
		// over-allocation against the same equity snapshot.
		tickers := make([]string, 0, len(runtimes))
		for t := range runtimes {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)

		for _, ticker := range tickers {
			rt := runtimes[ticker]
			i, hasBar := rt.barIdx[ts.Unix()]
			if !hasBar || rt.pendingExt == nil {
				continue
			}
			bar := rt.bars[i]
			pos, open := positions[ticker]
			if !open {
				rt.pendingExt = nil
				continue
			}
			e.executeExit(ticker, bar, pos, rt, positions, &cash, &realizedPnLToday, &trades, &fills)
		}

		for _, ticker := range tickers {
			rt := runtimes[ticker]
			i, hasBar := rt.barIdx[ts.Unix()]
			if !hasBar || rt.pendingEnt == nil {
				continue
			}
			bar := rt.bars[i]
			if _, open := positions[ticker]; open {
				rt.pendingEnt = nil
				continue
			}
			e.executeEntry(ticker, bar, rt.pendingEnt, equityAtOpen, positions, tradesTodayPerTicker, &cash, &fills)
			rt.pendingEnt = nil
		}

		// Phase 3: feature update & signal generation on this bar's close.
		entryWindowOpen := !ts.Before(entryStart) && !ts.After(entryEnd)
		for _, ticker := range tickers {
			rt := runtimes[ticker]
			i, hasBar := rt.barIdx[ts.Unix()]
			if !hasBar {
				continue
			}
			bar := rt.bars[i]
			snap := rt.pipeline.OnBar(bar)
			rt.lastSnap, rt.haveSnap = snap, true
			rt.lastPrice = bar.Close

			pos, open := positions[ticker]
			pv := strategy.PositionView{}
			if open {
				pos.BarsHeld++
				pv = strategy.PositionView{
					Open: true, EntryPx: pos.AvgEntry, Stop: pos.Stop,
					EntryTS: pos.EntryTS, SetupTag: pos.SetupTag,
					ScaledOut: pos.ScaledOut, BarsHeld: pos.BarsHeld,
				}
			}

			gateOK := !open && tradesTodayPerTicker[ticker] < e.Cfg.Risk.MaxTradesPerDay &&
				realizedPnLToday > -e.Cfg.Risk.MaxDailyLossDollars
			intents := rt.machine.OnBar(bar, snap, pv, entryWindowOpen && gateOK)

			for _, in := range intents {
				switch in.Kind {
				case strategy.Enter:
					rt.pendingEnt = &pendingEntry{setupTag: in.SetupTag, signalTS: in.SignalTS, stopBase: in.StopBase, scaleFraction: in.ScaleFraction}
				case strategy.ScaleOut, strategy.Exit:
					rt.pendingExt = &pendingExit{kind: in.Kind, reason: in.Reason, signalTS: in.SignalTS}
				}
			}
		}

		// Phase 4: intrabar risk check (stop / gap-through / mandatory
		// end-of-day liquidation), fires immediately against this same
		// bar rather than being queued.
		for _, ticker := range tickers {
			rt := runtimes[ticker]
			i, hasBar := rt.barIdx[ts.Unix()]
			if !hasBar {
				continue
			}
			bar := rt.bars[i]
			pos, open := positions[ticker]
			if !open {
				continue
			}

			if !bar.TS.Before(forceFlatAt) {
				e.closePosition(ticker, bar.TS, bar.Close, strategy.ReasonForceFlat, false, pos, positions, &cash, &realizedPnLToday, &trades, &fills)
				rt.machine.RecordExit(bar.TS, strategy.ReasonForceFlat)
				rt.pendingExt = nil
				continue
			}

			reason := ""
			switch {
			case bar.Open <= pos.Stop:
				reason = strategy.ReasonStopHitGapThrough
			case bar.Low <= pos.Stop:
				reason = strategy.ReasonStopHit
			}
			if reason == "" {
				continue
			}
			stopPx := pos.Stop
			if reason == strategy.ReasonStopHitGapThrough {
				stopPx = bar.Open
			}
			e.closePosition(ticker, bar.TS, stopPx, reason, true, pos, positions, &cash, &realizedPnLToday, &trades, &fills)
			rt.machine.RecordExit(bar.TS, reason)
			rt.pendingExt = nil
		}
	}

	// Force-flat: close every remaining open position, in ticker order,
	// on its own last bar of the day, never a global last timestamp.
	flat := make([]string, 0, len(positions))
	for ticker := range positions {
		flat = append(flat, ticker)
	}
	sort.Strings(flat)
	for _, ticker := range flat {
		pos := positions[ticker]
		rt := runtimes[ticker]
		last := rt.bars[len(rt.bars)-1]
		e.closePosition(ticker, last.TS, last.Close, strategy.ReasonForceFlat, false, pos, positions, &cash, &realizedPnLToday, &trades, &fills)
	}
	if len(positions) != 0 {
		return DayAudit{}, nil, nil, nil, startingEquity, fmt.Errorf("portfolio: %w: %d positions remained open after force-flat on %s", errs.ErrInvariantViolation, len(positions), d.Format("2006-01-02"))
	}

	status := "ok"
	if len(trades) == 0 {
		status = "no_trades"
	}
	return DayAudit{Date: d, Status: status}, trades, fills, watchlist, cash, nil
}

// executeEntry sizes and commits (or rejects) a pending enter intent.
func (e *Engine) executeEntry(
	ticker string, bar data.Bar, pe *pendingEntry, equityAtOpen float64,
	positions map[string]*Position, tradesTodayPerTicker map[string]int,
	cash *float64, fills *[]FillRecord,
) {
	slip := e.Cfg.Fills.SlippageBps / 1e4
	entryPx := bar.Open*(1+slip) + e.Cfg.Fills.SpreadCents/2
	stopPx := pe.stopBase

	if stopPx >= entryPx {
		logger.Debugf("event=strategy_rejection ticker=%s reason=%s", ticker, "stop_not_below_entry")
		return
	}

	riskPct := e.Cfg.Risk.RiskPerTradePct
	if pe.scaleFraction > 0 {
		riskPct *= pe.scaleFraction
	}
	riskDollars := riskPct * equityAtOpen
	qty := int(math.Floor(riskDollars / (entryPx - stopPx)))
	if qty < 1 {
		logger.Debugf("event=strategy_rejection ticker=%s reason=%s", ticker, "qty_lt_1")
		return
	}
	if entryPx*float64(qty) > e.Cfg.Risk.MaxPositionNotionalPct*equityAtOpen {
		logger.Debugf("event=strategy_rejection ticker=%s reason=%s", ticker, "notional_cap")
		return
	}

	tradeID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(ticker+"|"+bar.TS.Format(time.RFC3339Nano))).String()
	*cash -= entryPx * float64(qty)
	positions[ticker] = &Position{
		Ticker: ticker, Qty: qty, OriginalQty: qty, AvgEntry: entryPx, Stop: stopPx,
		EntryTS: bar.TS, SignalTS: pe.signalTS, SetupTag: pe.setupTag, TradeID: tradeID,
	}
	tradesTodayPerTicker[ticker]++ // I7: increments at BUY fill, never at exit

	*fills = append(*fills, FillRecord{
		TS: bar.TS, Ticker: ticker, Side: "BUY", Qty: qty, Price: entryPx,
		Fee: 0, IntentKind: string(strategy.Enter), LinkedTradeID: tradeID,
	})
	logger.Debugf("event=fill side=BUY ticker=%s qty=%d px=%.4f setup=%s", ticker, qty, entryPx, pe.setupTag)
}

// executeExit commits a queued scale-out or full exit.
func (e *Engine) executeExit(
	ticker string, bar data.Bar, pos *Position, rt *tickerRuntime,
	positions map[string]*Position, cash *float64, realizedPnLToday *float64,
	trades *[]TradeRecord, fills *[]FillRecord,
) {
	pe := rt.pendingExt
	slip := e.Cfg.Fills.SlippageBps / 1e4
	exitPx := bar.Open*(1-slip) - e.Cfg.Fills.SpreadCents/2

	if pe.kind == strategy.ScaleOut {
		qty := int(math.Floor(float64(pos.OriginalQty) * e.Cfg.Strategy.ScaleFraction))
		if qty < 1 {
			qty = 1
		}
		if qty >= pos.Qty {
			qty = pos.Qty - 1
		}
		if qty < 1 {
			return
		}
		*cash += exitPx * float64(qty)
		scalePnL := (exitPx - pos.AvgEntry) * float64(qty)
		pos.ScalePnLRealized += scalePnL
		pos.Qty -= qty
		pos.ScaledOut = true
		if pos.Stop < pos.AvgEntry {
			pos.Stop = pos.AvgEntry
		}

		*fills = append(*fills, FillRecord{
			TS: bar.TS, Ticker: ticker, Side: "SELL", Qty: qty, Price: exitPx,
			Fee: 0, IntentKind: string(strategy.ScaleOut), Reason: pe.reason, LinkedTradeID: pos.TradeID,
		})
		logger.Debugf("event=fill side=SELL ticker=%s qty=%d px=%.4f kind=scale_out", ticker, qty, exitPx)
		rt.machine.RecordExit(bar.TS, pe.reason)
		return
	}

	e.closePosition(ticker, bar.TS, bar.Open, pe.reason, true, pos, positions, cash, realizedPnLToday, trades, fills)
	rt.machine.RecordExit(bar.TS, pe.reason)
}

// closePosition books the final SELL for pos, applies the one-time
// round-trip fee, emits the TradeRecord, and removes pos from
// positions. When applySlippage is true, exitPx is a raw reference
// price (the bar open for a queued exit, the stop or gap-through open
// for a stop exit) and the slippage/spread adjustment is applied here,
// once; when false (force-flat), the raw bar close is used without
// further adjustment since there is no discretionary fill to protect
// against adverse selection.
func (e *Engine) closePosition(
	ticker string, ts time.Time, exitPx float64, reason string, applySlippage bool,
	pos *Position, positions map[string]*Position, cash *float64, realizedPnLToday *float64,
	trades *[]TradeRecord, fills *[]FillRecord,
) {
	px := exitPx
	if applySlippage {
		slip := e.Cfg.Fills.SlippageBps / 1e4
		px = exitPx*(1-slip) - e.Cfg.Fills.SpreadCents/2
	}

	fee := e.Cfg.Fills.FeesPerTrade
	*cash += px * float64(pos.Qty)
	*cash -= fee

	finalExitPnL := (px - pos.AvgEntry) * float64(pos.Qty)
	pnlTotal := pos.ScalePnLRealized + finalExitPnL - fee
	*realizedPnLToday += pnlTotal

	*fills = append(*fills, FillRecord{
		TS: ts, Ticker: ticker, Side: "SELL", Qty: pos.Qty, Price: px, Fee: fee,
		IntentKind: string(strategy.Exit), Reason: reason, LinkedTradeID: pos.TradeID,
	})

	*trades = append(*trades, TradeRecord{
		TradeID: pos.TradeID, Ticker: ticker, SetupTag: pos.SetupTag,
		EntryTS: pos.EntryTS, ExitTS: ts, SignalTS: pos.SignalTS,
		EntryPx: pos.AvgEntry, AvgExitPx: px, OriginalQty: pos.OriginalQty,
		ScalePnL: pos.ScalePnLRealized, FinalExitPnL: finalExitPnL, Fees: fee,
		PnLTotal: pnlTotal, ExitReason: reason, StopPxInitial: pos.Stop, BarsHeld: pos.BarsHeld,
	})

	logger.Debugf("event=fill side=SELL ticker=%s qty=%d px=%.4f kind=exit reason=%s pnl=%.2f", ticker, pos.Qty, px, reason, pnlTotal)
	delete(positions, ticker)
}

// mergedTimeline returns the strictly increasing union of every
// runtime's bar timestamps for the day.
func mergedTimeline(runtimes map[string]*tickerRuntime) []time.Time {
	seen := map[int64]time.Time{}
	for _, rt := range runtimes {
		for _, b := range rt.bars {
			seen[b.TS.Unix()] = b.TS
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
