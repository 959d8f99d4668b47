// Package strategy implements the per-ticker intraday signal logic:
// macro/micro filters, entry setups A-E, scale-outs, exits, and
// cooldowns. A Machine carries only its own bookkeeping (cooldown
// timer, today's breakout level, recent feature snapshots) — whether a
// ticker is flat, entered, or scaled out is read from the portfolio's
// PositionView on every bar, never stored here. A Machine never
// consults any bar with ts > the signal bar's ts — every PendingIntent
// it emits is queued by the caller (internal/portfolio) for execution
// at the next bar's open, which is what structurally rules out
// same-bar fills (I2).
package strategy

import (
	"time"

	"github.com/ybi-research/scalp-backtest/internal/config"
	"github.com/ybi-research/scalp-backtest/internal/data"
	"github.com/ybi-research/scalp-backtest/internal/features"
)

// IntentKind distinguishes the three kinds of PendingIntent.
type IntentKind string

const (
	Enter    IntentKind = "enter"
	ScaleOut IntentKind = "scale_out"
	Exit     IntentKind = "exit"
)

// Exit/rejection reason codes referenced by the cooldown law and by
// reporting.
const (
	ReasonStopHit           = "stop_hit"
	ReasonStopHitGapThrough = "stop_hit_gap_through"
	ReasonFailedBreakout    = "failed_breakout"
	ReasonEMA8Break         = "ema8_break_after_hold"
	ReasonTTMBearFlip       = "ttm_bear_flip"
	ReasonOverExtended      = "over_extended_rejection"
	ReasonForceFlat         = "force_flat"
)

// Setup tags, in the priority order §4.5 evaluates them.
const (
	SetupA = "A_pmh_breakout_hold"
	SetupB = "B_vwap_ema_pullback"
	SetupC = "C_double_bottom_reclaim"
	SetupD = "D_starter_probe"
	SetupE = "E_hod_breakout_after_room"
)

// Intent is emitted on bar close at SignalTS and executed by the
// caller at the next bar's open (enter/scale_out/exit) or, for the
// intrabar stop path, immediately within the same bar (see
// internal/portfolio's Phase 4).
type Intent struct {
	Ticker        string
	Kind          IntentKind
	Reason        string
	SignalTS      time.Time
	SetupTag      string
	StopBase      float64 // for Enter
	ScaleFraction float64 // for ScaleOut; on Setup D's Enter, the starter size fraction
}

// PositionView is the strategy's read-only view of the portfolio's
// current position for a ticker; the portfolio is the sole owner of
// mutable position state (§9 design notes).
type PositionView struct {
	Open          bool
	EntryPx       float64
	Stop          float64
	EntryTS       time.Time
	SetupTag      string
	ScaledOut     bool
	BarsHeld      int
	HighestSinceEntry float64
}

// Machine holds one ticker's day-scoped strategy bookkeeping:
// cooldown, today's breakout level, and recent feature history. It
// does not hold position state — PositionView, supplied by the caller
// on every call, is the sole source of truth for flat/entered/scaled.
type Machine struct {
	cfg      config.StrategyConfig
	features config.FeaturesConfig

	ticker string

	cooldownUntil time.Time

	hadBreakoutLegToday bool
	breakoutLevel       float64

	recentSnaps []features.Snapshot // short rolling history for setup B/E
}

// NewMachine constructs fresh per-(ticker, day) strategy bookkeeping.
func NewMachine(ticker string, cfg config.StrategyConfig, featCfg config.FeaturesConfig) *Machine {
	return &Machine{ticker: ticker, cfg: cfg, features: featCfg}
}

// InCooldown reports whether new entries are currently blocked.
func (m *Machine) InCooldown(ts time.Time) bool {
	return ts.Before(m.cooldownUntil)
}

func (m *Machine) armCooldown(ts time.Time) {
	m.cooldownUntil = ts.Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
}

// macroFilter requires price above the 34/55 EMAs and, if configured,
// above the 200-period baseline.
func macroFilter(bar data.Bar, snap features.Snapshot, use200 bool) bool {
	if bar.Close <= snap.EMA34 || bar.Close <= snap.EMA55 {
		return false
	}
	if use200 && snap.BaselineReady && bar.Close <= snap.Baseline200 {
		return false
	}
	return true
}

// microFilter requires price above the 21/8 EMAs and a bullish TTM
// state with bullish momentum.
func microFilter(bar data.Bar, snap features.Snapshot) bool {
	if bar.Close <= snap.EMA21 || bar.Close <= snap.EMA8 {
		return false
	}
	return (snap.TTMState == features.WeakBull || snap.TTMState == features.StrongBull) &&
		snap.MomentumSign == features.Bull
}

// starterMicroFilter relaxes the TTM requirement to weak_bear, used by
// Setup D's starter probe.
func starterMicroFilter(bar data.Bar, snap features.Snapshot) bool {
	if bar.Close <= snap.EMA21 || bar.Close <= snap.EMA8 {
		return false
	}
	return snap.TTMState == features.WeakBear
}

// OnBar evaluates entry setups (when in the entry window and flat) and
// exit/scale conditions (always, once a position is open), returning
// any intents fired on this bar's close. entryWindowOpen gates entries
// only; exit logic runs regardless.
func (m *Machine) OnBar(bar data.Bar, snap features.Snapshot, pos PositionView, entryWindowOpen bool) []Intent {
	m.recentSnaps = append(m.recentSnaps, snap)
	if len(m.recentSnaps) > 60 {
		m.recentSnaps = m.recentSnaps[len(m.recentSnaps)-60:]
	}

	var intents []Intent

	if !pos.Open {
		if entryWindowOpen && !m.InCooldown(bar.TS) && snap.Ready {
			if in := m.evaluateEntrySetups(bar, snap); in != nil {
				intents = append(intents, *in)
			}
		}
		// Track whether a breakout leg has occurred today, for Setup B,
		// independent of whether we actually took the trade.
		if m.cfg.SetupA && !m.hadBreakoutLegToday && bar.Close > snap.PMH {
			m.hadBreakoutLegToday = true
			m.breakoutLevel = snap.PMH
		}
		return intents
	}

	// Exit-side logic: evaluated regardless of the entry window.
	if in := m.evaluateExits(bar, snap, pos); in != nil {
		intents = append(intents, *in)
	}
	return intents
}

// evaluateEntrySetups checks setups A-E in priority order and returns
// the first that fires, or nil.
func (m *Machine) evaluateEntrySetups(bar data.Bar, snap features.Snapshot) *Intent {
	macro := macroFilter(bar, snap, m.cfg.Use200Baseline)

	// Setup A: PMH breakout hold.
	if m.cfg.SetupA && macro && microFilter(bar, snap) {
		if bar.Close > snap.PMH && snap.ExtensionFromEMA8 <= m.features.MaxExtensionForEntry {
			stopBase := snap.PML
			if bar.Low < stopBase || stopBase == 0 {
				stopBase = bar.Low
			}
			if snap.PMH < stopBase {
				stopBase = snap.PMH
			}
			return &Intent{Ticker: m.ticker, Kind: Enter, SetupTag: SetupA, SignalTS: bar.TS, StopBase: minOf(snap.PMH, bar.Low)}
		}
	}

	// Setup B: VWAP/21/8 pullback hold, after a breakout leg today.
	if m.cfg.SetupB && macro && microFilter(bar, snap) && m.hadBreakoutLegToday {
		ref := snap.VWAPRTH
		if snap.EMA21 > ref {
			ref = snap.EMA21
		}
		if m.dippedThenReclaimed(ref) && bar.Close > ref {
			return &Intent{Ticker: m.ticker, Kind: Enter, SetupTag: SetupB, SignalTS: bar.TS, StopBase: ref}
		}
	}

	// Setup C: double bottom + reclaim of EMA8.
	if m.cfg.SetupC && macro && bar.Close > snap.EMA8 && snap.MomentumSign == features.Bull {
		if lo1, lo2, ok := lastTwoPivotLows(snap.Pivots, m.features.LevelClusterTolerance); ok {
			stop := lo1
			if lo2 < stop {
				stop = lo2
			}
			return &Intent{Ticker: m.ticker, Kind: Enter, SetupTag: SetupC, SignalTS: bar.TS, StopBase: stop}
		}
	}

	// Setup D: starter probe, relaxed micro filter, reduced size
	// (sizing itself is the portfolio's job; the fraction is carried
	// on the intent via ScaleFraction reused as a size hint).
	if m.cfg.SetupD && macro && starterMicroFilter(bar, snap) {
		level := nearestKeyLevelBelow(bar.Close, snap)
		if level > 0 && bar.Low <= level*(1+m.features.LevelClusterTolerance) && bar.Close > level {
			return &Intent{Ticker: m.ticker, Kind: Enter, SetupTag: SetupD, SignalTS: bar.TS, StopBase: level, ScaleFraction: m.cfg.StarterFraction}
		}
	}

	// Setup E: HOD breakout after a measurable pullback.
	if m.cfg.SetupE && macro && microFilter(bar, snap) {
		if m.hadMeasurablePullback() && bar.Close > snap.EMA21 && bar.Close >= snap.HODSoFar*0.999 {
			return &Intent{Ticker: m.ticker, Kind: Enter, SetupTag: SetupE, SignalTS: bar.TS, StopBase: snap.EMA21}
		}
	}

	return nil
}

// evaluateExits checks the intrabar-independent (close-driven) exit
// signals and scale-out condition. The intrabar stop/gap-through check
// itself is the portfolio's responsibility (Phase 4), since it must
// fire same-bar rather than be queued for next-bar open.
func (m *Machine) evaluateExits(bar data.Bar, snap features.Snapshot, pos PositionView) *Intent {
	if !pos.ScaledOut {
		target := m.scaleTarget(pos.EntryPx, snap)
		if target > 0 && bar.High >= target {
			return &Intent{Ticker: m.ticker, Kind: ScaleOut, SignalTS: bar.TS, ScaleFraction: m.cfg.ScaleFraction, Reason: "scale_target_touch"}
		}
	}

	if bar.Close < snap.EMA8 && pos.BarsHeld >= m.cfg.MinHoldBarsExit {
		return &Intent{Ticker: m.ticker, Kind: Exit, SignalTS: bar.TS, Reason: ReasonEMA8Break}
	}

	if (snap.TTMState == features.WeakBear || snap.TTMState == features.StrongBear) && snap.MomentumSign == features.Bear {
		return &Intent{Ticker: m.ticker, Kind: Exit, SignalTS: bar.TS, Reason: ReasonTTMBearFlip}
	}

	if lvl := nearestResistanceAbove(pos.EntryPx, snap); lvl > 0 && bar.High > lvl && bar.Close < lvl {
		return &Intent{Ticker: m.ticker, Kind: Exit, SignalTS: bar.TS, Reason: ReasonFailedBreakout}
	}

	if snap.ExtensionFromEMA8 > m.features.MaxExtensionForExit && bar.Close < bar.Open {
		return &Intent{Ticker: m.ticker, Kind: Exit, SignalTS: bar.TS, Reason: ReasonOverExtended}
	}

	return nil
}

// RecordExit updates cooldown state; called by the portfolio after it
// commits an exit fill, passing back the reason actually realised
// (which may differ from the evaluateExits reason for intrabar stops).
func (m *Machine) RecordExit(ts time.Time, reason string) {
	if reason == ReasonStopHit || reason == ReasonStopHitGapThrough || reason == ReasonFailedBreakout {
		m.armCooldown(ts)
	}
}

// dippedThenReclaimed looks at the short rolling history for a shallow
// dip below ref followed by the current bar reclaiming it.
func (m *Machine) dippedThenReclaimed(ref float64) bool {
	n := len(m.recentSnaps)
	if n < 3 {
		return false
	}
	// Look back up to seven bars (excluding the current one, already
	// appended) for one whose EMA8 sat below ref.
	for i := n - 2; i >= 0 && i >= n-8; i-- {
		if m.recentSnaps[i].EMA8 < ref {
			return true
		}
	}
	return false
}

// hadMeasurablePullback reports whether, over the last 20 snapshots,
// the lowest EMA8 sat more than 1% below the highest HOD-so-far.
func (m *Machine) hadMeasurablePullback() bool {
	n := len(m.recentSnaps)
	if n < 5 {
		return false
	}
	cur := m.recentSnaps[n-1]
	maxHOD := cur.HODSoFar
	minAfterHOD := cur.HODSoFar
	for i := n - 2; i >= 0 && i >= n-20; i-- {
		s := m.recentSnaps[i]
		if s.HODSoFar > maxHOD {
			maxHOD = s.HODSoFar
		}
		if s.EMA8 < minAfterHOD {
			minAfterHOD = s.EMA8
		}
	}
	return maxHOD > 0 && (maxHOD-minAfterHOD)/maxHOD > 0.01
}

func lastTwoPivotLows(pivots []features.Pivot, tolerance float64) (lo1, lo2 float64, ok bool) {
	var lows []features.Pivot
	for _, p := range pivots {
		if !p.High {
			lows = append(lows, p)
		}
	}
	if len(lows) < 2 {
		return 0, 0, false
	}
	a, b := lows[len(lows)-2], lows[len(lows)-1]
	if a.Price == 0 {
		return 0, 0, false
	}
	if absf(a.Price-b.Price)/a.Price <= tolerance*5 {
		return a.Price, b.Price, true
	}
	return 0, 0, false
}

// scaleTarget resolves the scale-out trigger price: the configured
// level expression when set, else the nearest resistance above entry.
// A malformed or unevaluable expression falls back to the built-in
// selection rather than silently disabling scale-outs for the day.
func (m *Machine) scaleTarget(entry float64, snap features.Snapshot) float64 {
	if m.cfg.ScaleTargetExpr != "" {
		if v, err := evaluateLevelExpression(m.cfg.ScaleTargetExpr, snap); err == nil && v > entry {
			return v
		}
	}
	return nearestResistanceAbove(entry, snap)
}

func nearestResistanceAbove(entry float64, snap features.Snapshot) float64 {
	best := 0.0
	consider := func(lvl float64) {
		if lvl > entry && (best == 0 || lvl < best) {
			best = lvl
		}
	}
	consider(snap.PMH)
	consider(snap.PDH)
	for _, p := range snap.Pivots {
		if p.High {
			consider(p.Price)
		}
	}
	for _, lvl := range snap.RoundLevels {
		consider(lvl)
	}
	return best
}

func nearestKeyLevelBelow(price float64, snap features.Snapshot) float64 {
	best := 0.0
	consider := func(lvl float64) {
		if lvl > 0 && lvl < price && lvl > best {
			best = lvl
		}
	}
	consider(snap.PMH)
	consider(snap.PDL)
	consider(snap.VWAPRTH)
	for _, lvl := range snap.RoundLevels {
		consider(lvl)
	}
	return best
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
