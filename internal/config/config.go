// Package config loads and validates the YAML run configuration for the
// backtest engine: session windows, universe filters, watchlist method,
// feature parameters, strategy toggles, risk gates, fill model, and the
// inference block. Every value recognised here is echoed verbatim into
// run_metadata.json so a run can be reproduced from its own output.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Default values applied by Normalize when a section is omitted or a
// field is left at its zero value.
const (
	defaultEntryWindowStart = "09:30"
	defaultEntryWindowEnd   = "11:00"
	defaultForceFlatTime    = "16:00"

	defaultTopN                   = 20
	defaultMaxCandidatesToScan     = 200
	defaultBootstrapBlockLen       = 5
	defaultNBootstrap              = 10000
	defaultScaleFraction            = 0.5
	defaultStarterFraction           = 0.2
	defaultCooldownMinutes          = 15
	defaultRiskPerTradePct          = 0.01
	defaultMaxPositionNotionalPct    = 0.25
	defaultMaxTradesPerDay           = 3
	defaultMaxDailyLossDollars       = 1000.0
	defaultFeesPerTrade              = 1.0
	defaultStartingEquity            = 100000.0
)

// Config is the complete resolved run configuration.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Universe  UniverseConfig  `yaml:"universe"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	Features  FeaturesConfig  `yaml:"features"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Fills     FillsConfig     `yaml:"fills"`
	Inference InferenceConfig `yaml:"inference"`
}

// SessionConfig defines the entry window and the mandatory end-of-day
// liquidation time, all in US/Eastern clock time "HH:MM".
type SessionConfig struct {
	EntryWindowStart string `yaml:"entry_window_start"`
	EntryWindowEnd   string `yaml:"entry_window_end"`
	ForceFlatTime    string `yaml:"force_flat_time"`
}

// UniverseConfig defines price-range and reference-data hygiene filters
// applied before a ticker is even considered a watchlist candidate.
type UniverseConfig struct {
	PriceMin              float64 `yaml:"price_min"`
	PriceMax              float64 `yaml:"price_max"`
	UseReferenceData      bool    `yaml:"use_reference_data"`
	MaxCandidatesToScan   int     `yaml:"max_candidates_to_scan"`
}

// WatchlistConfig selects exactly one ranking method and its thresholds.
type WatchlistConfig struct {
	Method                   string  `yaml:"method"` // gap_open | premarket_gap
	TopN                     int     `yaml:"top_n"`
	MinPremarketPct          float64 `yaml:"min_premarket_pct"`
	MinPremarketVolume       float64 `yaml:"min_premarket_volume"`
	MinPremarketDollarVolume float64 `yaml:"min_premarket_dollar_volume"`
}

// FeaturesConfig governs the 200-period baseline, pivot detection, level
// clustering and extension limits used by the causal feature pipeline
// and the strategy. EMAPeriods is loaded and echoed into run metadata
// only: the pipeline's EMA periods are fixed at 8/21/34/55.
type FeaturesConfig struct {
	EMAPeriods            []int   `yaml:"ema_periods"`
	Baseline200           string  `yaml:"baseline_200"` // "ema" | "sma"
	PivotWindow           int     `yaml:"pivot_window"`
	LevelClusterTolerance float64 `yaml:"level_cluster_tolerance"`
	MaxExtensionForEntry  float64 `yaml:"max_extension_for_entry"`
	MaxExtensionForExit   float64 `yaml:"max_extension_for_exit"`
}

// StrategyConfig toggles setups A-E and sets their shared parameters.
type StrategyConfig struct {
	SetupA          bool    `yaml:"setup_a"`
	SetupB          bool    `yaml:"setup_b"`
	SetupC          bool    `yaml:"setup_c"`
	SetupD          bool    `yaml:"setup_d"`
	SetupE          bool    `yaml:"setup_e"`
	StarterFraction float64 `yaml:"starter_fraction"`
	ScaleFraction   float64 `yaml:"scale_fraction"`
	CooldownMinutes int     `yaml:"cooldown_minutes"`
	Use200Baseline  bool    `yaml:"use_200_baseline"`
	MinHoldBarsExit int     `yaml:"min_hold_bars_exit"`

	// ScaleTargetExpr, when non-empty, overrides the default
	// nearest-resistance scale-out target with a level expression such
	// as "{VWAP} + ({PMH}-{VWAP})*0.5", substituting named levels from
	// the current feature snapshot before evaluation. Empty keeps the
	// built-in nearest-resistance-above selection.
	ScaleTargetExpr string `yaml:"scale_target_expr"`
}

// RiskConfig bounds position sizing and daily loss.
type RiskConfig struct {
	RiskPerTradePct        float64 `yaml:"risk_per_trade_pct"`
	MaxPositionNotionalPct float64 `yaml:"max_position_notional_pct"`
	MaxTradesPerDay        int     `yaml:"max_trades_per_day"`
	MaxDailyLossDollars    float64 `yaml:"max_daily_loss_dollars"`

	// StartingEquity seeds the portfolio's cash balance on the first
	// simulated day; every subsequent day carries forward the prior
	// day's ending equity (no positions survive a day, so a day's
	// ending cash is exactly the next day's starting equity). Entry
	// sizing (risk_per_trade_pct · equity) is computed against this
	// running balance, not a fixed notional.
	StartingEquity float64 `yaml:"starting_equity"`
}

// FillsConfig parameterises the slippage/spread/fee model.
type FillsConfig struct {
	SlippageBps  float64 `yaml:"slippage_bps"`
	SpreadCents  float64 `yaml:"spread_cents"`
	FeesPerTrade float64 `yaml:"fees_per_trade"`
}

// InferenceConfig controls HAC lag selection inputs and the block
// bootstrap's resample count and seed.
type InferenceConfig struct {
	BootstrapBlockLen int   `yaml:"bootstrap_block_len"`
	NBootstrap        int   `yaml:"n_bootstrap"`
	RandomSeed        int64 `yaml:"random_seed"`
}

// Load reads, expands environment variables in, parses, defaults, and
// validates the configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config error: path is required")
	}

	raw, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied CLI argument
	if err != nil {
		return nil, fmt.Errorf("config error: reading %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config error: parsing %q: %w", path, err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return &cfg, nil
}

// Normalize fills in the defaults named in the external-interfaces
// section so an operator's config file may omit anything not being
// actively tuned.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Session.EntryWindowStart) == "" {
		c.Session.EntryWindowStart = defaultEntryWindowStart
	}
	if strings.TrimSpace(c.Session.EntryWindowEnd) == "" {
		c.Session.EntryWindowEnd = defaultEntryWindowEnd
	}
	if strings.TrimSpace(c.Session.ForceFlatTime) == "" {
		c.Session.ForceFlatTime = defaultForceFlatTime
	}

	if c.Universe.MaxCandidatesToScan == 0 {
		c.Universe.MaxCandidatesToScan = defaultMaxCandidatesToScan
	}

	if c.Watchlist.Method == "" {
		c.Watchlist.Method = "gap_open"
	}
	if c.Watchlist.TopN == 0 {
		c.Watchlist.TopN = defaultTopN
	}

	if len(c.Features.EMAPeriods) == 0 {
		c.Features.EMAPeriods = []int{8, 21, 34, 55}
	}
	if c.Features.Baseline200 == "" {
		c.Features.Baseline200 = "ema"
	}
	if c.Features.PivotWindow == 0 {
		c.Features.PivotWindow = 5
	}
	if c.Features.LevelClusterTolerance == 0 {
		c.Features.LevelClusterTolerance = 0.002
	}

	if c.Strategy.StarterFraction == 0 {
		c.Strategy.StarterFraction = defaultStarterFraction
	}
	if c.Strategy.ScaleFraction == 0 {
		c.Strategy.ScaleFraction = defaultScaleFraction
	}
	if c.Strategy.CooldownMinutes == 0 {
		c.Strategy.CooldownMinutes = defaultCooldownMinutes
	}
	if c.Strategy.MinHoldBarsExit == 0 {
		c.Strategy.MinHoldBarsExit = 10
	}

	if c.Risk.RiskPerTradePct == 0 {
		c.Risk.RiskPerTradePct = defaultRiskPerTradePct
	}
	if c.Risk.MaxPositionNotionalPct == 0 {
		c.Risk.MaxPositionNotionalPct = defaultMaxPositionNotionalPct
	}
	if c.Risk.MaxTradesPerDay == 0 {
		c.Risk.MaxTradesPerDay = defaultMaxTradesPerDay
	}
	if c.Risk.MaxDailyLossDollars == 0 {
		c.Risk.MaxDailyLossDollars = defaultMaxDailyLossDollars
	}
	if c.Risk.StartingEquity == 0 {
		c.Risk.StartingEquity = defaultStartingEquity
	}

	if c.Fills.FeesPerTrade == 0 {
		c.Fills.FeesPerTrade = defaultFeesPerTrade
	}

	if c.Inference.BootstrapBlockLen == 0 {
		c.Inference.BootstrapBlockLen = defaultBootstrapBlockLen
	}
	if c.Inference.NBootstrap == 0 {
		c.Inference.NBootstrap = defaultNBootstrap
	}
}

// Validate checks internal consistency beyond what Normalize can default.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return fmt.Errorf("loading America/New_York: %w", err)
	}

	start, err := time.ParseInLocation("15:04", c.Session.EntryWindowStart, loc)
	if err != nil {
		return fmt.Errorf("session.entry_window_start invalid: %w", err)
	}
	end, err := time.ParseInLocation("15:04", c.Session.EntryWindowEnd, loc)
	if err != nil {
		return fmt.Errorf("session.entry_window_end invalid: %w", err)
	}
	if !start.Before(end) {
		return fmt.Errorf("session.entry_window_start must be before entry_window_end")
	}
	if _, err := time.ParseInLocation("15:04", c.Session.ForceFlatTime, loc); err != nil {
		return fmt.Errorf("session.force_flat_time invalid: %w", err)
	}

	switch c.Watchlist.Method {
	case "gap_open", "premarket_gap":
	default:
		return fmt.Errorf("watchlist.method must be gap_open or premarket_gap, got %q", c.Watchlist.Method)
	}
	if c.Watchlist.TopN <= 0 {
		return fmt.Errorf("watchlist.top_n must be > 0")
	}

	switch c.Features.Baseline200 {
	case "ema", "sma":
	default:
		return fmt.Errorf("features.baseline_200 must be ema or sma, got %q", c.Features.Baseline200)
	}

	if c.Strategy.ScaleFraction <= 0 || c.Strategy.ScaleFraction >= 1 {
		return fmt.Errorf("strategy.scale_fraction must be in (0,1)")
	}
	if c.Strategy.StarterFraction <= 0 || c.Strategy.StarterFraction >= 1 {
		return fmt.Errorf("strategy.starter_fraction must be in (0,1)")
	}

	if c.Risk.RiskPerTradePct <= 0 {
		return fmt.Errorf("risk.risk_per_trade_pct must be > 0")
	}
	if c.Risk.MaxPositionNotionalPct <= 0 {
		return fmt.Errorf("risk.max_position_notional_pct must be > 0")
	}
	if c.Risk.StartingEquity <= 0 {
		return fmt.Errorf("risk.starting_equity must be > 0")
	}

	if c.Inference.NBootstrap <= 0 {
		return fmt.Errorf("inference.n_bootstrap must be > 0")
	}
	if c.Inference.BootstrapBlockLen <= 0 {
		return fmt.Errorf("inference.bootstrap_block_len must be > 0")
	}

	return nil
}

// EntryWindow returns the configured entry window's start and end as
// the raw "HH:MM" strings; parsing is left to the calendar package.
func (c *Config) EntryWindow() (start, end string) {
	return c.Session.EntryWindowStart, c.Session.EntryWindowEnd
}
