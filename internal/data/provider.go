// Package data provides a thin, typed read API over cached market data:
// minute bars, daily bars, grouped-daily snapshots, and reference
// records. It carries no strategy or watchlist logic; callers above
// this package (universe, features) decide what the data means.
//
// The on-disk cache wraps an upstream Provider and consults it only on
// a cache miss, so a paid HTTP provider is hit only for data not yet
// stored locally. Every Provider also reports a Secondary() fallback;
// see Provider.Secondary for which implementations consult it.
package data

import (
	"context"
	"time"
)

// Bar is an immutable OHLCV observation. ts is timezone-aware; the
// canonical session timezone is US/Eastern (see internal/calendar).
// Bars are strictly increasing in ts within a (ticker, day).
type Bar struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// DailyBar is a single prior session's OHLCV, used for previous close
// and PDH/PDL.
type DailyBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ReferenceRecord classifies a ticker so the universe builder can
// exclude warrants, units, rights, preferreds, ETFs, and OTC names.
// When absent for a ticker, pattern-only heuristics apply instead.
type ReferenceRecord struct {
	Ticker         string
	Type           string // e.g. "CS", "ETF", "WARRANT", "UNIT", "RIGHT", "PFD"
	IsCommonStock  bool
	Active         bool
}

// Provider supplies market data for the backtest engine. Implementations:
//   - massive.com HTTP client (primary, wraps the vendor SDK)
//   - Polygon HTTP client (secondary/backfill)
//   - on-disk content-addressed cache (wraps any of the above)
//   - synthetic generator (tests, demos, offline development)
type Provider interface {
	// Secondary returns the fallback Provider chained behind this one,
	// or nil if there is none. The Polygon provider retries a failed
	// request against it; the massive.com provider does not consult it.
	Secondary() Provider

	// MinuteBars returns 1-minute bars for ticker on date, ascending
	// by ts. When includePremarket is true, the range starts at
	// 04:00 ET instead of 09:30 ET.
	MinuteBars(ctx context.Context, ticker string, date time.Time, includePremarket bool) ([]Bar, error)

	// DailyBars returns daily bars for ticker across [from, to], ascending.
	DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]DailyBar, error)

	// GroupedDaily returns every ticker's daily bar for a single date,
	// keyed by ticker. Used by the gap_open and premarket_gap
	// candidate-selection paths.
	GroupedDaily(ctx context.Context, date time.Time) (map[string]DailyBar, error)

	// Reference returns classification data for ticker, or
	// (nil, nil) if the provider has no opinion (distinct from an error).
	Reference(ctx context.Context, ticker string) (*ReferenceRecord, error)
}
