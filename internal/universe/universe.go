// Package universe builds each trading day's watchlist: an ordered set
// of candidate tickers selected using only data available strictly
// before the decision instant. Two ranking methods are supported —
// gap_open (fast path, decides at 09:30 ET from grouped-daily data
// only) and premarket_gap (fidelity path, decides at 09:29 ET from
// minute premarket bars) — exactly one is active per run.
package universe

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ybi-research/scalp-backtest/internal/calendar"
	"github.com/ybi-research/scalp-backtest/internal/config"
	"github.com/ybi-research/scalp-backtest/internal/data"
	"github.com/ybi-research/scalp-backtest/internal/errs"
	"github.com/ybi-research/scalp-backtest/internal/logger"
)

// WatchlistItem is the immutable result of watchlist selection for one
// (date, ticker) pair. Once published it is never mutated.
type WatchlistItem struct {
	Date                   time.Time
	Ticker                 string
	PrevClose              float64
	PremarketHigh          float64
	PremarketLow           float64
	PremarketVolume        float64
	PremarketDollarVolume  float64
	PremarketPct           float64
	GapOpenPct             float64
	SelectionMethod        string
	Rank                   int
}

// unambiguousSuffix matches ticker classes that are always excluded,
// regardless of reference-data availability.
var unambiguousSuffix = regexp.MustCompile(`(\.WS|\.W|\.U|\.R|\^)`)

// ambiguousSuffix matches patterns that can also match legitimate
// commons (e.g. a ticker ending in "W" or "P"); only applied when
// reference data is unavailable for that ticker.
var ambiguousSuffix = regexp.MustCompile(`[WP]$`)

// isUnambiguouslyExcluded reports a hygiene exclusion that holds
// regardless of reference data.
func isUnambiguouslyExcluded(ticker string) bool {
	return unambiguousSuffix.MatchString(ticker)
}

// isHygieneExcluded applies the full universe-hygiene rule: reference
// data, when present, is authoritative; the ambiguous pattern applies
// only in its absence.
func isHygieneExcluded(ticker string, ref *data.ReferenceRecord, useReferenceData bool) bool {
	if isUnambiguouslyExcluded(ticker) {
		return true
	}
	if useReferenceData && ref != nil {
		return !ref.IsCommonStock || !ref.Active
	}
	return ambiguousSuffix.MatchString(ticker)
}

// Builder produces watchlists using a configured Provider and Calendar.
type Builder struct {
	Provider data.Provider
	Calendar *calendar.Calendar
	Universe config.UniverseConfig
	Watchlist config.WatchlistConfig

	// PrefetchWorkers bounds the concurrency of read-only premarket-bar
	// fetches during premarket_gap candidate scoring. This pool lives
	// entirely outside the single-threaded simulator and never
	// mutates shared state; its only effect on outputs is wall-clock
	// time (see §5 of the backtest design: parallelism is permitted
	// only where it cannot alter results).
	PrefetchWorkers int
}

// candidate is an intermediate scoring record before thresholds are
// applied and the list is capped/sorted.
type candidate struct {
	ticker                string
	prevClose             float64
	prevVolume            float64
	gapOpenPct            float64
	premarketHigh         float64
	premarketLow          float64
	premarketVolume       float64
	premarketDollarVolume float64
	premarketPct          float64
}

// Build selects and returns the watchlist for date, using whichever
// method is configured. The returned slice is sorted by the ranking
// metric, descending, and capped at TopN.
func (b *Builder) Build(ctx context.Context, date time.Time) ([]WatchlistItem, error) {
	switch b.Watchlist.Method {
	case "gap_open":
		return b.buildGapOpen(ctx, date)
	case "premarket_gap":
		return b.buildPremarketGap(ctx, date)
	default:
		return nil, fmt.Errorf("universe: %w: unknown method %q", errs.ErrConfig, b.Watchlist.Method)
	}
}

// buildGapOpen ranks by gap_open_pct using only grouped_daily(D) and
// grouped_daily(prev_trading_day(D)) — no premarket fetch at all.
func (b *Builder) buildGapOpen(ctx context.Context, date time.Time) ([]WatchlistItem, error) {
	prevDate, err := b.Calendar.PrevTradingDay(date, func(d time.Time) bool {
		m, err := b.Provider.GroupedDaily(ctx, d)
		return err == nil && len(m) > 0
	})
	if err != nil {
		return nil, fmt.Errorf("universe: %w: %v", errs.ErrDataUnavailable, err)
	}

	today, err := b.Provider.GroupedDaily(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("universe: %w: grouped daily %s: %v", errs.ErrDataUnavailable, date.Format("2006-01-02"), err)
	}
	prev, err := b.Provider.GroupedDaily(ctx, prevDate)
	if err != nil {
		return nil, fmt.Errorf("universe: %w: grouped daily %s: %v", errs.ErrDataUnavailable, prevDate.Format("2006-01-02"), err)
	}

	var cands []candidate
	for ticker, todayBar := range today {
		prevBar, ok := prev[ticker]
		if !ok || prevBar.Close <= 0 {
			continue
		}
		if prevBar.Close < b.Universe.PriceMin || prevBar.Close > b.Universe.PriceMax {
			continue
		}
		ref, _ := b.Provider.Reference(ctx, ticker)
		if isHygieneExcluded(ticker, ref, b.Universe.UseReferenceData) {
			continue
		}
		cands = append(cands, candidate{
			ticker:     ticker,
			prevClose:  prevBar.Close,
			gapOpenPct: todayBar.Open/prevBar.Close - 1,
		})
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].gapOpenPct > cands[j].gapOpenPct })
	if len(cands) > b.Watchlist.TopN {
		cands = cands[:b.Watchlist.TopN]
	}

	items := make([]WatchlistItem, len(cands))
	for i, c := range cands {
		items[i] = WatchlistItem{
			Date: date, Ticker: c.ticker, PrevClose: c.prevClose,
			GapOpenPct: c.gapOpenPct, SelectionMethod: "gap_open", Rank: i + 1,
		}
	}
	logger.Infof("event=watchlist_built method=gap_open date=%s tickers=%d", date.Format("2006-01-02"), len(items))
	return items, nil
}

// buildPremarketGap ranks by premarket_pct. The candidate pool is
// deterministic: the full prior-day grouped_daily set, filtered by
// price range and hygiene, sorted by prior-day volume descending, and
// truncated to MaxCandidatesToScan before any premarket bar is
// fetched.
func (b *Builder) buildPremarketGap(ctx context.Context, date time.Time) ([]WatchlistItem, error) {
	prevDate, err := b.Calendar.PrevTradingDay(date, func(d time.Time) bool {
		m, err := b.Provider.GroupedDaily(ctx, d)
		return err == nil && len(m) > 0
	})
	if err != nil {
		return nil, fmt.Errorf("universe: %w: %v", errs.ErrDataUnavailable, err)
	}

	prev, err := b.Provider.GroupedDaily(ctx, prevDate)
	if err != nil {
		return nil, fmt.Errorf("universe: %w: grouped daily %s: %v", errs.ErrDataUnavailable, prevDate.Format("2006-01-02"), err)
	}

	type pooled struct {
		ticker    string
		prevClose float64
		prevVol   float64
	}
	var pool []pooled
	for ticker, bar := range prev {
		if bar.Close < b.Universe.PriceMin || bar.Close > b.Universe.PriceMax {
			continue
		}
		ref, _ := b.Provider.Reference(ctx, ticker)
		if isHygieneExcluded(ticker, ref, b.Universe.UseReferenceData) {
			continue
		}
		pool = append(pool, pooled{ticker: ticker, prevClose: bar.Close, prevVol: bar.Volume})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].prevVol > pool[j].prevVol })
	if len(pool) > b.Universe.MaxCandidatesToScan {
		pool = pool[:b.Universe.MaxCandidatesToScan]
	}
	logger.Debugf("event=candidate_pool_built date=%s pool_size=%d max_candidates_to_scan=%d",
		date.Format("2006-01-02"), len(pool), b.Universe.MaxCandidatesToScan)

	results := make([]candidate, len(pool))
	workers := b.PrefetchWorkers
	if workers <= 0 {
		workers = 8
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range pool {
		i, p := i, p
		g.Go(func() error {
			bars, err := b.Provider.MinuteBars(gctx, p.ticker, date, true)
			if err != nil {
				// A single ticker's fetch failure does not fail the
				// whole day; it simply drops that ticker from scoring.
				return nil
			}
			premarketEnd, err := timeOn(date, "09:29")
			if err != nil {
				return err
			}
			var lastPx float64
			var volSum, dollarVolSum, hi, lo float64
			hi, lo = -1, -1
			for _, bar := range bars {
				if bar.TS.After(premarketEnd) {
					break
				}
				lastPx = bar.Close
				volSum += bar.Volume
				dollarVolSum += bar.Volume * bar.Close
				if hi < 0 || bar.High > hi {
					hi = bar.High
				}
				if lo < 0 || bar.Low < lo {
					lo = bar.Low
				}
			}
			if lastPx == 0 || p.prevClose <= 0 {
				return nil
			}
			results[i] = candidate{
				ticker: p.ticker, prevClose: p.prevClose,
				premarketPct: lastPx/p.prevClose - 1,
				premarketVolume: volSum, premarketDollarVolume: dollarVolSum,
				premarketHigh: hi, premarketLow: lo,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("universe: %w: premarket prefetch: %v", errs.ErrDataUnavailable, err)
	}

	var cands []candidate
	for _, c := range results {
		if c.ticker == "" {
			continue
		}
		if c.premarketPct < b.Watchlist.MinPremarketPct {
			continue
		}
		if c.premarketVolume < b.Watchlist.MinPremarketVolume {
			continue
		}
		if c.premarketDollarVolume < b.Watchlist.MinPremarketDollarVolume {
			continue
		}
		cands = append(cands, c)
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].premarketPct > cands[j].premarketPct })
	if len(cands) > b.Watchlist.TopN {
		cands = cands[:b.Watchlist.TopN]
	}

	items := make([]WatchlistItem, len(cands))
	for i, c := range cands {
		items[i] = WatchlistItem{
			Date: date, Ticker: c.ticker, PrevClose: c.prevClose,
			PremarketHigh: c.premarketHigh, PremarketLow: c.premarketLow,
			PremarketVolume: c.premarketVolume, PremarketDollarVolume: c.premarketDollarVolume,
			PremarketPct: c.premarketPct, SelectionMethod: "premarket_gap", Rank: i + 1,
		}
	}
	logger.Infof("event=watchlist_built method=premarket_gap date=%s tickers=%d", date.Format("2006-01-02"), len(items))
	return items, nil
}

func timeOn(date time.Time, clock string) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", clock, calendar.Location)
	if err != nil {
		return time.Time{}, err
	}
	d := date.In(calendar.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, calendar.Location), nil
}

// Hygiene exposes the universe-hygiene predicate for use by tests and
// any caller that needs to classify a single ticker without building a
// full watchlist.
func Hygiene(ticker string, ref *data.ReferenceRecord, useReferenceData bool) bool {
	return isHygieneExcluded(ticker, ref, useReferenceData)
}
