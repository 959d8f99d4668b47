// Package report writes every artifact the backtest engine produces:
// the watchlist, fills, trades, and per-day audit as CSV, plus the
// summary statistics and run metadata as JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ybi-research/scalp-backtest/internal/config"
	"github.com/ybi-research/scalp-backtest/internal/inference"
	"github.com/ybi-research/scalp-backtest/internal/portfolio"
	"github.com/ybi-research/scalp-backtest/internal/universe"
)

func createCSV(outdir, name string, headers []string) (*os.File, *csv.Writer, error) {
	f, err := os.Create(filepath.Join(outdir, name)) // #nosec G304 -- outdir is an operator-supplied CLI argument
	if err != nil {
		return nil, nil, fmt.Errorf("report: creating %s: %w", name, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("report: writing %s header: %w", name, err)
	}
	return f, w, nil
}

// WriteWatchlist writes watchlist.csv: every (date, ticker) the
// universe builder selected across the run, in selection order.
func WriteWatchlist(items []universe.WatchlistItem, outdir string) error {
	f, w, err := createCSV(outdir, "watchlist.csv", []string{
		"date", "ticker", "rank", "selection_method", "prev_close",
		"gap_open_pct", "premarket_pct", "premarket_high", "premarket_low",
		"premarket_volume", "premarket_dollar_volume",
	})
	if err != nil {
		return err
	}
	defer f.Close()
	defer w.Flush()

	for _, it := range items {
		row := []string{
			it.Date.Format("2006-01-02"), it.Ticker, fmt.Sprintf("%d", it.Rank), it.SelectionMethod,
			fmt.Sprintf("%.4f", it.PrevClose), fmt.Sprintf("%.6f", it.GapOpenPct), fmt.Sprintf("%.6f", it.PremarketPct),
			fmt.Sprintf("%.4f", it.PremarketHigh), fmt.Sprintf("%.4f", it.PremarketLow),
			fmt.Sprintf("%.2f", it.PremarketVolume), fmt.Sprintf("%.2f", it.PremarketDollarVolume),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteFills writes fills.csv: every child execution against the cash
// ledger, in chronological order.
func WriteFills(fills []portfolio.FillRecord, outdir string) error {
	f, w, err := createCSV(outdir, "fills.csv", []string{
		"ts", "ticker", "side", "qty", "price", "fee", "intent_kind", "reason", "trade_id",
	})
	if err != nil {
		return err
	}
	defer f.Close()
	defer w.Flush()

	for _, fl := range fills {
		row := []string{
			fl.TS.Format(time.RFC3339), fl.Ticker, fl.Side, fmt.Sprintf("%d", fl.Qty),
			fmt.Sprintf("%.4f", fl.Price), fmt.Sprintf("%.2f", fl.Fee), fl.IntentKind, fl.Reason, fl.LinkedTradeID,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteTrades writes trades.csv: one row per closed round trip.
func WriteTrades(trades []portfolio.TradeRecord, outdir string) error {
	f, w, err := createCSV(outdir, "trades.csv", []string{
		"trade_id", "ticker", "setup_tag", "signal_ts", "entry_ts", "exit_ts",
		"entry_px", "avg_exit_px", "qty", "stop_px_initial", "bars_held",
		"scale_pnl", "final_exit_pnl", "fees", "pnl_total", "exit_reason",
	})
	if err != nil {
		return err
	}
	defer f.Close()
	defer w.Flush()

	for _, t := range trades {
		row := []string{
			t.TradeID, t.Ticker, t.SetupTag, t.SignalTS.Format(time.RFC3339),
			t.EntryTS.Format(time.RFC3339), t.ExitTS.Format(time.RFC3339),
			fmt.Sprintf("%.4f", t.EntryPx), fmt.Sprintf("%.4f", t.AvgExitPx), fmt.Sprintf("%d", t.OriginalQty),
			fmt.Sprintf("%.4f", t.StopPxInitial), fmt.Sprintf("%d", t.BarsHeld),
			fmt.Sprintf("%.2f", t.ScalePnL), fmt.Sprintf("%.2f", t.FinalExitPnL),
			fmt.Sprintf("%.2f", t.Fees), fmt.Sprintf("%.2f", t.PnLTotal), t.ExitReason,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteDayAudit writes day_audit.csv: one row per calendar day
// simulated, including holiday/no-watchlist/error/no-trade days that
// never reached a fill.
func WriteDayAudit(audits []portfolio.DayAudit, outdir string) error {
	f, w, err := createCSV(outdir, "day_audit.csv", []string{"date", "status", "reason"})
	if err != nil {
		return err
	}
	defer f.Close()
	defer w.Flush()

	for _, a := range audits {
		row := []string{a.Date.Format("2006-01-02"), a.Status, a.Reason}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteDailyMetrics writes daily_metrics.csv: each trading day's
// realised P&L and running cumulative total.
func WriteDailyMetrics(tradingDays []time.Time, dailyPnL []float64, outdir string) error {
	f, w, err := createCSV(outdir, "daily_metrics.csv", []string{"date", "pnl", "cumulative_pnl"})
	if err != nil {
		return err
	}
	defer f.Close()
	defer w.Flush()

	cum := 0.0
	for i, d := range tradingDays {
		var p float64
		if i < len(dailyPnL) {
			p = dailyPnL[i]
		}
		cum += p
		row := []string{d.Format("2006-01-02"), fmt.Sprintf("%.2f", p), fmt.Sprintf("%.2f", cum)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// Summary is the shape persisted to summary.json.
type Summary struct {
	Metrics          inference.Metrics           `json:"metrics"`
	HAC              inference.HACResult         `json:"hac"`
	Bootstrap        inference.BootstrapResult   `json:"bootstrap"`
	LeakageViolations []inference.LeakageViolation `json:"leakage_violations"`
	ReconciliationMismatches []string             `json:"reconciliation_mismatches"`
	Stress           []inference.StressResult    `json:"stress"`
}

// WriteSummary writes summary.json.
func WriteSummary(s Summary, outdir string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "summary.json"), b, 0o644)
}

// RunMetadata captures everything needed to reproduce a run from its
// own output: the fully resolved config, date range, selection method,
// code version, and random seed.
type RunMetadata struct {
	Start               string          `json:"start"`
	End                 string          `json:"end"`
	CodeVersion         string          `json:"code_version"`
	RandomSeed          int64           `json:"random_seed"`
	MaxCandidatesToScan int             `json:"max_candidates_to_scan"`
	SelectionMethod     string          `json:"selection_method"`
	Config              *config.Config  `json:"config"`
	GeneratedAt         string          `json:"generated_at"`
}

// WriteRunMetadata writes run_metadata.json.
func WriteRunMetadata(m RunMetadata, outdir string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "run_metadata.json"), b, 0o644)
}
