// Command ybi-backtest runs the reproducible, no-lookahead intraday
// backtest engine over a date range and writes its artifacts to disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ybi-research/scalp-backtest/internal/calendar"
	"github.com/ybi-research/scalp-backtest/internal/config"
	"github.com/ybi-research/scalp-backtest/internal/data"
	"github.com/ybi-research/scalp-backtest/internal/errs"
	"github.com/ybi-research/scalp-backtest/internal/inference"
	"github.com/ybi-research/scalp-backtest/internal/logger"
	"github.com/ybi-research/scalp-backtest/internal/portfolio"
	"github.com/ybi-research/scalp-backtest/internal/report"
	"github.com/ybi-research/scalp-backtest/internal/universe"
)

// codeVersion is stamped into run_metadata.json. Overridden at build
// time via -ldflags "-X main.codeVersion=...".
var codeVersion = "dev"

const (
	exitOK                = 0
	exitConfigError       = 2
	exitDataUnavailable   = 3
	exitInvariantViolation = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		startStr, endStr, configPath, outDir string
		verbosity                            int
	)

	rootCmd := &cobra.Command{Use: "ybi-backtest", Short: "YBI small-cap scalping backtest engine"}

	runCmd := &cobra.Command{
		Use:   "run_backtest",
		Short: "Run the backtest over [start, end] and write artifacts to --out",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.SetVerbosity(verbosity)
			return runBacktest(cmd.Context(), startStr, endStr, configPath, outDir)
		},
	}
	runCmd.Flags().StringVar(&startStr, "start", "", "first trading day to simulate, YYYY-MM-DD")
	runCmd.Flags().StringVar(&endStr, "end", "", "last trading day to simulate, YYYY-MM-DD")
	runCmd.Flags().StringVar(&configPath, "config", "", "path to the run's YAML config")
	runCmd.Flags().StringVar(&outDir, "out", "", "directory to write artifacts to")
	runCmd.Flags().IntVar(&verbosity, "verbosity", 1, "0=error 1=info 2=debug 3=trace")
	_ = runCmd.MarkFlagRequired("start")
	_ = runCmd.MarkFlagRequired("end")
	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(runCmd)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Errorf("event=run_failed err=%v", err)
		switch {
		case errors.Is(err, errs.ErrInvariantViolation):
			return exitInvariantViolation
		case errors.Is(err, errs.ErrDataUnavailable):
			return exitDataUnavailable
		case errors.Is(err, errs.ErrConfig), errors.Is(err, errs.ErrProviderAuth):
			return exitConfigError
		default:
			return exitConfigError
		}
	}
	return exitOK
}

func runBacktest(ctx context.Context, startStr, endStr, configPath, outDir string) error {
	start, err := time.ParseInLocation("2006-01-02", startStr, calendar.Location)
	if err != nil {
		return fmt.Errorf("run_backtest: %w: invalid --start %q: %v", errs.ErrConfig, startStr, err)
	}
	end, err := time.ParseInLocation("2006-01-02", endStr, calendar.Location)
	if err != nil {
		return fmt.Errorf("run_backtest: %w: invalid --end %q: %v", errs.ErrConfig, endStr, err)
	}
	if end.Before(start) {
		return fmt.Errorf("run_backtest: %w: --end is before --start", errs.ErrConfig)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("run_backtest: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("run_backtest: %w: creating --out %q: %v", errs.ErrConfig, outDir, err)
	}

	provider := buildProvider(cfg)

	years := []int{}
	for y := start.Year(); y <= end.Year(); y++ {
		years = append(years, y)
	}
	cal := calendar.New(years, cfg.Session.EntryWindowStart, cfg.Session.EntryWindowEnd, cfg.Session.ForceFlatTime)

	builder := &universe.Builder{
		Provider:        provider,
		Calendar:        cal,
		Universe:        cfg.Universe,
		Watchlist:       cfg.Watchlist,
		PrefetchWorkers: 8,
	}

	engine := &portfolio.Engine{Cfg: cfg, Cal: cal, Provider: provider, Universe: builder}

	runStarted := time.Now()
	result, err := engine.Run(ctx, start, end)
	if err != nil {
		return fmt.Errorf("run_backtest: %w", err)
	}
	logger.Infof("event=run_complete trades=%d fills=%d days=%d elapsed=%s",
		len(result.Trades), len(result.Fills), len(result.DayAudits), time.Since(runStarted))

	tradingDays := make([]time.Time, 0, len(result.DayAudits))
	for _, a := range result.DayAudits {
		if a.Status == "holiday_closed" || a.Status == "error" {
			continue // only ok/no_trades/no_watchlist days enter the statistics
		}
		tradingDays = append(tradingDays, a.Date)
	}
	dailyPnL := inference.DailyPnL(result.Trades, tradingDays)

	metrics := inference.ComputeMetrics(result.Trades, dailyPnL, cfg.Risk.StartingEquity)
	hac := inference.NeweyWestSE(dailyPnL, 0.95)
	boot := inference.BlockBootstrap(dailyPnL, cfg.Inference.BootstrapBlockLen, cfg.Inference.NBootstrap, 0.95, uint64(cfg.Inference.RandomSeed))
	leakage := inference.AuditLeakage(result.Trades)
	mismatched := inference.ReconcileTradesAndFills(result.Trades, result.Fills)

	if len(mismatched) > 0 || len(leakage) > 0 {
		return fmt.Errorf("run_backtest: %w: %d reconciliation mismatches, %d leakage violations",
			errs.ErrInvariantViolation, len(mismatched), len(leakage))
	}

	baselineSharpe, shuffledSharpes := inference.DateShuffleTest(dailyPnL, 200, uint64(cfg.Inference.RandomSeed))
	stress := []inference.StressResult{
		inference.TimeShiftSensitivity(dailyPnL, 1),
		{Label: "date_shuffle", BaselineSharpe: baselineSharpe, PerturbedSharpe: meanOf(shuffledSharpes)},
	}

	if err := report.WriteWatchlist(result.Watchlist, outDir); err != nil {
		return fmt.Errorf("run_backtest: writing watchlist: %w", err)
	}
	if err := report.WriteFills(result.Fills, outDir); err != nil {
		return fmt.Errorf("run_backtest: writing fills: %w", err)
	}
	if err := report.WriteTrades(result.Trades, outDir); err != nil {
		return fmt.Errorf("run_backtest: writing trades: %w", err)
	}
	if err := report.WriteDayAudit(result.DayAudits, outDir); err != nil {
		return fmt.Errorf("run_backtest: writing day audit: %w", err)
	}
	if err := report.WriteDailyMetrics(tradingDays, dailyPnL, outDir); err != nil {
		return fmt.Errorf("run_backtest: writing daily metrics: %w", err)
	}
	if err := report.WriteSummary(report.Summary{
		Metrics: metrics, HAC: hac, Bootstrap: boot,
		LeakageViolations: leakage, ReconciliationMismatches: mismatched, Stress: stress,
	}, outDir); err != nil {
		return fmt.Errorf("run_backtest: writing summary: %w", err)
	}
	if err := report.WriteRunMetadata(report.RunMetadata{
		Start: dateStr(start), End: dateStr(end), CodeVersion: codeVersion,
		RandomSeed: cfg.Inference.RandomSeed, MaxCandidatesToScan: cfg.Universe.MaxCandidatesToScan,
		SelectionMethod: cfg.Watchlist.Method, Config: cfg, GeneratedAt: time.Now().In(calendar.Location).Format(time.RFC3339),
	}, outDir); err != nil {
		return fmt.Errorf("run_backtest: writing run metadata: %w", err)
	}

	logger.Infof("event=run_id id=%s", uuid.NewString())
	return nil
}

// dateStr formats t as a run_metadata.json date.
func dateStr(t time.Time) string { return t.Format("2006-01-02") }

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// buildProvider assembles the provider chain: massive.com primary
// (carrying Polygon as its Secondary, which its own methods never call)
// wrapped in the on-disk cache, or a cached synthetic generator when no
// API key is configured. The API key is
// read but never logged.
func buildProvider(cfg *config.Config) data.Provider {
	apiKey := os.Getenv("POLYGON_API_KEY")
	if apiKey == "" {
		logger.Infof("event=provider_selected provider=synthetic reason=no_api_key")
		return data.NewCacheProvider(os.Getenv("YBI_HTTP_CACHE_DIR"), data.NewSyntheticProvider(uint64(cfg.Inference.RandomSeed)))
	}
	polygon := data.NewPolygonProvider(apiKey, nil)
	massive := data.NewMassiveProvider(apiKey, polygon)
	logger.Infof("event=provider_selected provider=massive secondary=polygon")
	return data.NewCacheProvider(os.Getenv("YBI_HTTP_CACHE_DIR"), massive)
}
