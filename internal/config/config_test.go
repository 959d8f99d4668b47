package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/scalp-backtest/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  method: gap_open
strategy:
  setup_a: true
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "09:30", cfg.Session.EntryWindowStart)
	assert.Equal(t, "11:00", cfg.Session.EntryWindowEnd)
	assert.Equal(t, "16:00", cfg.Session.ForceFlatTime)
	assert.Equal(t, 20, cfg.Watchlist.TopN)
	assert.Equal(t, "ema", cfg.Features.Baseline200)
	assert.Equal(t, []int{8, 21, 34, 55}, cfg.Features.EMAPeriods)
	assert.InDelta(t, 0.01, cfg.Risk.RiskPerTradePct, 1e-9)
	assert.InDelta(t, 100000.0, cfg.Risk.StartingEquity, 1e-9)
	assert.Equal(t, 10000, cfg.Inference.NBootstrap)
}

func TestLoad_RejectsNegativeStartingEquity(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  method: gap_open
risk:
  starting_equity: -1
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("YBI_TEST_TOP_N", "7")
	path := writeConfig(t, `
watchlist:
  method: gap_open
  top_n: ${YBI_TEST_TOP_N}
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Watchlist.TopN)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  method: gap_open
  not_a_real_field: true
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidWatchlistMethod(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  method: not_a_method
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsEntryWindowOutOfOrder(t *testing.T) {
	path := writeConfig(t, `
session:
  entry_window_start: "11:00"
  entry_window_end: "09:30"
watchlist:
  method: gap_open
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := config.Load("")
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidBaseline200(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  method: gap_open
features:
  baseline_200: wma
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}
