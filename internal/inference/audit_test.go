package inference_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/scalp-backtest/internal/inference"
	"github.com/ybi-research/scalp-backtest/internal/portfolio"
)

func TestAuditLeakage_FlagsSignalNotBeforeEntry(t *testing.T) {
	ts := time.Date(2025, time.June, 2, 9, 31, 0, 0, time.UTC)
	trades := []portfolio.TradeRecord{
		{TradeID: "ok", SignalTS: ts, EntryTS: ts.Add(time.Minute), ExitTS: ts.Add(2 * time.Minute)},
		{TradeID: "bad-signal", SignalTS: ts, EntryTS: ts, ExitTS: ts.Add(time.Minute)},
		{TradeID: "bad-exit", SignalTS: ts, EntryTS: ts.Add(time.Minute), ExitTS: ts},
	}
	violations := inference.AuditLeakage(trades)
	require.Len(t, violations, 2)

	ids := map[string]bool{}
	for _, v := range violations {
		ids[v.TradeID] = true
	}
	assert.True(t, ids["bad-signal"])
	assert.True(t, ids["bad-exit"])
	assert.False(t, ids["ok"])
}

func TestTimeShiftSensitivity_DropsOutOfRangeRatherThanWrapping(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5}
	r := inference.TimeShiftSensitivity(series, 2)
	assert.Equal(t, "time_shift", r.Label)
	// shifted series is series[2:] = {3,4,5}; just confirm it ran without panicking
	// and produced a finite perturbed value alongside the baseline.
	assert.False(t, isNaN(r.BaselineSharpe))
	assert.False(t, isNaN(r.PerturbedSharpe))
}

func TestDateShuffleTest_DeterministicForSameSeed(t *testing.T) {
	series := []float64{10, -5, 3, 8, -2, 6, -7, 4}
	base1, shuffled1 := inference.DateShuffleTest(series, 50, 7)
	base2, shuffled2 := inference.DateShuffleTest(series, 50, 7)
	assert.Equal(t, base1, base2)
	assert.Equal(t, shuffled1, shuffled2)
}

func TestDateShuffleTest_EmptySeriesReturnsNoShuffles(t *testing.T) {
	base, shuffled := inference.DateShuffleTest(nil, 50, 7)
	assert.Equal(t, 0.0, base)
	assert.Nil(t, shuffled)
}

func isNaN(f float64) bool { return f != f }
