package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/scalp-backtest/internal/data"
)

func TestSyntheticProvider_DeterministicForSameSeed(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

	a := data.NewSyntheticProvider(42)
	b := data.NewSyntheticProvider(42)

	barsA, err := a.MinuteBars(ctx, "AAAA", date, false)
	require.NoError(t, err)
	barsB, err := b.MinuteBars(ctx, "AAAA", date, false)
	require.NoError(t, err)

	require.Equal(t, len(barsA), len(barsB))
	for i := range barsA {
		assert.Equal(t, barsA[i], barsB[i])
	}
}

func TestSyntheticProvider_DifferentSeedsDiffer(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

	a := data.NewSyntheticProvider(1)
	b := data.NewSyntheticProvider(2)

	barsA, _ := a.MinuteBars(ctx, "AAAA", date, false)
	barsB, _ := b.MinuteBars(ctx, "AAAA", date, false)

	assert.NotEqual(t, barsA[0].Close, barsB[0].Close)
}

func TestSyntheticProvider_IncludePremarketExtendsRange(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	p := data.NewSyntheticProvider(7)

	rth, err := p.MinuteBars(ctx, "AAAA", date, false)
	require.NoError(t, err)
	withPM, err := p.MinuteBars(ctx, "AAAA", date, true)
	require.NoError(t, err)

	assert.True(t, len(withPM) > len(rth))
	assert.Equal(t, 4, withPM[0].TS.Hour(), "premarket bars must start at 04:00 ET")
	assert.Equal(t, 9, rth[0].TS.Hour(), "RTH-only bars must start at 09:30 ET")
}

func TestSyntheticProvider_DailyBarsSkipWeekends(t *testing.T) {
	ctx := context.Background()
	p := data.NewSyntheticProvider(3)
	from := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)  // Monday
	to := time.Date(2025, time.June, 8, 0, 0, 0, 0, time.UTC)    // following Sunday

	bars, err := p.DailyBars(ctx, "AAAA", from, to)
	require.NoError(t, err)
	assert.Len(t, bars, 5, "Mon-Fri only")
	for _, b := range bars {
		assert.NotEqual(t, time.Saturday, b.Date.Weekday())
		assert.NotEqual(t, time.Sunday, b.Date.Weekday())
	}
}

func TestSyntheticProvider_GroupedDailyReturnsFixedTickerSet(t *testing.T) {
	ctx := context.Background()
	p := data.NewSyntheticProvider(5)
	m, err := p.GroupedDaily(ctx, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, m, 5)
}
