package features_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/scalp-backtest/internal/config"
	"github.com/ybi-research/scalp-backtest/internal/data"
	"github.com/ybi-research/scalp-backtest/internal/features"
)

func cfg() config.FeaturesConfig {
	return config.FeaturesConfig{
		EMAPeriods:            []int{8, 21, 34, 55},
		Baseline200:           "ema",
		PivotWindow:           2,
		LevelClusterTolerance: 0.002,
		MaxExtensionForEntry:  0.05,
		MaxExtensionForExit:   0.08,
	}
}

func bar(minute int, o, h, l, c, v float64) data.Bar {
	ts := time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
	return data.Bar{TS: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestPipeline_EMAConvergesOnConstantPrice(t *testing.T) {
	p := features.NewPipeline(cfg(), 12, 8)
	var snap features.Snapshot
	for i := 0; i < 100; i++ {
		snap = p.OnBar(bar(i, 10, 10, 10, 10, 1000))
	}
	assert.InDelta(t, 10, snap.EMA8, 1e-6)
	assert.InDelta(t, 10, snap.EMA55, 1e-6)
	assert.True(t, snap.Ready)
}

func TestPipeline_VWAPOnlyAccumulatesDuringRTH(t *testing.T) {
	p := features.NewPipeline(cfg(), 0, 0)

	premarketBar := data.Bar{
		TS: time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC),
		Open: 5, High: 5, Low: 5, Close: 5, Volume: 100,
	}
	snap := p.OnBar(premarketBar)
	assert.Equal(t, 0.0, snap.VWAPRTH, "premarket volume must not feed RTH VWAP")

	rthBar := data.Bar{
		TS: time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC),
		Open: 10, High: 10, Low: 10, Close: 10, Volume: 100,
	}
	snap = p.OnBar(rthBar)
	assert.InDelta(t, 10, snap.VWAPRTH, 1e-9)
}

func TestPipeline_PivotConfirmationIsCausalAndLagged(t *testing.T) {
	p := features.NewPipeline(cfg(), 0, 0)

	// pivotWindow=2 means confirmation needs a 5-bar buffer; the pivot
	// high at bar index 2 (price 20) can only be confirmed once bars
	// 3 and 4 have also arrived.
	prices := []float64{10, 15, 20, 15, 10, 9, 8}
	var snaps []features.Snapshot
	for i, px := range prices {
		snaps = append(snaps, p.OnBar(bar(i, px, px, px, px, 100)))
	}

	// After only 3 bars (index 0..2), the pivot at index 2 cannot yet be
	// confirmed: a pivot needs bars on both sides.
	assert.Empty(t, snaps[2].Pivots, "pivot must not be confirmed before its trailing bars exist")

	// Once bars 3 and 4 have arrived, the pivot at index 2 is confirmed
	// and its timestamp must be bar 2's, not a later one.
	require.NotEmpty(t, snaps[4].Pivots)
	found := false
	for _, pv := range snaps[4].Pivots {
		if pv.High && pv.Price == 20 {
			found = true
			assert.True(t, pv.TS.Equal(bar(2, 0, 0, 0, 0, 0).TS))
		}
	}
	assert.True(t, found, "expected a confirmed pivot high at price 20")
}

func TestPipeline_ExtensionFromEMA8(t *testing.T) {
	p := features.NewPipeline(cfg(), 0, 0)
	for i := 0; i < 10; i++ {
		p.OnBar(bar(i, 10, 10, 10, 10, 100))
	}
	snap := p.OnBar(bar(10, 10, 11, 9.5, 10, 100))
	assert.Greater(t, snap.ExtensionFromEMA8, 0.0)
}

func TestPipeline_Warmup_DoesNotEmitSnapshotsOrTouchVWAP(t *testing.T) {
	p := features.NewPipeline(cfg(), 0, 0)
	premarket := []data.Bar{
		bar(-30, 5, 5, 5, 5, 1000),
		bar(-29, 5, 5, 5, 5, 1000),
	}
	p.Warmup(premarket)
	snap := p.OnBar(data.Bar{
		TS: time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC),
		Open: 10, High: 10, Low: 10, Close: 10, Volume: 10,
	})
	assert.InDelta(t, 10, snap.VWAPRTH, 1e-9, "warmup bars must not have fed VWAP")
	// EMA8 seeded at 5 by warmup, then one step toward 10 with alpha 2/9.
	assert.InDelta(t, 55.0/9.0, snap.EMA8, 1e-9, "warmup bars should have advanced the EMAs")
}
