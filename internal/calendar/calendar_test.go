package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/scalp-backtest/internal/calendar"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, calendar.Location)
}

func TestIsTradingDay_WeekendsAndHolidays(t *testing.T) {
	cal := calendar.New([]int{2025}, "09:30", "11:00", "16:00")

	assert.False(t, cal.IsTradingDay(date(2025, time.January, 1)), "New Year's Day")
	assert.False(t, cal.IsTradingDay(date(2025, time.July, 4)), "Independence Day")
	assert.False(t, cal.IsTradingDay(date(2025, time.December, 25)), "Christmas")
	assert.False(t, cal.IsTradingDay(date(2025, time.January, 18)), "a Saturday")
	assert.False(t, cal.IsTradingDay(date(2025, time.January, 19)), "a Sunday")
	assert.True(t, cal.IsTradingDay(date(2025, time.January, 2)), "an ordinary Thursday")
}

func TestIsTradingDay_GoodFridayAndObservedHolidays(t *testing.T) {
	cal := calendar.New([]int{2025, 2021}, "09:30", "11:00", "16:00")

	// Easter Sunday 2025 is April 20, so Good Friday is April 18.
	assert.False(t, cal.IsTradingDay(date(2025, time.April, 18)))

	// July 4, 2021 fell on a Sunday; NYSE observes it Monday July 5.
	assert.False(t, cal.IsTradingDay(date(2021, time.July, 5)))
}

func TestPrevTradingDay_SkipsWeekendAndNoDataDays(t *testing.T) {
	cal := calendar.New([]int{2025}, "09:30", "11:00", "16:00")

	// Monday Jan 6, 2025; walking back should skip the weekend and land
	// on Friday Jan 3 once hasData reports true there.
	hasData := func(d time.Time) bool {
		return d.Equal(date(2025, time.January, 3))
	}
	prev, err := cal.PrevTradingDay(date(2025, time.January, 6), hasData)
	require.NoError(t, err)
	assert.True(t, prev.Equal(date(2025, time.January, 3)))
}

func TestPrevTradingDay_NoDataFound(t *testing.T) {
	cal := calendar.New([]int{2025}, "09:30", "11:00", "16:00")
	_, err := cal.PrevTradingDay(date(2025, time.January, 6), func(time.Time) bool { return false })
	assert.Error(t, err)
}

func TestEntryWindowAndForceFlat(t *testing.T) {
	cal := calendar.New([]int{2025}, "09:30", "11:00", "16:00")
	d := date(2025, time.January, 2)

	start, end, err := cal.EntryWindow(d)
	require.NoError(t, err)
	assert.Equal(t, 9, start.Hour())
	assert.Equal(t, 30, start.Minute())
	assert.Equal(t, 11, end.Hour())

	ff, err := cal.ForceFlat(d)
	require.NoError(t, err)
	assert.Equal(t, 16, ff.Hour())

	mid := time.Date(2025, time.January, 2, 10, 0, 0, 0, calendar.Location)
	assert.True(t, cal.InEntryWindow(mid))
	late := time.Date(2025, time.January, 2, 15, 0, 0, 0, calendar.Location)
	assert.False(t, cal.InEntryWindow(late))
}
