// Package calendar provides pure, deterministic US-equity trading-day
// and session-window arithmetic in US/Eastern time. It knows nothing
// about tickers or bars; the only data dependency is a caller-supplied
// callback used to confirm that a prior session actually has data
// before calling it "the previous trading day".
package calendar

import (
	"fmt"
	"time"
)

// Location is the canonical session timezone for the whole engine.
var Location = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("calendar: loading America/New_York: %v", err))
	}
	return loc
}()

// Session boundary clock times, in US/Eastern.
const (
	PremarketStartClock = "04:00"
	RTHOpenClock        = "09:30"
	RTHCloseClock       = "16:00"
)

// Calendar answers trading-day and session-boundary questions for a
// fixed holiday set. It is stateless aside from that holiday set, so a
// single instance may be shared across goroutines doing read-only
// per-day prefetch.
type Calendar struct {
	holidays map[string]struct{} // "2006-01-02" -> struct{}

	EntryWindowStart string // "HH:MM" ET, e.g. "09:30"
	EntryWindowEnd   string // "HH:MM" ET, e.g. "11:00"
	ForceFlatTime    string // "HH:MM" ET, e.g. "16:00"
}

// New constructs a Calendar with the standard NYSE/Nasdaq holiday
// calendar for the given years, plus the configured session windows.
func New(years []int, entryWindowStart, entryWindowEnd, forceFlatTime string) *Calendar {
	c := &Calendar{
		holidays:         map[string]struct{}{},
		EntryWindowStart: entryWindowStart,
		EntryWindowEnd:   entryWindowEnd,
		ForceFlatTime:    forceFlatTime,
	}
	for _, y := range years {
		for _, d := range usHolidays(y) {
			c.holidays[d.Format("2006-01-02")] = struct{}{}
		}
	}
	return c
}

// IsTradingDay reports whether date is a weekday and not a holiday.
// It does not know whether data actually exists for that day; use
// PrevTradingDay's hasData callback for that.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	date = date.In(Location)
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false
	}
	_, isHoliday := c.holidays[date.Format("2006-01-02")]
	return !isHoliday
}

// PrevTradingDay walks backward from date (exclusive) until it finds a
// calendar trading day for which hasData reports true. hasData lets
// C2 confirm a prior session actually has cached bars, rather than
// only skipping weekends/holidays; a calendar day with no data (feed
// gap, new listing) is skipped too.
func (c *Calendar) PrevTradingDay(date time.Time, hasData func(time.Time) bool) (time.Time, error) {
	cur := date.In(Location)
	for i := 0; i < 365; i++ {
		cur = cur.AddDate(0, 0, -1)
		if !c.IsTradingDay(cur) {
			continue
		}
		if hasData == nil || hasData(cur) {
			return cur, nil
		}
	}
	return time.Time{}, fmt.Errorf("calendar: no prior trading day with data found within a year of %s", date.Format("2006-01-02"))
}

// clockOn combines a "HH:MM" clock time with date's year/month/day in
// Location.
func clockOn(date time.Time, clock string) (time.Time, error) {
	date = date.In(Location)
	t, err := time.ParseInLocation("15:04", clock, Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: invalid clock %q: %w", clock, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, Location), nil
}

// PremarketStart returns 04:00 ET on date.
func (c *Calendar) PremarketStart(date time.Time) (time.Time, error) {
	return clockOn(date, PremarketStartClock)
}

// RTHOpen returns 09:30 ET on date.
func (c *Calendar) RTHOpen(date time.Time) (time.Time, error) {
	return clockOn(date, RTHOpenClock)
}

// RTHClose returns 16:00 ET on date.
func (c *Calendar) RTHClose(date time.Time) (time.Time, error) {
	return clockOn(date, RTHCloseClock)
}

// EntryWindow returns the configured [start, end] for new entries on date.
func (c *Calendar) EntryWindow(date time.Time) (start, end time.Time, err error) {
	start, err = clockOn(date, c.EntryWindowStart)
	if err != nil {
		return
	}
	end, err = clockOn(date, c.EntryWindowEnd)
	return
}

// ForceFlat returns the configured mandatory-liquidation instant on date.
func (c *Calendar) ForceFlat(date time.Time) (time.Time, error) {
	return clockOn(date, c.ForceFlatTime)
}

// InEntryWindow reports whether ts falls within [start, end] inclusive.
func (c *Calendar) InEntryWindow(ts time.Time) bool {
	start, end, err := c.EntryWindow(ts)
	if err != nil {
		return false
	}
	t := ts.In(Location)
	return !t.Before(start) && !t.After(end)
}

// usHolidays returns the fixed and observed-fixed NYSE holidays for
// year y. Easter-dependent Good Friday is computed via the standard
// Gregorian Easter algorithm (Anonymous/Meeus).
func usHolidays(y int) []time.Time {
	obs := func(month time.Month, day int) time.Time {
		d := time.Date(y, month, day, 0, 0, 0, 0, Location)
		switch d.Weekday() {
		case time.Saturday:
			return d.AddDate(0, 0, -1)
		case time.Sunday:
			return d.AddDate(0, 0, 1)
		}
		return d
	}
	nthWeekday := func(month time.Month, weekday time.Weekday, n int) time.Time {
		d := time.Date(y, month, 1, 0, 0, 0, 0, Location)
		count := 0
		for {
			if d.Weekday() == weekday {
				count++
				if count == n {
					return d
				}
			}
			d = d.AddDate(0, 0, 1)
		}
	}
	lastWeekday := func(month time.Month, weekday time.Weekday) time.Time {
		d := time.Date(y, month+1, 1, 0, 0, 0, 0, Location).AddDate(0, 0, -1)
		for d.Weekday() != weekday {
			d = d.AddDate(0, 0, -1)
		}
		return d
	}

	return []time.Time{
		obs(time.January, 1),               // New Year's Day
		nthWeekday(time.January, time.Monday, 3),  // MLK Day
		nthWeekday(time.February, time.Monday, 3), // Presidents' Day
		goodFriday(y),
		lastWeekday(time.May, time.Monday), // Memorial Day
		obs(time.June, 19),                 // Juneteenth
		obs(time.July, 4),                  // Independence Day
		nthWeekday(time.September, time.Monday, 1), // Labor Day
		nthWeekday(time.November, time.Thursday, 4), // Thanksgiving
		obs(time.December, 25),             // Christmas
	}
}

// goodFriday computes the Friday before Easter Sunday for year y using
// the anonymous Gregorian algorithm.
func goodFriday(y int) time.Time {
	a := y % 19
	b := y / 100
	c := y % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(y, time.Month(month), day, 0, 0, 0, 0, Location)
	return easter.AddDate(0, 0, -2)
}
