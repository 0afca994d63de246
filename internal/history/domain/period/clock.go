package period

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is used when a user's preferred timezone cannot be resolved.
const DefaultTimezone = "UTC"

// Clock provides time for domain services.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now() }

// ResolveLocation loads a timezone identifier.
// Empty or unknown identifiers fail closed to UTC so the reading path never aborts on bad profile data.
func ResolveLocation(tz string) (*time.Location, string) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil || loc == nil {
		return time.UTC, DefaultTimezone
	}
	return loc, tz
}

// WallClock is a wall-clock instant in a user's preferred timezone.
type WallClock struct {
	Year     int
	Month    time.Month
	Day      int
	Hour     int
	Minute   int
	Weekday  time.Weekday
	Timezone string
	Instant  time.Time
}

// Now converts the clock's current instant into tz wall-clock time.
func Now(clock Clock, tz string) WallClock {
	if clock == nil {
		clock = SystemClock{}
	}
	return At(clock.Now(), tz)
}

// At converts t into tz wall-clock time.
func At(t time.Time, tz string) WallClock {
	loc, name := ResolveLocation(tz)
	local := t.In(loc)
	return WallClock{
		Year:     local.Year(),
		Month:    local.Month(),
		Day:      local.Day(),
		Hour:     local.Hour(),
		Minute:   local.Minute(),
		Weekday:  local.Weekday(),
		Timezone: name,
		Instant:  t,
	}
}

// Date returns the wall-clock date as a UTC-normalized midnight.
func (w WallClock) Date() time.Time {
	return time.Date(w.Year, w.Month, w.Day, 0, 0, 0, 0, time.UTC)
}

// DateKey returns the YYYY-MM-DD key of the wall-clock date.
func (w WallClock) DateKey() string { return DateKey(w.Date()) }

// HourKey returns the HH key of the wall-clock hour.
func (w WallClock) HourKey() string { return HourKey(w.Hour) }

// WeekKey returns the ISO week key of the wall-clock date.
func (w WallClock) WeekKey() string { return ISOWeekKey(w.Date()) }

// MonthKey returns the YYYY-MM key of the wall-clock date.
func (w WallClock) MonthKey() string { return MonthKey(w.Date()) }

// DayStart returns the instant at which the wall-clock day began in its timezone.
func (w WallClock) DayStart() time.Time {
	loc, _ := ResolveLocation(w.Timezone)
	return time.Date(w.Year, w.Month, w.Day, 0, 0, 0, 0, loc)
}
