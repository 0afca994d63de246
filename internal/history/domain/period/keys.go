package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// DateKey formats t's calendar date as YYYY-MM-DD.
func DateKey(t time.Time) string { return t.Format(dateLayout) }

// HourKey formats an hour of day as HH.
func HourKey(hour int) string { return fmt.Sprintf("%02d", hour) }

// HourLabel formats an hour of day for display, e.g. "07:00".
func HourLabel(hour int) string { return fmt.Sprintf("%02d:00", hour) }

// MonthKey formats t's calendar month as YYYY-MM.
func MonthKey(t time.Time) string { return t.Format(monthLayout) }

// ISOWeekKey formats the ISO-8601 week containing t as YYYY-Www.
// The week-year is the year of the week's Thursday, so late December dates can belong to
// week 1 of the next year and early January dates to week 52/53 of the previous one.
func ISOWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// ISOWeekStart returns the Monday (UTC midnight) of the given ISO week.
func ISOWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (week-1)*7)
}

// ParseDateKey parses a YYYY-MM-DD key into a UTC midnight.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	return t, nil
}

// ParseHourKey parses an HH key.
func ParseHourKey(key string) (int, error) {
	if len(key) != 2 || !isDigit(key[0]) || !isDigit(key[1]) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHourKey, key)
	}
	hour, err := strconv.Atoi(key)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHourKey, key)
	}
	return hour, nil
}

// ParseMonthKey parses a YYYY-MM key into the first day of the month (UTC).
func ParseMonthKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(monthLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidMonthKey, key)
	}
	return t, nil
}

// ParseWeekKey parses a YYYY-Www key into the Monday of that week (UTC).
func ParseWeekKey(key string) (time.Time, error) {
	parts := strings.Split(key, "-W")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}
	week, err := strconv.Atoi(parts[1])
	if err != nil || week < 1 || week > 53 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}
	monday := ISOWeekStart(year, week)
	if ISOWeekKey(monday) != key {
		// week 53 only exists in long years
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWeekKey, key)
	}
	return monday, nil
}

// ShiftDateKey moves a date key by deltaDays.
func ShiftDateKey(key string, deltaDays int) (string, error) {
	t, err := ParseDateKey(key)
	if err != nil {
		return "", err
	}
	return DateKey(t.AddDate(0, 0, deltaDays)), nil
}

// ShiftWeekKey moves an ISO week key by deltaWeeks.
func ShiftWeekKey(key string, deltaWeeks int) (string, error) {
	monday, err := ParseWeekKey(key)
	if err != nil {
		return "", err
	}
	return ISOWeekKey(monday.AddDate(0, 0, 7*deltaWeeks)), nil
}

// ShiftMonthKey moves a month key by deltaMonths.
func ShiftMonthKey(key string, deltaMonths int) (string, error) {
	t, err := ParseMonthKey(key)
	if err != nil {
		return "", err
	}
	return MonthKey(time.Date(t.Year(), t.Month()+time.Month(deltaMonths), 1, 0, 0, 0, 0, time.UTC)), nil
}

// WeekDates returns the seven date keys (Monday to Sunday) of an ISO week.
func WeekDates(weekKey string) ([]string, error) {
	monday, err := ParseWeekKey(weekKey)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 7)
	for i := range dates {
		dates[i] = DateKey(monday.AddDate(0, 0, i))
	}
	return dates, nil
}

// MonthDates returns every date key of a month in ascending order.
func MonthDates(monthKey string) ([]string, error) {
	first, err := ParseMonthKey(monthKey)
	if err != nil {
		return nil, err
	}
	var dates []string
	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		dates = append(dates, DateKey(d))
	}
	return dates, nil
}

// WeekRangeLabel renders a week as "Jan 5 - Jan 11, 2026".
func WeekRangeLabel(weekKey string) (string, error) {
	monday, err := ParseWeekKey(weekKey)
	if err != nil {
		return "", err
	}
	sunday := monday.AddDate(0, 0, 6)
	return fmt.Sprintf("%s - %s, %d", monday.Format("Jan 2"), sunday.Format("Jan 2"), sunday.Year()), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
