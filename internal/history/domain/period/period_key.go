package period

import (
	"fmt"
	"strings"
	"time"
)

// PeriodType is the calendar granularity of a delta record.
type PeriodType string

const (
	PeriodHourly  PeriodType = "hourly"
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// IsValid checks if the period type is one of the supported values.
func (p PeriodType) IsValid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	default:
		return false
	}
}

// PeriodKey identifies a calendar bucket in a user's timezone.
// Which fields are set depends on Type: hourly uses Date+Hour, daily Date, weekly Week, monthly Month.
type PeriodKey struct {
	Type  PeriodType
	Date  string
	Hour  string
	Week  string
	Month string
}

// Hour builds an hourly key.
func Hour(dateKey string, hour int) PeriodKey {
	return PeriodKey{Type: PeriodHourly, Date: dateKey, Hour: HourKey(hour)}
}

// Day builds a daily key.
func Day(dateKey string) PeriodKey { return PeriodKey{Type: PeriodDaily, Date: dateKey} }

// Week builds a weekly key.
func Week(weekKey string) PeriodKey { return PeriodKey{Type: PeriodWeekly, Week: weekKey} }

// Month builds a monthly key.
func Month(monthKey string) PeriodKey { return PeriodKey{Type: PeriodMonthly, Month: monthKey} }

// Validate checks that the populated fields match the type.
func (k PeriodKey) Validate() error {
	switch k.Type {
	case PeriodHourly:
		if _, err := ParseDateKey(k.Date); err != nil {
			return err
		}
		_, err := ParseHourKey(k.Hour)
		return err
	case PeriodDaily:
		_, err := ParseDateKey(k.Date)
		return err
	case PeriodWeekly:
		_, err := ParseWeekKey(k.Week)
		return err
	case PeriodMonthly:
		_, err := ParseMonthKey(k.Month)
		return err
	default:
		return ErrInvalidPeriodType
	}
}

// String returns the storage key scoped to the period type,
// e.g. "2026-01-20/13", "2026-01-20", "2026-W04", "2026-01".
func (k PeriodKey) String() string {
	switch k.Type {
	case PeriodHourly:
		return k.Date + "/" + k.Hour
	case PeriodDaily:
		return k.Date
	case PeriodWeekly:
		return k.Week
	case PeriodMonthly:
		return k.Month
	default:
		return ""
	}
}

// ParsePeriodKey is the inverse of String.
func ParsePeriodKey(periodType PeriodType, raw string) (PeriodKey, error) {
	var key PeriodKey
	switch periodType {
	case PeriodHourly:
		date, hour, ok := strings.Cut(raw, "/")
		if !ok {
			return PeriodKey{}, fmt.Errorf("%w: %q", ErrInvalidHourKey, raw)
		}
		key = PeriodKey{Type: PeriodHourly, Date: date, Hour: hour}
	case PeriodDaily:
		key = Day(raw)
	case PeriodWeekly:
		key = Week(raw)
	case PeriodMonthly:
		key = Month(raw)
	default:
		return PeriodKey{}, ErrInvalidPeriodType
	}
	if err := key.Validate(); err != nil {
		return PeriodKey{}, err
	}
	return key, nil
}

// Previous returns the key of the period immediately before k.
func (k PeriodKey) Previous() (PeriodKey, error) {
	return k.Shift(-1)
}

// Shift moves the key by n periods of its own type.
func (k PeriodKey) Shift(n int) (PeriodKey, error) {
	if err := k.Validate(); err != nil {
		return PeriodKey{}, err
	}
	switch k.Type {
	case PeriodHourly:
		start, _ := k.Start()
		next := start.Add(time.Duration(n) * time.Hour)
		return Hour(DateKey(next), next.Hour()), nil
	case PeriodDaily:
		date, err := ShiftDateKey(k.Date, n)
		return Day(date), err
	case PeriodWeekly:
		week, err := ShiftWeekKey(k.Week, n)
		return Week(week), err
	default:
		month, err := ShiftMonthKey(k.Month, n)
		return Month(month), err
	}
}

// Start returns the UTC-normalized wall-clock start of the period.
func (k PeriodKey) Start() (time.Time, error) {
	switch k.Type {
	case PeriodHourly:
		date, err := ParseDateKey(k.Date)
		if err != nil {
			return time.Time{}, err
		}
		hour, err := ParseHourKey(k.Hour)
		if err != nil {
			return time.Time{}, err
		}
		return date.Add(time.Duration(hour) * time.Hour), nil
	case PeriodDaily:
		return ParseDateKey(k.Date)
	case PeriodWeekly:
		return ParseWeekKey(k.Week)
	case PeriodMonthly:
		return ParseMonthKey(k.Month)
	default:
		return time.Time{}, ErrInvalidPeriodType
	}
}

// DocumentPath returns the logical document location of the period's record.
func (k PeriodKey) DocumentPath(userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	if err := k.Validate(); err != nil {
		return "", err
	}
	base := "users/" + userID + "/historical/" + string(k.Type) + "/"
	if k.Type == PeriodHourly {
		return base + k.Date + "/hours/" + k.Hour, nil
	}
	return base + k.String(), nil
}

// RealtimePeakPath returns the document location of a day's mirrored realtime peak.
func RealtimePeakPath(userID, dateKey string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	if _, err := ParseDateKey(dateKey); err != nil {
		return "", err
	}
	return "users/" + userID + "/realtimePeakByDay/" + dateKey, nil
}
