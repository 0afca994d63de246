package period

import "errors"

var (
	// ErrInvalidPeriodType is returned when a period type is unsupported.
	ErrInvalidPeriodType = errors.New("period: invalid period type")
	// ErrInvalidDateKey is returned when a date key is not YYYY-MM-DD.
	ErrInvalidDateKey = errors.New("period: invalid date key")
	// ErrInvalidHourKey is returned when an hour key is not 00-23.
	ErrInvalidHourKey = errors.New("period: invalid hour key")
	// ErrInvalidWeekKey is returned when a week key is not a valid ISO week.
	ErrInvalidWeekKey = errors.New("period: invalid week key")
	// ErrInvalidMonthKey is returned when a month key is not YYYY-MM.
	ErrInvalidMonthKey = errors.New("period: invalid month key")
	// ErrEmptyUserID is returned when a document path is built without a user.
	ErrEmptyUserID = errors.New("period: empty user id")
)
