package delta

import "errors"

var (
	// ErrRecordNotFound is returned when no record exists for a period key.
	ErrRecordNotFound = errors.New("delta: record not found")
	// ErrPeakNotFound is returned when no realtime peak was mirrored for a day.
	ErrPeakNotFound = errors.New("delta: realtime peak not found")
	// ErrInvalidDocument matches every *DecodeError.
	ErrInvalidDocument = errors.New("delta: invalid document")
	// ErrNegativeDelta is returned when a record carries a negative delta.
	ErrNegativeDelta = errors.New("delta: negative delta")
	// ErrInvalidTotal is returned when a period-end total is negative or not finite.
	ErrInvalidTotal = errors.New("delta: invalid total")
	// ErrInvalidOrigin is returned when a record origin is unsupported.
	ErrInvalidOrigin = errors.New("delta: invalid origin")
	// ErrInvalidTimestamp is returned when a record timestamp is zero.
	ErrInvalidTimestamp = errors.New("delta: invalid timestamp")
	// ErrEmptyUserID is returned when a repository call has no user.
	ErrEmptyUserID = errors.New("delta: empty user id")
)
