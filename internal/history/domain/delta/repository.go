package delta

import (
	"context"

	"energy-history/internal/history/domain/period"
)

// Repository persists delta records per user.
// Create must be create-if-absent: it reports false and leaves the stored record untouched
// when a record already exists for the key.
type Repository interface {
	Get(ctx context.Context, userID string, key period.PeriodKey) (Record, error)
	Create(ctx context.Context, userID string, rec Record) (bool, error)
	Earliest(ctx context.Context, userID string, periodType period.PeriodType) (period.PeriodKey, bool, error)
}

// PeakMirror stores the opportunistic realtime peak per user and day.
type PeakMirror interface {
	GetRealtimePeak(ctx context.Context, userID, dateKey string) (RealtimePeak, error)
	SaveRealtimePeak(ctx context.Context, userID string, peak RealtimePeak) error
}

// Store is the full persistence surface used by the pipeline.
type Store interface {
	Repository
	PeakMirror
}
