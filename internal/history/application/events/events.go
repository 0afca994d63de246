package events

import (
	"time"

	"github.com/google/uuid"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/period"
)

// DeltaRecorded is emitted once when a delta record is created.
type DeltaRecorded struct {
	EventID       string
	UserID        string
	Key           period.PeriodKey
	DeltaKWh      float64
	TotalAtEnd    float64
	Origin        delta.Origin
	BaselineFound bool
	OccurredAt    time.Time
}

// NewDeltaRecorded builds the event for a freshly created record.
func NewDeltaRecorded(userID string, rec delta.Record, baselineFound bool) DeltaRecorded {
	return DeltaRecorded{
		EventID:       uuid.NewString(),
		UserID:        userID,
		Key:           rec.Key,
		DeltaKWh:      rec.DeltaKWh,
		TotalAtEnd:    rec.TotalEnergyAtEnd,
		Origin:        rec.Origin,
		BaselineFound: baselineFound,
		OccurredAt:    rec.CreatedAt,
	}
}

// RealtimePeakChanged is emitted when a new realtime peak is mirrored.
type RealtimePeakChanged struct {
	UserID     string
	Peak       delta.RealtimePeak
	OccurredAt time.Time
}
