package delta

import (
	"math"
	"time"

	"energy-history/internal/history/domain/period"
)

// Origin tells how a record came to exist.
type Origin string

const (
	OriginLive        Origin = "live"
	OriginBackfill    Origin = "backfill"
	OriginProvisional Origin = "provisional"
)

// IsValid checks if the origin is one of the supported values.
func (o Origin) IsValid() bool {
	switch o {
	case OriginLive, OriginBackfill, OriginProvisional:
		return true
	default:
		return false
	}
}

// Record is the persisted consumption of one closed calendar period.
// Invariants:
// 1) At most one record exists per (user, period type, period key).
// 2) DeltaKWh is never negative.
// 3) Records are write-once. Provisional ones are flagged but still never overwritten.
type Record struct {
	Key              period.PeriodKey
	TotalEnergyAtEnd float64
	DeltaKWh         float64
	Timezone         string
	RangeLabel       string
	Provisional      bool
	Origin           Origin
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ComputeDelta returns the consumption between a baseline and a period-end total, clamped at zero.
func ComputeDelta(currentTotal, previousTotal float64) float64 {
	d := currentTotal - previousTotal
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return d
}

// NewRecord builds a validated record for key.
func NewRecord(key period.PeriodKey, totalAtEnd, previousTotal float64, timezone string, origin Origin, at time.Time) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, err
	}
	if !origin.IsValid() {
		return Record{}, ErrInvalidOrigin
	}
	if at.IsZero() {
		return Record{}, ErrInvalidTimestamp
	}
	if math.IsNaN(totalAtEnd) || math.IsInf(totalAtEnd, 0) || totalAtEnd < 0 {
		return Record{}, ErrInvalidTotal
	}

	rec := Record{
		Key:              key,
		TotalEnergyAtEnd: totalAtEnd,
		DeltaKWh:         ComputeDelta(totalAtEnd, previousTotal),
		Timezone:         timezone,
		Provisional:      origin != OriginLive,
		Origin:           origin,
		CreatedAt:        at.UTC(),
		UpdatedAt:        at.UTC(),
	}
	if key.Type == period.PeriodWeekly {
		if label, err := period.WeekRangeLabel(key.Week); err == nil {
			rec.RangeLabel = label
		}
	}
	return rec, nil
}

// Validate checks the invariants of a decoded record.
func (r Record) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if r.DeltaKWh < 0 || math.IsNaN(r.DeltaKWh) {
		return ErrNegativeDelta
	}
	if r.TotalEnergyAtEnd < 0 || math.IsNaN(r.TotalEnergyAtEnd) || math.IsInf(r.TotalEnergyAtEnd, 0) {
		return ErrInvalidTotal
	}
	if !r.Origin.IsValid() {
		return ErrInvalidOrigin
	}
	return nil
}

// RealtimePeak is the best-effort mirror of a day's realtime peak.
type RealtimePeak struct {
	DateKey     string
	Value       float64
	AtHourLabel string
	AtMs        int64
	Timezone    string
	UpdatedAt   time.Time
}
