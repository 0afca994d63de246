package application

import (
	"context"
	"errors"
	"fmt"

	"energy-history/internal/history/application/eventbus"
	"energy-history/internal/history/application/events"
	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/logger"
	"energy-history/internal/observability/metrics"
)

// BaselineBounds caps how far the baseline walk goes back per period type.
// Hourly walks are always bounded by the prior day's last hour.
type BaselineBounds struct {
	MaxDays   int
	MaxWeeks  int
	MaxMonths int
}

// DefaultBaselineBounds returns the walk bounds used when none are configured.
func DefaultBaselineBounds() BaselineBounds {
	return BaselineBounds{MaxDays: 31, MaxWeeks: 12, MaxMonths: 12}
}

// PersistRequest asks for the record of a closed period.
type PersistRequest struct {
	UserID       string
	Key          period.PeriodKey
	CurrentTotal float64
	Timezone     string
	Origin       delta.Origin
}

// Baseline is the previous period-end total a delta is computed against.
type Baseline struct {
	Total float64
	Key   period.PeriodKey
	Found bool
}

// PersistResult reports what PersistDelta did. Created is false when the
// record already existed, in which case Record is the stored one.
type PersistResult struct {
	Record        delta.Record
	Created       bool
	Baseline      float64
	BaselineKey   period.PeriodKey
	BaselineFound bool
}

// Persister persists delta records for closed periods.
type Persister interface {
	PersistDelta(ctx context.Context, req PersistRequest) (PersistResult, error)
}

// PersistOption customizes a PersistService.
type PersistOption func(*PersistService)

// WithBaselineBounds overrides the walk bounds. Non-positive values keep the default.
func WithBaselineBounds(bounds BaselineBounds) PersistOption {
	return func(s *PersistService) {
		if bounds.MaxDays > 0 {
			s.bounds.MaxDays = bounds.MaxDays
		}
		if bounds.MaxWeeks > 0 {
			s.bounds.MaxWeeks = bounds.MaxWeeks
		}
		if bounds.MaxMonths > 0 {
			s.bounds.MaxMonths = bounds.MaxMonths
		}
	}
}

// WithPersistLogger sets the service logger.
func WithPersistLogger(log *logger.Logger) PersistOption {
	return func(s *PersistService) {
		s.log = logger.OrNop(log)
	}
}

// PersistService writes one record per (user, period type, period key).
type PersistService struct {
	repo   delta.Repository
	bus    eventbus.EventBus
	clock  period.Clock
	bounds BaselineBounds
	log    *logger.Logger
}

// NewPersistService constructs the service. bus may be nil.
func NewPersistService(repo delta.Repository, bus eventbus.EventBus, clock period.Clock, opts ...PersistOption) (*PersistService, error) {
	if repo == nil {
		return nil, errors.New("persist service: nil repository")
	}
	if clock == nil {
		clock = period.SystemClock{}
	}
	s := &PersistService{
		repo:   repo,
		bus:    bus,
		clock:  clock,
		bounds: DefaultBaselineBounds(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// PersistDelta records the closed period in req. An existing record is returned
// untouched; otherwise the baseline is searched backward and a new record created.
func (s *PersistService) PersistDelta(ctx context.Context, req PersistRequest) (PersistResult, error) {
	return s.persist(ctx, req, nil)
}

func (s *PersistService) persist(ctx context.Context, req PersistRequest, baseline *Baseline) (PersistResult, error) {
	if req.UserID == "" {
		return PersistResult{}, delta.ErrEmptyUserID
	}
	if err := req.Key.Validate(); err != nil {
		return PersistResult{}, err
	}
	if req.Origin == "" {
		req.Origin = delta.OriginLive
	}
	_, tz := period.ResolveLocation(req.Timezone)

	existing, err := s.repo.Get(ctx, req.UserID, req.Key)
	if err == nil {
		return PersistResult{Record: existing}, nil
	}
	if !errors.Is(err, delta.ErrRecordNotFound) {
		return PersistResult{}, fmt.Errorf("persist: read %s: %w", req.Key, err)
	}

	if baseline == nil {
		found, err := s.FindBaseline(ctx, req.UserID, req.Key)
		if err != nil {
			return PersistResult{}, err
		}
		baseline = &found
	}

	rec, err := delta.NewRecord(req.Key, req.CurrentTotal, baseline.Total, tz, req.Origin, s.clock.Now())
	if err != nil {
		return PersistResult{}, err
	}

	result := PersistResult{
		Record:        rec,
		Baseline:      baseline.Total,
		BaselineKey:   baseline.Key,
		BaselineFound: baseline.Found,
	}
	created, err := s.repo.Create(ctx, req.UserID, rec)
	if err != nil {
		return PersistResult{}, fmt.Errorf("persist: create %s: %w", req.Key, err)
	}
	if !created {
		// another writer won the race; report its record
		if stored, err := s.repo.Get(ctx, req.UserID, req.Key); err == nil {
			result.Record = stored
		}
		return result, nil
	}

	result.Created = true
	metrics.IncDeltaWrite(string(req.Key.Type), string(rec.Origin))
	s.log.Debugw("delta recorded",
		"user_id", req.UserID,
		"period_type", req.Key.Type,
		"period_key", req.Key.String(),
		"delta_kwh", rec.DeltaKWh,
		"baseline_found", baseline.Found,
	)

	if s.bus == nil {
		return result, nil
	}
	if err := s.bus.Publish(ctx, events.NewDeltaRecorded(req.UserID, rec, baseline.Found)); err != nil {
		s.log.Warnw("delta recorded publish failed", "user_id", req.UserID, "period_key", req.Key.String(), "err", err)
	}
	return result, nil
}

// FindBaseline walks back from the period before key until a stored record is
// found or the bound for the period type is reached. Unreadable documents are
// skipped; store errors abort the walk.
func (s *PersistService) FindBaseline(ctx context.Context, userID string, key period.PeriodKey) (Baseline, error) {
	steps, err := s.walkSteps(key)
	if err != nil {
		return Baseline{}, err
	}
	for i := 1; i <= steps; i++ {
		candidate, err := key.Shift(-i)
		if err != nil {
			return Baseline{}, err
		}
		rec, err := s.repo.Get(ctx, userID, candidate)
		switch {
		case err == nil:
			return Baseline{Total: rec.TotalEnergyAtEnd, Key: candidate, Found: true}, nil
		case errors.Is(err, delta.ErrRecordNotFound):
			continue
		case errors.Is(err, delta.ErrInvalidDocument):
			s.log.Warnw("skipping unreadable baseline", "user_id", userID, "period_key", candidate.String(), "err", err)
			continue
		default:
			return Baseline{}, fmt.Errorf("persist: baseline %s: %w", candidate, err)
		}
	}
	return Baseline{}, nil
}

func (s *PersistService) walkSteps(key period.PeriodKey) (int, error) {
	switch key.Type {
	case period.PeriodHourly:
		hour, err := period.ParseHourKey(key.Hour)
		if err != nil {
			return 0, err
		}
		// earlier hours of the same day, then the prior day's hour 23
		return hour + 1, nil
	case period.PeriodDaily:
		return s.bounds.MaxDays, nil
	case period.PeriodWeekly:
		return s.bounds.MaxWeeks, nil
	case period.PeriodMonthly:
		return s.bounds.MaxMonths, nil
	default:
		return 0, period.ErrInvalidPeriodType
	}
}
