package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/meter"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/logger"
	"energy-history/internal/observability/metrics"
)

const (
	backfillKindDaily   = "daily"
	backfillKindHourly  = "hourly_provisional"
	backfillKindSession = "session"

	defaultLookbackDays = 30
)

// SessionState is the per (user, day) backfill session state.
type SessionState int

const (
	SessionNotStarted SessionState = iota
	SessionInFlight
	SessionDone
)

func (s SessionState) String() string {
	switch s {
	case SessionInFlight:
		return "in_flight"
	case SessionDone:
		return "done"
	default:
		return "not_started"
	}
}

// BackfillReport lists what a backfill pass wrote.
type BackfillReport struct {
	Created  []period.PeriodKey
	Existing int
}

type sessionKey struct {
	userID  string
	dateKey string
}

// BackfillEngine synthesizes missing daily and today's hourly records.
type BackfillEngine struct {
	repo         delta.Repository
	persist      *PersistService
	clock        period.Clock
	lookbackDays int
	log          *logger.Logger

	mu       sync.Mutex
	sessions map[sessionKey]SessionState
}

// NewBackfillEngine constructs the engine. lookbackDays <= 0 uses 30 days.
func NewBackfillEngine(repo delta.Repository, persist *PersistService, clock period.Clock, lookbackDays int, log *logger.Logger) (*BackfillEngine, error) {
	if repo == nil {
		return nil, errors.New("backfill engine: nil repository")
	}
	if persist == nil {
		return nil, errors.New("backfill engine: nil persist service")
	}
	if clock == nil {
		clock = period.SystemClock{}
	}
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	return &BackfillEngine{
		repo:         repo,
		persist:      persist,
		clock:        clock,
		lookbackDays: lookbackDays,
		log:          logger.OrNop(log),
		sessions:     make(map[sessionKey]SessionState),
	}, nil
}

// BackfillMissingDaily fills daily records from the later of the oldest stored
// daily record and the lookback start, up to yesterday. A missing day's total is
// its latest hourly record, else the baseline so the synthesized delta is zero.
func (e *BackfillEngine) BackfillMissingDaily(ctx context.Context, userID, timezone string) (report BackfillReport, err error) {
	start := time.Now()
	defer func() { observeBackfill(backfillKindDaily, err, time.Since(start)) }()

	if userID == "" {
		return BackfillReport{}, delta.ErrEmptyUserID
	}
	wc := period.Now(e.clock, timezone)
	today := wc.DateKey()
	from, err := period.ShiftDateKey(today, -e.lookbackDays)
	if err != nil {
		return BackfillReport{}, err
	}
	earliest, ok, err := e.repo.Earliest(ctx, userID, period.PeriodDaily)
	if err != nil {
		return BackfillReport{}, fmt.Errorf("backfill: earliest daily: %w", err)
	}
	if ok && earliest.Date > from {
		from = earliest.Date
	}

	for date := from; date < today; {
		key := period.Day(date)
		created, err := e.backfillDay(ctx, userID, wc.Timezone, key)
		if err != nil {
			return report, err
		}
		if created {
			report.Created = append(report.Created, key)
		} else {
			report.Existing++
		}
		if date, err = period.ShiftDateKey(date, 1); err != nil {
			return report, err
		}
	}
	if len(report.Created) > 0 {
		e.log.Infow("daily backfill", "user_id", userID, "created", len(report.Created), "from", from)
	}
	return report, nil
}

func (e *BackfillEngine) backfillDay(ctx context.Context, userID, timezone string, key period.PeriodKey) (bool, error) {
	if _, err := e.repo.Get(ctx, userID, key); err == nil {
		return false, nil
	} else if !errors.Is(err, delta.ErrRecordNotFound) {
		return false, fmt.Errorf("backfill: read %s: %w", key, err)
	}

	baseline, err := e.persist.FindBaseline(ctx, userID, key)
	if err != nil {
		return false, err
	}
	total, found, err := e.latestHourlyTotal(ctx, userID, key.Date)
	if err != nil {
		return false, err
	}
	if !found {
		total = baseline.Total
	}
	res, err := e.persist.persist(ctx, PersistRequest{
		UserID:       userID,
		Key:          key,
		CurrentTotal: total,
		Timezone:     timezone,
		Origin:       delta.OriginBackfill,
	}, &baseline)
	if err != nil {
		return false, err
	}
	return res.Created, nil
}

func (e *BackfillEngine) latestHourlyTotal(ctx context.Context, userID, dateKey string) (float64, bool, error) {
	for hour := 23; hour >= 0; hour-- {
		key := period.Hour(dateKey, hour)
		rec, err := e.repo.Get(ctx, userID, key)
		switch {
		case err == nil:
			return rec.TotalEnergyAtEnd, true, nil
		case errors.Is(err, delta.ErrRecordNotFound), errors.Is(err, delta.ErrInvalidDocument):
			continue
		default:
			return 0, false, fmt.Errorf("backfill: read %s: %w", key, err)
		}
	}
	return 0, false, nil
}

// BackfillTodayHourlyProvisional writes provisional records for today's elapsed
// hours that have none. Totals follow the straight line from the baseline, taken
// at the end of its hour, to the current aggregated total now. Without any
// baseline the records carry the current total and a zero delta.
func (e *BackfillEngine) BackfillTodayHourlyProvisional(ctx context.Context, userID, timezone string, sensors []meter.Reading) (report BackfillReport, err error) {
	start := time.Now()
	defer func() { observeBackfill(backfillKindHourly, err, time.Since(start)) }()

	if userID == "" {
		return BackfillReport{}, delta.ErrEmptyUserID
	}
	current := meter.AggregateTotal(sensors)
	now := e.clock.Now()
	wc := period.At(now, timezone)
	loc, _ := period.ResolveLocation(wc.Timezone)
	today := wc.DateKey()

	for hour := 0; hour < wc.Hour; hour++ {
		key := period.Hour(today, hour)
		if _, err := e.repo.Get(ctx, userID, key); err == nil {
			report.Existing++
			continue
		} else if !errors.Is(err, delta.ErrRecordNotFound) {
			return report, fmt.Errorf("backfill: read %s: %w", key, err)
		}

		baseline, err := e.persist.FindBaseline(ctx, userID, key)
		if err != nil {
			return report, err
		}
		hourEnd := time.Date(wc.Year, wc.Month, wc.Day, hour+1, 0, 0, 0, loc)
		total := current
		if baseline.Found {
			baselineEnd, err := hourEndOf(baseline.Key, loc)
			if err != nil {
				return report, err
			}
			total = interpolate(baseline.Total, baselineEnd, current, now, hourEnd)
		} else {
			baseline = Baseline{Total: current}
		}

		res, err := e.persist.persist(ctx, PersistRequest{
			UserID:       userID,
			Key:          key,
			CurrentTotal: total,
			Timezone:     wc.Timezone,
			Origin:       delta.OriginProvisional,
		}, &baseline)
		if err != nil {
			return report, err
		}
		if res.Created {
			report.Created = append(report.Created, key)
		} else {
			report.Existing++
		}
	}
	return report, nil
}

// RunSession runs both backfills at most once per (user, day) in this process.
// It reports whether the session ran. A failed session can be started again.
func (e *BackfillEngine) RunSession(ctx context.Context, userID, timezone string, sensors []meter.Reading) (ran bool, err error) {
	start := time.Now()
	dateKey := period.Now(e.clock, timezone).DateKey()
	key := sessionKey{userID: userID, dateKey: dateKey}

	e.mu.Lock()
	if e.sessions[key] != SessionNotStarted {
		e.mu.Unlock()
		return false, nil
	}
	e.sessions[key] = SessionInFlight
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if err != nil {
			delete(e.sessions, key)
		} else {
			e.sessions[key] = SessionDone
		}
		e.mu.Unlock()
		observeBackfill(backfillKindSession, err, time.Since(start))
	}()

	if _, err := e.BackfillMissingDaily(ctx, userID, timezone); err != nil {
		return true, err
	}
	if _, err := e.BackfillTodayHourlyProvisional(ctx, userID, timezone, sensors); err != nil {
		return true, err
	}
	return true, nil
}

// Session returns the session state of a user for a day.
func (e *BackfillEngine) Session(userID, dateKey string) SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[sessionKey{userID: userID, dateKey: dateKey}]
}

func hourEndOf(key period.PeriodKey, loc *time.Location) (time.Time, error) {
	start, err := key.Start()
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(start.Year(), start.Month(), start.Day(), start.Hour()+1, 0, 0, 0, loc), nil
}

// interpolate returns the total on the line from (fromAt, fromTotal) to
// (toAt, toTotal) at instant at, clamped to the segment.
func interpolate(fromTotal float64, fromAt time.Time, toTotal float64, toAt, at time.Time) float64 {
	if toTotal <= fromTotal {
		return fromTotal
	}
	span := toAt.Sub(fromAt)
	if span <= 0 || !at.Before(toAt) {
		return toTotal
	}
	if !at.After(fromAt) {
		return fromTotal
	}
	ratio := float64(at.Sub(fromAt)) / float64(span)
	return fromTotal + (toTotal-fromTotal)*ratio
}

func observeBackfill(kind string, err error, duration time.Duration) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveBackfill(kind, result, duration)
}
