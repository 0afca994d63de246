package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/logger"
	"energy-history/internal/observability/metrics"
)

// CaptureService detects closed periods from the wall-clock time of incoming
// samples and asks the persister for their records.
type CaptureService struct {
	persist Persister
	log     *logger.Logger

	mu   sync.Mutex
	done map[string]string
}

// NewCaptureService constructs the service.
func NewCaptureService(persist Persister, log *logger.Logger) (*CaptureService, error) {
	if persist == nil {
		return nil, errors.New("capture service: nil persister")
	}
	return &CaptureService{
		persist: persist,
		log:     logger.OrNop(log),
		done:    make(map[string]string),
	}, nil
}

// BoundaryKeys returns the periods that close at wc. Records are labelled with the
// period that just ended, evaluated at the first minute of the new one.
func BoundaryKeys(wc period.WallClock) []period.PeriodKey {
	if wc.Minute != 0 {
		return nil
	}
	today := wc.DateKey()
	keys := make([]period.PeriodKey, 0, 4)
	if hour, err := previousHour(wc); err == nil {
		keys = append(keys, hour)
	}
	if wc.Hour != 0 {
		return keys
	}
	if day, err := period.Day(today).Previous(); err == nil {
		keys = append(keys, day)
	}
	if wc.Weekday == time.Monday {
		if week, err := period.Week(wc.WeekKey()).Previous(); err == nil {
			keys = append(keys, week)
		}
	}
	if wc.Day == 1 {
		if month, err := period.Month(wc.MonthKey()).Previous(); err == nil {
			keys = append(keys, month)
		}
	}
	return keys
}

// previousHour is the local hour one hour before wc's instant, so the hour before
// a DST gap closes under its own label.
func previousHour(wc period.WallClock) (period.PeriodKey, error) {
	if wc.Instant.IsZero() {
		return period.Hour(wc.DateKey(), wc.Hour).Previous()
	}
	prev := period.At(wc.Instant.Add(-time.Hour), wc.Timezone)
	key := period.Hour(prev.DateKey(), prev.Hour)
	return key, key.Validate()
}

// OnReading handles one aggregated sample. Inside a boundary minute only the
// first fully successful call reaches the store; failed keys are retried by the
// next sample. The returned keys are the periods that were requested.
func (s *CaptureService) OnReading(ctx context.Context, userID, timezone string, total float64, wc period.WallClock) ([]period.PeriodKey, error) {
	keys := BoundaryKeys(wc)
	if len(keys) == 0 {
		return nil, nil
	}
	if userID == "" {
		return nil, delta.ErrEmptyUserID
	}

	minute := wc.DateKey() + "T" + wc.HourKey()
	s.mu.Lock()
	seen := s.done[userID] == minute
	s.mu.Unlock()
	if seen {
		return nil, nil
	}

	var errs []error
	for _, key := range keys {
		res, err := s.persist.PersistDelta(ctx, PersistRequest{
			UserID:       userID,
			Key:          key,
			CurrentTotal: total,
			Timezone:     timezone,
			Origin:       delta.OriginLive,
		})
		if err != nil {
			metrics.IncBoundaryCapture(string(key.Type), metrics.ResultError)
			s.log.Warnw("boundary capture failed",
				"user_id", userID,
				"period_type", key.Type,
				"period_key", key.String(),
				"err", err,
			)
			errs = append(errs, err)
			continue
		}
		result := metrics.ResultSuccess
		if !res.Created {
			result = metrics.ResultSkipped
		}
		metrics.IncBoundaryCapture(string(key.Type), result)
	}
	if len(errs) > 0 {
		return keys, errors.Join(errs...)
	}

	s.mu.Lock()
	s.done[userID] = minute
	s.mu.Unlock()
	return keys, nil
}
