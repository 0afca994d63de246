package application

import (
	"context"
	"errors"
	"time"

	"energy-history/internal/history/domain/period"
	"energy-history/internal/logger"
)

// TimezoneResolver returns the timezone a user's periods are cut in.
type TimezoneResolver interface {
	Timezone(ctx context.Context, userID string) string
}

// Scheduler runs the daily backfill for configured users at a wall-clock
// time of each user's own timezone.
type Scheduler struct {
	engine  *BackfillEngine
	tz      TimezoneResolver
	users   []string
	hour    int
	minute  int
	log     *logger.Logger
	tick    time.Duration
	lastRun map[string]string
}

// NewScheduler constructs a Scheduler. dailyAt uses the "15:04" layout.
func NewScheduler(engine *BackfillEngine, tz TimezoneResolver, users []string, dailyAt string, log *logger.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("scheduler: nil backfill engine")
	}
	if tz == nil {
		return nil, errors.New("scheduler: nil timezone resolver")
	}
	hour, minute, err := parseDailyAt(dailyAt)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		engine:  engine,
		tz:      tz,
		users:   users,
		hour:    hour,
		minute:  minute,
		log:     logger.OrNop(log),
		tick:    time.Minute,
		lastRun: make(map[string]string),
	}, nil
}

// Start begins the scheduler loop and returns when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || len(s.users) == 0 {
		return
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.RunDue(ctx, now)
		}
	}
}

// RunDue backfills every user whose local time matches the schedule at now.
// Each user runs at most once per local day. It returns the users processed.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) []string {
	var ran []string
	for _, userID := range s.users {
		if userID == "" {
			continue
		}
		tz := s.tz.Timezone(ctx, userID)
		wc := period.At(now, tz)
		if wc.Hour != s.hour || wc.Minute != s.minute {
			continue
		}
		if s.lastRun[userID] == wc.DateKey() {
			continue
		}
		s.lastRun[userID] = wc.DateKey()
		ran = append(ran, userID)
		report, err := s.engine.BackfillMissingDaily(ctx, userID, tz)
		if err != nil {
			s.log.Warnw("scheduled backfill failed", "user_id", userID, "err", err)
			continue
		}
		s.log.Infow("scheduled backfill", "user_id", userID, "created", len(report.Created), "existing", report.Existing)
	}
	return ran
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
