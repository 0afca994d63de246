package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"energy-history/internal/history/application/eventbus"
	"energy-history/internal/history/application/events"
	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/meter"
	"energy-history/internal/history/domain/peak"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/logger"
	"energy-history/internal/observability/metrics"
)

// ProfileDirectory resolves a user's preferred timezone.
type ProfileDirectory interface {
	PreferredTimezone(ctx context.Context, userID string) (string, error)
}

// OwnershipDirectory maps a sensor serial number to the user it belongs to.
type OwnershipDirectory interface {
	OwnerOf(ctx context.Context, serialNumber string) (string, bool, error)
}

// SampleSink receives every aggregated total, e.g. a time-series mirror.
type SampleSink interface {
	WriteTotal(ctx context.Context, userID string, totalKWh float64, at time.Time) error
}

// PipelineConfig tunes the reading handler.
type PipelineConfig struct {
	PeakEpsilonKWh  float64
	ProfileCacheTTL time.Duration
}

// DefaultPipelineConfig returns the handler defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{PeakEpsilonKWh: 0.001, ProfileCacheTTL: 5 * time.Minute}
}

// PipelineDeps are the collaborators of a Pipeline. Backfill, Sink and Bus are optional.
type PipelineDeps struct {
	Profiles ProfileDirectory
	Owners   OwnershipDirectory
	Peaks    delta.PeakMirror
	Capture  *CaptureService
	Backfill *BackfillEngine
	Sink     SampleSink
	Bus      eventbus.EventBus
	Clock    period.Clock
	Log      *logger.Logger
}

type cachedTimezone struct {
	tz      string
	expires time.Time
}

// Pipeline handles live meter readings: it aggregates per-user totals, tracks
// the realtime peak, captures closed periods and starts the daily backfill session.
type Pipeline struct {
	deps    PipelineDeps
	cfg     PipelineConfig
	board   *meter.Board
	tracker *peak.Tracker

	mu        sync.Mutex
	timezones map[string]cachedTimezone
}

// NewPipeline constructs a pipeline.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) (*Pipeline, error) {
	if deps.Profiles == nil {
		return nil, errors.New("pipeline: nil profile directory")
	}
	if deps.Owners == nil {
		return nil, errors.New("pipeline: nil ownership directory")
	}
	if deps.Peaks == nil {
		return nil, errors.New("pipeline: nil peak mirror")
	}
	if deps.Capture == nil {
		return nil, errors.New("pipeline: nil capture service")
	}
	if deps.Clock == nil {
		deps.Clock = period.SystemClock{}
	}
	deps.Log = logger.OrNop(deps.Log)
	defaults := DefaultPipelineConfig()
	if cfg.PeakEpsilonKWh <= 0 {
		cfg.PeakEpsilonKWh = defaults.PeakEpsilonKWh
	}
	if cfg.ProfileCacheTTL <= 0 {
		cfg.ProfileCacheTTL = defaults.ProfileCacheTTL
	}
	return &Pipeline{
		deps:      deps,
		cfg:       cfg,
		board:     meter.NewBoard(),
		tracker:   peak.NewTracker(),
		timezones: make(map[string]cachedTimezone),
	}, nil
}

// HandleReading processes one reading. Only invalid readings return an error;
// store and feed failures are logged and retried by later readings.
func (p *Pipeline) HandleReading(ctx context.Context, r meter.Reading) error {
	if err := r.Validate(); err != nil {
		metrics.IncReading(metrics.ResultInvalid)
		return err
	}
	userID, ok, err := p.deps.Owners.OwnerOf(ctx, r.SerialNumber)
	if err != nil {
		metrics.IncReading(metrics.ResultError)
		p.deps.Log.Warnw("ownership lookup failed", "serial_number", r.SerialNumber, "err", err)
		return nil
	}
	if !ok {
		metrics.IncReading(metrics.ResultSkipped)
		p.deps.Log.Debugw("reading from unassigned sensor", "serial_number", r.SerialNumber)
		return nil
	}

	now := p.deps.Clock.Now()
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = now
	}
	if err := p.board.Apply(userID, r); err != nil {
		metrics.IncReading(metrics.ResultInvalid)
		return err
	}
	total := p.board.Total(userID)
	tz := p.timezone(ctx, userID)
	wc := period.At(now, tz)

	p.trackPeak(ctx, userID, wc, total, now)

	if p.deps.Sink != nil {
		if err := p.deps.Sink.WriteTotal(ctx, userID, total, now); err != nil {
			p.deps.Log.Warnw("sample sink write failed", "user_id", userID, "err", err)
		}
	}

	if _, err := p.deps.Capture.OnReading(ctx, userID, wc.Timezone, total, wc); err != nil {
		p.deps.Log.Warnw("boundary capture incomplete", "user_id", userID, "err", err)
	}

	if p.deps.Backfill != nil {
		if _, err := p.deps.Backfill.RunSession(ctx, userID, wc.Timezone, p.board.Readings(userID)); err != nil {
			p.deps.Log.Warnw("backfill session failed", "user_id", userID, "err", err)
		}
	}

	metrics.IncReading(metrics.ResultSuccess)
	return nil
}

// HandleReadings processes a batch in order and reports the invalid ones.
func (p *Pipeline) HandleReadings(ctx context.Context, readings []meter.Reading) error {
	var errs []error
	for i, r := range readings {
		if err := p.HandleReading(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("reading %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) trackPeak(ctx context.Context, userID string, wc period.WallClock, total float64, now time.Time) {
	dateKey := wc.DateKey()
	if _, ok := p.tracker.Current(userID, dateKey); !ok {
		mirrored, err := p.deps.Peaks.GetRealtimePeak(ctx, userID, dateKey)
		switch {
		case err == nil:
			p.tracker.Seed(userID, dateKey, mirrored.Value, mirrored.AtMs)
		case errors.Is(err, delta.ErrPeakNotFound):
		default:
			p.deps.Log.Warnw("realtime peak rehydrate failed", "user_id", userID, "date", dateKey, "err", err)
		}
	}

	upd := p.tracker.Update(userID, dateKey, total, now.UnixMilli())
	if !upd.NewPeak || upd.Peak <= p.cfg.PeakEpsilonKWh {
		return
	}
	mirror := delta.RealtimePeak{
		DateKey:     dateKey,
		Value:       upd.Peak,
		AtHourLabel: period.HourLabel(wc.Hour),
		AtMs:        upd.PeakAtMs,
		Timezone:    wc.Timezone,
		UpdatedAt:   now.UTC(),
	}
	if err := p.deps.Peaks.SaveRealtimePeak(ctx, userID, mirror); err != nil {
		p.deps.Log.Warnw("realtime peak mirror failed", "user_id", userID, "date", dateKey, "err", err)
		return
	}
	metrics.SetRealtimePeak(upd.Peak)
	if p.deps.Bus != nil {
		if err := p.deps.Bus.Publish(ctx, events.RealtimePeakChanged{UserID: userID, Peak: mirror, OccurredAt: now.UTC()}); err != nil {
			p.deps.Log.Warnw("realtime peak publish failed", "user_id", userID, "err", err)
		}
	}
}

// Timezone returns the user's resolved timezone, cached for ProfileCacheTTL.
func (p *Pipeline) Timezone(ctx context.Context, userID string) string {
	return p.timezone(ctx, userID)
}

func (p *Pipeline) timezone(ctx context.Context, userID string) string {
	now := p.deps.Clock.Now()
	p.mu.Lock()
	cached, ok := p.timezones[userID]
	p.mu.Unlock()
	if ok && now.Before(cached.expires) {
		return cached.tz
	}

	raw, err := p.deps.Profiles.PreferredTimezone(ctx, userID)
	if err != nil {
		p.deps.Log.Warnw("profile lookup failed", "user_id", userID, "err", err)
		if ok {
			return cached.tz
		}
		return period.DefaultTimezone
	}
	_, tz := period.ResolveLocation(raw)
	p.mu.Lock()
	p.timezones[userID] = cachedTimezone{tz: tz, expires: now.Add(p.cfg.ProfileCacheTTL)}
	p.mu.Unlock()
	return tz
}

// LiveTotal returns the user's current aggregated total.
func (p *Pipeline) LiveTotal(userID string) float64 {
	return p.board.Total(userID)
}

// CurrentPeak returns the tracked realtime peak for a day.
func (p *Pipeline) CurrentPeak(userID, dateKey string) (peak.State, bool) {
	return p.tracker.Current(userID, dateKey)
}

// Readings returns the latest reading per sensor of a user.
func (p *Pipeline) Readings(userID string) []meter.Reading {
	return p.board.Readings(userID)
}
