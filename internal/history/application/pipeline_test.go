package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/meter"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/history/infrastructure/memory"
)

type pipelineFixture struct {
	store    *memory.Store
	dir      *memory.Directory
	clock    *fixedClock
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, now time.Time, withBackfill bool) *pipelineFixture {
	t.Helper()
	store := memory.NewStore()
	dir := memory.NewDirectory()
	dir.SetTimezone("u1", "Asia/Manila")
	dir.Assign("SN-1", "u1")
	dir.Assign("SN-2", "u1")
	clock := &fixedClock{now: now}

	persist := newPersist(t, store, clock)
	capture, err := NewCaptureService(persist, nil)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	deps := PipelineDeps{Profiles: dir, Owners: dir, Peaks: store, Capture: capture, Clock: clock}
	if withBackfill {
		deps.Backfill, err = NewBackfillEngine(store, persist, clock, 3, nil)
		if err != nil {
			t.Fatalf("backfill: %v", err)
		}
	}
	pipeline, err := NewPipeline(deps, DefaultPipelineConfig())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return &pipelineFixture{store: store, dir: dir, clock: clock, pipeline: pipeline}
}

func (f *pipelineFixture) feed(t *testing.T, at time.Time, serial string, total float64) {
	t.Helper()
	f.clock.now = at
	if err := f.pipeline.HandleReading(context.Background(), meter.Reading{SerialNumber: serial, EnergyTotalKWh: total}); err != nil {
		t.Fatalf("handle reading at %s: %v", at, err)
	}
}

func TestPipeline_MidnightReadingCapturesYesterday(t *testing.T) {
	// 23:59 and 00:00 in Asia/Manila
	beforeMidnight := time.Date(2026, 1, 20, 15, 59, 0, 0, time.UTC)
	midnight := time.Date(2026, 1, 20, 16, 0, 0, 0, time.UTC)
	f := newPipelineFixture(t, beforeMidnight, false)

	f.feed(t, beforeMidnight, "SN-1", 6.0)
	f.feed(t, beforeMidnight.Add(10*time.Second), "SN-2", 4.0)
	f.feed(t, midnight, "SN-2", 4.5)

	rec, err := f.store.Get(context.Background(), "u1", period.Day("2026-01-20"))
	if err != nil {
		t.Fatalf("daily record: %v", err)
	}
	if rec.TotalEnergyAtEnd != 10.5 || rec.DeltaKWh != 10.5 || rec.Origin != delta.OriginLive {
		t.Fatalf("unexpected daily record %+v", rec)
	}
	if f.pipeline.LiveTotal("u1") != 10.5 {
		t.Fatalf("unexpected live total %v", f.pipeline.LiveTotal("u1"))
	}
	if len(f.pipeline.Readings("u1")) != 2 {
		t.Fatalf("expected two sensors on the board")
	}
}

func TestPipeline_PeakMirrorAndRehydrate(t *testing.T) {
	start := time.Date(2026, 1, 20, 2, 10, 0, 0, time.UTC) // 10:10 Manila
	f := newPipelineFixture(t, start, false)

	f.feed(t, start, "SN-1", 5.0)
	f.feed(t, start.Add(time.Minute), "SN-1", 5.0004)
	if _, err := f.store.GetRealtimePeak(context.Background(), "u1", "2026-01-20"); !errors.Is(err, delta.ErrPeakNotFound) {
		t.Fatalf("noise-level peak must not be mirrored, got %v", err)
	}
	f.feed(t, start.Add(2*time.Minute), "SN-1", 5.9)

	mirrored, err := f.store.GetRealtimePeak(context.Background(), "u1", "2026-01-20")
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if !approx(mirrored.Value, 0.8996) || mirrored.AtHourLabel != "10:00" || mirrored.Timezone != "Asia/Manila" {
		t.Fatalf("unexpected mirror %+v", mirrored)
	}

	// a restarted process shares the store but not the tracker
	restarted, err := NewPipeline(PipelineDeps{
		Profiles: f.dir,
		Owners:   f.dir,
		Peaks:    f.store,
		Capture:  f.pipeline.deps.Capture,
		Clock:    f.clock,
	}, PipelineConfig{})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	f.clock.now = start.Add(time.Hour)
	if err := restarted.HandleReading(context.Background(), meter.Reading{SerialNumber: "SN-1", EnergyTotalKWh: 6.0}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	state, ok := restarted.CurrentPeak("u1", "2026-01-20")
	if !ok || !approx(state.PeakDeltaKWh, 0.8996) || state.PeakAtMs != mirrored.AtMs {
		t.Fatalf("expected rehydrated peak, got %+v ok=%v", state, ok)
	}
}

func TestPipeline_SkipsUnassignedAndRejectsInvalid(t *testing.T) {
	f := newPipelineFixture(t, time.Date(2026, 1, 20, 2, 10, 0, 0, time.UTC), false)
	if err := f.pipeline.HandleReading(context.Background(), meter.Reading{SerialNumber: "SN-X", EnergyTotalKWh: 100}); err != nil {
		t.Fatalf("unassigned sensors are skipped silently: %v", err)
	}
	if f.pipeline.LiveTotal("u1") != 0 {
		t.Fatalf("unassigned sensor counted")
	}
	err := f.pipeline.HandleReadings(context.Background(), []meter.Reading{{EnergyTotalKWh: 1}, {SerialNumber: "SN-1", EnergyTotalKWh: 2}})
	if !errors.Is(err, meter.ErrEmptySerialNumber) {
		t.Fatalf("expected ErrEmptySerialNumber, got %v", err)
	}
	if f.pipeline.LiveTotal("u1") != 2 {
		t.Fatalf("valid readings of a batch must still be applied")
	}
}

func TestPipeline_FirstReadingStartsBackfillSession(t *testing.T) {
	now := time.Date(2026, 1, 20, 2, 10, 0, 0, time.UTC) // 10:10 Manila
	f := newPipelineFixture(t, now, true)
	f.feed(t, now, "SN-1", 7)

	if _, err := f.store.Get(context.Background(), "u1", period.Day("2026-01-19")); err != nil {
		t.Fatalf("expected backfilled yesterday: %v", err)
	}
	rec, err := f.store.Get(context.Background(), "u1", period.Hour("2026-01-20", 9))
	if err != nil {
		t.Fatalf("expected provisional hour 09: %v", err)
	}
	if !rec.Provisional {
		t.Fatalf("expected provisional flag on %+v", rec)
	}
	if state := f.pipeline.deps.Backfill.Session("u1", "2026-01-20"); state != SessionDone {
		t.Fatalf("expected session done, got %v", state)
	}
}

type countingProfiles struct {
	calls int
	tz    string
	err   error
}

func (p *countingProfiles) PreferredTimezone(context.Context, string) (string, error) {
	p.calls++
	return p.tz, p.err
}

func TestPipeline_TimezoneCache(t *testing.T) {
	profiles := &countingProfiles{tz: "Not/AZone"}
	clock := &fixedClock{now: time.Date(2026, 1, 20, 2, 0, 0, 0, time.UTC)}
	capture, err := NewCaptureService(&countingPersister{}, nil)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	p, err := NewPipeline(PipelineDeps{
		Profiles: profiles,
		Owners:   memory.NewDirectory(),
		Peaks:    memory.NewStore(),
		Capture:  capture,
		Clock:    clock,
	}, PipelineConfig{ProfileCacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	ctx := context.Background()

	if tz := p.Timezone(ctx, "u1"); tz != "UTC" {
		t.Fatalf("unknown timezone must fall back to UTC, got %q", tz)
	}
	p.Timezone(ctx, "u1")
	if profiles.calls != 1 {
		t.Fatalf("expected cached lookup, got %d calls", profiles.calls)
	}

	profiles.tz = "Asia/Manila"
	clock.now = clock.now.Add(2 * time.Minute)
	if tz := p.Timezone(ctx, "u1"); tz != "Asia/Manila" || profiles.calls != 2 {
		t.Fatalf("expected refresh after ttl, got %q calls=%d", tz, profiles.calls)
	}

	profiles.err = errors.New("profile store down")
	clock.now = clock.now.Add(2 * time.Minute)
	if tz := p.Timezone(ctx, "u1"); tz != "Asia/Manila" {
		t.Fatalf("expected stale timezone on lookup failure, got %q", tz)
	}
	if tz := p.Timezone(ctx, "u2"); tz != period.DefaultTimezone {
		t.Fatalf("expected default timezone, got %q", tz)
	}
}
