package peak

import (
	"math"
	"math/rand"
	"testing"
)

func TestTracker_ConsecutiveDeltaPeak(t *testing.T) {
	tracker := NewTracker()
	totals := []float64{5.0, 5.2, 5.2, 5.9}
	wantPeaks := []float64{0, 0.2, 0.2, 0.7}
	wantNew := []bool{false, true, false, true}

	for i, total := range totals {
		upd := tracker.Update("u1", "2026-01-20", total, int64(1000*(i+1)))
		if math.Abs(upd.Peak-wantPeaks[i]) > 1e-9 {
			t.Fatalf("sample %d: peak %v, want %v", i, upd.Peak, wantPeaks[i])
		}
		if upd.NewPeak != wantNew[i] {
			t.Fatalf("sample %d: newPeak %v, want %v", i, upd.NewPeak, wantNew[i])
		}
		if upd.Last != total {
			t.Fatalf("sample %d: last %v, want %v", i, upd.Last, total)
		}
	}

	state, ok := tracker.Current("u1", "2026-01-20")
	if !ok {
		t.Fatalf("expected state")
	}
	if state.PeakAtMs != 4000 {
		t.Fatalf("expected peak at 4000, got %d", state.PeakAtMs)
	}
}

func TestTracker_FirstSampleIsBaselineOnly(t *testing.T) {
	tracker := NewTracker()
	upd := tracker.Update("u1", "2026-01-20", 120, 1)
	if upd.HasPeak || upd.NewPeak || upd.Peak != 0 {
		t.Fatalf("first sample must not produce a peak: %+v", upd)
	}
}

func TestTracker_CounterResetClampsToZero(t *testing.T) {
	tracker := NewTracker()
	tracker.Update("u1", "d", 10, 1)
	tracker.Update("u1", "d", 10.5, 2)
	upd := tracker.Update("u1", "d", 0.1, 3)
	if upd.Peak != 0.5 || upd.NewPeak {
		t.Fatalf("reset must not change peak: %+v", upd)
	}
	upd = tracker.Update("u1", "d", 0.3, 4)
	if math.Abs(upd.Peak-0.5) > 1e-9 || upd.Last != 0.3 {
		t.Fatalf("unexpected update after reset: %+v", upd)
	}
}

func TestTracker_PeakIsMonotonicWithinDay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tracker := NewTracker()
	total := 100.0
	prevPeak := 0.0
	for i := 0; i < 500; i++ {
		total += rng.Float64()*2 - 0.5
		upd := tracker.Update("u1", "2026-01-20", total, int64(i))
		if upd.Peak < prevPeak {
			t.Fatalf("peak decreased at %d: %v < %v", i, upd.Peak, prevPeak)
		}
		prevPeak = upd.Peak
	}
}

func TestTracker_SeedRehydratesWithoutBaseline(t *testing.T) {
	tracker := NewTracker()
	tracker.Seed("u1", "2026-01-20", 0.8, 500)

	upd := tracker.Update("u1", "2026-01-20", 50, 1000)
	if upd.Peak != 0.8 || upd.PeakAtMs != 500 || upd.NewPeak {
		t.Fatalf("seeded peak should survive baseline sample: %+v", upd)
	}
	upd = tracker.Update("u1", "2026-01-20", 51, 2000)
	if upd.Peak != 1 || !upd.NewPeak || upd.PeakAtMs != 2000 {
		t.Fatalf("expected new peak 1: %+v", upd)
	}
}

func TestTracker_NewDayResetsAndDropsOldState(t *testing.T) {
	tracker := NewTracker()
	tracker.Update("u1", "2026-01-20", 10, 1)
	tracker.Update("u1", "2026-01-20", 12, 2)

	upd := tracker.Update("u1", "2026-01-21", 12.1, 3)
	if upd.HasPeak {
		t.Fatalf("new day must start untracked: %+v", upd)
	}
	if _, ok := tracker.Current("u1", "2026-01-20"); ok {
		t.Fatalf("previous day state should be dropped")
	}

	late := tracker.Update("u1", "2026-01-20", 13, 4)
	if late.NewPeak || late.HasPeak {
		t.Fatalf("late sample must not report a peak: %+v", late)
	}
	if _, ok := tracker.Current("u1", "2026-01-21"); !ok {
		t.Fatalf("late sample must not evict the current day")
	}
	if _, ok := tracker.Current("u1", "2026-01-20"); ok {
		t.Fatalf("late sample must not recreate state for an older day")
	}
	tracker.Seed("u1", "2026-01-19", 5, 5)
	if _, ok := tracker.Current("u1", "2026-01-19"); ok {
		t.Fatalf("seeding an older day must not create state")
	}
	if len(tracker.states) != 1 {
		t.Fatalf("expected only the current day tracked, got %d states", len(tracker.states))
	}
}
