package application

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"energy-history/internal/history/domain/period"
	"energy-history/internal/history/infrastructure/memory"
)

func TestBoundaryKeys(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		tz   string
		want []period.PeriodKey
	}{
		{"mid hour", time.Date(2026, 1, 20, 10, 30, 0, 0, time.UTC), "UTC", nil},
		{"hour boundary", time.Date(2026, 1, 20, 10, 0, 12, 0, time.UTC), "UTC", []period.PeriodKey{period.Hour("2026-01-20", 9)}},
		{"day boundary", time.Date(2026, 1, 20, 16, 0, 0, 0, time.UTC), "Asia/Manila", []period.PeriodKey{
			period.Hour("2026-01-20", 23),
			period.Day("2026-01-20"),
		}},
		{"monday first of month", time.Date(2026, 6, 1, 0, 0, 30, 0, time.UTC), "UTC", []period.PeriodKey{
			period.Hour("2026-05-31", 23),
			period.Day("2026-05-31"),
			period.Week("2026-W22"),
			period.Month("2026-05"),
		}},
		{"spring forward closes the hour before the gap", time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC), "America/New_York", []period.PeriodKey{
			period.Hour("2026-03-08", 1),
		}},
		{"new iso year", time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), "UTC", []period.PeriodKey{
			period.Hour("2024-12-29", 23),
			period.Day("2024-12-29"),
			period.Week("2024-W52"),
		}},
	}
	for _, tc := range cases {
		got := BoundaryKeys(period.At(tc.at, tc.tz))
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCaptureService_ManilaMidnightRecordsYesterday(t *testing.T) {
	store := memory.NewStore()
	seedRecord(t, store, "u1", period.Day("2026-01-19"), 9.25)
	clock := &fixedClock{now: time.Date(2026, 1, 20, 16, 0, 5, 0, time.UTC)}
	persist := newPersist(t, store, clock)
	capture, err := NewCaptureService(persist, nil)
	if err != nil {
		t.Fatalf("new capture service: %v", err)
	}
	ctx := context.Background()

	keys, err := capture.OnReading(ctx, "u1", "Asia/Manila", 10.0, period.At(time.Date(2026, 1, 20, 15, 59, 0, 0, time.UTC), "Asia/Manila"))
	if err != nil || len(keys) != 0 {
		t.Fatalf("23:59 must not capture: keys=%v err=%v", keys, err)
	}

	keys, err = capture.OnReading(ctx, "u1", "Asia/Manila", 10.5, period.At(clock.now, "Asia/Manila"))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected hourly and daily keys, got %v", keys)
	}

	rec, err := store.Get(ctx, "u1", period.Day("2026-01-20"))
	if err != nil {
		t.Fatalf("daily record: %v", err)
	}
	if rec.TotalEnergyAtEnd != 10.5 || rec.DeltaKWh != 1.25 || rec.Timezone != "Asia/Manila" {
		t.Fatalf("unexpected daily record %+v", rec)
	}
	if _, err := store.Get(ctx, "u1", period.Hour("2026-01-20", 23)); err != nil {
		t.Fatalf("hourly record: %v", err)
	}
}

type countingPersister struct {
	calls []PersistRequest
	fail  map[period.PeriodType]error
}

func (p *countingPersister) PersistDelta(ctx context.Context, req PersistRequest) (PersistResult, error) {
	p.calls = append(p.calls, req)
	if err := p.fail[req.Key.Type]; err != nil {
		return PersistResult{}, err
	}
	return PersistResult{Created: true}, nil
}

func TestCaptureService_DedupesWithinBoundaryMinute(t *testing.T) {
	persister := &countingPersister{}
	capture, err := NewCaptureService(persister, nil)
	if err != nil {
		t.Fatalf("new capture service: %v", err)
	}
	wc := period.At(time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC), "UTC")

	for i := 0; i < 3; i++ {
		if _, err := capture.OnReading(context.Background(), "u1", "UTC", 5, wc); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}
	if len(persister.calls) != 1 {
		t.Fatalf("expected one persist call, got %d", len(persister.calls))
	}

	if _, err := capture.OnReading(context.Background(), "u2", "UTC", 5, wc); err != nil {
		t.Fatalf("capture u2: %v", err)
	}
	if len(persister.calls) != 2 {
		t.Fatalf("other users must not be deduped, got %d calls", len(persister.calls))
	}
}

func TestCaptureService_FailureRetriesOnNextSample(t *testing.T) {
	boom := errors.New("timeout")
	persister := &countingPersister{fail: map[period.PeriodType]error{period.PeriodDaily: boom}}
	capture, err := NewCaptureService(persister, nil)
	if err != nil {
		t.Fatalf("new capture service: %v", err)
	}
	wc := period.At(time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC), "UTC")

	keys, err := capture.OnReading(context.Background(), "u1", "UTC", 5, wc)
	if !errors.Is(err, boom) {
		t.Fatalf("expected daily failure, got %v", err)
	}
	if len(keys) != 2 || len(persister.calls) != 2 {
		t.Fatalf("hourly key must still be attempted: keys=%v calls=%d", keys, len(persister.calls))
	}

	persister.fail = nil
	if _, err := capture.OnReading(context.Background(), "u1", "UTC", 5.1, wc); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(persister.calls) != 4 {
		t.Fatalf("expected retry of both keys, got %d calls", len(persister.calls))
	}
}
