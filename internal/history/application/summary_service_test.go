package application

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/peak"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/history/infrastructure/memory"
)

func putDelta(t *testing.T, store *memory.Store, key period.PeriodKey, total, deltaKWh float64) {
	t.Helper()
	if err := store.PutDocument("u1", key, delta.Document{"totalEnergyAtEnd": total, "deltaKWh": deltaKWh}); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

type stubLive struct {
	total float64
	state peak.State
	ok    bool
}

func (s stubLive) LiveTotal(string) float64 { return s.total }

func (s stubLive) CurrentPeak(string, string) (peak.State, bool) { return s.state, s.ok }

func newSummary(t *testing.T, records RecordReader, live LiveView, now time.Time) *SummaryService {
	t.Helper()
	svc, err := NewSummaryService(records, live, &fixedClock{now: now}, nil)
	if err != nil {
		t.Fatalf("new summary service: %v", err)
	}
	return svc
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGetSummary_DailyAggregationIsExact(t *testing.T) {
	store := memory.NewStore()
	deltas := make([]float64, 24)
	cumulative := 100.0
	for i := range deltas {
		deltas[i] = float64((i*7)%11) / 4
		cumulative += deltas[i]
		putDelta(t, store, period.Hour("2026-01-20", i), cumulative, deltas[i])
	}
	sum, maxIdx := 0.0, 0
	for i, d := range deltas {
		sum += d
		if d > deltas[maxIdx] {
			maxIdx = i
		}
	}

	svc := newSummary(t, store, nil, time.Date(2026, 1, 21, 9, 0, 0, 0, time.UTC))
	card, err := svc.GetSummary(context.Background(), "u1", "UTC", PeriodDaily, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !approx(card.TotalValue, sum) || !approx(card.AvgValue, sum/24) {
		t.Fatalf("total/avg mismatch: %+v want total %v", card, sum)
	}
	if card.PeakValue != deltas[maxIdx] || card.PeakDetail != period.HourLabel(maxIdx) {
		t.Fatalf("peak mismatch: %+v want %v at %d", card, deltas[maxIdx], maxIdx)
	}
	// the maximum 2.5 occurs at hours 3 and 14; the first one wins
	if maxIdx != 3 || card.PeakDetail != "03:00" {
		t.Fatalf("expected first max at 03:00, got %q", card.PeakDetail)
	}

	chart, err := svc.GetChartData(context.Background(), "u1", "UTC", PeriodDaily, nil)
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if len(chart.Data) != 24 || chart.Labels[0] != "00:00" || chart.Low != 0 || chart.Peak != 2.5 {
		t.Fatalf("unexpected chart %+v", chart)
	}
}

func TestGetSummary_MonthlyPeakWeekTieKeepsEarlierWeek(t *testing.T) {
	store := memory.NewStore()
	for day := 2; day <= 8; day++ {
		putDelta(t, store, period.Day(period.DateKey(time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC))), 0, 2.0)
	}
	putDelta(t, store, period.Day("2026-02-10"), 0, 7.0)
	putDelta(t, store, period.Day("2026-02-12"), 0, 7.0)

	svc := newSummary(t, store, nil, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	card, chart, err := svc.Derive(context.Background(), "u1", "UTC", PeriodMonthly, nil)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !reflect.DeepEqual(chart.Labels, []string{"W05", "W06", "W07", "W08", "W09"}) {
		t.Fatalf("unexpected week labels %v", chart.Labels)
	}
	if card.PeakValue != 14 || card.PeakDetail != "Feb 2 - Feb 8, 2026" {
		t.Fatalf("expected earlier week to win the tie: %+v", card)
	}
	if !approx(card.TotalValue, 28) || !approx(card.AvgValue, 28.0/5) {
		t.Fatalf("unexpected totals %+v", card)
	}
}

func TestGetSummary_WeeklyDefaultsToLastCompletedWeek(t *testing.T) {
	store := memory.NewStore()
	putDelta(t, store, period.Day("2026-01-19"), 0, 5)
	putDelta(t, store, period.Day("2026-01-22"), 0, 5)
	putDelta(t, store, period.Day("2026-01-25"), 0, 1)
	putDelta(t, store, period.Day("2026-01-26"), 0, 50)

	svc := newSummary(t, store, nil, time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC))
	card, chart, err := svc.Derive(context.Background(), "u1", "UTC", PeriodWeekly, nil)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if chart.Key != "2026-W04" || chart.Labels[0] != "Mon" || chart.Labels[6] != "Sun" {
		t.Fatalf("unexpected chart %+v", chart)
	}
	if card.TotalValue != 11 || !approx(card.AvgValue, 11.0/7) || card.PeakDetail != "Mon, Jan 19" {
		t.Fatalf("unexpected card %+v", card)
	}

	ref := time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)
	card, err = svc.GetSummary(context.Background(), "u1", "UTC", PeriodWeekly, &ref)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if card.TotalValue != 50 {
		t.Fatalf("reference date should select 2026-W05: %+v", card)
	}
}

func TestGetSummary_RealtimeUsesLiveTotalAndTrackerPeak(t *testing.T) {
	store := memory.NewStore()
	putDelta(t, store, period.Hour("2026-01-19", 23), 10, 4)
	putDelta(t, store, period.Hour("2026-01-20", 0), 11, 1)
	putDelta(t, store, period.Hour("2026-01-20", 1), 13, 2)
	putDelta(t, store, period.Hour("2026-01-20", 2), 13.5, 0.5)

	peakAt := time.Date(2026, 1, 20, 2, 15, 0, 0, time.UTC)
	live := stubLive{total: 14.25, state: peak.State{PeakDeltaKWh: 0.3, PeakAtMs: peakAt.UnixMilli(), HasPeak: true}, ok: true}
	svc := newSummary(t, store, live, time.Date(2026, 1, 20, 3, 30, 0, 0, time.UTC))

	card, chart, err := svc.Derive(context.Background(), "u1", "UTC", PeriodRealtime, nil)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if card.TotalValue != 14.25 || !approx(card.AvgValue, 4.25/4) {
		t.Fatalf("unexpected totals %+v", card)
	}
	if card.PeakValue != 0.3 || card.PeakDetail != "at 02:15" {
		t.Fatalf("peak must come from the tracker: %+v", card)
	}
	wantLabels := []string{"22:00", "23:00", "00:00", "01:00", "02:00", "03:00"}
	wantData := []float64{0, 4, 1, 2, 0.5, 0.75}
	if !reflect.DeepEqual(chart.Labels, wantLabels) || !reflect.DeepEqual(chart.Data, wantData) {
		t.Fatalf("unexpected chart labels=%v data=%v", chart.Labels, chart.Data)
	}
}

type failingReader struct {
	RecordReader
	fail period.PeriodKey
}

func (r failingReader) Get(ctx context.Context, userID string, key period.PeriodKey) (delta.Record, error) {
	if key == r.fail {
		return delta.Record{}, errors.New("store unavailable")
	}
	return r.RecordReader.Get(ctx, userID, key)
}

func TestGetSummary_ReadFailureZeroesOnePoint(t *testing.T) {
	store := memory.NewStore()
	putDelta(t, store, period.Hour("2026-01-20", 5), 0, 3)
	putDelta(t, store, period.Hour("2026-01-20", 6), 0, 4)
	reader := failingReader{RecordReader: store, fail: period.Hour("2026-01-20", 6)}

	svc := newSummary(t, reader, nil, time.Date(2026, 1, 21, 1, 0, 0, 0, time.UTC))
	card, err := svc.GetSummary(context.Background(), "u1", "UTC", PeriodDaily, nil)
	if err != nil {
		t.Fatalf("summary must not fail: %v", err)
	}
	if card.TotalValue != 3 || card.PeakDetail != "05:00" {
		t.Fatalf("unexpected card %+v", card)
	}
}

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod(" Weekly "); err != nil || p != PeriodWeekly {
		t.Fatalf("parse weekly: %v %v", p, err)
	}
	if _, err := ParsePeriod("yearly"); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	svc := newSummary(t, memory.NewStore(), nil, time.Now())
	if _, err := svc.GetSummary(context.Background(), "u1", "UTC", Period("yearly"), nil); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}
