package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/peak"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/logger"
	"energy-history/internal/observability/metrics"
)

// ErrInvalidPeriod is returned for an unknown summary period.
var ErrInvalidPeriod = errors.New("summary: invalid period")

// Period is a summary/chart selection.
type Period string

const (
	PeriodRealtime Period = "realtime"
	PeriodDaily    Period = "daily"
	PeriodWeekly   Period = "weekly"
	PeriodMonthly  Period = "monthly"
)

// ParsePeriod accepts realtime, daily, weekly or monthly in any case.
func ParsePeriod(raw string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case PeriodRealtime, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
}

const realtimeChartHours = 6

// SummaryCardData is the summary card read model.
type SummaryCardData struct {
	TotalValue float64 `json:"totalValue"`
	TotalLabel string  `json:"totalLabel"`
	AvgValue   float64 `json:"avgValue"`
	AvgLabel   string  `json:"avgLabel"`
	PeakValue  float64 `json:"peakValue"`
	PeakLabel  string  `json:"peakLabel"`
	PeakDetail string  `json:"peakDetail,omitempty"`
}

// ChartData is one point per sub-bucket of the selected period.
type ChartData struct {
	Period  Period    `json:"period"`
	Key     string    `json:"key"`
	Labels  []string  `json:"labels"`
	Data    []float64 `json:"data"`
	Total   float64   `json:"total"`
	Average float64   `json:"average"`
	Peak    float64   `json:"peak"`
	Low     float64   `json:"low"`
}

// RecordReader reads stored delta records.
type RecordReader interface {
	Get(ctx context.Context, userID string, key period.PeriodKey) (delta.Record, error)
}

// LiveView exposes the in-memory realtime state of the pipeline.
type LiveView interface {
	LiveTotal(userID string) float64
	CurrentPeak(userID, dateKey string) (peak.State, bool)
}

// SummaryService derives summary cards and charts from stored records.
// Missing or unreadable records count as zero; derivation never fails on data.
type SummaryService struct {
	records RecordReader
	live    LiveView
	clock   period.Clock
	log     *logger.Logger
}

// NewSummaryService constructs the service. live may be nil when no realtime
// state is available, in which case realtime totals and peaks read as zero.
func NewSummaryService(records RecordReader, live LiveView, clock period.Clock, log *logger.Logger) (*SummaryService, error) {
	if records == nil {
		return nil, errors.New("summary service: nil record reader")
	}
	if clock == nil {
		clock = period.SystemClock{}
	}
	return &SummaryService{records: records, live: live, clock: clock, log: logger.OrNop(log)}, nil
}

type derived struct {
	card  SummaryCardData
	chart ChartData
}

// GetSummary returns the summary card for p. ref selects the target period by its
// calendar date; nil selects the default (yesterday, last week, last month).
func (s *SummaryService) GetSummary(ctx context.Context, userID, timezone string, p Period, ref *time.Time) (SummaryCardData, error) {
	d, err := s.derive(ctx, userID, timezone, p, ref)
	if err != nil {
		return SummaryCardData{}, err
	}
	return d.card, nil
}

// GetChartData returns the chart points for p.
func (s *SummaryService) GetChartData(ctx context.Context, userID, timezone string, p Period, ref *time.Time) (ChartData, error) {
	d, err := s.derive(ctx, userID, timezone, p, ref)
	if err != nil {
		return ChartData{}, err
	}
	return d.chart, nil
}

// Derive returns both read models in one pass.
func (s *SummaryService) Derive(ctx context.Context, userID, timezone string, p Period, ref *time.Time) (SummaryCardData, ChartData, error) {
	d, err := s.derive(ctx, userID, timezone, p, ref)
	if err != nil {
		return SummaryCardData{}, ChartData{}, err
	}
	return d.card, d.chart, nil
}

func (s *SummaryService) derive(ctx context.Context, userID, timezone string, p Period, ref *time.Time) (derived, error) {
	if userID == "" {
		return derived{}, delta.ErrEmptyUserID
	}
	start := time.Now()
	defer func() { metrics.ObserveSummary(string(p), time.Since(start)) }()

	wc := period.Now(s.clock, timezone)
	switch p {
	case PeriodRealtime:
		return s.realtime(ctx, userID, wc), nil
	case PeriodDaily:
		date := wc.Date().AddDate(0, 0, -1)
		if ref != nil {
			date = calendarDate(*ref)
		}
		return s.daily(ctx, userID, period.DateKey(date)), nil
	case PeriodWeekly:
		weekKey, err := period.ShiftWeekKey(wc.WeekKey(), -1)
		if err != nil {
			return derived{}, err
		}
		if ref != nil {
			weekKey = period.ISOWeekKey(calendarDate(*ref))
		}
		return s.weekly(ctx, userID, weekKey), nil
	case PeriodMonthly:
		monthKey, err := period.ShiftMonthKey(wc.MonthKey(), -1)
		if err != nil {
			return derived{}, err
		}
		if ref != nil {
			monthKey = period.MonthKey(calendarDate(*ref))
		}
		return s.monthly(ctx, userID, monthKey), nil
	default:
		return derived{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, p)
	}
}

func (s *SummaryService) realtime(ctx context.Context, userID string, wc period.WallClock) derived {
	today := wc.DateKey()
	liveTotal := 0.0
	if s.live != nil {
		liveTotal = s.live.LiveTotal(userID)
	}

	deltas := make(map[period.PeriodKey]float64)
	sum := 0.0
	baseline, hasBaseline := 0.0, false
	for hour := 0; hour < wc.Hour; hour++ {
		key := period.Hour(today, hour)
		rec, ok := s.read(ctx, userID, key)
		if !ok {
			continue
		}
		deltas[key] = rec.DeltaKWh
		sum += rec.DeltaKWh
		baseline, hasBaseline = rec.TotalEnergyAtEnd, true
	}
	current := period.Hour(today, wc.Hour)
	if !hasBaseline {
		if prev, err := period.Hour(today, 0).Previous(); err == nil {
			if rec, ok := s.read(ctx, userID, prev); ok {
				baseline, hasBaseline = rec.TotalEnergyAtEnd, true
			}
		}
	}
	if hasBaseline {
		deltas[current] = delta.ComputeDelta(liveTotal, baseline)
		sum += deltas[current]
	}

	card := SummaryCardData{
		TotalValue: liveTotal,
		TotalLabel: "Total Energy",
		AvgValue:   sum / float64(wc.Hour+1),
		AvgLabel:   "Avg per Hour",
		PeakLabel:  "Peak Energy",
	}
	if s.live != nil {
		if state, ok := s.live.CurrentPeak(userID, today); ok && state.HasPeak {
			card.PeakValue = state.PeakDeltaKWh
			card.PeakDetail = "at " + time.UnixMilli(state.PeakAtMs).In(wc.DayStart().Location()).Format("15:04")
		}
	}

	labels := make([]string, 0, realtimeChartHours)
	data := make([]float64, 0, realtimeChartHours)
	for i := realtimeChartHours - 1; i >= 0; i-- {
		key, err := current.Shift(-i)
		if err != nil {
			continue
		}
		value, ok := deltas[key]
		if !ok && key.Date != today {
			if rec, found := s.read(ctx, userID, key); found {
				value = rec.DeltaKWh
			}
		}
		hour, _ := period.ParseHourKey(key.Hour)
		labels = append(labels, period.HourLabel(hour))
		data = append(data, value)
	}
	return derived{card: card, chart: buildChart(PeriodRealtime, today, labels, data)}
}

func (s *SummaryService) daily(ctx context.Context, userID, dateKey string) derived {
	labels := make([]string, 24)
	data := make([]float64, 24)
	for hour := 0; hour < 24; hour++ {
		labels[hour] = period.HourLabel(hour)
		if rec, ok := s.read(ctx, userID, period.Hour(dateKey, hour)); ok {
			data[hour] = rec.DeltaKWh
		}
	}
	chart := buildChart(PeriodDaily, dateKey, labels, data)
	idx := peakIndex(data)
	return derived{
		card: SummaryCardData{
			TotalValue: chart.Total,
			TotalLabel: "Total Energy",
			AvgValue:   chart.Average,
			AvgLabel:   "Avg per Hour",
			PeakValue:  data[idx],
			PeakLabel:  "Peak Hour",
			PeakDetail: labels[idx],
		},
		chart: chart,
	}
}

func (s *SummaryService) weekly(ctx context.Context, userID, weekKey string) derived {
	dates, err := period.WeekDates(weekKey)
	if err != nil {
		return derived{chart: ChartData{Period: PeriodWeekly, Key: weekKey}}
	}
	labels := make([]string, len(dates))
	data := make([]float64, len(dates))
	details := make([]string, len(dates))
	for i, date := range dates {
		day, _ := period.ParseDateKey(date)
		labels[i] = day.Format("Mon")
		details[i] = day.Format("Mon, Jan 2")
		if rec, ok := s.read(ctx, userID, period.Day(date)); ok {
			data[i] = rec.DeltaKWh
		}
	}
	chart := buildChart(PeriodWeekly, weekKey, labels, data)
	idx := peakIndex(data)
	return derived{
		card: SummaryCardData{
			TotalValue: chart.Total,
			TotalLabel: "Total Energy",
			AvgValue:   chart.Average,
			AvgLabel:   "Avg per Day",
			PeakValue:  data[idx],
			PeakLabel:  "Peak Day",
			PeakDetail: details[idx],
		},
		chart: chart,
	}
}

func (s *SummaryService) monthly(ctx context.Context, userID, monthKey string) derived {
	dates, err := period.MonthDates(monthKey)
	if err != nil {
		return derived{chart: ChartData{Period: PeriodMonthly, Key: monthKey}}
	}
	var weeks []string
	sums := make(map[string]float64)
	for _, date := range dates {
		day, _ := period.ParseDateKey(date)
		week := period.ISOWeekKey(day)
		if _, seen := sums[week]; !seen {
			weeks = append(weeks, week)
			sums[week] = 0
		}
		if rec, ok := s.read(ctx, userID, period.Day(date)); ok {
			sums[week] += rec.DeltaKWh
		}
	}

	labels := make([]string, len(weeks))
	data := make([]float64, len(weeks))
	for i, week := range weeks {
		labels[i] = week[len(week)-3:]
		data[i] = sums[week]
	}
	chart := buildChart(PeriodMonthly, monthKey, labels, data)
	idx := peakIndex(data)
	detail, err := period.WeekRangeLabel(weeks[idx])
	if err != nil {
		detail = weeks[idx]
	}
	return derived{
		card: SummaryCardData{
			TotalValue: chart.Total,
			TotalLabel: "Total Energy",
			AvgValue:   chart.Average,
			AvgLabel:   "Avg per Week",
			PeakValue:  data[idx],
			PeakLabel:  "Peak Week",
			PeakDetail: detail,
		},
		chart: chart,
	}
}

func (s *SummaryService) read(ctx context.Context, userID string, key period.PeriodKey) (delta.Record, bool) {
	rec, err := s.records.Get(ctx, userID, key)
	if err != nil {
		if !errors.Is(err, delta.ErrRecordNotFound) {
			s.log.Warnw("summary read degraded to zero", "user_id", userID, "period_key", key.String(), "err", err)
		}
		return delta.Record{}, false
	}
	return rec, true
}

func buildChart(p Period, key string, labels []string, data []float64) ChartData {
	chart := ChartData{Period: p, Key: key, Labels: labels, Data: data}
	if len(data) == 0 {
		return chart
	}
	chart.Low = data[0]
	chart.Peak = data[0]
	for _, v := range data {
		chart.Total += v
		if v > chart.Peak {
			chart.Peak = v
		}
		if v < chart.Low {
			chart.Low = v
		}
	}
	chart.Average = chart.Total / float64(len(data))
	return chart
}

// peakIndex returns the first index holding the maximum; only a strictly
// greater value moves the peak.
func peakIndex(data []float64) int {
	idx := 0
	for i := 1; i < len(data); i++ {
		if data[i] > data[idx] {
			idx = i
		}
	}
	return idx
}

func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
