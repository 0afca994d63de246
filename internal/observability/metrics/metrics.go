package metrics

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"energy-history/internal/logger"
)

const (
	metricPrefix = "history_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
	resultInvalid = "invalid"
)

var (
	registerOnce sync.Once

	readingsTotal *prometheus.CounterVec

	boundaryCaptures *prometheus.CounterVec
	deltaWrites      *prometheus.CounterVec

	backfillTotal   *prometheus.CounterVec
	backfillLatency *prometheus.HistogramVec

	summaryLatency *prometheus.HistogramVec

	realtimePeak prometheus.Gauge

	consumerLag *prometheus.GaugeVec
)

// Init registers the pipeline collectors. When db is not nil a gauge with the
// stored record count is added.
func Init(db *sql.DB, log *logger.Logger) {
	registerOnce.Do(func() {
		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total meter readings handled by result",
			},
			[]string{"result"},
		)

		boundaryCaptures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "boundary_captures_total",
				Help: "Total period boundary persistence requests by period type and result",
			},
			[]string{"period_type", "result"},
		)
		deltaWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delta_writes_total",
				Help: "Total delta records created by period type and origin",
			},
			[]string{"period_type", "origin"},
		)

		backfillTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "backfill_total",
				Help: "Total backfill passes by kind and result",
			},
			[]string{"kind", "result"},
		)
		backfillLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "backfill_latency_seconds",
				Help:    "Backfill pass latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)

		summaryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "summary_latency_seconds",
				Help:    "Summary and chart derivation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"period"},
		)

		realtimePeak = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "realtime_peak_kwh",
				Help: "Most recent realtime peak delta mirrored by the pipeline",
			},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "feed_consumer_lag_seconds",
				Help: "Delay between a feed message timestamp and its processing",
			},
			[]string{"feed"},
		)

		prometheus.MustRegister(
			readingsTotal,
			boundaryCaptures,
			deltaWrites,
			backfillTotal,
			backfillLatency,
			summaryLatency,
			realtimePeak,
			consumerLag,
		)

		if db != nil {
			registerDBMetrics(db, logger.OrNop(log))
		}
	})
}

func registerDBMetrics(db *sql.DB, log *logger.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "delta_records",
			Help: "Number of stored delta records",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			var count int64
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM historical_delta_records`).Scan(&count); err != nil {
				log.Warnw("delta record count failed", "err", err)
				return 0
			}
			return float64(count)
		},
	))
}

// IncReading counts a handled reading.
func IncReading(result string) {
	if result == "" {
		result = resultSuccess
	}
	if readingsTotal != nil {
		readingsTotal.WithLabelValues(result).Inc()
	}
}

// IncBoundaryCapture counts a boundary persistence request.
func IncBoundaryCapture(periodType, result string) {
	if periodType == "" {
		periodType = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if boundaryCaptures != nil {
		boundaryCaptures.WithLabelValues(periodType, result).Inc()
	}
}

// IncDeltaWrite counts a created record.
func IncDeltaWrite(periodType, origin string) {
	if periodType == "" {
		periodType = "unknown"
	}
	if origin == "" {
		origin = "unknown"
	}
	if deltaWrites != nil {
		deltaWrites.WithLabelValues(periodType, origin).Inc()
	}
}

// ObserveBackfill records one backfill pass.
func ObserveBackfill(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if backfillTotal != nil {
		backfillTotal.WithLabelValues(kind, result).Inc()
	}
	if backfillLatency != nil {
		backfillLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveSummary records summary derivation latency.
func ObserveSummary(period string, duration time.Duration) {
	if period == "" {
		period = "unknown"
	}
	if summaryLatency != nil {
		summaryLatency.WithLabelValues(period).Observe(duration.Seconds())
	}
}

// SetRealtimePeak sets the last mirrored peak value.
func SetRealtimePeak(kwh float64) {
	if realtimePeak != nil {
		realtimePeak.Set(kwh)
	}
}

// ObserveConsumerLag sets feed lag in seconds.
func ObserveConsumerLag(feed string, lag time.Duration) {
	if feed == "" {
		feed = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(feed).Set(lag.Seconds())
	}
}

// Exported result labels.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
	ResultInvalid = resultInvalid
)
