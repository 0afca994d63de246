package historyhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"energy-history/internal/auth"
	"energy-history/internal/history/application"
	"energy-history/internal/history/domain/meter"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/history/interfaces/export"
	"energy-history/internal/logger"
)

// Deriver builds summary cards and charts.
type Deriver interface {
	Derive(ctx context.Context, userID, timezone string, p application.Period, ref *time.Time) (application.SummaryCardData, application.ChartData, error)
}

type request struct {
	userID   string
	timezone string
	period   application.Period
	ref      *time.Time
}

func parseRequest(r *http.Request, tz application.TimezoneResolver) (request, int, error) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		return request{}, http.StatusUnauthorized, errors.New("unauthenticated")
	}
	p, err := application.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		return request{}, http.StatusBadRequest, err
	}
	req := request{userID: userID, timezone: tz.Timezone(r.Context(), userID), period: p}
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err := period.ParseDateKey(raw)
		if err != nil {
			return request{}, http.StatusBadRequest, fmt.Errorf("invalid date %q", raw)
		}
		req.ref = &date
	}
	return req, 0, nil
}

// SummaryHandler serves the summary card of a period.
type SummaryHandler struct {
	summary Deriver
	tz      application.TimezoneResolver
	log     *logger.Logger
	chart   bool
}

// NewSummaryHandler constructs a handler for GET /api/v1/history/summary.
func NewSummaryHandler(summary Deriver, tz application.TimezoneResolver, log *logger.Logger) (*SummaryHandler, error) {
	if summary == nil {
		return nil, errors.New("summary handler: nil summary service")
	}
	if tz == nil {
		return nil, errors.New("summary handler: nil timezone resolver")
	}
	return &SummaryHandler{summary: summary, tz: tz, log: logger.OrNop(log)}, nil
}

// NewChartHandler constructs a handler for GET /api/v1/history/chart.
func NewChartHandler(summary Deriver, tz application.TimezoneResolver, log *logger.Logger) (*SummaryHandler, error) {
	h, err := NewSummaryHandler(summary, tz, log)
	if err != nil {
		return nil, err
	}
	h.chart = true
	return h, nil
}

// ServeHTTP handles summary and chart queries.
func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, status, err := parseRequest(r, h.tz)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	card, chart, err := h.summary.Derive(r.Context(), req.userID, req.timezone, req.period, req.ref)
	if err != nil {
		h.log.Warnw("summary derive failed", "user_id", req.userID, "period", req.period, "err", err)
		http.Error(w, "summary error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if h.chart {
		_ = json.NewEncoder(w).Encode(chart)
		return
	}
	_ = json.NewEncoder(w).Encode(card)
}

// Export formats.
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ExportHandler serves summary exports.
type ExportHandler struct {
	summary Deriver
	tz      application.TimezoneResolver
	format  string
	clock   period.Clock
	log     *logger.Logger
}

// NewExportHandler constructs a handler for GET /api/v1/history/export.{xlsx,pdf}.
func NewExportHandler(summary Deriver, tz application.TimezoneResolver, format string, clock period.Clock, log *logger.Logger) (*ExportHandler, error) {
	if summary == nil {
		return nil, errors.New("export handler: nil summary service")
	}
	if tz == nil {
		return nil, errors.New("export handler: nil timezone resolver")
	}
	if format != FormatXLSX && format != FormatPDF {
		return nil, fmt.Errorf("export handler: unsupported format %q", format)
	}
	if clock == nil {
		clock = period.SystemClock{}
	}
	return &ExportHandler{summary: summary, tz: tz, format: format, clock: clock, log: logger.OrNop(log)}, nil
}

// ServeHTTP renders the export.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, status, err := parseRequest(r, h.tz)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	card, chart, err := h.summary.Derive(r.Context(), req.userID, req.timezone, req.period, req.ref)
	if err != nil {
		h.log.Warnw("export derive failed", "user_id", req.userID, "period", req.period, "err", err)
		http.Error(w, "summary error", http.StatusInternalServerError)
		return
	}
	report := export.Report{
		UserID:      req.userID,
		Timezone:    req.timezone,
		Card:        card,
		Chart:       chart,
		GeneratedAt: h.clock.Now(),
	}

	var (
		body        []byte
		contentType string
	)
	switch h.format {
	case FormatPDF:
		body, err = export.BuildPDF(report)
		contentType = "application/pdf"
	default:
		body, err = export.BuildXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		h.log.Warnw("export render failed", "user_id", req.userID, "format", h.format, "err", err)
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("history-%s-%s.%s", chart.Period, chart.Key, h.format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(body)
}

// SensorView exposes the latest sensor readings of a user.
type SensorView interface {
	Readings(userID string) []meter.Reading
}

// BackfillHandler triggers the backfill of the authenticated user.
type BackfillHandler struct {
	engine  *application.BackfillEngine
	tz      application.TimezoneResolver
	sensors SensorView
	log     *logger.Logger
}

// NewBackfillHandler constructs a handler for POST /api/v1/history/backfill.
func NewBackfillHandler(engine *application.BackfillEngine, tz application.TimezoneResolver, sensors SensorView, log *logger.Logger) (*BackfillHandler, error) {
	if engine == nil {
		return nil, errors.New("backfill handler: nil engine")
	}
	if tz == nil {
		return nil, errors.New("backfill handler: nil timezone resolver")
	}
	return &BackfillHandler{engine: engine, tz: tz, sensors: sensors, log: logger.OrNop(log)}, nil
}

type backfillReport struct {
	Created  []string `json:"created"`
	Existing int      `json:"existing"`
}

func toReport(r application.BackfillReport) backfillReport {
	out := backfillReport{Created: make([]string, 0, len(r.Created)), Existing: r.Existing}
	for _, key := range r.Created {
		out.Created = append(out.Created, string(key.Type)+":"+key.String())
	}
	return out
}

// ServeHTTP runs the daily and the provisional hourly backfill.
func (h *BackfillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	tz := h.tz.Timezone(r.Context(), userID)

	daily, err := h.engine.BackfillMissingDaily(r.Context(), userID, tz)
	if err != nil {
		h.log.Warnw("manual daily backfill failed", "user_id", userID, "err", err)
		http.Error(w, "backfill error", http.StatusInternalServerError)
		return
	}
	var sensors []meter.Reading
	if h.sensors != nil {
		sensors = h.sensors.Readings(userID)
	}
	hourly, err := h.engine.BackfillTodayHourlyProvisional(r.Context(), userID, tz, sensors)
	if err != nil {
		h.log.Warnw("manual hourly backfill failed", "user_id", userID, "err", err)
		http.Error(w, "backfill error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"timezone": tz,
		"daily":    toReport(daily),
		"hourly":   toReport(hourly),
	})
}
