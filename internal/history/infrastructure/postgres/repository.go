package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/period"
)

const (
	defaultRecordsTable = "historical_delta_records"
	defaultPeaksTable   = "realtime_peaks"
)

// Repository is a Postgres implementation of delta.Store.
type Repository struct {
	db         *sql.DB
	table      string
	peaksTable string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the default records table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithPeaksTable overrides the default realtime peaks table name.
func WithPeaksTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.peaksTable = table
		}
	}
}

// NewRepository creates a repository using the default table names.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{
		db:         db,
		table:      defaultRecordsTable,
		peaksTable: defaultPeaksTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads the record stored for key. Rows that violate the record
// invariants surface as *delta.DecodeError.
func (r *Repository) Get(ctx context.Context, userID string, key period.PeriodKey) (delta.Record, error) {
	if r == nil || r.db == nil {
		return delta.Record{}, errors.New("history repo: nil db")
	}
	path, err := key.DocumentPath(userID)
	if err != nil {
		return delta.Record{}, err
	}

	query := fmt.Sprintf(`
SELECT
	total_energy_at_end,
	delta_kwh,
	timezone,
	range_label,
	provisional,
	origin,
	created_at,
	updated_at
FROM %s
WHERE user_id = $1
	AND period_type = $2
	AND period_key = $3
LIMIT 1`, r.table)

	row := r.db.QueryRowContext(ctx, query, userID, string(key.Type), key.String())
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return delta.Record{}, delta.ErrRecordNotFound
	}
	if err != nil {
		return delta.Record{}, err
	}
	return delta.DecodeDocument(path, key, doc)
}

// Create inserts rec unless a row already exists for its key.
func (r *Repository) Create(ctx context.Context, userID string, rec delta.Record) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("history repo: nil db")
	}
	if userID == "" {
		return false, delta.ErrEmptyUserID
	}
	if err := rec.Validate(); err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	user_id,
	period_type,
	period_key,
	total_energy_at_end,
	delta_kwh,
	timezone,
	range_label,
	provisional,
	origin,
	created_at,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (user_id, period_type, period_key) DO NOTHING`, r.table)

	res, err := r.db.ExecContext(ctx, query,
		userID,
		string(rec.Key.Type),
		rec.Key.String(),
		rec.TotalEnergyAtEnd,
		rec.DeltaKWh,
		rec.Timezone,
		nullString(rec.RangeLabel),
		rec.Provisional,
		string(rec.Origin),
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Earliest returns the oldest stored key of the given type for the user.
func (r *Repository) Earliest(ctx context.Context, userID string, periodType period.PeriodType) (period.PeriodKey, bool, error) {
	if r == nil || r.db == nil {
		return period.PeriodKey{}, false, errors.New("history repo: nil db")
	}
	if userID == "" {
		return period.PeriodKey{}, false, delta.ErrEmptyUserID
	}
	if !periodType.IsValid() {
		return period.PeriodKey{}, false, period.ErrInvalidPeriodType
	}

	query := fmt.Sprintf(`
SELECT period_key
FROM %s
WHERE user_id = $1
	AND period_type = $2
ORDER BY period_key ASC
LIMIT 1`, r.table)

	var raw string
	err := r.db.QueryRowContext(ctx, query, userID, string(periodType)).Scan(&raw)
	if err == sql.ErrNoRows {
		return period.PeriodKey{}, false, nil
	}
	if err != nil {
		return period.PeriodKey{}, false, err
	}
	key, err := period.ParsePeriodKey(periodType, raw)
	if err != nil {
		return period.PeriodKey{}, false, fmt.Errorf("history repo: stored key %q: %w", raw, err)
	}
	return key, true, nil
}

// GetRealtimePeak loads the mirrored peak for a day.
func (r *Repository) GetRealtimePeak(ctx context.Context, userID, dateKey string) (delta.RealtimePeak, error) {
	if r == nil || r.db == nil {
		return delta.RealtimePeak{}, errors.New("history repo: nil db")
	}
	if _, err := period.RealtimePeakPath(userID, dateKey); err != nil {
		return delta.RealtimePeak{}, err
	}

	query := fmt.Sprintf(`
SELECT value, at_hour_label, at_ms, timezone, updated_at
FROM %s
WHERE user_id = $1
	AND date_key = $2
LIMIT 1`, r.peaksTable)

	peak := delta.RealtimePeak{DateKey: dateKey}
	err := r.db.QueryRowContext(ctx, query, userID, dateKey).Scan(
		&peak.Value,
		&peak.AtHourLabel,
		&peak.AtMs,
		&peak.Timezone,
		&peak.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return delta.RealtimePeak{}, delta.ErrPeakNotFound
	}
	if err != nil {
		return delta.RealtimePeak{}, err
	}
	peak.UpdatedAt = peak.UpdatedAt.UTC()
	return peak, nil
}

// SaveRealtimePeak upserts the mirrored peak for a day.
func (r *Repository) SaveRealtimePeak(ctx context.Context, userID string, peak delta.RealtimePeak) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	if _, err := period.RealtimePeakPath(userID, peak.DateKey); err != nil {
		return err
	}
	if peak.Value < 0 {
		return fmt.Errorf("history repo: negative peak %v", peak.Value)
	}
	updatedAt := peak.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (user_id, date_key, value, at_hour_label, at_ms, timezone, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, date_key) DO UPDATE SET
	value = EXCLUDED.value,
	at_hour_label = EXCLUDED.at_hour_label,
	at_ms = EXCLUDED.at_ms,
	timezone = EXCLUDED.timezone,
	updated_at = EXCLUDED.updated_at`, r.peaksTable)

	_, err := r.db.ExecContext(ctx, query,
		userID,
		peak.DateKey,
		peak.Value,
		peak.AtHourLabel,
		peak.AtMs,
		peak.Timezone,
		updatedAt.UTC(),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (delta.Document, error) {
	var (
		total       float64
		deltaKWh    float64
		timezone    sql.NullString
		rangeLabel  sql.NullString
		provisional sql.NullBool
		origin      sql.NullString
		createdAt   sql.NullTime
		updatedAt   sql.NullTime
	)
	if err := row.Scan(&total, &deltaKWh, &timezone, &rangeLabel, &provisional, &origin, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	doc := delta.Document{
		"totalEnergyAtEnd": total,
		"deltaKWh":         deltaKWh,
	}
	if timezone.Valid {
		doc["timezone"] = timezone.String
	}
	if rangeLabel.Valid {
		doc["rangeLabel"] = rangeLabel.String
	}
	if provisional.Valid {
		doc["provisional"] = provisional.Bool
	}
	if origin.Valid && origin.String != "" {
		doc["origin"] = origin.String
	}
	if createdAt.Valid {
		doc["createdAt"] = createdAt.Time
	}
	if updatedAt.Valid {
		doc["updatedAt"] = updatedAt.Time
	}
	return doc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
