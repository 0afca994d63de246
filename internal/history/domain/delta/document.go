package delta

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"energy-history/internal/history/domain/period"
)

// Document is the store-agnostic field map of a persisted record.
type Document map[string]any

const (
	fieldTotalEnergyAtEnd = "totalEnergyAtEnd"
	fieldDeltaKWh         = "deltaKWh"
	fieldTimezone         = "timezone"
	fieldRangeLabel       = "rangeLabel"
	fieldProvisional      = "provisional"
	fieldOrigin           = "origin"
	fieldCreatedAt        = "createdAt"
	fieldUpdatedAt        = "updatedAt"
)

// DecodeError describes why a stored document could not become a Record.
type DecodeError struct {
	Path   string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("delta: decode %s: field %q: %s", e.Path, e.Field, e.Reason)
}

// Is lets errors.Is match any decode failure against ErrInvalidDocument.
func (e *DecodeError) Is(target error) bool { return target == ErrInvalidDocument }

// Document renders the record as a field map.
func (r Record) Document() Document {
	doc := Document{
		fieldTotalEnergyAtEnd: r.TotalEnergyAtEnd,
		fieldDeltaKWh:         r.DeltaKWh,
		fieldTimezone:         r.Timezone,
		fieldProvisional:      r.Provisional,
		fieldOrigin:           string(r.Origin),
		fieldCreatedAt:        r.CreatedAt,
		fieldUpdatedAt:        r.UpdatedAt,
	}
	if r.RangeLabel != "" {
		doc[fieldRangeLabel] = r.RangeLabel
	}
	return doc
}

// DecodeDocument validates a stored document and converts it into a Record.
// Legacy documents without an origin are treated as live captures.
func DecodeDocument(path string, key period.PeriodKey, doc Document) (Record, error) {
	if doc == nil {
		return Record{}, &DecodeError{Path: path, Field: "", Reason: "empty document"}
	}
	total, err := requireNumber(path, doc, fieldTotalEnergyAtEnd)
	if err != nil {
		return Record{}, err
	}
	deltaKWh, err := requireNumber(path, doc, fieldDeltaKWh)
	if err != nil {
		return Record{}, err
	}
	if total < 0 {
		return Record{}, &DecodeError{Path: path, Field: fieldTotalEnergyAtEnd, Reason: "negative total"}
	}
	if deltaKWh < 0 {
		return Record{}, &DecodeError{Path: path, Field: fieldDeltaKWh, Reason: "negative delta"}
	}
	timezone, err := optionalString(path, doc, fieldTimezone)
	if err != nil {
		return Record{}, err
	}
	rangeLabel, err := optionalString(path, doc, fieldRangeLabel)
	if err != nil {
		return Record{}, err
	}
	originRaw, err := optionalString(path, doc, fieldOrigin)
	if err != nil {
		return Record{}, err
	}
	origin := OriginLive
	if originRaw != "" {
		origin = Origin(originRaw)
		if !origin.IsValid() {
			return Record{}, &DecodeError{Path: path, Field: fieldOrigin, Reason: "unknown origin " + originRaw}
		}
	}
	provisional := false
	if raw, ok := doc[fieldProvisional]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return Record{}, &DecodeError{Path: path, Field: fieldProvisional, Reason: "not a bool"}
		}
		provisional = b
	}
	createdAt, err := optionalTime(path, doc, fieldCreatedAt)
	if err != nil {
		return Record{}, err
	}
	updatedAt, err := optionalTime(path, doc, fieldUpdatedAt)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Key:              key,
		TotalEnergyAtEnd: total,
		DeltaKWh:         deltaKWh,
		Timezone:         timezone,
		RangeLabel:       rangeLabel,
		Provisional:      provisional,
		Origin:           origin,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	if err := key.Validate(); err != nil {
		return Record{}, &DecodeError{Path: path, Field: "key", Reason: err.Error()}
	}
	return rec, nil
}

func requireNumber(path string, doc Document, field string) (float64, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return 0, &DecodeError{Path: path, Field: field, Reason: "missing"}
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, &DecodeError{Path: path, Field: field, Reason: "not a number"}
		}
		v = parsed
	default:
		return 0, &DecodeError{Path: path, Field: field, Reason: fmt.Sprintf("unexpected type %T", raw)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &DecodeError{Path: path, Field: field, Reason: "not finite"}
	}
	return v, nil
}

func optionalString(path string, doc Document, field string) (string, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &DecodeError{Path: path, Field: field, Reason: "not a string"}
	}
	return s, nil
}

func optionalTime(path string, doc Document, field string) (time.Time, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, &DecodeError{Path: path, Field: field, Reason: "invalid timestamp"}
		}
		return t.UTC(), nil
	default:
		return time.Time{}, &DecodeError{Path: path, Field: field, Reason: fmt.Sprintf("unexpected type %T", raw)}
	}
}
