package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/period"
)

type entry struct {
	userID string
	key    period.PeriodKey
	doc    delta.Document
}

// Store is a document-shaped in-memory store for demos and tests.
// Records live under the same logical paths a document database would use.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]entry
	peaks map[string]delta.Document
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		docs:  make(map[string]entry),
		peaks: make(map[string]delta.Document),
	}
}

// Get loads and decodes the record stored for key.
func (s *Store) Get(ctx context.Context, userID string, key period.PeriodKey) (delta.Record, error) {
	_ = ctx
	path, err := key.DocumentPath(userID)
	if err != nil {
		return delta.Record{}, err
	}

	s.mu.RLock()
	e, ok := s.docs[path]
	s.mu.RUnlock()
	if !ok {
		return delta.Record{}, delta.ErrRecordNotFound
	}
	return delta.DecodeDocument(path, key, e.doc)
}

// Create stores rec unless a document already exists at its path.
func (s *Store) Create(ctx context.Context, userID string, rec delta.Record) (bool, error) {
	_ = ctx
	if err := rec.Validate(); err != nil {
		return false, err
	}
	path, err := rec.Key.DocumentPath(userID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[path]; exists {
		return false, nil
	}
	s.docs[path] = entry{userID: userID, key: rec.Key, doc: rec.Document()}
	return true, nil
}

// PutDocument writes a raw document, replacing whatever is stored. It is how
// imported or legacy data enters the store and bypasses the write-once rule.
func (s *Store) PutDocument(userID string, key period.PeriodKey, doc delta.Document) error {
	path, err := key.DocumentPath(userID)
	if err != nil {
		return err
	}
	copied := make(delta.Document, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = entry{userID: userID, key: key, doc: copied}
	return nil
}

// Document returns the raw stored document at key, for inspection.
func (s *Store) Document(userID string, key period.PeriodKey) (delta.Document, bool) {
	path, err := key.DocumentPath(userID)
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[path]
	if !ok {
		return nil, false
	}
	copied := make(delta.Document, len(e.doc))
	for k, v := range e.doc {
		copied[k] = v
	}
	return copied, true
}

// Earliest returns the oldest stored key of the given type for the user.
func (s *Store) Earliest(ctx context.Context, userID string, periodType period.PeriodType) (period.PeriodKey, bool, error) {
	_ = ctx
	if userID == "" {
		return period.PeriodKey{}, false, delta.ErrEmptyUserID
	}
	if !periodType.IsValid() {
		return period.PeriodKey{}, false, period.ErrInvalidPeriodType
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var earliest period.PeriodKey
	found := false
	for _, e := range s.docs {
		if e.userID != userID || e.key.Type != periodType {
			continue
		}
		// keys of one type sort chronologically as strings
		if !found || e.key.String() < earliest.String() {
			earliest = e.key
			found = true
		}
	}
	return earliest, found, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// GetRealtimePeak loads the mirrored peak for a day.
func (s *Store) GetRealtimePeak(ctx context.Context, userID, dateKey string) (delta.RealtimePeak, error) {
	_ = ctx
	path, err := period.RealtimePeakPath(userID, dateKey)
	if err != nil {
		return delta.RealtimePeak{}, err
	}
	s.mu.RLock()
	doc, ok := s.peaks[path]
	s.mu.RUnlock()
	if !ok {
		return delta.RealtimePeak{}, delta.ErrPeakNotFound
	}

	value, ok := doc["value"].(float64)
	if !ok {
		return delta.RealtimePeak{}, &delta.DecodeError{Path: path, Field: "value", Reason: "not a number"}
	}
	peak := delta.RealtimePeak{DateKey: dateKey, Value: value}
	peak.AtHourLabel, _ = doc["atHourLabel"].(string)
	peak.Timezone, _ = doc["timezone"].(string)
	peak.AtMs, _ = doc["atMs"].(int64)
	peak.UpdatedAt, _ = doc["updatedAt"].(time.Time)
	return peak, nil
}

// SaveRealtimePeak overwrites the mirrored peak for a day.
func (s *Store) SaveRealtimePeak(ctx context.Context, userID string, peak delta.RealtimePeak) error {
	_ = ctx
	path, err := period.RealtimePeakPath(userID, peak.DateKey)
	if err != nil {
		return err
	}
	if peak.Value < 0 {
		return fmt.Errorf("memory store: negative peak %v", peak.Value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peaks[path] = delta.Document{
		"value":       peak.Value,
		"atHourLabel": peak.AtHourLabel,
		"timezone":    peak.Timezone,
		"atMs":        peak.AtMs,
		"updatedAt":   peak.UpdatedAt,
	}
	return nil
}
