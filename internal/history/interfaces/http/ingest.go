package historyhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"energy-history/internal/history/domain/meter"
	"energy-history/internal/logger"
)

const maxIngestBody = 1 << 20

// ReadingProcessor handles one live reading.
type ReadingProcessor interface {
	HandleReading(ctx context.Context, r meter.Reading) error
}

// IngestHandler accepts meter readings pushed over HTTP.
type IngestHandler struct {
	pipeline ReadingProcessor
	log      *logger.Logger
}

// NewIngestHandler constructs a handler for POST /ingest/readings.
func NewIngestHandler(pipeline ReadingProcessor, log *logger.Logger) (*IngestHandler, error) {
	if pipeline == nil {
		return nil, errors.New("ingest handler: nil pipeline")
	}
	return &IngestHandler{pipeline: pipeline, log: logger.OrNop(log)}, nil
}

// ServeHTTP accepts a single reading object, an array of readings, or {"readings": [...]}.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	payloads, err := splitPayload(body)
	if err != nil {
		h.log.Debugw("ingest decode failed", "err", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	accepted, rejected := 0, 0
	for _, raw := range payloads {
		reading, err := meter.DecodeReading(raw)
		if err == nil {
			err = h.pipeline.HandleReading(r.Context(), reading)
		}
		if err != nil {
			rejected++
			h.log.Debugw("ingest reading rejected", "err", err)
			continue
		}
		accepted++
	}

	status := http.StatusOK
	if accepted == 0 && rejected > 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]int{"accepted": accepted, "rejected": rejected})
}

func splitPayload(body []byte) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Readings []json.RawMessage `json:"readings"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Readings != nil {
		return wrapped.Readings, nil
	}
	return []json.RawMessage{body}, nil
}
