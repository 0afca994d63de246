package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const defaultMeasurement = "user_energy_total"

// Config selects the InfluxDB v2 target.
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink mirrors aggregated live totals into InfluxDB.
type Sink struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

// NewSink connects to InfluxDB and verifies the server is healthy.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx: empty url")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx: org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("influx: health check: %w", err)
	}
	sink := newSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement)
	sink.client = client
	return sink, nil
}

func newSink(writer pointWriter, measurement string) *Sink {
	if measurement == "" {
		measurement = defaultMeasurement
	}
	return &Sink{writer: writer, measurement: measurement}
}

// WriteTotal writes one aggregated total sample.
func (s *Sink) WriteTotal(ctx context.Context, userID string, totalKWh float64, at time.Time) error {
	if s == nil || s.writer == nil {
		return errors.New("influx: nil writer")
	}
	if userID == "" {
		return errors.New("influx: empty user id")
	}
	point := write.NewPoint(
		s.measurement,
		map[string]string{"user_id": userID},
		map[string]interface{}{"total_kwh": totalKWh},
		at.UTC(),
	)
	return s.writer.WritePoint(ctx, point)
}

// Close releases the client.
func (s *Sink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}
