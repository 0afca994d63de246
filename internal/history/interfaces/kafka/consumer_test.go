package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"energy-history/internal/history/domain/meter"
)

type scriptedReader struct {
	mu        sync.Mutex
	messages  []kafkago.Message
	committed []int64
	closed    bool
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return kafkago.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

type recordingProcessor struct {
	readings []meter.Reading
	err      error
}

func (p *recordingProcessor) HandleReading(_ context.Context, r meter.Reading) error {
	p.readings = append(p.readings, r)
	return p.err
}

func TestConsumer_RunProcessesAndCommitsEveryMessage(t *testing.T) {
	reader := &scriptedReader{messages: []kafkago.Message{
		{Offset: 1, Value: []byte(`{"serialNumber":"SN-1","energyTotalKWh":3.5}`), Time: time.Now()},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Key: []byte("SN-2"), Value: []byte(`{"energyTotalKWh":"oops"}`)},
		{Offset: 4, Value: []byte(`{"energyTotalKWh":1}`)},
	}}
	proc := &recordingProcessor{err: errors.New("store down")}
	c, err := newConsumer(reader, proc, "meter-readings", time.Second, nil)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(proc.readings) != 2 {
		t.Fatalf("expected two processed readings, got %+v", proc.readings)
	}
	if proc.readings[0].EnergyTotalKWh != 3.5 || proc.readings[1].SerialNumber != "SN-2" || proc.readings[1].EnergyTotalKWh != 0 {
		t.Fatalf("unexpected readings %+v", proc.readings)
	}
	if len(reader.committed) != 4 {
		t.Fatalf("every message must be committed, got %v", reader.committed)
	}
	if err := c.Close(); err != nil || !reader.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	c, _ := newConsumer(&scriptedReader{}, &recordingProcessor{}, "t", time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewConsumer_ValidatesConfig(t *testing.T) {
	proc := &recordingProcessor{}
	if _, err := NewConsumer(Config{Topic: "t", GroupID: "g"}, proc, nil); err == nil {
		t.Fatalf("expected broker error")
	}
	if _, err := NewConsumer(Config{Brokers: []string{"b:9092"}, GroupID: "g"}, proc, nil); err == nil {
		t.Fatalf("expected topic error")
	}
	if _, err := newConsumer(&scriptedReader{}, nil, "t", 0, nil); err == nil {
		t.Fatalf("expected processor error")
	}
}
