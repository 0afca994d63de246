package mqtt

import (
	"context"
	"testing"

	"energy-history/internal/history/domain/meter"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingProcessor struct {
	readings []meter.Reading
}

func (p *recordingProcessor) HandleReading(_ context.Context, r meter.Reading) error {
	p.readings = append(p.readings, r)
	return nil
}

func TestSubscriber_OnMessage(t *testing.T) {
	proc := &recordingProcessor{}
	s, err := NewSubscriber(Config{Broker: "tcp://localhost:1883", Topic: "meters/+/readings"}, proc, nil)
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}

	s.onMessage(nil, fakeMessage{topic: "meters/SN-1/readings", payload: []byte(`{"serialNumber":"SN-9","energyTotalKWh":2.5}`)})
	s.onMessage(nil, fakeMessage{topic: "meters/SN-2/readings", payload: []byte(`{"energyTotalKWh":1.25}`)})
	s.onMessage(nil, fakeMessage{topic: "meters/SN-3/readings", payload: []byte(`garbage`)})

	if len(proc.readings) != 2 {
		t.Fatalf("expected two readings, got %+v", proc.readings)
	}
	if proc.readings[0].SerialNumber != "SN-9" {
		t.Fatalf("payload serial number must win, got %q", proc.readings[0].SerialNumber)
	}
	if proc.readings[1].SerialNumber != "SN-2" || proc.readings[1].EnergyTotalKWh != 1.25 {
		t.Fatalf("expected serial from topic, got %+v", proc.readings[1])
	}
}

func TestSerialFromTopic(t *testing.T) {
	cases := []struct {
		filter, topic, want string
	}{
		{"meters/+/readings", "meters/SN-1/readings", "SN-1"},
		{"site/a/+", "site/a/SN-7", "SN-7"},
		{"meters/readings", "meters/readings", ""},
		{"meters/+/readings", "meters", ""},
	}
	for _, tc := range cases {
		if got := serialFromTopic(tc.filter, tc.topic); got != tc.want {
			t.Fatalf("serialFromTopic(%q, %q) = %q, want %q", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestNewSubscriber_ValidatesConfig(t *testing.T) {
	if _, err := NewSubscriber(Config{Topic: "t"}, &recordingProcessor{}, nil); err == nil {
		t.Fatalf("expected broker error")
	}
	if _, err := NewSubscriber(Config{Broker: "tcp://b:1883"}, &recordingProcessor{}, nil); err == nil {
		t.Fatalf("expected topic error")
	}
	if _, err := NewSubscriber(Config{Broker: "tcp://b:1883", Topic: "t"}, nil, nil); err == nil {
		t.Fatalf("expected processor error")
	}
}
