package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"energy-history/internal/history/domain/meter"
	"energy-history/internal/logger"
)

const connectTimeout = 10 * time.Second

// Config selects the broker and topic filter carrying meter readings.
// A single-level wildcard in Topic may stand for the sensor serial number.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// ReadingProcessor handles one live reading.
type ReadingProcessor interface {
	HandleReading(ctx context.Context, r meter.Reading) error
}

// Subscriber feeds readings from an MQTT topic into the pipeline.
type Subscriber struct {
	cfg       Config
	processor ReadingProcessor
	log       *logger.Logger
	client    paho.Client
	ctx       context.Context
}

// NewSubscriber validates cfg and prepares a subscriber.
func NewSubscriber(cfg Config, processor ReadingProcessor, log *logger.Logger) (*Subscriber, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt subscriber: empty broker")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("mqtt subscriber: empty topic")
	}
	if processor == nil {
		return nil, errors.New("mqtt subscriber: nil processor")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "energy-history"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	return &Subscriber{cfg: cfg, processor: processor, log: logger.OrNop(log), ctx: context.Background()}, nil
}

// Run connects, subscribes on every (re)connect and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	s.ctx = ctx
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c paho.Client) {
			token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
			if token.WaitTimeout(connectTimeout) && token.Error() != nil {
				s.log.Errorw("mqtt subscribe failed", "topic", s.cfg.Topic, "err", token.Error())
				return
			}
			s.log.Infow("mqtt subscribed", "topic", s.cfg.Topic)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.log.Warnw("mqtt connection lost", "err", err)
		})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt subscriber: connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscriber: connect: %w", err)
	}

	<-ctx.Done()
	s.client.Disconnect(250)
	return ctx.Err()
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	reading, err := meter.DecodeReading(msg.Payload())
	if errors.Is(err, meter.ErrEmptySerialNumber) {
		if serial := serialFromTopic(s.cfg.Topic, msg.Topic()); serial != "" {
			reading.SerialNumber = serial
			err = nil
		}
	}
	if err != nil {
		s.log.Warnw("mqtt reading rejected", "topic", msg.Topic(), "err", err)
		return
	}
	if err := s.processor.HandleReading(s.ctx, reading); err != nil {
		s.log.Warnw("mqtt reading not processed", "serial_number", reading.SerialNumber, "err", err)
	}
}

// serialFromTopic returns the level of topic matched by the first "+" of filter.
func serialFromTopic(filter, topic string) string {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")
	for i, level := range filterLevels {
		if i >= len(topicLevels) {
			return ""
		}
		if level == "+" {
			return topicLevels[i]
		}
	}
	return ""
}
