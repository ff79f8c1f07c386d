// Package kafka publishes audit events to a Kafka topic so downstream
// consumers (SIEM, alerting) see the same trail the audit log stores.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/MrEthical07/agencyauth"
)

// Settings selects brokers and the topic.
type Settings struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Sink implements agencyauth.AuditSink on top of a sarama SyncProducer.
// Emit never blocks the engine for long: the engine dispatches sinks from its
// own audit queue.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	source   string
	logger   *zap.Logger
}

type envelope struct {
	EventType  string                `json:"event_type"`
	Source     string                `json:"source"`
	OccurredAt time.Time             `json:"occurred_at"`
	Payload    agencyauth.AuditEvent `json:"payload"`
}

// NewSaramaConfig returns the producer config used by NewSink.
func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_5_0_0
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Metadata.Retry.Max = 3
	cfg.Metadata.Retry.Backoff = 250 * time.Millisecond
	return cfg
}

// NewSink dials the brokers.
func NewSink(s Settings, logger *zap.Logger) (*Sink, error) {
	if len(s.Brokers) == 0 {
		return nil, fmt.Errorf("kafka audit sink: no brokers")
	}
	producer, err := sarama.NewSyncProducer(s.Brokers, NewSaramaConfig(s.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	if logger != nil {
		logger.Info("kafka audit sink ready", zap.Strings("brokers", s.Brokers), zap.String("topic", s.Topic))
	}
	return NewSinkWithProducer(producer, s.Topic, s.ClientID, logger), nil
}

// NewSinkWithProducer wraps an existing producer. Tests pass sarama mocks.
func NewSinkWithProducer(producer sarama.SyncProducer, topic, source string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = "agencyauth.audit"
	}
	if source == "" {
		source = "agencyauth"
	}
	return &Sink{producer: producer, topic: topic, source: source, logger: logger}
}

// Emit publishes event keyed by its subject so one account's events stay
// ordered on a partition. Failures are logged and dropped.
func (s *Sink) Emit(_ context.Context, event agencyauth.AuditEvent) {
	if s == nil || s.producer == nil {
		return
	}
	data, err := json.Marshal(envelope{
		EventType:  event.Action,
		Source:     s.source,
		OccurredAt: event.Timestamp,
		Payload:    event,
	})
	if err != nil {
		s.logger.Error("marshal audit event", zap.String("action", event.Action), zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Action)},
		},
	}
	if event.Subject != "" {
		msg.Key = sarama.StringEncoder(event.Subject)
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.logger.Warn("audit event not published",
			zap.String("action", event.Action),
			zap.String("topic", s.topic),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

var _ agencyauth.AuditSink = (*Sink)(nil)
