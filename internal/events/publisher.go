// Package events publishes finished fraud decisions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/mbd888/fraudswarm/internal/analysis"
)

const (
	// EventType identifies decision events on the topic.
	EventType = "fraud.decision"
	// EventVersion is bumped on incompatible payload changes.
	EventVersion = 1
)

// DecisionEvent is the JSON payload of one Kafka message.
type DecisionEvent struct {
	Type        string           `json:"type"`
	Version     int              `json:"version"`
	PublishedAt time.Time        `json:"published_at"`
	Analysis    *analysis.Record `json:"analysis"`
}

// Publisher writes decision events to a Kafka topic, keyed by user ID so
// one user's decisions stay ordered within a partition.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

var _ analysis.Sink = (*Publisher)(nil)

// NewPublisher connects a synchronous producer to brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = "fraudswarm"
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, topic), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic, now: time.Now}
}

// Name implements analysis.Sink.
func (p *Publisher) Name() string { return "kafka" }

// Publish implements analysis.Sink.
func (p *Publisher) Publish(ctx context.Context, rec *analysis.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(DecisionEvent{
		Type:        EventType,
		Version:     EventVersion,
		PublishedAt: p.now().UTC(),
		Analysis:    rec,
	})
	if err != nil {
		return fmt.Errorf("encode decision event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(rec.UserID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(EventType)},
			{Key: []byte("decision"), Value: []byte(rec.Decision)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish decision %s: %w", rec.TransactionID, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
