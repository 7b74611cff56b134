package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/JonMunkholm/product-importer/internal/webhook"
)

// NewKafkaProducer connects a synchronous producer that waits for every
// in-sync replica.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaMirror writes each event to a topic, keyed by event type, with the
// same envelope webhook receivers get.
type KafkaMirror struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaMirror(producer sarama.SyncProducer, topic string) *KafkaMirror {
	return &KafkaMirror{producer: producer, topic: topic}
}

func (m *KafkaMirror) Publish(_ context.Context, event string, data json.RawMessage, at time.Time) error {
	body, err := json.Marshal(webhook.Envelope{
		Event:     event,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: m.topic,
		Key:   sarama.StringEncoder(event),
		Value: sarama.ByteEncoder(body),
	}
	partition, offset, err := m.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("write event to kafka: %w", err)
	}
	slog.Debug("event mirrored", "event", event, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer.
func (m *KafkaMirror) Close() error {
	return m.producer.Close()
}
