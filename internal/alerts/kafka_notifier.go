package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alert lifecycle events to a Kafka topic keyed by
// account ID, so a consumer sees one account's events in order.
type KafkaNotifier struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaNotifier creates a publisher for topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		timeout: 5 * time.Second,
	}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Alert.AccountID),
		Value: payload,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Kind)},
			{Key: "severity", Value: []byte(ev.Alert.Severity)},
		},
	})
}

// Close flushes and closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
