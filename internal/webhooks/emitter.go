package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/adapters/kafka"

	"github.com/IBM/sarama"
)

// Channel lifecycle event names, emitted on occupancy transitions.
const (
	EventChannelOccupied = "channel_occupied"
	EventChannelVacated  = "channel_vacated"
)

// Event is one channel lifecycle notification for downstream consumers.
type Event struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	TimeMs  int64  `json:"time_ms"`
}

func NewEvent(name, channel string) Event {
	return Event{
		Name:    name,
		Channel: channel,
		TimeMs:  time.Now().UnixMilli(),
	}
}

// Emitter delivers channel lifecycle events to whatever downstream cares
// about them. Downstream processing is out of the relay's hands; emit
// failures are logged, never surfaced to connections.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// LogEmitter just records events in the service log. Used when no Kafka
// brokers are configured.
type LogEmitter struct{}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{}
}

func (e *LogEmitter) Emit(_ context.Context, event Event) error {
	slog.Info("Channel lifecycle event", "name", event.Name, "channel", event.Channel)
	return nil
}

func (e *LogEmitter) Close() error {
	return nil
}

// KafkaEmitter produces lifecycle events to a Kafka topic, keyed by channel
// name so per-channel ordering survives partitioning.
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaEmitter(brokers []string, topic string) (*KafkaEmitter, error) {
	producer, err := kafka.InitKafkaProducer(brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaEmitter{
		producer: producer,
		topic:    topic,
	}, nil
}

func (e *KafkaEmitter) Emit(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	partition, offset, err := e.producer.SendMessage(&sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(event.Channel),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		slog.Error("Failed to produce webhook event", "name", event.Name, "channel", event.Channel, "error", err)
		return err
	}

	slog.Debug("Webhook event produced", "name", event.Name, "channel", event.Channel, "partition", partition, "offset", offset)
	return nil
}

func (e *KafkaEmitter) Close() error {
	return e.producer.Close()
}
