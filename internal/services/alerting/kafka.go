package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
)

// KafkaPublisher pubblica gli alert su un topic Kafka, con chiave = id sensore.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (k *KafkaPublisher) PublishAlert(ctx context.Context, ev messages.AlertEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Sensor), Value: b, Time: time.Now()})
}

func (k *KafkaPublisher) Close() error { return k.w.Close() }
