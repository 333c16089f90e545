package rabbitmq

import (
	"context"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IConsumer interface defines the ConsumeMessage method with dependencies T
type IConsumer[T any] interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(queue string, message mqtt.Message) error)
}

// Consumer subscribes a single topic through a Subscriber (usually a *Conn)
type Consumer struct {
	sub     Subscriber
	handler func(queue string, message mqtt.Message) error
	topic   string
}

// NewConsumer creates a new Consumer on the shared connection
func NewConsumer(sub Subscriber, topic string, handler func(queue string, message mqtt.Message) error) *Consumer {
	return &Consumer{
		sub:     sub,
		topic:   topic,
		handler: handler,
	}
}

func (c *Consumer) SetHandler(handler func(queue string, message mqtt.Message) error) {
	c.handler = handler
}

// QosFor: i topic di controllo e i comandi di stato viaggiano a QoS 1, la telemetria a QoS 0.
func QosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "control/") ||
		strings.HasPrefix(t, "event/StateChange") {
		return 1
	}
	return 0
}

func dispatch(topic string, handler func(string, mqtt.Message) error) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if handler == nil {
			log.Printf("No handler set for topic %s", topic)
			return
		}
		if err := handler(topic, msg); err != nil {
			log.Printf("Error handling message on %s: %v", msg.Topic(), err)
		}
	}
}

// ConsumeMessage subscribes to the topic and processes messages using the handler.
// It blocks until the context is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	if err := c.sub.Subscribe(c.topic, QosFor(c.topic), dispatch(c.topic, c.handler)); err != nil {
		log.Printf("Error subscribing to topic %s: %v", c.topic, err)
		return
	}
	log.Printf("Successfully subscribed to topic %s", c.topic)

	<-ctx.Done()

	if err := c.sub.Unsubscribe(c.topic); err != nil {
		log.Printf("Error unsubscribing from %s: %v", c.topic, err)
	}
}

// MultiConsumer -------------------------- [] ---------------------- [] ---------------------
type MultiConsumer struct {
	sub     Subscriber
	topics  []string
	handler func(queue string, message mqtt.Message) error
}

func NewMultiConsumer(sub Subscriber, topics []string, handler func(queue string, message mqtt.Message) error) *MultiConsumer {
	return &MultiConsumer{
		sub:     sub,
		topics:  topics,
		handler: handler,
	}
}

func (m *MultiConsumer) SetHandler(handler func(queue string, message mqtt.Message) error) {
	m.handler = handler
}

func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	for _, topic := range m.topics {
		if err := m.sub.Subscribe(topic, QosFor(topic), dispatch(topic, m.handler)); err != nil {
			log.Printf("Error subscribing to topic %s: %v", topic, err)
		} else {
			log.Printf("Successfully subscribed to topic %s", topic)
		}
	}

	<-ctx.Done()

	// On context cancel: unsubscribe from all
	for _, topic := range m.topics {
		_ = m.sub.Unsubscribe(topic)
	}
}
